package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	platformerrors "github.com/Leochrono/dinero-tikee-sub001/internal/platform/errors"
)

// Logger is the minimal logging contract required by the client.
type Logger interface {
	Debug(format string, args ...any)
	Warn(format string, args ...any)
}

// Client talks to the remote dinero-tikee service. It performs no retries
// itself; callers decide how to react to the error kinds it reports.
type Client struct {
	baseURL string
	http    *http.Client
	logger  Logger
}

// NewClient builds a Client for the given base URL.
func NewClient(baseURL string, timeout time.Duration, logger Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// VerifySession checks the access token against the remote service.
// Idempotent and safe to retry.
func (c *Client) VerifySession(ctx context.Context, accessToken string) (UserSummary, error) {
	var out VerifyResult
	if err := c.do(ctx, http.MethodPost, "/auth/verify", accessToken, nil, &out); err != nil {
		return UserSummary{}, err
	}
	if !out.OK {
		return UserSummary{}, platformerrors.New(
			platformerrors.KindCredential,
			"verify-session",
			"session rejected by remote service",
		)
	}
	return out.User, nil
}

// Login exchanges credentials for a token bundle. The secret may be a
// password or a one-time recovery code; the response shape distinguishes.
func (c *Client) Login(ctx context.Context, email, secret string) (LoginResult, error) {
	body := map[string]string{"email": email, "password": secret}
	var out LoginResult
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", body, &out); err != nil {
		return LoginResult{}, err
	}
	return out, nil
}

// Logout notifies the remote service. Best effort from the caller's view.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", accessToken, nil, nil)
}

// ChangePassword replaces the current password, completing recovery flows.
func (c *Client) ChangePassword(ctx context.Context, accessToken, current, next string) error {
	body := map[string]string{"current_password": current, "new_password": next}
	return c.do(ctx, http.MethodPost, "/auth/password", accessToken, body, nil)
}

// CreateApplication submits a new credit application draft.
func (c *Client) CreateApplication(
	ctx context.Context,
	accessToken string,
	payload ApplicationPayload,
) (ApplicationResult, error) {
	var out ApplicationResult
	if err := c.do(ctx, http.MethodPost, "/credits", accessToken, payload, &out); err != nil {
		return ApplicationResult{}, err
	}
	return out, nil
}

// UpdateApplication mutates institution selection or status on an application.
func (c *Client) UpdateApplication(
	ctx context.Context,
	accessToken string,
	id string,
	update ApplicationUpdate,
) (ApplicationResult, error) {
	var out ApplicationResult
	path := "/credits/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodPut, path, accessToken, update, &out); err != nil {
		return ApplicationResult{}, err
	}
	return out, nil
}

// UploadDocument streams a document into the application's document slot.
func (c *Client) UploadDocument(
	ctx context.Context,
	accessToken string,
	id string,
	docType string,
	filename string,
	content io.Reader,
) (DocumentMetadata, error) {
	const op = "upload-document"

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("type", docType); err != nil {
		return DocumentMetadata{}, platformerrors.Wrap(platformerrors.KindValidation, op, "encode form", err)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return DocumentMetadata{}, platformerrors.Wrap(platformerrors.KindValidation, op, "encode form", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return DocumentMetadata{}, platformerrors.Wrap(platformerrors.KindValidation, op, "read document", err)
	}
	if err := writer.Close(); err != nil {
		return DocumentMetadata{}, platformerrors.Wrap(platformerrors.KindValidation, op, "finalize form", err)
	}

	endpoint := c.baseURL + "/credits/" + url.PathEscape(id) + "/documents"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return DocumentMetadata{}, platformerrors.Wrap(platformerrors.KindTransient, op, "build request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return DocumentMetadata{}, platformerrors.Wrap(platformerrors.KindTransient, op, "request failed", err)
	}
	defer resp.Body.Close()

	var meta DocumentMetadata
	if err := c.decode(op, resp, &meta); err != nil {
		return DocumentMetadata{}, err
	}
	return meta, nil
}

// LookupInstitutions queries institutions matching the filters.
func (c *Client) LookupInstitutions(
	ctx context.Context,
	filters InstitutionFilters,
) ([]Institution, error) {
	const op = "lookup-institutions"

	query := url.Values{}
	if filters.Amount > 0 {
		query.Set("amount", strconv.Itoa(filters.Amount))
	}
	if filters.TermMonths > 0 {
		query.Set("term", strconv.Itoa(filters.TermMonths))
	}
	if filters.Income > 0 {
		query.Set("income", strconv.Itoa(filters.Income))
	}
	if filters.Location != "" {
		query.Set("location", filters.Location)
	}

	endpoint := c.baseURL + "/institutions"
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindTransient, op, "build request", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindTransient, op, "request failed", err)
	}
	defer resp.Body.Close()

	var out []Institution
	if err := c.decode(op, resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path, accessToken string, body, out any) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return platformerrors.Wrap(platformerrors.KindValidation, op, "encode body", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindTransient, op, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindTransient, op, "request failed", err)
	}
	defer resp.Body.Close()

	return c.decode(op, resp, out)
}

// decode maps HTTP status classes onto the error taxonomy: 401/403 collapse
// to credential failures, other 4xx are explicit remote rejections, and 5xx
// are treated as transient. The remote message is preserved verbatim.
func (c *Client) decode(op string, resp *http.Response, out any) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return platformerrors.Wrap(platformerrors.KindRemote, op, "decode response", err)
		}
		return nil
	}

	message := remoteMessage(resp.Body)
	if c.logger != nil {
		c.logger.Debug("remote call %s failed: %d %s", op, resp.StatusCode, message)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return platformerrors.New(platformerrors.KindCredential, op, message)
	case resp.StatusCode >= 500:
		return platformerrors.New(platformerrors.KindTransient, op, message)
	default:
		return platformerrors.New(platformerrors.KindRemote, op, message)
	}
}

func remoteMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return "remote service error"
	}
	var parsed errorBody
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	return fmt.Sprintf("remote service error: %s", strings.TrimSpace(string(raw)))
}
