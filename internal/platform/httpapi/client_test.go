package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	platformerrors "github.com/Leochrono/dinero-tikee-sub001/internal/platform/errors"
)

const testToken = "token-abc"

func newFakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()

	authorized := func(c *gin.Context) bool {
		return c.GetHeader("Authorization") == "Bearer "+testToken
	}

	router.POST("/auth/verify", func(c *gin.Context) {
		if !authorized(c) {
			c.JSON(http.StatusUnauthorized, gin.H{"message": "invalid session"})
			return
		}
		c.JSON(http.StatusOK, VerifyResult{
			OK:   true,
			User: UserSummary{ID: "u-1", Email: "ana@example.cl"},
		})
	})
	router.POST("/auth/login", func(c *gin.Context) {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "malformed login"})
			return
		}
		switch body.Password {
		case "secret":
			c.JSON(http.StatusOK, LoginResult{
				AccessToken: testToken,
				User:        UserSummary{ID: "u-1", Email: body.Email},
			})
		case "recovery-code":
			c.JSON(http.StatusOK, LoginResult{
				AccessToken:    testToken,
				User:           UserSummary{ID: "u-1", Email: body.Email},
				IsRecoveryCode: true,
			})
		default:
			c.JSON(http.StatusUnauthorized, gin.H{"message": "wrong credentials"})
		}
	})
	router.POST("/credits", func(c *gin.Context) {
		if !authorized(c) {
			c.JSON(http.StatusUnauthorized, gin.H{"message": "login required"})
			return
		}
		var payload ApplicationPayload
		if err := c.ShouldBindJSON(&payload); err != nil || payload.Amount <= 0 {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"message": "amount required"})
			return
		}
		c.JSON(http.StatusOK, ApplicationResult{ID: "app-1", Status: "drafting"})
	})
	router.PUT("/credits/:id", func(c *gin.Context) {
		if !authorized(c) {
			c.JSON(http.StatusUnauthorized, gin.H{"message": "login required"})
			return
		}
		var update ApplicationUpdate
		if err := c.ShouldBindJSON(&update); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "malformed update"})
			return
		}
		status := update.Status
		if status == "" {
			status = "institution_selected"
		}
		c.JSON(http.StatusOK, ApplicationResult{ID: c.Param("id"), Status: status})
	})
	router.POST("/credits/:id/documents", func(c *gin.Context) {
		if !authorized(c) {
			c.JSON(http.StatusUnauthorized, gin.H{"message": "login required"})
			return
		}
		file, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "file required"})
			return
		}
		c.JSON(http.StatusOK, DocumentMetadata{
			ID:         "doc-1",
			Type:       c.PostForm("type"),
			Filename:   file.Filename,
			UploadedAt: time.Now().UTC(),
		})
	})
	router.GET("/institutions", func(c *gin.Context) {
		c.JSON(http.StatusOK, []Institution{
			{ID: "inst-1", Name: "Banco Austral", MonthlyRate: 1.2, MinAmount: 1000, MaxAmount: 20000},
		})
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	backend := newFakeBackend(t)
	return NewClient(backend.URL, 5*time.Second, nil)
}

func TestClientVerifySession(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	user, err := client.VerifySession(ctx, testToken)
	if err != nil {
		t.Fatalf("VerifySession error: %v", err)
	}
	if user.ID != "u-1" {
		t.Fatalf("unexpected user: %+v", user)
	}

	_, err = client.VerifySession(ctx, "bogus")
	if !platformerrors.IsKind(err, platformerrors.KindCredential) {
		t.Fatalf("expected credential kind, got %v", err)
	}
}

func TestClientLoginOutcomes(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	res, err := client.Login(ctx, "ana@example.cl", "secret")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	if res.AccessToken != testToken || res.IsRecoveryCode {
		t.Fatalf("unexpected login result: %+v", res)
	}

	res, err = client.Login(ctx, "ana@example.cl", "recovery-code")
	if err != nil {
		t.Fatalf("Login recovery error: %v", err)
	}
	if !res.IsRecoveryCode {
		t.Fatalf("expected recovery code shape: %+v", res)
	}

	_, err = client.Login(ctx, "ana@example.cl", "nope")
	if !platformerrors.IsKind(err, platformerrors.KindCredential) {
		t.Fatalf("expected credential kind, got %v", err)
	}
}

func TestClientApplicationLifecycle(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	created, err := client.CreateApplication(ctx, testToken, ApplicationPayload{
		Amount:        5000,
		TermMonths:    24,
		MonthlyIncome: 1200,
		Consent:       true,
	})
	if err != nil {
		t.Fatalf("CreateApplication error: %v", err)
	}
	if created.ID != "app-1" {
		t.Fatalf("unexpected application: %+v", created)
	}

	updated, err := client.UpdateApplication(ctx, testToken, created.ID, ApplicationUpdate{
		InstitutionID: "inst-1",
	})
	if err != nil {
		t.Fatalf("UpdateApplication error: %v", err)
	}
	if updated.Status != "institution_selected" {
		t.Fatalf("unexpected status: %+v", updated)
	}

	meta, err := client.UploadDocument(
		ctx, testToken, created.ID, "id_front", "carnet.png",
		strings.NewReader("binary"),
	)
	if err != nil {
		t.Fatalf("UploadDocument error: %v", err)
	}
	if meta.Type != "id_front" || meta.Filename != "carnet.png" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
}

func TestClientErrorClassification(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	_, err := client.CreateApplication(ctx, testToken, ApplicationPayload{Amount: 0})
	if !platformerrors.IsKind(err, platformerrors.KindRemote) {
		t.Fatalf("expected remote kind for 422, got %v", err)
	}
	if !strings.Contains(err.Error(), "amount required") {
		t.Fatalf("remote message not preserved: %v", err)
	}

	// Unreachable endpoint surfaces as transient.
	dead := NewClient("http://127.0.0.1:1", time.Second, nil)
	_, err = dead.VerifySession(ctx, testToken)
	if !platformerrors.IsKind(err, platformerrors.KindTransient) {
		t.Fatalf("expected transient kind, got %v", err)
	}
}
