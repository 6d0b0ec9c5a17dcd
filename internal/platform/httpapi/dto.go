package httpapi

import "time"

// UserSummary mirrors the profile fragment the service returns with a session.
type UserSummary struct {
	ID                     string `json:"id"`
	Email                  string `json:"email"`
	FullName               string `json:"full_name,omitempty"`
	RequiresPasswordChange bool   `json:"requires_password_change,omitempty"`
}

// VerifyResult is the response of the verify-session endpoint.
type VerifyResult struct {
	OK   bool        `json:"ok"`
	User UserSummary `json:"user"`
}

// LoginResult carries the issued token bundle. IsRecoveryCode marks the
// distinguished response shape for one-time recovery codes: no session is
// established and the caller must route to the password-reset flow.
type LoginResult struct {
	AccessToken    string      `json:"access_token"`
	User           UserSummary `json:"user"`
	IsRecoveryCode bool        `json:"is_recovery_code,omitempty"`
}

// ApplicationPayload is the create-application request body.
type ApplicationPayload struct {
	Amount         int    `json:"amount"`
	TermMonths     int    `json:"term_months"`
	MonthlyIncome  int    `json:"monthly_income"`
	Location       string `json:"location,omitempty"`
	ApplicantName  string `json:"applicant_name,omitempty"`
	ApplicantRUT   string `json:"applicant_rut,omitempty"`
	ApplicantEmail string `json:"applicant_email,omitempty"`
	Consent        bool   `json:"consent"`
}

// ApplicationUpdate carries the optional mutation fields of an application.
type ApplicationUpdate struct {
	InstitutionID string `json:"institution_id,omitempty"`
	Status        string `json:"status,omitempty"`
}

// ApplicationResult is returned by create and update calls.
type ApplicationResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// DocumentMetadata describes an uploaded document.
type DocumentMetadata struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Filename   string    `json:"filename"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// InstitutionFilters narrows the institution lookup.
type InstitutionFilters struct {
	Amount     int    `json:"amount,omitempty"`
	TermMonths int    `json:"term_months,omitempty"`
	Income     int    `json:"income,omitempty"`
	Location   string `json:"location,omitempty"`
}

// Institution is a single lookup row.
type Institution struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	MonthlyRate float64 `json:"monthly_rate"`
	MinAmount   int     `json:"min_amount"`
	MaxAmount   int     `json:"max_amount"`
}

type errorBody struct {
	Message string `json:"message"`
}
