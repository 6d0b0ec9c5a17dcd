package model

import "time"

// Status is the session lifecycle state.
type Status string

const (
	StatusUninitialized   Status = "uninitialized"
	StatusChecking        Status = "checking"
	StatusAuthenticated   Status = "authenticated"
	StatusUnauthenticated Status = "unauthenticated"
)

// UserSummary is the profile fragment carried with an authenticated session.
type UserSummary struct {
	ID                     string `json:"id"`
	Email                  string `json:"email"`
	FullName               string `json:"full_name,omitempty"`
	RequiresPasswordChange bool   `json:"requires_password_change,omitempty"`
}

// TokenBundle pairs the access token with its owner. Present if and only if
// the session is authenticated.
type TokenBundle struct {
	AccessToken string      `json:"access_token"`
	User        UserSummary `json:"user"`
	SavedAt     time.Time   `json:"saved_at"`
}

// Snapshot is the immutable view handed to consumers. No consumer mutates
// session state through it.
type Snapshot struct {
	Status          Status
	User            *UserSummary
	RecoveryPending bool
	LastActivityAt  time.Time
	LastVerifiedAt  time.Time
}

// Authenticated reports whether the snapshot carries a live session.
func (s Snapshot) Authenticated() bool {
	return s.Status == StatusAuthenticated
}

// Logger provides the minimal logging contract required by the session domain.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}
