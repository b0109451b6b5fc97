package permitinfo

import (
	"errors"
	"fmt"
	"permitinfo-backend/internal/browser"
)

// AuthError means the login form could not be found or filled, or the portal
// never answered the login post.
type AuthError struct {
	Reason   string
	Err      error
	Snapshot []byte
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("login: %s", e.Reason)
	}
	return fmt.Sprintf("login: %s: %s", e.Reason, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func (e *AuthError) snapshot() []byte {
	return e.Snapshot
}

// DashboardError means the dashboard itself never loaded, as opposed to a
// single row that could not be read.
type DashboardError struct {
	Err      error
	Snapshot []byte
}

func (e *DashboardError) Error() string {
	return fmt.Sprintf("read dashboard: %s", e.Err)
}

func (e *DashboardError) Unwrap() error {
	return e.Err
}

func (e *DashboardError) snapshot() []byte {
	return e.Snapshot
}

// ScrapeFieldError is a single dashboard row that could not be read, the row
// is dropped.
type ScrapeFieldError struct {
	// Row is the 1-based index of the row among the data rows.
	Row   int
	Field string
	Err   error
}

func (e *ScrapeFieldError) Error() string {
	return fmt.Sprintf("dashboard row %d: field %s: %s", e.Row, e.Field, e.Err)
}

func (e *ScrapeFieldError) Unwrap() error {
	return e.Err
}

// EnrichmentError is a permit whose plates could not be read, the permit is
// kept without plates.
type EnrichmentError struct {
	PermitNo string
	Err      error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("plates of permit %s: %s", e.PermitNo, e.Err)
}

func (e *EnrichmentError) Unwrap() error {
	return e.Err
}

type Step string

const (
	StepAuthenticate Step = "authenticate"
	StepNavigate     Step = "navigate"
	StepDeactivate   Step = "deactivate"
	StepActivate     Step = "activate"
	StepConfirm      Step = "confirm"
)

type UpdateReason string

const (
	ReasonTimeout  UpdateReason = "timeout"
	ReasonNotFound UpdateReason = "not_found"
	ReasonBrowser  UpdateReason = "browser"
	ReasonAuth     UpdateReason = "auth"
	ReasonInvalid  UpdateReason = "invalid_request"
)

// UpdateError is a failed plate update. The state of the permit on the portal
// is unknown after one of these.
type UpdateError struct {
	Step   Step
	Reason UpdateReason
	Err    error
	// Suggestion is the closest plate on the page when the requested one was
	// not found.
	Suggestion string
	Snapshot   []byte
}

func (e *UpdateError) Error() string {
	msg := fmt.Sprintf("update plate: %s: %s", e.Step, e.Reason)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err)
	}
	if e.Suggestion != "" {
		msg = fmt.Sprintf("%s (did you mean %q?)", msg, e.Suggestion)
	}
	return msg
}

func (e *UpdateError) Unwrap() error {
	return e.Err
}

func (e *UpdateError) snapshot() []byte {
	return e.Snapshot
}

func newUpdateError(step Step, err error) *UpdateError {
	updateErr := &UpdateError{Step: step, Reason: ReasonBrowser, Err: err}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		updateErr.Reason = ReasonAuth
		updateErr.Snapshot = authErr.Snapshot
	}
	if errors.Is(err, browser.ErrTimeout) {
		updateErr.Reason = ReasonTimeout
	}
	return updateErr
}

type snapshotter interface {
	snapshot() []byte
}

// SnapshotOf returns the diagnostic screenshot attached to `err`, if any.
func SnapshotOf(err error) []byte {
	var s snapshotter
	if errors.As(err, &s) {
		return s.snapshot()
	}
	return nil
}
