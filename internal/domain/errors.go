package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error returned by the document and audit services wraps
// exactly one of these.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("resource not found")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrStorage      = errors.New("storage failure")
	ErrUnauthorized = errors.New("unauthorized")
)

var (
	ErrDocumentNotFound   = fmt.Errorf("%w: document not found", ErrNotFound)
	ErrVersionNotFound    = fmt.Errorf("%w: version not found", ErrNotFound)
	ErrAuditNotFound      = fmt.Errorf("%w: audit entry not found", ErrNotFound)
	ErrDocumentDeleted    = fmt.Errorf("%w: document is deleted", ErrNotFound)
	ErrDocumentNotDeleted = fmt.Errorf("%w: document is not deleted", ErrNotFound)

	ErrMissingAction         = fmt.Errorf("%w: action is required", ErrValidation)
	ErrUnknownAction         = fmt.Errorf("%w: unknown action", ErrValidation)
	ErrMissingActor          = fmt.Errorf("%w: user id is required", ErrValidation)
	ErrMissingRole           = fmt.Errorf("%w: user role is required", ErrValidation)
	ErrMissingDeletionReason = fmt.Errorf("%w: deletion reason is required", ErrValidation)
	ErrMissingVersionID      = fmt.Errorf("%w: version id is required", ErrValidation)
	ErrInvalidFile           = fmt.Errorf("%w: file name, checksum, storage key and a positive size are required", ErrValidation)
	ErrFileTooLarge          = fmt.Errorf("%w: file exceeds maximum allowed size", ErrValidation)
	ErrStorageMismatch       = fmt.Errorf("%w: stored object does not match the declared file", ErrValidation)
	ErrMissingStudy          = fmt.Errorf("%w: study id is required", ErrValidation)
	ErrMissingTitle          = fmt.Errorf("%w: title is required", ErrValidation)

	ErrVersionConflict       = fmt.Errorf("%w: document version changed concurrently", ErrConflict)
	ErrVersionAlreadyCurrent = fmt.Errorf("%w: version is already current", ErrConflict)

	ErrStorageNotConfigured = fmt.Errorf("%w: object storage is not configured", ErrStorage)
)

// Workflow check names reported on a WorkflowError.
const (
	CheckStatus   = "status"
	CheckRole     = "role"
	CheckReviewer = "reviewer"
)

// WorkflowError explains why the workflow engine rejected an action so that
// callers can tell a disabled button from a missing permission.
type WorkflowError struct {
	Kind           error          `json:"-"`
	Check          string         `json:"check"`
	Action         Action         `json:"action"`
	Status         DocumentStatus `json:"status"`
	AllowedActions []Action       `json:"allowed_actions"`
	AllowedRoles   []UserRole     `json:"allowed_roles"`
	Detail         string         `json:"detail,omitempty"`
}

func (e *WorkflowError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s not allowed", e.Kind, e.Action)
	switch e.Check {
	case CheckStatus:
		fmt.Fprintf(&b, " while document is %s", e.Status)
	case CheckRole:
		b.WriteString(" for the caller's roles")
	case CheckReviewer:
		b.WriteString(": caller is not the assigned reviewer")
	}
	if e.Detail != "" {
		b.WriteString(" (" + e.Detail + ")")
	}
	return b.String()
}

func (e *WorkflowError) Unwrap() error {
	return e.Kind
}

// AsWorkflowError extracts a *WorkflowError from err.
func AsWorkflowError(err error) (*WorkflowError, bool) {
	var we *WorkflowError
	if errors.As(err, &we) {
		return we, true
	}
	return nil, false
}
