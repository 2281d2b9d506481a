package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ctdms/internal/domain"
	"ctdms/internal/middleware"
)

// APIResponse is the standard envelope for all API responses.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    *PagMeta    `json:"meta,omitempty"`
}

// APIError holds error details in the response. Details explains workflow
// rejections so clients can tell a disabled action from a missing permission.
type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// PagMeta holds pagination metadata.
type PagMeta struct {
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// RespondOK sends a 200 success response.
func RespondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: data})
}

// RespondCreated sends a 201 success response.
func RespondCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, APIResponse{Success: true, Data: data})
}

// RespondPaginated sends a 200 success response with pagination metadata.
func RespondPaginated(c *gin.Context, data interface{}, meta PagMeta) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: data, Meta: &meta})
}

// RespondError sends an error response with the given status code.
func RespondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, APIResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: msg},
	})
}

// MapDomainError translates domain errors to HTTP status codes and error codes.
func MapDomainError(err error) (status int, code, msg string) {
	if we, ok := domain.AsWorkflowError(err); ok {
		switch we.Check {
		case domain.CheckRole:
			return http.StatusForbidden, "ROLE_NOT_PERMITTED", we.Error()
		case domain.CheckReviewer:
			return http.StatusForbidden, "NOT_ASSIGNED_REVIEWER", we.Error()
		default:
			return http.StatusConflict, "ACTION_NOT_ALLOWED", we.Error()
		}
	}

	switch {
	case errors.Is(err, domain.ErrDocumentDeleted):
		return http.StatusNotFound, "DOCUMENT_DELETED", "document is deleted"
	case errors.Is(err, domain.ErrDocumentNotDeleted):
		return http.StatusNotFound, "DOCUMENT_NOT_DELETED", "document is not deleted"
	case errors.Is(err, domain.ErrDocumentNotFound):
		return http.StatusNotFound, "DOCUMENT_NOT_FOUND", "document not found"
	case errors.Is(err, domain.ErrVersionNotFound):
		return http.StatusNotFound, "VERSION_NOT_FOUND", "version not found for this document"
	case errors.Is(err, domain.ErrAuditNotFound):
		return http.StatusNotFound, "AUDIT_ENTRY_NOT_FOUND", "audit entry not found"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "resource not found"
	case errors.Is(err, domain.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "file exceeds maximum allowed size"
	case errors.Is(err, domain.ErrStorageMismatch):
		return http.StatusBadRequest, "STORAGE_MISMATCH", err.Error()
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "forbidden"
	case errors.Is(err, domain.ErrVersionConflict):
		return http.StatusConflict, "VERSION_CONFLICT", "document version changed concurrently; reload and retry"
	case errors.Is(err, domain.ErrVersionAlreadyCurrent):
		return http.StatusConflict, "VERSION_ALREADY_CURRENT", "version is already current"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "CONFLICT", "conflict"
	case errors.Is(err, domain.ErrStorageNotConfigured):
		return http.StatusServiceUnavailable, "STORAGE_NOT_CONFIGURED", "object storage is not configured"
	case errors.Is(err, domain.ErrStorage):
		return http.StatusInternalServerError, "STORAGE_FAILURE", "storage is unavailable"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred"
	}
}

// extractActor returns the authenticated actor. Returns false if it is
// missing (error response already written).
func extractActor(c *gin.Context) (domain.Actor, bool) {
	actor, err := middleware.GetActor(c)
	if err != nil {
		RespondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing actor context")
		return domain.Actor{}, false
	}
	return actor, true
}

// HandleError maps a domain error and sends the appropriate error response.
// Internal errors are attached to the context for the request logger.
func HandleError(c *gin.Context, err error) {
	status, code, msg := MapDomainError(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	apiErr := &APIError{Code: code, Message: msg}
	if we, ok := domain.AsWorkflowError(err); ok {
		apiErr.Details = we
	}
	c.JSON(status, APIResponse{Success: false, Error: apiErr})
}
