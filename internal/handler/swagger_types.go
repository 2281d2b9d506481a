package handler

import (
	"github.com/google/uuid"

	"ctdms/internal/domain"
	"ctdms/internal/service"
)

// Request and response shapes of the HTTP API. They are also read by swag to
// generate OpenAPI documentation.

// --- Request Types ---

// CreateDocumentRequest represents the create document request body.
type CreateDocumentRequest struct {
	StudyID    uuid.UUID         `json:"study_id" binding:"required" example:"7c9e6679-7425-40de-944b-e07fc1f90ae7"`
	SiteID     *uuid.UUID        `json:"site_id"`
	FolderID   *uuid.UUID        `json:"folder_id"`
	FolderName string            `json:"folder_name" example:"01.01 Protocol"`
	Title      string            `json:"title" binding:"required" example:"Clinical Study Protocol"`
	File       service.FileInput `json:"file"`
}

// InvokeRequest represents the body of a workflow action invocation. Payload
// fields sit next to the action name.
type InvokeRequest struct {
	Action domain.Action `json:"action" example:"SUBMIT_FOR_REVIEW"`
	service.ActionPayload
}

// UploadURLRequest asks for a presigned upload of the next version.
type UploadURLRequest struct {
	FileName    string `json:"file_name" binding:"required" example:"protocol_v2.pdf"`
	ContentType string `json:"content_type" example:"application/pdf"`
}

// --- Response Types ---

// AvailableActionsResponse lists the actions the caller may invoke.
type AvailableActionsResponse struct {
	DocumentID uuid.UUID       `json:"document_id"`
	Actions    []domain.Action `json:"actions"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string `json:"status" example:"ok"`
	Error  string `json:"error,omitempty"`
}

// --- Generic Response Wrappers ---

// Response wraps a successful response with data.
type Response struct {
	Success bool        `json:"success" example:"true"`
	Data    interface{} `json:"data,omitempty"`
	Meta    *PagMeta    `json:"meta,omitempty"`
}

// ErrorResponseBody wraps an error response.
type ErrorResponseBody struct {
	Success bool      `json:"success" example:"false"`
	Error   *APIError `json:"error"`
}
