package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ctdms/internal/domain"
	"ctdms/internal/service"
)

// DocumentHandler handles document lifecycle endpoints.
type DocumentHandler struct {
	documentService service.DocumentService
}

// NewDocumentHandler creates a new DocumentHandler.
func NewDocumentHandler(documentService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{documentService: documentService}
}

// Create handles POST /api/v1/documents
// @Summary Create a document
// @Description Create a document together with its first version
// @Tags documents
// @Accept json
// @Produce json
// @Param request body CreateDocumentRequest true "Document and first version"
// @Success 201 {object} Response{data=service.DocumentView} "Document created"
// @Failure 400 {object} ErrorResponseBody "Invalid request"
// @Failure 401 {object} ErrorResponseBody "Unauthorized"
// @Failure 403 {object} ErrorResponseBody "Role may not create documents"
// @Failure 413 {object} ErrorResponseBody "File too large"
// @Security BearerAuth
// @Router /documents [post]
func (h *DocumentHandler) Create(c *gin.Context) {
	actor, ok := extractActor(c)
	if !ok {
		return
	}

	var req CreateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", "study_id and title are required")
		return
	}

	view, err := h.documentService.Create(c.Request.Context(), &service.CreateDocumentInput{
		StudyID:    req.StudyID,
		SiteID:     req.SiteID,
		FolderID:   req.FolderID,
		FolderName: req.FolderName,
		Title:      req.Title,
		File:       req.File,
		Actor:      actor,
	})
	if err != nil {
		HandleError(c, err)
		return
	}

	RespondCreated(c, view)
}

// List handles GET /api/v1/documents
// @Summary List documents
// @Description List documents with derived status and the caller's available actions
// @Tags documents
// @Produce json
// @Param study_id query string false "Study ID"
// @Param site_id query string false "Site ID"
// @Param folder_id query string false "Folder ID"
// @Param status query string false "Derived status" Enums(DRAFT, IN_REVIEW, APPROVED, ARCHIVED, DELETED)
// @Param include_deleted query bool false "Include deleted documents"
// @Param offset query int false "Offset" default(0)
// @Param limit query int false "Limit" default(20)
// @Success 200 {object} Response{data=[]service.DocumentView,meta=PagMeta} "Documents"
// @Failure 400 {object} ErrorResponseBody "Invalid filter"
// @Security BearerAuth
// @Router /documents [get]
func (h *DocumentHandler) List(c *gin.Context) {
	actor, ok := extractActor(c)
	if !ok {
		return
	}

	var filter domain.DocumentFilter
	var err error
	if filter.StudyID, err = optionalUUID(c, "study_id"); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid 'study_id': must be a valid UUID")
		return
	}
	if filter.SiteID, err = optionalUUID(c, "site_id"); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid 'site_id': must be a valid UUID")
		return
	}
	if filter.FolderID, err = optionalUUID(c, "folder_id"); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid 'folder_id': must be a valid UUID")
		return
	}
	filter.Status = domain.DocumentStatus(c.Query("status"))
	filter.IncludeDeleted, _ = strconv.ParseBool(c.DefaultQuery("include_deleted", "false"))

	offset, limit := parsePagination(c)
	views, total, err := h.documentService.List(c.Request.Context(), filter, actor, offset, limit)
	if err != nil {
		HandleError(c, err)
		return
	}

	RespondPaginated(c, views, PagMeta{Total: total, Offset: offset, Limit: limit})
}

// GetByID handles GET /api/v1/documents/:id
// @Summary Get document by ID
// @Description Get a document with its current version, derived status and available actions
// @Tags documents
// @Produce json
// @Param id path string true "Document ID (UUID)"
// @Success 200 {object} Response{data=service.DocumentView} "Document details"
// @Failure 400 {object} ErrorResponseBody "Invalid ID"
// @Failure 404 {object} ErrorResponseBody "Document not found"
// @Security BearerAuth
// @Router /documents/{id} [get]
func (h *DocumentHandler) GetByID(c *gin.Context) {
	actor, ok := extractActor(c)
	if !ok {
		return
	}
	docID, ok := pathUUID(c, "id", "invalid document ID")
	if !ok {
		return
	}

	view, err := h.documentService.Get(c.Request.Context(), docID, actor)
	if err != nil {
		HandleError(c, err)
		return
	}

	RespondOK(c, view)
}

// AvailableActions handles GET /api/v1/documents/:id/actions
// @Summary List available actions
// @Description Actions the caller may invoke on the document right now
// @Tags documents
// @Produce json
// @Param id path string true "Document ID (UUID)"
// @Success 200 {object} Response{data=AvailableActionsResponse} "Available actions"
// @Failure 404 {object} ErrorResponseBody "Document not found"
// @Security BearerAuth
// @Router /documents/{id}/actions [get]
func (h *DocumentHandler) AvailableActions(c *gin.Context) {
	actor, ok := extractActor(c)
	if !ok {
		return
	}
	docID, ok := pathUUID(c, "id", "invalid document ID")
	if !ok {
		return
	}

	actions, err := h.documentService.AvailableActions(c.Request.Context(), docID, actor)
	if err != nil {
		HandleError(c, err)
		return
	}

	RespondOK(c, AvailableActionsResponse{DocumentID: docID, Actions: actions})
}

// Invoke handles POST /api/v1/documents/:id/actions
// @Summary Invoke a workflow action
// @Description Run one workflow action. Rejections carry the failed check, the derived status and the allowed actions and roles in error.details.
// @Tags documents
// @Accept json
// @Produce json
// @Param id path string true "Document ID (UUID)"
// @Param request body InvokeRequest true "Action and payload"
// @Success 200 {object} Response{data=service.InvokeResult} "Document after the action"
// @Failure 400 {object} ErrorResponseBody "Validation failed"
// @Failure 403 {object} ErrorResponseBody "Role not permitted or not the assigned reviewer"
// @Failure 404 {object} ErrorResponseBody "Document or version not found"
// @Failure 409 {object} ErrorResponseBody "Action not allowed in the current status"
// @Security BearerAuth
// @Router /documents/{id}/actions [post]
func (h *DocumentHandler) Invoke(c *gin.Context) {
	actor, ok := extractActor(c)
	if !ok {
		return
	}

	// Rejected attempts are still recorded, with whatever could be decoded.
	docID, idErr := uuid.Parse(c.Param("id"))
	var req InvokeRequest
	bindErr := c.ShouldBindJSON(&req)
	if idErr != nil || bindErr != nil {
		attempt := &service.InvokeInput{Action: req.Action, Actor: actor}
		code, msg := "INVALID_ID", "invalid document ID"
		if idErr == nil {
			attempt.DocumentID = docID
			code, msg = "INVALID_REQUEST", "request body must be a JSON object"
		}
		_ = h.documentService.RejectInvoke(c.Request.Context(), attempt, msg)
		RespondError(c, http.StatusBadRequest, code, msg)
		return
	}

	result, err := h.documentService.Invoke(c.Request.Context(), &service.InvokeInput{
		DocumentID: docID,
		Action:     req.Action,
		Actor:      actor,
		Payload:    req.ActionPayload,
	})
	if err != nil {
		HandleError(c, err)
		return
	}

	RespondOK(c, result)
}

// ListVersions handles GET /api/v1/documents/:id/versions
// @Summary List versions
// @Description Full version history, newest first
// @Tags documents
// @Produce json
// @Param id path string true "Document ID (UUID)"
// @Success 200 {object} Response{data=[]domain.Version} "Versions"
// @Failure 404 {object} ErrorResponseBody "Document not found"
// @Security BearerAuth
// @Router /documents/{id}/versions [get]
func (h *DocumentHandler) ListVersions(c *gin.Context) {
	docID, ok := pathUUID(c, "id", "invalid document ID")
	if !ok {
		return
	}

	versions, err := h.documentService.ListVersions(c.Request.Context(), docID)
	if err != nil {
		HandleError(c, err)
		return
	}

	RespondOK(c, versions)
}

// DownloadURL handles GET /api/v1/documents/:id/versions/:versionId/download
// @Summary Get a version download URL
// @Tags documents
// @Produce json
// @Param id path string true "Document ID (UUID)"
// @Param versionId path string true "Version ID (UUID)"
// @Success 200 {object} Response{data=service.PresignedURL} "Presigned GET"
// @Failure 404 {object} ErrorResponseBody "Version not found"
// @Failure 503 {object} ErrorResponseBody "Storage not configured"
// @Security BearerAuth
// @Router /documents/{id}/versions/{versionId}/download [get]
func (h *DocumentHandler) DownloadURL(c *gin.Context) {
	docID, ok := pathUUID(c, "id", "invalid document ID")
	if !ok {
		return
	}
	versionID, ok := pathUUID(c, "versionId", "invalid version ID")
	if !ok {
		return
	}

	url, err := h.documentService.VersionDownloadURL(c.Request.Context(), docID, versionID)
	if err != nil {
		HandleError(c, err)
		return
	}

	RespondOK(c, url)
}

// UploadURL handles POST /api/v1/documents/:id/versions/upload-url
// @Summary Get an upload URL for a new version
// @Tags documents
// @Accept json
// @Produce json
// @Param id path string true "Document ID (UUID)"
// @Param request body UploadURLRequest true "File to upload"
// @Success 200 {object} Response{data=service.PresignedURL} "Presigned PUT"
// @Failure 403 {object} ErrorResponseBody "Role may not upload"
// @Failure 409 {object} ErrorResponseBody "Uploads not allowed in the current status"
// @Security BearerAuth
// @Router /documents/{id}/versions/upload-url [post]
func (h *DocumentHandler) UploadURL(c *gin.Context) {
	actor, ok := extractActor(c)
	if !ok {
		return
	}
	docID, ok := pathUUID(c, "id", "invalid document ID")
	if !ok {
		return
	}

	var req UploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", "file_name is required")
		return
	}

	url, err := h.documentService.UploadURL(c.Request.Context(), docID, actor, req.FileName, req.ContentType)
	if err != nil {
		HandleError(c, err)
		return
	}

	RespondOK(c, url)
}

// parsePagination extracts offset and limit from query params with defaults.
func parsePagination(c *gin.Context) (offset, limit int) {
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return offset, limit
}

// pathUUID parses a UUID path parameter. Returns false if it is invalid
// (error response already written).
func pathUUID(c *gin.Context, name, msg string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_ID", msg)
		return uuid.Nil, false
	}
	return id, true
}

func optionalUUID(c *gin.Context, name string) (*uuid.UUID, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
