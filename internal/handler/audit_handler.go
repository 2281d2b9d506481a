package handler

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"ctdms/internal/auditexport"
	"ctdms/internal/domain"
	"ctdms/internal/requestctx"
	"ctdms/internal/service"
)

// AuditHandler serves the read-only audit trail.
type AuditHandler struct {
	auditService service.AuditService
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(auditService service.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

// List handles GET /api/v1/audit
// @Summary Query the audit trail
// @Description Filtered, paginated audit entries, newest first
// @Tags audit
// @Produce json
// @Param entity_type query string false "Entity type"
// @Param entity_id query string false "Entity ID"
// @Param actor_id query string false "Actor ID"
// @Param action query string false "Audit action" Enums(CREATE, UPDATE, DELETE, SCHEMA)
// @Param operation query string false "Operation, e.g. APPROVE"
// @Param status query string false "Outcome" Enums(SUCCESS, FAILURE)
// @Param study_id query string false "Study ID"
// @Param site_id query string false "Site ID"
// @Param from query string false "From (RFC3339 or YYYY-MM-DD)"
// @Param to query string false "To (RFC3339 or YYYY-MM-DD, inclusive)"
// @Param q query string false "Free-text search"
// @Param offset query int false "Offset" default(0)
// @Param limit query int false "Limit" default(20)
// @Success 200 {object} Response{data=[]domain.AuditEntry,meta=PagMeta} "Audit entries"
// @Failure 400 {object} ErrorResponseBody "Invalid filter"
// @Failure 403 {object} ErrorResponseBody "Role may not read the audit trail"
// @Security BearerAuth
// @Router /audit [get]
func (h *AuditHandler) List(c *gin.Context) {
	filter, err := parseAuditFilter(c)
	if err != nil {
		HandleError(c, err)
		return
	}
	h.respondEntries(c, filter)
}

// ListForDocument handles GET /api/v1/documents/:id/audit
// @Summary Audit history of a document
// @Tags audit
// @Produce json
// @Param id path string true "Document ID (UUID)"
// @Param offset query int false "Offset" default(0)
// @Param limit query int false "Limit" default(20)
// @Success 200 {object} Response{data=[]domain.AuditEntry,meta=PagMeta} "Audit entries"
// @Failure 400 {object} ErrorResponseBody "Invalid ID"
// @Security BearerAuth
// @Router /documents/{id}/audit [get]
func (h *AuditHandler) ListForDocument(c *gin.Context) {
	docID, ok := pathUUID(c, "id", "invalid document ID")
	if !ok {
		return
	}
	filter, err := parseAuditFilter(c)
	if err != nil {
		HandleError(c, err)
		return
	}
	filter.EntityType = domain.EntityTypeDocument
	filter.EntityID = &docID
	h.respondEntries(c, filter)
}

func (h *AuditHandler) respondEntries(c *gin.Context, filter domain.AuditFilter) {
	offset, limit := parsePagination(c)
	entries, total, err := h.auditService.Query(c.Request.Context(), filter, offset, limit)
	if err != nil {
		HandleError(c, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	RespondPaginated(c, entries, PagMeta{Total: total, Offset: offset, Limit: limit})
}

// GetByID handles GET /api/v1/audit/:id
// @Summary Get an audit entry
// @Tags audit
// @Produce json
// @Param id path string true "Audit entry ID (UUID)"
// @Success 200 {object} Response{data=domain.AuditEntry} "Audit entry"
// @Failure 404 {object} ErrorResponseBody "Audit entry not found"
// @Security BearerAuth
// @Router /audit/{id} [get]
func (h *AuditHandler) GetByID(c *gin.Context) {
	id, ok := pathUUID(c, "id", "invalid audit entry ID")
	if !ok {
		return
	}

	entry, err := h.auditService.Get(c.Request.Context(), id)
	if err != nil {
		HandleError(c, err)
		return
	}

	RespondOK(c, entry)
}

// Export handles GET /api/v1/audit/export
// @Summary Export the audit trail
// @Description Streams every entry matching the filter as CSV (UTF-8 with BOM) or XLSX
// @Tags audit
// @Produce text/csv
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param format query string false "Export format" Enums(csv, xlsx) default(csv)
// @Param entity_type query string false "Entity type"
// @Param entity_id query string false "Entity ID"
// @Param from query string false "From (RFC3339 or YYYY-MM-DD)"
// @Param to query string false "To (RFC3339 or YYYY-MM-DD, inclusive)"
// @Success 200 {file} file "Audit trail export"
// @Failure 400 {object} ErrorResponseBody "Invalid filter or format"
// @Security BearerAuth
// @Router /audit/export [get]
func (h *AuditHandler) Export(c *gin.Context) {
	format, err := auditexport.ParseFormat(c.Query("format"))
	if err != nil {
		HandleError(c, err)
		return
	}
	filter, err := parseAuditFilter(c)
	if err != nil {
		HandleError(c, err)
		return
	}

	ctx := c.Request.Context()
	filename := auditexport.BuildFilename(c.Query("label"), format, requestctx.Now(ctx))
	c.Header("Content-Type", format.ContentType())
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	if _, err := h.auditService.Export(ctx, filter, format, c.Writer); err != nil {
		if !c.Writer.Written() {
			c.Writer.Header().Del("Content-Type")
			c.Writer.Header().Del("Content-Disposition")
			HandleError(c, err)
			return
		}
		// Headers are already on the wire; the truncated body is all the client gets.
		_ = c.Error(err)
		c.Abort()
	}
}

// parseAuditFilter reads audit filters from the query string. Invalid values
// are reported as validation errors.
func parseAuditFilter(c *gin.Context) (domain.AuditFilter, error) {
	filter := domain.AuditFilter{
		EntityType: c.Query("entity_type"),
		Action:     domain.AuditAction(c.Query("action")),
		Operation:  c.Query("operation"),
		Status:     domain.AuditStatus(c.Query("status")),
		Search:     c.Query("q"),
	}

	var err error
	if filter.EntityID, err = optionalUUID(c, "entity_id"); err != nil {
		return filter, invalidParam("entity_id")
	}
	if filter.ActorID, err = optionalUUID(c, "actor_id"); err != nil {
		return filter, invalidParam("actor_id")
	}
	if filter.StudyID, err = optionalUUID(c, "study_id"); err != nil {
		return filter, invalidParam("study_id")
	}
	if filter.SiteID, err = optionalUUID(c, "site_id"); err != nil {
		return filter, invalidParam("site_id")
	}
	if filter.From, err = parseTimeParam(c.Query("from"), false); err != nil {
		return filter, invalidParam("from")
	}
	if filter.To, err = parseTimeParam(c.Query("to"), true); err != nil {
		return filter, invalidParam("to")
	}

	switch filter.Action {
	case "", domain.AuditActionCreate, domain.AuditActionUpdate, domain.AuditActionDelete, domain.AuditActionSchema:
	default:
		return filter, fmt.Errorf("%w: unknown audit action %q", domain.ErrValidation, filter.Action)
	}
	return filter, nil
}

// parseTimeParam accepts RFC3339 or a bare date. A bare date used as an upper
// bound covers the whole day.
func parseTimeParam(raw string, endOfDay bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func invalidParam(name string) error {
	return fmt.Errorf("%w: invalid '%s'", domain.ErrValidation, name)
}
