package handler_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ctdms/internal/auditexport"
	"ctdms/internal/domain"
	"ctdms/internal/handler"
	"ctdms/internal/requestctx"
	"ctdms/mocks"
)

func newAuditHandler() (*handler.AuditHandler, *mocks.MockAuditService) {
	mockSvc := new(mocks.MockAuditService)
	return handler.NewAuditHandler(mockSvc), mockSvc
}

func getRequest(target string) *http.Request {
	req, _ := http.NewRequest(http.MethodGet, target, http.NoBody)
	return req
}

func TestAuditHandler_List_ParsesFilters(t *testing.T) {
	h, mockSvc := newAuditHandler()
	entityID := uuid.New()
	actorID := uuid.New()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = getRequest("/api/v1/audit?entity_type=document&entity_id=" + entityID.String() +
		"&actor_id=" + actorID.String() + "&action=UPDATE&operation=APPROVE&status=FAILURE" +
		"&from=2025-03-01&to=2025-03-31&q=protocol&offset=20&limit=10")
	setActor(c, domain.RoleAuditor)

	mockSvc.On("Query", mock.Anything, mock.MatchedBy(func(f domain.AuditFilter) bool {
		wantTo := time.Date(2025, 3, 31, 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)
		return f.EntityType == "document" && *f.EntityID == entityID && *f.ActorID == actorID &&
			f.Action == domain.AuditActionUpdate && f.Operation == "APPROVE" &&
			f.Status == domain.AuditStatusFailure && f.Search == "protocol" &&
			f.From.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)) && f.To.Equal(wantTo)
	}), 20, 10).Return([]domain.AuditEntry{{ID: uuid.New()}}, 21, nil)

	h.List(c)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, 21, resp.Meta.Total)
	mockSvc.AssertExpectations(t)
}

func TestAuditHandler_List_RFC3339Bounds(t *testing.T) {
	h, mockSvc := newAuditHandler()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = getRequest("/api/v1/audit?to=2025-03-31T12:00:00Z")

	mockSvc.On("Query", mock.Anything, mock.MatchedBy(func(f domain.AuditFilter) bool {
		return f.From == nil && f.To.Equal(time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC))
	}), 0, 20).Return(nil, 0, nil)

	h.List(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"data":[],"meta":{"total":0,"offset":0,"limit":20}}`, w.Body.String())
}

func TestAuditHandler_List_InvalidParams(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"bad entity id", "entity_id=nope"},
		{"bad actor id", "actor_id=nope"},
		{"bad study id", "study_id=nope"},
		{"bad from", "from=yesterday"},
		{"bad to", "to=31/03/2025"},
		{"unknown action", "action=PATCH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, mockSvc := newAuditHandler()

			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = getRequest("/api/v1/audit?" + tt.query)

			h.List(c)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "VALIDATION_ERROR", decodeResponse(t, w).Error.Code)
			mockSvc.AssertNotCalled(t, "Query", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestAuditHandler_ListForDocument_ScopesToDocument(t *testing.T) {
	h, mockSvc := newAuditHandler()
	docID := uuid.New()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = getRequest("/api/v1/documents/" + docID.String() + "/audit?entity_type=something_else")
	c.Params = gin.Params{{Key: "id", Value: docID.String()}}

	mockSvc.On("Query", mock.Anything, mock.MatchedBy(func(f domain.AuditFilter) bool {
		return f.EntityType == domain.EntityTypeDocument && f.EntityID != nil && *f.EntityID == docID
	}), 0, 20).Return([]domain.AuditEntry{}, 0, nil)

	h.ListForDocument(c)

	assert.Equal(t, http.StatusOK, w.Code)
	mockSvc.AssertExpectations(t)
}

func TestAuditHandler_GetByID(t *testing.T) {
	h, mockSvc := newAuditHandler()
	id := uuid.New()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = getRequest("/api/v1/audit/" + id.String())
	c.Params = gin.Params{{Key: "id", Value: id.String()}}

	mockSvc.On("Get", mock.Anything, id).Return(nil, domain.ErrAuditNotFound)

	h.GetByID(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "AUDIT_ENTRY_NOT_FOUND", decodeResponse(t, w).Error.Code)
}

// --- Export ---

func TestAuditHandler_Export_CSVHeaders(t *testing.T) {
	h, mockSvc := newAuditHandler()
	now := time.Date(2025, 6, 30, 10, 0, 0, 0, time.UTC)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = getRequest("/api/v1/audit/export?label=Study+42+TMF")
	c.Request = c.Request.WithContext(requestctx.WithTime(c.Request.Context(), now))

	mockSvc.On("Export", mock.Anything, domain.AuditFilter{}, auditexport.FormatCSV, mock.Anything).
		Run(func(args mock.Arguments) {
			_, _ = args.Get(3).(io.Writer).Write(append(append([]byte{}, auditexport.BOM...), "Timestamp\n"...))
		}).
		Return(0, nil)

	h.Export(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="Study_42_TMF_2025-06-30.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, auditexport.BOM, w.Body.Bytes()[:len(auditexport.BOM)])
	mockSvc.AssertExpectations(t)
}

func TestAuditHandler_Export_XLSXContentType(t *testing.T) {
	h, mockSvc := newAuditHandler()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = getRequest("/api/v1/audit/export?format=xlsx")

	mockSvc.On("Export", mock.Anything, mock.Anything, auditexport.FormatXLSX, mock.Anything).
		Run(func(args mock.Arguments) {
			_, _ = args.Get(3).(io.Writer).Write([]byte("PK"))
		}).
		Return(0, nil)

	h.Export(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "spreadsheetml")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "audit_trail_")
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")
}

func TestAuditHandler_Export_UnknownFormat(t *testing.T) {
	h, mockSvc := newAuditHandler()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = getRequest("/api/v1/audit/export?format=pdf")

	h.Export(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockSvc.AssertNotCalled(t, "Export", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAuditHandler_Export_FailsBeforeWriting(t *testing.T) {
	h, mockSvc := newAuditHandler()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = getRequest("/api/v1/audit/export")

	mockSvc.On("Export", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(0, errors.Join(domain.ErrStorage, context.DeadlineExceeded))

	h.Export(c)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "STORAGE_FAILURE", decodeResponse(t, w).Error.Code)
}

func TestAuditHandler_Export_FailsMidStream(t *testing.T) {
	h, mockSvc := newAuditHandler()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = getRequest("/api/v1/audit/export")

	mockSvc.On("Export", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			_, _ = args.Get(3).(io.Writer).Write([]byte("Timestamp\n"))
		}).
		Return(500, errors.New("connection reset"))

	h.Export(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, c.IsAborted())
	assert.Len(t, c.Errors, 1)
}
