package auditexport

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"ctdms/internal/domain"
)

func sampleEntry() domain.AuditEntry {
	actor := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	entity := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	return domain.AuditEntry{
		ID:         uuid.MustParse("33333333-3333-3333-3333-333333333333"),
		CreatedAt:  time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC),
		ActorID:    &actor,
		ActorEmail: "pi@site.test",
		ActorRoles: domain.RoleList{domain.RoleStudyManager, domain.RoleReviewer},
		Action:     domain.AuditActionUpdate,
		Operation:  string(domain.ActionSubmitForReview),
		EntityType: domain.EntityTypeDocument,
		EntityID:   &entity,
		OldValue:   json.RawMessage(`null`),
		NewValue:   json.RawMessage(`{"status":"IN_REVIEW"}`),
		Status:     domain.AuditStatusSuccess,
		IPAddress:  "10.0.0.1",
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat("XLSX")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	_, err = ParseFormat("pdf")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCSVWriter(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(FormatCSV, &buf)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader())
	require.NoError(t, w.WriteEntries([]domain.AuditEntry{sampleEntry()}))
	require.NoError(t, w.Close())

	data := buf.Bytes()
	require.True(t, bytes.HasPrefix(data, BOM))

	rows, err := csv.NewReader(bytes.NewReader(data[len(BOM):])).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Len(t, rows[0], len(columns))
	assert.Equal(t, "Timestamp", rows[0][0])

	row := rows[1]
	assert.Equal(t, "2025-03-01T10:30:00Z", row[0])
	assert.Equal(t, "study_manager|reviewer", row[4])
	assert.Equal(t, "SUBMIT_FOR_REVIEW", row[6])
	assert.Equal(t, "", row[10], "nil site id renders empty")
	assert.Equal(t, "", row[13], "null old value renders empty")
	assert.Equal(t, `{"status":"IN_REVIEW"}`, row[14])
}

func TestXLSXWriter(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(FormatXLSX, &buf)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader())
	require.NoError(t, w.WriteEntries([]domain.AuditEntry{sampleEntry(), sampleEntry()}))
	require.NoError(t, w.Close())

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Actor Email", rows[0][3])
	assert.Equal(t, "pi@site.test", rows[2][3])
}

func TestBuildFilename(t *testing.T) {
	now := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "Study_42_audit_2025-06-02.csv", BuildFilename("Study 42 / audit", FormatCSV, now))
	assert.Equal(t, "audit_trail_2025-06-02.xlsx", BuildFilename("", FormatXLSX, now))
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a_b-c", SanitizeFilename("  a!!b-c  "))
	assert.Len(t, SanitizeFilename(string(bytes.Repeat([]byte("x"), 150))), 100)
}
