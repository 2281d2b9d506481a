// Package auditexport renders audit trail entries as CSV or XLSX downloads.
package auditexport

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"ctdms/internal/domain"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat maps a query value to a Format. Empty means CSV.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: unsupported export format %q", domain.ErrValidation, s)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// EntryWriter streams audit entries into an export file. Close must be called
// once all batches are written.
type EntryWriter interface {
	WriteHeader() error
	WriteEntries(entries []domain.AuditEntry) error
	Close() error
}

// NewWriter returns an EntryWriter for format writing to w.
func NewWriter(format Format, w io.Writer) (EntryWriter, error) {
	switch format {
	case FormatCSV:
		return NewCSVWriter(w), nil
	case FormatXLSX:
		return NewXLSXWriter(w)
	default:
		return nil, fmt.Errorf("%w: unsupported export format %q", domain.ErrValidation, format)
	}
}

// columns is the header row shared by every format.
var columns = []string{
	"Timestamp",
	"Entry ID",
	"Actor ID",
	"Actor Email",
	"Actor Roles",
	"Action",
	"Operation",
	"Entity Type",
	"Entity ID",
	"Study ID",
	"Site ID",
	"Status",
	"Message",
	"Old Value",
	"New Value",
	"IP Address",
	"User Agent",
	"Client",
	"Session ID",
	"Request ID",
}

func entryToRow(e *domain.AuditEntry) []string {
	roles := make([]string, len(e.ActorRoles))
	for i, r := range e.ActorRoles {
		roles[i] = string(r)
	}
	return []string{
		e.CreatedAt.UTC().Format(time.RFC3339),
		e.ID.String(),
		formatID(e.ActorID),
		e.ActorEmail,
		strings.Join(roles, "|"),
		string(e.Action),
		e.Operation,
		e.EntityType,
		formatID(e.EntityID),
		formatID(e.StudyID),
		formatID(e.SiteID),
		string(e.Status),
		e.Message,
		formatJSON(e.OldValue),
		formatJSON(e.NewValue),
		e.IPAddress,
		e.UserAgent,
		e.ClientInfo,
		e.SessionID,
		e.RequestID,
	}
}

func formatID(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func formatJSON(raw []byte) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	return string(raw)
}

// nonAlphanumeric matches characters that are not alphanumeric, hyphen, or underscore.
var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// multiUnderscore matches consecutive underscores.
var multiUnderscore = regexp.MustCompile(`_{2,}`)

// SanitizeFilename cleans a label for use in Content-Disposition. Replaces
// non-alphanumeric chars (except - _) with _, collapses consecutive
// underscores, and truncates to 100 chars.
func SanitizeFilename(name string) string {
	s := nonAlphanumeric.ReplaceAllString(name, "_")
	s = multiUnderscore.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}

// BuildFilename returns {label}_{YYYY-MM-DD}.{ext} for Content-Disposition.
func BuildFilename(label string, format Format, now time.Time) string {
	sanitized := SanitizeFilename(label)
	if sanitized == "" {
		sanitized = "audit_trail"
	}
	return fmt.Sprintf("%s_%s.%s", sanitized, now.Format("2006-01-02"), format)
}
