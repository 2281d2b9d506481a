package auditexport

import (
	"encoding/csv"
	"io"

	"ctdms/internal/domain"
)

// BOM is written first so Excel on Windows detects UTF-8.
var BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVWriter wraps csv.Writer for exporting audit entries.
type CSVWriter struct {
	out io.Writer
	csv *csv.Writer
}

// NewCSVWriter creates a CSVWriter that writes to w.
func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{out: w, csv: csv.NewWriter(w)}
}

// WriteHeader writes the BOM and the header row.
func (w *CSVWriter) WriteHeader() error {
	if _, err := w.out.Write(BOM); err != nil {
		return err
	}
	return w.csv.Write(columns)
}

// WriteEntries converts a batch of entries to rows and writes them.
func (w *CSVWriter) WriteEntries(entries []domain.AuditEntry) error {
	for i := range entries {
		if err := w.csv.Write(entryToRow(&entries[i])); err != nil {
			return err
		}
	}
	w.csv.Flush()
	return w.csv.Error()
}

// Close flushes buffered rows.
func (w *CSVWriter) Close() error {
	w.csv.Flush()
	return w.csv.Error()
}
