package auditexport

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"ctdms/internal/domain"
)

const sheetName = "Audit Trail"

// XLSXWriter streams audit entries into a single worksheet. The workbook is
// written to the destination on Close.
type XLSXWriter struct {
	out  io.Writer
	file *excelize.File
	sw   *excelize.StreamWriter
	row  int
}

// NewXLSXWriter creates an XLSXWriter that writes the workbook to w.
func NewXLSXWriter(w io.Writer) (*XLSXWriter, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("auditexport: renaming sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("auditexport: creating stream writer: %w", err)
	}
	return &XLSXWriter{out: w, file: f, sw: sw, row: 1}, nil
}

// WriteHeader writes the bold header row.
func (w *XLSXWriter) WriteHeader() error {
	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	cells := make([]interface{}, len(columns))
	for i, c := range columns {
		cells[i] = excelize.Cell{StyleID: style, Value: c}
	}
	return w.next(cells)
}

// WriteEntries appends one row per entry.
func (w *XLSXWriter) WriteEntries(entries []domain.AuditEntry) error {
	for i := range entries {
		row := entryToRow(&entries[i])
		cells := make([]interface{}, len(row))
		for j, v := range row {
			cells[j] = v
		}
		if err := w.next(cells); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes the sheet and writes the workbook.
func (w *XLSXWriter) Close() error {
	defer func() { _ = w.file.Close() }()
	if err := w.sw.Flush(); err != nil {
		return fmt.Errorf("auditexport: flushing sheet: %w", err)
	}
	if err := w.file.Write(w.out); err != nil {
		return fmt.Errorf("auditexport: writing workbook: %w", err)
	}
	return nil
}

func (w *XLSXWriter) next(cells []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		return err
	}
	if err := w.sw.SetRow(cell, cells); err != nil {
		return err
	}
	w.row++
	return nil
}
