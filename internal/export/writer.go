// Package export renders bookings as Excel workbooks.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const maxSheetName = 31

// Writer appends rows to sheets of one workbook.
type Writer struct {
	file         *excelize.File
	currentSheet string
	currentRow   int
}

func NewWriter() *Writer {
	return &Writer{file: excelize.NewFile()}
}

// AddSheet starts a new sheet. The first call renames the default sheet.
func (w *Writer) AddSheet(name string) error {
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}

	if w.currentSheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet: %w", err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}

	w.currentSheet = name
	w.currentRow = 1
	return nil
}

// WriteHeader writes bold column headers and freezes them.
func (w *Writer) WriteHeader(columns []string) error {
	if err := w.WriteRow(toRow(columns)); err != nil {
		return err
	}

	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	startCell, _ := excelize.CoordinatesToCellName(1, w.currentRow-1)
	endCell, _ := excelize.CoordinatesToCellName(len(columns), w.currentRow-1)
	if err := w.file.SetCellStyle(w.currentSheet, startCell, endCell, style); err != nil {
		return err
	}

	return w.file.SetPanes(w.currentSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      w.currentRow - 1,
		TopLeftCell: fmt.Sprintf("A%d", w.currentRow),
		ActivePane:  "bottomLeft",
	})
}

// WriteRow writes a data row to the current sheet.
func (w *Writer) WriteRow(row []any) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}

	for i, val := range row {
		cell, err := excelize.CoordinatesToCellName(i+1, w.currentRow)
		if err != nil {
			return err
		}
		if err := w.file.SetCellValue(w.currentSheet, cell, val); err != nil {
			return err
		}
	}

	w.currentRow++
	return nil
}

// SetColumnWidths sizes columns of the current sheet starting at A.
func (w *Writer) SetColumnWidths(widths ...float64) error {
	for i, width := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := w.file.SetColWidth(w.currentSheet, col, col, width); err != nil {
			return err
		}
	}
	return nil
}

// Save writes the workbook to wr.
func (w *Writer) Save(wr io.Writer) error {
	return w.file.Write(wr)
}

// Close releases resources.
func (w *Writer) Close() error {
	return w.file.Close()
}

func toRow(columns []string) []any {
	row := make([]any, len(columns))
	for i, c := range columns {
		row[i] = c
	}
	return row
}
