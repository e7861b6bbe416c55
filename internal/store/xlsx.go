package store

import (
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"ticketsync/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	xlsxSheet       = "Tickets"
	maxColumnWidth  = 50
	minColumnWidth  = 8
	widthSampleRows = 500
)

// ExportXLSX writes the sorted dataset into a workbook at path.
func (s *Store) ExportXLSX(path string) error {
	rows := s.Rows()

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(xlsxSheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	widths := make([]int, len(models.CanonicalHeader))
	for col, title := range models.CanonicalHeader {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(xlsxSheet, cell, title); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		widths[col] = utf8.RuneCountInString(title)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err == nil {
		last, _ := excelize.CoordinatesToCellName(len(models.CanonicalHeader), 1)
		_ = f.SetCellStyle(xlsxSheet, "A1", last, headerStyle)
	}

	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		values := make([]any, len(row))
		for col, v := range row {
			values[col] = v
			if i < widthSampleRows && col < len(widths) {
				if w := utf8.RuneCountInString(v); w > widths[col] {
					widths[col] = w
				}
			}
		}
		if err := f.SetSheetRow(xlsxSheet, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	for col, w := range widths {
		name, _ := excelize.ColumnNumberToName(col + 1)
		_ = f.SetColWidth(xlsxSheet, name, name, float64(clamp(w+2, minColumnWidth, maxColumnWidth)))
	}
	_ = f.SetPanes(xlsxSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create export dir: %w", err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
