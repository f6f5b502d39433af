// Package export writes extraction batches to JSON and XLSX files.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/jackzampolin/magicscan/internal/types"
)

// Sheet names in the exported workbook.
const (
	ValuesSheet     = "Values"
	ConfidenceSheet = "Confidence"
)

// WriteJSON writes results as an indented JSON array.
func WriteJSON(w io.Writer, results []types.ExtractionResult) error {
	if results == nil {
		results = []types.ExtractionResult{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

// XLSX builds a workbook with one row per document and one column per
// section. The Values sheet holds the extracted values, blank when not
// found; the Confidence sheet mirrors it with scores.
func XLSX(results []types.ExtractionResult, sections []string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ValuesSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(ConfidenceSheet); err != nil {
		return nil, err
	}

	headers := append([]string{"Document", "Status"}, sections...)
	for _, sheet := range []string{ValuesSheet, ConfidenceSheet} {
		for i, h := range headers {
			cell, _ := excelize.CoordinatesToCellName(i+1, 1)
			_ = f.SetCellValue(sheet, cell, h)
		}
	}

	for r, res := range results {
		row := r + 2
		write := func(sheet string, col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		status := res.Status
		if res.Error != "" {
			status += ": " + res.Error
		}
		for _, sheet := range []string{ValuesSheet, ConfidenceSheet} {
			write(sheet, 1, res.Document)
			write(sheet, 2, status)
		}
		for i, sec := range sections {
			v, ok := res.Sections[sec]
			if !ok || !v.Found {
				continue
			}
			write(ValuesSheet, i+3, v.Value)
			write(ConfidenceSheet, i+3, v.Confidence)
		}
	}

	last, _ := excelize.ColumnNumberToName(len(headers))
	for _, sheet := range []string{ValuesSheet, ConfidenceSheet} {
		_ = f.SetColWidth(sheet, "A", "A", 32)
		_ = f.SetColWidth(sheet, "B", "B", 14)
		if len(sections) > 0 {
			_ = f.SetColWidth(sheet, "C", last, 24)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile writes results to path, choosing the format from the extension:
// .xlsx produces a workbook, anything else JSON.
func WriteFile(path string, results []types.ExtractionResult, sections []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create export dir: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		data, err := XLSX(results, sections)
		if err != nil {
			return err
		}
		return os.WriteFile(path, data, 0o644)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteJSON(f, results); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
