package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/neurobot/internal/models"
)

const exportSheet = "Knowledge"

// parseXLSX reads column A as the question and column B as the answer from every sheet.
// A first row whose A cell says "question" is a header and is skipped.
func parseXLSX(content []byte) ([]models.Entry, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	var out []models.Entry
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		for i, row := range rows {
			if len(row) < 2 {
				continue
			}
			if i == 0 && isHeader(row[0]) {
				continue
			}
			out = append(out, models.Entry{Question: row[0], Answer: row[1]})
		}
	}
	return out, nil
}

func isHeader(cell string) bool {
	c := strings.ToLower(strings.TrimSpace(cell))
	return strings.Contains(c, "question") || strings.Contains(c, "вопрос")
}

// ExportXLSX renders entries as a workbook with a Question/Answer header row.
func ExportXLSX(entries []models.Entry) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), exportSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(exportSheet, "A1", &[]any{"Question", "Answer"}); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for i, e := range entries {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(exportSheet, cell, &[]any{e.Question, e.Answer}); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	_ = f.SetColWidth(exportSheet, "A", "A", 50)
	_ = f.SetColWidth(exportSheet, "B", "B", 90)
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
