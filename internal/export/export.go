// Package export converts a day's ledger into an XLSX workbook and reads
// roster workbooks used to seed the master table.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/rollcall-dev/rollcall/internal/ledger"
	"github.com/rollcall-dev/rollcall/internal/schema"
)

// SummarySheet is the name of the per-day totals sheet.
const SummarySheet = "Summary"

// Build renders a workbook with one sheet holding the ledger rows (named
// after the day, e.g. 2026-03-07) and a summary sheet. The caller must
// Close the returned file.
func Build(l *ledger.Ledger) (*excelize.File, error) {
	f := excelize.NewFile()
	name := l.Day().Format(schema.FileDateLayout)
	if err := f.SetSheetName("Sheet1", name); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	if err := writeRows(f, name, l.Rows()); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := writeSummary(f, l.Stats()); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

func writeRows(f *excelize.File, sheet string, rows [][]string) error {
	for r, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, r+1)
		if err != nil {
			return err
		}
		for len(row) > 0 && row[len(row)-1] == "" {
			row = row[:len(row)-1]
		}
		values := make([]interface{}, len(row))
		for i, v := range row {
			values[i] = v
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", r+1, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func writeSummary(f *excelize.File, st ledger.Stats) error {
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("failed to add summary sheet: %w", err)
	}
	rows := [][]interface{}{
		{"Day", st.Day},
		{"Identifiers", st.Records},
		{"Events", st.Events},
		{"Synced to daily", st.SyncedDaily},
		{"Synced to master", st.SyncedMaster},
		{"Unsynced", st.Unsynced},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(SummarySheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
	}
	return nil
}

// Write streams the workbook for l to w.
func Write(w io.Writer, l *ledger.Ledger) error {
	f, err := Build(l)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// WriteFile saves the workbook for l to path.
func WriteFile(path string, l *ledger.Ledger) error {
	f, err := Build(l)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

// ReadRoster reads identifiers from the first sheet of a workbook (or the
// named sheet). Rows keep their cells; the first row must contain an ID
// header, and rows with a blank ID are dropped.
func ReadRoster(r io.Reader, sheet string) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q is empty", sheet)
	}

	idCol := -1
	for i, h := range rows[0] {
		if strings.EqualFold(strings.TrimSpace(h), schema.ColumnID) {
			idCol = i
			break
		}
	}
	if idCol < 0 {
		return nil, fmt.Errorf("sheet %q has no %s header", sheet, schema.ColumnID)
	}

	header := append([]string(nil), rows[0]...)
	header[idCol] = schema.ColumnID
	out := [][]string{header}
	for _, row := range rows[1:] {
		if idCol >= len(row) {
			continue
		}
		id, ok := schema.NormalizeID(row[idCol])
		if !ok {
			continue
		}
		row = append([]string(nil), row...)
		row[idCol] = id
		out = append(out, row)
	}
	return out, nil
}
