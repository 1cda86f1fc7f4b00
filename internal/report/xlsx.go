// =============================================================================
// BI Recon Engine - XLSX Artifacts & Validation Workbook
// =============================================================================
//
// Period-expense, headcount, vendor and working-capital artifacts are XLSX,
// as is the discrepancy report produced by reconciliation: one workbook per
// run with one sheet per entity/flavor. Sheet names are trimmed to the
// 31-character Excel limit.
//
// =============================================================================

package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/mkfinops/bi-recon-engine/internal/reconcile"
	"github.com/mkfinops/bi-recon-engine/internal/sheet"
	"github.com/mkfinops/bi-recon-engine/pkg/utils"
)

// NamedTable is one sheet of an XLSX artifact.
type NamedTable struct {
	Name    string
	Headers []string
	Rows    [][]interface{}
}

// WriteWorkbook writes one or more sheets to an XLSX file, diverting to a
// " (n)" suffixed path on collision. Returns the path actually written.
func WriteWorkbook(path string, tables []NamedTable) (string, error) {
	if len(tables) == 0 {
		return "", fmt.Errorf("no sheets to write to %s", path)
	}
	path = utils.UniquePath(path)

	f := excelize.NewFile()
	defer f.Close()

	for i, table := range tables {
		name := sheetName(table.Name)
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), name); err != nil {
				return "", fmt.Errorf("rename first sheet: %w", err)
			}
		} else {
			if _, err := f.NewSheet(name); err != nil {
				return "", fmt.Errorf("add sheet %q: %w", name, err)
			}
		}
		if err := writeRows(f, name, table); err != nil {
			return "", err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save %s: %w", path, err)
	}
	return path, nil
}

// WriteTableXLSX writes a single Table to an XLSX file with one sheet.
func WriteTableXLSX(path, name string, t *sheet.Table) (string, error) {
	rows := make([][]interface{}, len(t.Rows))
	for i, r := range t.Rows {
		row := make([]interface{}, len(r))
		for j, v := range r {
			row[j] = cellValue(v)
		}
		rows[i] = row
	}
	return WriteWorkbook(path, []NamedTable{{Name: name, Headers: t.Headers, Rows: rows}})
}

func writeRows(f *excelize.File, name string, table NamedTable) error {
	header := make([]interface{}, len(table.Headers))
	for i, h := range table.Headers {
		header[i] = h
	}
	if err := f.SetSheetRow(name, "A1", &header); err != nil {
		return fmt.Errorf("write header of %q: %w", name, err)
	}
	for i, row := range table.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		r := row
		if err := f.SetSheetRow(name, cell, &r); err != nil {
			return fmt.Errorf("write row %d of %q: %w", i+2, name, err)
		}
	}
	return nil
}

// cellValue writes numerics as numbers so Excel can aggregate them.
func cellValue(s string) interface{} {
	if s == "" {
		return ""
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != '-' && r != '+' {
			return s
		}
	}
	return sheet.ParseNumber(s)
}

// sheetName trims a sheet name to Excel's 31-character limit.
func sheetName(name string) string {
	if len(name) > 31 {
		return name[:31]
	}
	if name == "" {
		return "Sheet1"
	}
	return name
}

// =============================================================================
// VALIDATION REPORT
// =============================================================================

// ValidationSheet shapes reconciliation rows into one report sheet. The
// key columns vary by flavor (DPC only, or the sales compound key);
// currentLabel/priorLabel carry the period-specific column suffixes.
func ValidationSheet(name string, keyHeaders []string, currentLabel, priorLabel string, rows []reconcile.Row) NamedTable {
	headers := append([]string(nil), keyHeaders...)
	headers = append(headers,
		"BI "+currentLabel, "BI "+priorLabel,
		"Hyperion "+currentLabel, "Hyperion "+priorLabel,
		"Difference "+currentLabel, "Difference "+priorLabel,
		"Status "+currentLabel, "Status "+priorLabel,
	)

	out := NamedTable{Name: name, Headers: headers}
	for _, row := range rows {
		cells := make([]interface{}, 0, len(headers))
		for i := range keyHeaders {
			key := ""
			if i < len(row.Key) {
				key = row.Key[i]
			}
			cells = append(cells, key)
		}
		cells = append(cells,
			row.Subject.Current, row.Subject.Prior,
			row.Truth.Current, row.Truth.Prior,
			row.Diff.Current, row.Diff.Prior,
			row.CurrentStatus, row.PriorStatus,
		)
		out.Rows = append(out.Rows, cells)
	}
	return out
}
