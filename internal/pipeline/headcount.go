// =============================================================================
// BI Recon Engine - Headcount Extraction
// =============================================================================
//
// The headcount database workbook carries one "Actual <Mon>" sheet per
// month. Entity columns are identified on the eleventh row by a caption of
// the form "<prefix>.<oe code>"; the column to its right is the prior-year
// figure. The twelfth row locates the Custom1 account-name column, and data
// starts on the thirteenth row.
//
// One extract is produced per period-expense file, keyed by the same
// company number, so the two artifacts always land together.
//
// =============================================================================

package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mkfinops/bi-recon-engine/internal/directory"
	"github.com/mkfinops/bi-recon-engine/internal/report"
	"github.com/mkfinops/bi-recon-engine/internal/sheet"
	"github.com/mkfinops/bi-recon-engine/internal/types"
)

// Fixed offsets of the headcount workbook layout.
const (
	hcEntityRow      = 10
	hcCaptionRow     = 11
	hcDataStart      = 12
	hcFunctionalCol  = 3
	hcCustom1Caption = "Custom1"
)

// Headcount extracts per-entity headcount slices from the headcount
// database workbook.
type Headcount struct {
	*Deps
}

// NewHeadcount builds the extractor over shared run dependencies.
func NewHeadcount(deps *Deps) *Headcount { return &Headcount{Deps: deps} }

// Extract writes the headcount slice for one entity and period. The entity
// is located by its order-entry code, mapped from the company number
// through the directory.
func (h *Headcount) Extract(compNo, unit string, period types.Period, outputDir string) (string, error) {
	oeCode, ok := h.Dir.Resolve(compNo, directory.HopOECode)
	if !ok {
		return "", fmt.Errorf("company number %q has no order-entry mapping in the directory", compNo)
	}

	sheetName := "Actual " + period.Abbrev()
	rows, err := sheet.ReadSheet(h.Cfg.HeadcountFile, sheetName)
	if err != nil {
		return "", fmt.Errorf("read headcount workbook: %w", err)
	}
	if len(rows) <= hcDataStart {
		return "", fmt.Errorf("headcount sheet %q has no data rows", sheetName)
	}

	pcCol, ok := findHeadcountColumn(rows[hcEntityRow], oeCode)
	if !ok {
		return "", fmt.Errorf("entity %q (company number %q) not found on sheet %q", oeCode, compNo, sheetName)
	}
	nameCol, ok := findExactColumn(rows[hcCaptionRow], hcCustom1Caption)
	if !ok {
		return "", fmt.Errorf("no %s column on sheet %q", hcCustom1Caption, sheetName)
	}

	yy := period.Year % 100
	t := sheet.NewTable([]string{
		"Account Name",
		"Functional Area",
		fmt.Sprintf("%02d-%s", yy, period.Abbrev()),
		fmt.Sprintf("%02d-%s", yy-1, period.Abbrev()),
	}, nil)
	for _, row := range rows[hcDataStart:] {
		t.AppendRow([]string{
			cellAt(row, nameCol),
			cellAt(row, hcFunctionalCol),
			cellAt(row, pcCol),
			cellAt(row, pcCol+1),
		})
	}

	outName := fmt.Sprintf("%s_%s_Headcount_Processed_%s.xlsx", unit, period.MMYY(), compNo)
	written, err := report.WriteTableXLSX(filepath.Join(outputDir, outName), "Sheet1", t)
	if err != nil {
		return "", err
	}
	h.Log.WithFields(map[string]interface{}{
		"entity": oeCode,
		"rows":   t.Len(),
		"output": filepath.Base(written),
	}).Info("Headcount extract written")
	return written, nil
}

// findHeadcountColumn matches an entity caption of the form
// "<prefix>.<code>", comparing the segment after the first dot.
func findHeadcountColumn(row []string, code string) (int, bool) {
	for c, v := range row {
		_, after, found := strings.Cut(strings.TrimSpace(v), ".")
		if found && after == code {
			return c, true
		}
	}
	return -1, false
}

func findExactColumn(row []string, caption string) (int, bool) {
	for c, v := range row {
		if strings.TrimSpace(v) == caption {
			return c, true
		}
	}
	return -1, false
}

func cellAt(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}
