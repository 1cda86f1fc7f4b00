// =============================================================================
// BI Recon Engine - Positional Extraction
// =============================================================================
//
// The finance-department workbooks carry no stable schema: data is located
// by fixed row/column offsets, header rows sit at fixed indexes, and the
// truth (Hyperion) workbooks identify an entity by a header cell ending in
// "." + entity code. This file centralizes all offset arithmetic behind a
// LayoutSpec value object so the per-pipeline magic numbers live in one
// place and the business logic never touches raw offsets.
//
// OFFSET CONVENTIONS:
//   - All row and column offsets are 0-based.
//   - Rows read from excelize are rectangularized first: excelize trims
//     trailing empty cells, which would otherwise shift positional slices.
//
// =============================================================================

package sheet

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/mkfinops/bi-recon-engine/internal/types"
)

// =============================================================================
// LAYOUT SPECIFICATION
// =============================================================================

// LayoutSpec names the fixed offsets of one spreadsheet layout. Each
// pipeline declares its layouts as package-level values instead of inlining
// magic integers at call sites.
type LayoutSpec struct {
	// Name identifies the layout in error messages.
	Name string

	// Sheet is the sheet to read; empty means the workbook's first sheet.
	Sheet string

	// SentinelPhrase, when non-empty, marks an intentionally empty extract:
	// if the first cell of the sheet equals it case-insensitively, the
	// whole sheet is skipped with zero rows and no error.
	SentinelPhrase string

	// MinColumns is the narrowest sheet this layout can be applied to.
	// A narrower sheet is a FormatError, never a silent truncation.
	MinColumns int

	// HeaderRow is the row whose cells become column names; -1 when the
	// layout assigns names explicitly instead.
	HeaderRow int

	// DataStart is the first data row.
	DataStart int
}

// =============================================================================
// WORKBOOK READING
// =============================================================================

// ReadSheet opens a workbook and returns the rectangularized rows of the
// requested sheet (first sheet when name is empty).
func ReadSheet(path, name string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer f.Close()
	return SheetRows(f, name)
}

// SheetRows returns the rectangularized rows of one sheet of an open
// workbook. The sheet must exist; callers that allow fallbacks resolve the
// sheet name first.
func SheetRows(f *excelize.File, name string) ([][]string, error) {
	if name == "" {
		name = f.GetSheetName(0)
	}
	rows, err := f.GetRows(name)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", name, err)
	}
	return Rectangularize(rows), nil
}

// ResolveSheet returns name when the workbook has it, otherwise the first
// sheet. Used for rate workbooks where older files carry a single unnamed
// sheet instead of one sheet per month.
func ResolveSheet(f *excelize.File, name string) string {
	for _, s := range f.GetSheetList() {
		if s == name {
			return name
		}
	}
	return f.GetSheetName(0)
}

// HasSheet reports whether the workbook contains the named sheet.
func HasSheet(f *excelize.File, name string) bool {
	for _, s := range f.GetSheetList() {
		if s == name {
			return true
		}
	}
	return false
}

// Rectangularize pads every row to the width of the widest row. excelize
// trims trailing empty cells per row; positional slicing needs a rectangle.
func Rectangularize(rows [][]string) [][]string {
	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		row := make([]string, width)
		copy(row, r)
		out[i] = row
	}
	return out
}

// =============================================================================
// EXTRACTION
// =============================================================================

// Extract applies a LayoutSpec to raw sheet rows and returns the addressed
// region as a Table. A sentinel sheet yields an empty non-nil Table. A sheet
// narrower than the layout is a FormatError naming the shortfall.
func Extract(rows [][]string, spec LayoutSpec, file string) (*Table, error) {
	if IsSentinel(rows, spec.SentinelPhrase) {
		return &Table{}, nil
	}
	if err := CheckWidth(rows, spec.MinColumns, spec.Name, file); err != nil {
		return nil, err
	}
	var data [][]string
	if spec.DataStart < len(rows) {
		data = rows[spec.DataStart:]
	}
	t := FromRows(data)
	if spec.HeaderRow >= 0 {
		if spec.HeaderRow >= len(rows) {
			return nil, types.NewFormatErrorf(file, "%s layout: header row %d beyond sheet end (%d rows)",
				spec.Name, spec.HeaderRow, len(rows))
		}
		headers := make([]string, len(rows[spec.HeaderRow]))
		for i, v := range rows[spec.HeaderRow] {
			headers[i] = CollapseSpaces(v)
		}
		t.Headers = headers
	}
	return t, nil
}

// FromRows wraps raw rows in a Table with placeholder offset headers, for
// the positional stage before business names are assigned.
func FromRows(rows [][]string) *Table {
	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	headers := make([]string, width)
	for i := range headers {
		headers[i] = fmt.Sprintf("c%d", i)
	}
	return NewTable(headers, rows)
}

// IsSentinel reports whether the sheet's first cell equals the sentinel
// phrase, compared case-insensitively after trimming. Systems upstream emit
// a one-cell sheet reading "No applicable data found" instead of an empty
// file.
func IsSentinel(rows [][]string, phrase string) bool {
	if phrase == "" || len(rows) == 0 || len(rows[0]) == 0 {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(rows[0][0]), phrase)
}

// CheckWidth verifies the sheet is at least min columns wide.
func CheckWidth(rows [][]string, min int, layout, file string) error {
	if min <= 0 {
		return nil
	}
	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	if width < min {
		return types.NewFormatErrorf(file, "%s layout requires %d columns, sheet has %d (missing %d)",
			layout, min, width, min-width)
	}
	return nil
}

// ShiftUp moves the cells of columns [colStart, colEnd) up by one row,
// starting at fromRow. The vacated cells in the final row become empty.
// This undoes the stray sub-header row some export tools inject.
func ShiftUp(rows [][]string, colStart, colEnd, fromRow int) {
	for i := fromRow; i < len(rows); i++ {
		for c := colStart; c < colEnd && c < len(rows[i]); c++ {
			if i+1 < len(rows) && c < len(rows[i+1]) {
				rows[i][c] = rows[i+1][c]
			} else {
				rows[i][c] = ""
			}
		}
	}
}

// =============================================================================
// TRUTH WORKBOOK LOOKUP
// =============================================================================

// FindEntityColumn scans the fixed header row for the cell ending with
// "." + code, starting at minCol. It returns the matching column offset;
// the column immediately to its right is always the prior-period column.
// A miss returns ok=false: the caller reports "entity not found in this
// sheet" and omits that entity from the validation report.
func FindEntityColumn(rows [][]string, headerRow, minCol int, code string) (col int, ok bool) {
	if headerRow < 0 || headerRow >= len(rows) {
		return -1, false
	}
	suffix := "." + code
	for c := minCol; c < len(rows[headerRow]); c++ {
		if strings.HasSuffix(strings.TrimSpace(rows[headerRow][c]), suffix) {
			return c, true
		}
	}
	return -1, false
}
