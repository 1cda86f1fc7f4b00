// =============================================================================
// BI Recon Engine - Tabular Data Model
// =============================================================================
//
// Table is the in-memory representation of one spreadsheet region after
// positional slicing. Before headers are assigned, columns are addressed by
// integer offset only; once PromoteHeaderRow or SetHeaders has run, all
// later code must address columns by name.
//
// The ratesApplied flag backs the at-most-once currency conversion contract:
// applying cross rates twice would corrupt monetary figures, so the second
// attempt is rejected.
//
// =============================================================================

package sheet

import (
	"fmt"
	"strconv"
	"strings"
)

// Table holds a header row and data rows. All cells are strings; monetary
// columns are coerced on demand with Float.
type Table struct {
	Headers []string
	Rows    [][]string

	ratesApplied bool
}

// NewTable builds a Table from pre-split headers and rows. Rows shorter than
// the header row are padded with empty cells.
func NewTable(headers []string, rows [][]string) *Table {
	t := &Table{Headers: headers}
	for _, r := range rows {
		t.AppendRow(r)
	}
	return t
}

// Width returns the number of columns.
func (t *Table) Width() int { return len(t.Headers) }

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.Rows) }

// Col returns the index of the named column.
func (t *Table) Col(name string) (int, bool) {
	for i, h := range t.Headers {
		if h == name {
			return i, true
		}
	}
	return -1, false
}

// HasCols reports whether every named column is present.
func (t *Table) HasCols(names ...string) bool {
	for _, n := range names {
		if _, ok := t.Col(n); !ok {
			return false
		}
	}
	return true
}

// Cell returns the cell at (row, named column), or "" when out of range.
func (t *Table) Cell(row int, name string) string {
	c, ok := t.Col(name)
	if !ok || row < 0 || row >= len(t.Rows) {
		return ""
	}
	return t.Rows[row][c]
}

// SetCell writes the cell at (row, named column). Unknown columns are a
// no-op so callers can apply optional rules without presence checks.
func (t *Table) SetCell(row int, name, value string) {
	c, ok := t.Col(name)
	if !ok || row < 0 || row >= len(t.Rows) {
		return
	}
	t.Rows[row][c] = value
}

// AppendRow adds one data row, padding or truncating to the table width.
func (t *Table) AppendRow(row []string) {
	w := t.Width()
	r := make([]string, w)
	copy(r, row)
	t.Rows = append(t.Rows, r)
}

// Float parses the cell at (row, col index) as a number. Non-numeric cells
// coerce to 0, matching how monetary columns are summed downstream.
func (t *Table) Float(row, col int) float64 {
	if row < 0 || row >= len(t.Rows) || col < 0 || col >= len(t.Rows[row]) {
		return 0
	}
	return ParseNumber(t.Rows[row][col])
}

// FloatByName is Float addressed by column name.
func (t *Table) FloatByName(row int, name string) float64 {
	c, ok := t.Col(name)
	if !ok {
		return 0
	}
	return t.Float(row, c)
}

// SumByKey groups rows by the value of keyCol and sums valueCol per group.
func (t *Table) SumByKey(keyCol, valueCol string) map[string]float64 {
	kc, kok := t.Col(keyCol)
	vc, vok := t.Col(valueCol)
	sums := make(map[string]float64)
	if !kok || !vok {
		return sums
	}
	for i := range t.Rows {
		sums[t.Rows[i][kc]] += t.Float(i, vc)
	}
	return sums
}

// SumColumn totals one column over every data row.
func (t *Table) SumColumn(name string) float64 {
	c, ok := t.Col(name)
	if !ok {
		return 0
	}
	var total float64
	for i := range t.Rows {
		total += t.Float(i, c)
	}
	return total
}

// Filter keeps only the rows for which keep returns true.
func (t *Table) Filter(keep func(row []string) bool) {
	out := t.Rows[:0]
	for _, r := range t.Rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	t.Rows = out
}

// SelectColumns returns a new Table holding only the given column offsets,
// in order. The rates flag carries over so conversion stays at-most-once
// across slicing.
func (t *Table) SelectColumns(cols []int) (*Table, error) {
	for _, c := range cols {
		if c < 0 || c >= t.Width() {
			return nil, fmt.Errorf("column offset %d out of range (width %d)", c, t.Width())
		}
	}
	out := &Table{ratesApplied: t.ratesApplied}
	for _, c := range cols {
		out.Headers = append(out.Headers, t.Headers[c])
	}
	for _, r := range t.Rows {
		row := make([]string, len(cols))
		for i, c := range cols {
			row[i] = r[c]
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// SetHeaders assigns business names to the columns. The width must match so
// a layout drift cannot silently shift column meanings.
func (t *Table) SetHeaders(names []string) error {
	if len(names) != t.Width() {
		return fmt.Errorf("header count %d does not match column count %d", len(names), t.Width())
	}
	t.Headers = append([]string(nil), names...)
	return nil
}

// PromoteHeaderRow turns the first data row into the header row, collapsing
// internal whitespace in each name.
func (t *Table) PromoteHeaderRow() error {
	if len(t.Rows) == 0 {
		return fmt.Errorf("cannot promote header row of an empty table")
	}
	headers := make([]string, t.Width())
	for i, v := range t.Rows[0] {
		headers[i] = CollapseSpaces(v)
	}
	t.Headers = headers
	t.Rows = t.Rows[1:]
	return nil
}

// RenameColumn changes one header in place. Missing columns are a no-op.
func (t *Table) RenameColumn(from, to string) {
	for i, h := range t.Headers {
		if h == from {
			t.Headers[i] = to
		}
	}
}

// DropColumn removes the column at the given offset.
func (t *Table) DropColumn(col int) error {
	if col < 0 || col >= t.Width() {
		return fmt.Errorf("column offset %d out of range (width %d)", col, t.Width())
	}
	t.Headers = append(t.Headers[:col], t.Headers[col+1:]...)
	for i, r := range t.Rows {
		t.Rows[i] = append(r[:col], r[col+1:]...)
	}
	return nil
}

// MarkRatesApplied records that currency factors have been applied. A second
// application is an error, never a silent double conversion.
func (t *Table) MarkRatesApplied() error {
	if t.ratesApplied {
		return fmt.Errorf("currency conversion already applied to this table")
	}
	t.ratesApplied = true
	return nil
}

// RatesApplied reports whether conversion has run.
func (t *Table) RatesApplied() bool { return t.ratesApplied }

// =============================================================================
// CELL HELPERS
// =============================================================================

// ParseNumber converts a cell to a float64, tolerating thousands separators
// and surrounding whitespace. Anything unparseable is 0.
func ParseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	s = strings.ReplaceAll(s, ",", "")
	// Accounting negatives: (123.45)
	if len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')' {
		s = "-" + s[1:len(s)-1]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// FormatNumber renders a float the way output artifacts expect: integers
// without a decimal point, everything else with full precision.
func FormatNumber(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// CollapseSpaces trims a string and collapses internal whitespace runs
// (including newlines) to single spaces.
func CollapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
