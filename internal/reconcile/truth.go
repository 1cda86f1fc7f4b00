// =============================================================================
// BI Recon Engine - Truth Workbook Extraction
// =============================================================================
//
// The Hyperion workbooks carry one sheet per month. An entity's columns are
// found by scanning a fixed header row for a cell ending in "." + entity
// code; the next column to the right is always the prior-period column.
// Values in these workbooks are stored in thousands; scaling happens in the
// comparison, not here, so adjustment synthesis and reporting share one
// scaled path.
//
// Three layouts exist:
//   - Sales:          header row 7, data from row 12, compound key
//                     (Product/Service col B, Division col C, DPC col D).
//   - Order entry:    header row 7 scanned from col E, data from row 12,
//                     DPC key in col B, final data row = SERVICE total.
//   - Period expense: header row 11, data from row 13, Group key in col D.
//
// =============================================================================

package reconcile

import (
	"github.com/mkfinops/bi-recon-engine/internal/sheet"
)

// Values pairs a current-period figure with its prior-period figure.
type Values struct {
	Current float64
	Prior   float64
}

// Add accumulates another pair.
func (v Values) Add(o Values) Values {
	return Values{Current: v.Current + o.Current, Prior: v.Prior + o.Prior}
}

// SalesKey is the compound aggregation key of the sales reconciliation.
type SalesKey struct {
	ProductService string
	Division       string
	DPC            string
}

// Truth-layout offsets.
const (
	salesTruthHeaderRow = 6
	salesTruthDataStart = 11

	oeTruthHeaderRow = 6
	oeTruthDataStart = 11
	oeTruthMinCol    = 4
	oeTruthMinRows   = 27

	pexTruthHeaderRow = 10
	pexTruthDataStart = 12
)

// SalesTruth reduces a sales truth sheet to a compound-key map for one
// entity. ok is false when the entity's column is absent, which the caller
// reports as a reconciliation warning, not an error.
func SalesTruth(rows [][]string, entityCode string) (map[SalesKey]Values, bool) {
	rows = sheet.Rectangularize(rows)
	col, ok := sheet.FindEntityColumn(rows, salesTruthHeaderRow, 0, entityCode)
	if !ok {
		return nil, false
	}
	out := make(map[SalesKey]Values)
	for i := salesTruthDataStart; i < len(rows); i++ {
		key := SalesKey{
			ProductService: cell(rows[i], 1),
			Division:       cell(rows[i], 2),
			DPC:            cell(rows[i], 3),
		}
		out[key] = out[key].Add(Values{
			Current: cellNum(rows[i], col),
			Prior:   cellNum(rows[i], col+1),
		})
	}
	return out, true
}

// OETruth reduces an order-entry truth sheet to a per-DPC map plus the
// final data row, which is the SERVICE bucket not broken out by key. The
// sheet must carry at least 27 rows to contain the layout at all.
func OETruth(rows [][]string, entityCode string) (byDPC map[string]Values, total Values, ok bool) {
	rows = sheet.Rectangularize(rows)
	if len(rows) < oeTruthMinRows {
		return nil, Values{}, false
	}
	col, found := sheet.FindEntityColumn(rows, oeTruthHeaderRow, oeTruthMinCol, entityCode)
	if !found {
		return nil, Values{}, false
	}
	byDPC = make(map[string]Values)
	last := len(rows) - 1
	for i := oeTruthDataStart; i < last; i++ {
		dpc := cell(rows[i], 1)
		if dpc == "" {
			continue
		}
		byDPC[dpc] = byDPC[dpc].Add(Values{
			Current: cellNum(rows[i], col),
			Prior:   cellNum(rows[i], col+1),
		})
	}
	total = Values{Current: cellNum(rows[last], col), Prior: cellNum(rows[last], col+1)}
	return byDPC, total, true
}

// PEXTruth reduces a period-expense truth sheet to a per-Group map for one
// entity.
func PEXTruth(rows [][]string, entityCode string) (map[string]Values, bool) {
	rows = sheet.Rectangularize(rows)
	col, ok := sheet.FindEntityColumn(rows, pexTruthHeaderRow, 0, entityCode)
	if !ok {
		return nil, false
	}
	out := make(map[string]Values)
	for i := pexTruthDataStart; i < len(rows); i++ {
		group := cell(rows[i], 3)
		if group == "" {
			continue
		}
		out[group] = out[group].Add(Values{
			Current: cellNum(rows[i], col),
			Prior:   cellNum(rows[i], col+1),
		})
	}
	return out, true
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return sheet.CollapseSpaces(row[col])
}

func cellNum(row []string, col int) float64 {
	if col < 0 || col >= len(row) {
		return 0
	}
	return sheet.ParseNumber(row[col])
}
