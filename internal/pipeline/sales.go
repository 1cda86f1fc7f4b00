// =============================================================================
// BI Recon Engine - Sales Bookings Pipeline
// =============================================================================
//
// Input:  Sales_<UNIT>_<COMPNO>_<MM>_<YYYY>.xlsx, data on the "Raw" sheet
//         with no header row contract; the first row carries the raw
//         export captions and is dropped after slicing.
// Output: Sales_Data_Processed_<UNIT>_<COMPNO>_<MMYY>_<TAG>.csv per
//         transaction tag (3RD / IC), UTF-8 with BOM.
//
// The final slice keeps columns C-K plus M and O. Column M is the current
// month's sales, column O the prior-year month; both are converted with
// the entity's cross rates. Entities without a recognized type
// classification fall back to a contains-"3RD" filter and an untagged
// output name.
//
// =============================================================================

package pipeline

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/mkfinops/bi-recon-engine/internal/normalize"
	"github.com/mkfinops/bi-recon-engine/internal/reconcile"
	"github.com/mkfinops/bi-recon-engine/internal/report"
	"github.com/mkfinops/bi-recon-engine/internal/sheet"
	"github.com/mkfinops/bi-recon-engine/internal/types"
	"github.com/mkfinops/bi-recon-engine/pkg/utils"
)

// Fixed positional contract of the raw sales export.
const (
	salesTagCol      = 11 // column L: 3RD / IC transaction tag
	salesMinColumns  = 15 // needs column O (prior-year sales)
	salesHoldingCol  = 8
	salesDivisionCol = 4
)

// salesFinalColumns is the final slice: C-K, M, O.
var salesFinalColumns = []int{2, 3, 4, 5, 6, 7, 8, 9, 10, 12, 14}

// salesBaseHeaders are the business names of the nine leading columns; the
// two monetary columns get period-specific names per file.
var salesBaseHeaders = []string{
	"Product/Service", "P1-Division", "P2-DPC", "P3-SBU", "P4-SPG",
	"Customer Group", "Holding", "Distribution Channel", "Sales doc. type",
}

var salesNameRe = regexp.MustCompile(`(?i)^Sales_([A-Z0-9]+)_(\d+)_(\d{2})_(\d{4})\.xlsx$`)

// Sales runs the sales bookings pipeline.
type Sales struct {
	*Deps
}

// NewSales builds the sales pipeline over shared run dependencies.
func NewSales(deps *Deps) *Sales { return &Sales{Deps: deps} }

// Run processes every workbook in inputDir and writes artifacts plus one
// validation workbook to outputDir.
func (p *Sales) Run(inputDir, outputDir string) ([]types.Result, error) {
	files, err := utils.DiscoverFiles(inputDir, "*.xlsx")
	if err != nil {
		return nil, err
	}
	p.Log.WithField("files", len(files)).Info("Sales pipeline starting")

	var mu syncSheets
	results := runAll(files, p.Cfg.MaxConcurrency, func(path string) types.Result {
		r, sheets := p.processFile(path, outputDir)
		mu.add(sheets)
		return r
	})
	for _, r := range results {
		if r.Error != nil && types.IsFatal(r.Error) {
			return results, r.Error
		}
	}

	if len(mu.sheets) > 0 {
		path, err := report.WriteWorkbook(filepath.Join(outputDir, "Sales_Hyperion_Validation.xlsx"), mu.sheets)
		if err != nil {
			p.Log.WithError(err).Error("Could not write sales validation workbook")
		} else {
			p.Log.WithField("report", path).Info("Sales validation workbook written")
		}
	}
	return results, nil
}

func (p *Sales) processFile(path, outputDir string) (types.Result, []report.NamedTable) {
	const name = "sales"
	base := filepath.Base(path)

	m := salesNameRe.FindStringSubmatch(base)
	if m == nil {
		return skipped(path, name, "filename does not match Sales_<UNIT>_<COMPNO>_<MM>_<YYYY>.xlsx"), nil
	}
	unit := strings.ToUpper(m[1])
	compNo := m[2]
	month, _ := strconv.Atoi(m[3])
	year, _ := strconv.Atoi(m[4])
	period := types.Period{Month: month, Year: year}

	rows, err := sheet.ReadSheet(path, "Raw")
	if err != nil {
		return failed(path, name, err), nil
	}
	if len(rows) == 0 {
		return skipped(path, name, "Raw sheet is empty"), nil
	}
	if err := sheet.CheckWidth(rows, salesMinColumns, "sales", base); err != nil {
		return skipped(path, name, err.Error()), nil
	}

	cleanSalesRows(rows)

	pair, hasPair := p.Dir.CurrencyFor(compNo)
	factors, err := p.crossRatesOrIdentity(period, pair, hasPair, base)
	if err != nil {
		return failed(path, name, err), nil
	}

	// Route by type classification: recognized entities are segregated by
	// exact tag, everything else falls back to a contains-3RD filter.
	typeClass, classified := p.Dir.TypeOf(compNo)
	var tags []string
	if classified {
		tags, err = normalize.TagsForType(typeClass)
		if err != nil {
			return failed(path, name, err), nil
		}
	}

	result := types.Result{InputFile: path, Pipeline: name, Success: true}
	var sheets []report.NamedTable

	write := func(data [][]string, tag string) error {
		if len(data) == 0 {
			p.Log.WithFields(map[string]interface{}{"file": base, "tag": tag}).Info("No rows for tag")
			return nil
		}
		t, err := buildSalesTable(data, period)
		if err != nil {
			return err
		}
		if err := normalize.ApplyRates(t, salesCurrentHeader(period), salesPriorHeader(period), factors); err != nil {
			return err
		}

		outName := fmt.Sprintf("Sales_Data_Processed_%s_%s_%s.csv", unit, compNo, period.MMYY())
		if tag != "" {
			outName = fmt.Sprintf("Sales_Data_Processed_%s_%s_%s_%s.csv", unit, compNo, period.MMYY(), tag)
		}
		written, err := report.WriteCSV(filepath.Join(outputDir, outName), t)
		if err != nil {
			return err
		}
		result.OutputFiles = append(result.OutputFiles, written)
		result.RowCount += t.Len()

		if tag != "" {
			if vs, ok := p.validate(t, compNo, tag, period); ok {
				sheets = append(sheets, vs)
			}
		}
		return nil
	}

	if classified {
		for _, tag := range tags {
			if err := write(filterRowsExact(rows[1:], salesTagCol, tag), tag); err != nil {
				return failed(path, name, err), nil
			}
		}
	} else {
		p.Log.WithField("file", base).Info("Entity not classified MO/PO/MOPO, using third-party fallback")
		if err := write(filterRowsContains(rows[1:], salesTagCol, "3RD"), ""); err != nil {
			return failed(path, name, err), nil
		}
	}

	if len(result.OutputFiles) == 0 {
		return skipped(path, name, "no rows matched any transaction tag"), nil
	}
	return result, sheets
}

// validate reconciles one written artifact against the matching sales
// truth workbook and returns the report sheet.
func (p *Sales) validate(t *sheet.Table, compNo, tag string, period types.Period) (report.NamedTable, bool) {
	truthPath := p.Cfg.Truth.SalesThirdParty
	if tag == "IC" {
		truthPath = p.Cfg.Truth.SalesIntercompany
	}
	if truthPath == "" {
		return report.NamedTable{}, false
	}

	rows, err := truthRows(truthPath, period.Abbrev())
	if err != nil {
		p.Log.WithError(err).Warn("Could not read sales truth workbook, omitting validation")
		return report.NamedTable{}, false
	}
	truth, found := reconcile.SalesTruth(rows, compNo)
	if !found {
		p.Log.WithError(types.NewReconWarningf(compNo, "entity not found in sales truth sheet")).
			Warn("Omitting validation")
		return report.NamedTable{}, false
	}

	subject := make(map[reconcile.SalesKey]reconcile.Values)
	cur := salesCurrentHeader(period)
	prior := salesPriorHeader(period)
	for i := range t.Rows {
		key := reconcile.SalesKey{
			ProductService: t.Cell(i, "Product/Service"),
			Division:       t.Cell(i, "P1-Division"),
			DPC:            t.Cell(i, "P2-DPC"),
		}
		v := subject[key]
		v.Current += t.FloatByName(i, cur)
		v.Prior += t.FloatByName(i, prior)
		subject[key] = v
	}

	vr := reconcile.CompareCompound(subject, truth, reconcile.Options{Tolerance: p.Cfg.Tolerance})
	name := fmt.Sprintf("%s_%s", compNo, tag)
	return report.ValidationSheet(name, []string{"Product/Service", "Division", "DPC"},
		strconv.Itoa(period.Year), strconv.Itoa(period.Year-1), vr), true
}

// =============================================================================
// POSITIONAL CLEANING
// =============================================================================

// cleanSalesRows applies the raw-sheet hygiene: newline removal everywhere,
// the holding sentinel in column I, the division rename in column E, and
// CSV-safe punctuation on data rows only.
func cleanSalesRows(rows [][]string) {
	for i, row := range rows {
		for c, v := range row {
			row[c] = strings.ReplaceAll(v, "\n", " ")
		}
		if salesHoldingCol < len(row) {
			row[salesHoldingCol] = strings.ReplaceAll(row[salesHoldingCol], "#", normalize.HoldingPlaceholder)
		}
		if salesDivisionCol < len(row) && strings.TrimSpace(row[salesDivisionCol]) == "Std Industrial" {
			row[salesDivisionCol] = "Standard Industrial"
		}
		if i == 0 {
			continue
		}
		for c, v := range row {
			v = strings.ReplaceAll(v, ",", "_")
			row[c] = strings.ReplaceAll(v, "/", "_")
		}
	}
}

// buildSalesTable slices the final columns out of the tagged rows and
// assigns the business headers.
func buildSalesTable(data [][]string, period types.Period) (*sheet.Table, error) {
	headers := append(append([]string(nil), salesBaseHeaders...),
		salesCurrentHeader(period), salesPriorHeader(period))

	t := sheet.NewTable(headers, nil)
	for _, row := range data {
		out := make([]string, len(salesFinalColumns))
		for i, c := range salesFinalColumns {
			if c < len(row) {
				out[i] = row[c]
			}
		}
		t.AppendRow(out)
	}
	return t, nil
}

func salesCurrentHeader(p types.Period) string {
	return fmt.Sprintf("Sales %s %d", strings.ToUpper(p.Abbrev()), p.Year)
}

func salesPriorHeader(p types.Period) string {
	return fmt.Sprintf("PY Sales %s %d", strings.ToUpper(p.Abbrev()), p.Year-1)
}

// filterRowsExact keeps rows whose tag column exactly equals tag.
func filterRowsExact(rows [][]string, col int, tag string) [][]string {
	var out [][]string
	for _, row := range rows {
		if col < len(row) && strings.TrimSpace(row[col]) == tag {
			out = append(out, row)
		}
	}
	return out
}

// filterRowsContains keeps rows whose tag column contains substr.
func filterRowsContains(rows [][]string, col int, substr string) [][]string {
	var out [][]string
	for _, row := range rows {
		if col < len(row) && strings.Contains(row[col], substr) {
			out = append(out, row)
		}
	}
	return out
}
