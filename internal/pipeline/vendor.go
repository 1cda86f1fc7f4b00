// =============================================================================
// BI Recon Engine - Vendor Analysis Pipeline
// =============================================================================
//
// Input:  paired KSB1 line-item exports, one per year, named
//         <...>_<UNIT>_<ENTITY>_<...>_<MM>_<YYYY>.xlsm. Files are grouped
//         by (unit, entity); a group missing either year's file is skipped.
// Output: <UNIT>_<ENTITY>_vendor_analysis_combined.xlsx with one
//         Combined_Vendor_Data sheet.
//
// Line items are windowed on the To Period column: month-over-month keeps
// the analysis month only, quarter-to-date keeps the month and the two
// before it, wrapping into the prior calendar year when the quarter spans
// January. Only vendor items (offsetting account type K) survive. Each
// year's items are summed per (cost element, vendor), converted with that
// year's factor, and the two years are outer-joined with missing sides
// zero-filled.
//
// =============================================================================

package pipeline

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mkfinops/bi-recon-engine/internal/report"
	"github.com/mkfinops/bi-recon-engine/internal/sheet"
	"github.com/mkfinops/bi-recon-engine/internal/types"
	"github.com/mkfinops/bi-recon-engine/pkg/utils"
)

// Analysis windows.
const (
	AnalysisMonthOverMonth = "mom"
	AnalysisQuarterToDate  = "qtd"
)

// Column names of the KSB1 export.
const (
	vendorColCostElement = "Cost Element"
	vendorColVendorName  = "Name of offsetting account"
	vendorColValue       = "Value in Obj. Crcy"
	vendorColAccountType = "Offsetting account type"
	vendorColToPeriod    = "To Period"
)

var vendorNameRe = regexp.MustCompile(`(?i)_([A-Z]{2}\d{2})_(\d+)_.*_(\d{4})\.xls[xm]$`)
var vendorMonthRe = regexp.MustCompile(`(?i)_(\d{1,2})_\d{4}\.xls[xm]$`)

// vendorKey aggregates line items per cost element and vendor.
type vendorKey struct {
	CostElement string
	Vendor      string
}

// Vendor runs the vendor-analysis pipeline.
type Vendor struct {
	*Deps

	// Analysis selects the To Period window, mom or qtd.
	Analysis string
}

// NewVendor builds the vendor pipeline over shared run dependencies.
func NewVendor(deps *Deps, analysis string) *Vendor {
	if analysis != AnalysisQuarterToDate {
		analysis = AnalysisMonthOverMonth
	}
	return &Vendor{Deps: deps, Analysis: analysis}
}

// Run pairs the files of inputDir by (unit, entity) for period.Year and the
// prior year and writes one combined workbook per complete pair.
func (p *Vendor) Run(inputDir, outputDir string, period types.Period) ([]types.Result, error) {
	files, err := utils.DiscoverFiles(inputDir, "*.xls*")
	if err != nil {
		return nil, err
	}
	p.Log.WithFields(map[string]interface{}{
		"files":    len(files),
		"analysis": p.Analysis,
	}).Info("Vendor-analysis pipeline starting")

	type pairFiles struct {
		unit, entity   string
		current, prior string
	}
	pairs := make(map[string]*pairFiles)
	var unmatched []types.Result
	for _, path := range files {
		m := vendorNameRe.FindStringSubmatch(filepath.Base(path))
		if m == nil {
			unmatched = append(unmatched, skipped(path, "vendor", "filename does not match <...>_<UNIT>_<ENTITY>_<...>_<YYYY>.xlsm"))
			continue
		}
		unit, entity := strings.ToUpper(m[1]), m[2]
		year, _ := strconv.Atoi(m[3])
		key := unit + "_" + entity
		if pairs[key] == nil {
			pairs[key] = &pairFiles{unit: unit, entity: entity}
		}
		switch year {
		case period.Year:
			pairs[key].current = path
		case period.Year - 1:
			pairs[key].prior = path
		default:
			unmatched = append(unmatched, skipped(path, "vendor",
				fmt.Sprintf("file year %d is neither %d nor %d", year, period.Year, period.Year-1)))
		}
	}

	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	results := append([]types.Result(nil), unmatched...)
	for _, key := range keys {
		pf := pairs[key]
		if pf.current == "" || pf.prior == "" {
			missing := pf.current
			if missing == "" {
				missing = pf.prior
			}
			results = append(results, skipped(missing, "vendor",
				fmt.Sprintf("group %s is missing its %d or %d file", key, period.Year, period.Year-1)))
			continue
		}
		r := p.processPair(pf.unit, pf.entity, pf.current, pf.prior, outputDir, period)
		results = append(results, r)
		if r.Error != nil && types.IsFatal(r.Error) {
			return results, r.Error
		}
	}
	return results, nil
}

func (p *Vendor) processPair(unit, entity, currentPath, priorPath, outputDir string, period types.Period) types.Result {
	const name = "vendor"

	months := p.windowMonths(currentPath, period)

	current, err := readVendorItems(currentPath, months)
	if err != nil {
		return failed(currentPath, name, err)
	}
	prior, err := readVendorItems(priorPath, months)
	if err != nil {
		return failed(priorPath, name, err)
	}

	pair, hasPair := p.Dir.CurrencyFor(entity)
	factors, err := p.crossRatesOrIdentity(period, pair, hasPair, filepath.Base(currentPath))
	if err != nil {
		return failed(currentPath, name, err)
	}
	for k, v := range current {
		current[k] = v * factors.Current
	}
	for k, v := range prior {
		prior[k] = v * factors.Prior
	}

	t := combineVendorYears(prior, current, period)
	outName := fmt.Sprintf("%s_%s_vendor_analysis_combined.xlsx", unit, entity)
	written, err := report.WriteTableXLSX(filepath.Join(outputDir, outName), "Combined_Vendor_Data", t)
	if err != nil {
		return failed(currentPath, name, err)
	}
	return types.Result{
		InputFile:   currentPath,
		Pipeline:    name,
		OutputFiles: []string{written},
		RowCount:    t.Len(),
		Success:     true,
	}
}

// windowMonths derives the To Period window from the current-year filename.
// A filename without a parsable month disables the window with a warning.
func (p *Vendor) windowMonths(currentPath string, period types.Period) map[int]bool {
	m := vendorMonthRe.FindStringSubmatch(filepath.Base(currentPath))
	if m == nil {
		p.Log.WithField("file", filepath.Base(currentPath)).
			Warn("Could not parse analysis month from filename, keeping all periods")
		return nil
	}
	month, err := strconv.Atoi(m[1])
	if err != nil || month < 1 || month > 12 {
		return nil
	}

	months := map[int]bool{month: true}
	if p.Analysis == AnalysisQuarterToDate {
		for i := 1; i <= 2; i++ {
			prev := month - i
			if prev <= 0 {
				prev += 12
			}
			months[prev] = true
		}
	}
	return months
}

// readVendorItems reads a KSB1 export and reduces it to per-(cost element,
// vendor) sums of the vendor line items inside the month window. A nil
// window keeps every period.
func readVendorItems(path string, months map[int]bool) (map[vendorKey]float64, error) {
	rows, err := sheet.ReadSheet(path, "KSB1")
	if err != nil {
		return nil, err
	}
	t := sheet.FromRows(rows)
	if err := t.PromoteHeaderRow(); err != nil {
		return nil, err
	}
	if !t.HasCols(vendorColCostElement, vendorColVendorName, vendorColValue, vendorColAccountType) {
		return nil, types.NewFormatErrorf(filepath.Base(path), "KSB1 sheet is missing required columns")
	}

	ce, _ := t.Col(vendorColCostElement)
	vn, _ := t.Col(vendorColVendorName)
	at, _ := t.Col(vendorColAccountType)
	tp, hasPeriod := t.Col(vendorColToPeriod)
	if months != nil && !hasPeriod {
		return nil, types.NewFormatErrorf(filepath.Base(path), "KSB1 sheet has no %s column, cannot apply the month window", vendorColToPeriod)
	}

	out := make(map[vendorKey]float64)
	for i, row := range t.Rows {
		if months != nil && !months[int(t.Float(i, tp))] {
			continue
		}
		if strings.TrimSpace(row[at]) != "K" {
			continue
		}
		key := vendorKey{
			CostElement: strings.TrimSpace(row[ce]),
			Vendor:      strings.TrimSpace(row[vn]),
		}
		if key.CostElement == "" && key.Vendor == "" {
			continue
		}
		out[key] += t.FloatByName(i, vendorColValue)
	}
	return out, nil
}

// combineVendorYears outer-joins the two yearly aggregations, zero-filling
// the missing side, sorted by cost element then vendor.
func combineVendorYears(prior, current map[vendorKey]float64, period types.Period) *sheet.Table {
	seen := make(map[vendorKey]bool, len(prior)+len(current))
	keys := make([]vendorKey, 0, len(prior)+len(current))
	for k := range prior {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for k := range current {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CostElement != keys[j].CostElement {
			return keys[i].CostElement < keys[j].CostElement
		}
		return keys[i].Vendor < keys[j].Vendor
	})

	t := sheet.NewTable([]string{
		vendorColCostElement,
		vendorColVendorName,
		fmt.Sprintf("%s %d", vendorColValue, period.Year-1),
		fmt.Sprintf("%s %d", vendorColValue, period.Year),
	}, nil)
	for _, k := range keys {
		t.AppendRow([]string{
			k.CostElement,
			k.Vendor,
			sheet.FormatNumber(prior[k]),
			sheet.FormatNumber(current[k]),
		})
	}
	return t
}
