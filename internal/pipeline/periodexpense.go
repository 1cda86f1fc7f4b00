// =============================================================================
// BI Recon Engine - Period Expense Pipeline
// =============================================================================
//
// Input:  PEX_<UNIT>_<COMPNO>_<MM>_<YYYY>.xlsx on "Sheet1". The first row
//         carries the dynamic period captions; data starts on the third row
//         and the final row is a grand total that is dropped.
// Output: PEX_Data_Processed_<UNIT>_<COMPNO>_<MMYY>.xlsx, plus one headcount
//         extract per file.
//
// The header is rebuilt from a fixed prefix, the two main period captions
// from the raw first row, four aggregate names, and the trailing monthly
// captions. Every column whose caption names the current year converts with
// the current factor; prior-year captions convert with the prior factor.
// Cost elements are then joined against the cost-element workbook to assign
// an expense Group.
//
// =============================================================================

package pipeline

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mkfinops/bi-recon-engine/internal/normalize"
	"github.com/mkfinops/bi-recon-engine/internal/reconcile"
	"github.com/mkfinops/bi-recon-engine/internal/report"
	"github.com/mkfinops/bi-recon-engine/internal/sheet"
	"github.com/mkfinops/bi-recon-engine/internal/types"
	"github.com/mkfinops/bi-recon-engine/pkg/utils"
)

// Header layout of the raw period-expense export.
var pexStaticLead = []string{"Company Code", "Profit Center", "Cost Element", "", "Functional area"}
var pexAggregates = []string{"Actual L3M", "Prior Yr L3M", "Actual YTD", "Prior Yr YTD"}

const (
	pexMainCurrentCol = 5 // raw offset of the main current-period caption
	pexTrailStart     = 11
	pexDataStart      = 2
)

// PeriodExpense runs the period-expense pipeline.
type PeriodExpense struct {
	*Deps

	headcount *Headcount
}

// NewPeriodExpense builds the period-expense pipeline over shared run
// dependencies.
func NewPeriodExpense(deps *Deps) *PeriodExpense {
	return &PeriodExpense{Deps: deps, headcount: NewHeadcount(deps)}
}

// Run processes every PEX workbook in inputDir, producing the cleaned
// artifact and the matching headcount extract per file, plus one validation
// workbook.
func (p *PeriodExpense) Run(inputDir, outputDir string) ([]types.Result, error) {
	files, err := utils.DiscoverFiles(inputDir, "PEX_*.xlsx")
	if err != nil {
		return nil, err
	}
	p.Log.WithField("files", len(files)).Info("Period-expense pipeline starting")

	groups, err := p.loadCostElementGroups()
	if err != nil {
		return nil, err
	}

	var mu syncSheets
	results := runAll(files, p.Cfg.MaxConcurrency, func(path string) types.Result {
		r, sheets := p.processFile(path, outputDir, groups)
		mu.add(sheets)
		return r
	})
	for _, r := range results {
		if r.Error != nil && types.IsFatal(r.Error) {
			return results, r.Error
		}
	}

	if len(mu.sheets) > 0 {
		path, err := report.WriteWorkbook(filepath.Join(outputDir, "PEX_Hyperion_Validation.xlsx"), mu.sheets)
		if err != nil {
			p.Log.WithError(err).Error("Could not write period-expense validation workbook")
		} else {
			p.Log.WithField("report", path).Info("Period-expense validation workbook written")
		}
	}
	return results, nil
}

// loadCostElementGroups reads the cost-element workbook's Sheet4, columns
// B and C, into a cost element -> expense group map. The workbook is a
// required reference: failure to load it aborts the run.
func (p *PeriodExpense) loadCostElementGroups() (map[string]string, error) {
	rows, err := sheet.ReadSheet(p.Cfg.CostElementFile, "Sheet4")
	if err != nil {
		return nil, types.NewLoadError("cost-element workbook", err)
	}
	groups := make(map[string]string)
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		key := strings.TrimSpace(row[1])
		if key == "" {
			continue
		}
		if _, dup := groups[key]; !dup {
			groups[key] = strings.TrimSpace(row[2])
		}
	}
	if len(groups) == 0 {
		return nil, types.NewLoadErrorf("cost-element workbook", "%s: Sheet4 yielded no cost-element rows", p.Cfg.CostElementFile)
	}
	p.Log.WithField("cost_elements", len(groups)).Info("Cost-element groups loaded")
	return groups, nil
}

func (p *PeriodExpense) processFile(path, outputDir string, groups map[string]string) (types.Result, []report.NamedTable) {
	const name = "pex"
	base := filepath.Base(path)

	unit, compNo, period, ok := parsePEXName(base)
	if !ok {
		return skipped(path, name, "filename does not match PEX_<UNIT>_<COMPNO>_<MM>_<YYYY>.xlsx"), nil
	}

	pair, hasPair := p.Dir.CurrencyFor(compNo)
	factors, err := p.crossRatesOrIdentity(period, pair, hasPair, base)
	if err != nil {
		return failed(path, name, err), nil
	}

	rows, err := sheet.ReadSheet(path, "Sheet1")
	if err != nil {
		return failed(path, name, err), nil
	}
	if len(rows) <= pexDataStart {
		return skipped(path, name, "sheet has no data rows"), nil
	}

	t, mainCurrent, mainPrior, err := buildPEXTable(rows)
	if err != nil {
		return failed(path, name, err), nil
	}

	currentCols, priorCols := pexConversionColumns(t.Headers, period)
	if err := normalize.ApplyRatesColumns(t, currentCols, priorCols, factors); err != nil {
		return failed(path, name, err), nil
	}

	joinCostElementGroups(t, groups)

	outName := fmt.Sprintf("PEX_Data_Processed_%s_%s_%s.xlsx", unit, compNo, period.MMYY())
	written, err := report.WriteTableXLSX(filepath.Join(outputDir, outName), "Sheet1", t)
	if err != nil {
		return failed(path, name, err), nil
	}

	result := types.Result{
		InputFile:   path,
		Pipeline:    name,
		OutputFiles: []string{written},
		RowCount:    t.Len(),
		Success:     true,
	}

	var sheets []report.NamedTable
	if vs, ok := p.validate(t, compNo, mainCurrent, mainPrior, period); ok {
		sheets = append(sheets, vs)
	}

	hcPath, err := p.headcount.Extract(compNo, unit, period, outputDir)
	if err != nil {
		p.Log.WithError(err).WithField("file", base).Warn("Headcount extract failed")
	} else {
		result.OutputFiles = append(result.OutputFiles, hcPath)
	}

	return result, sheets
}

// parsePEXName splits PEX_<UNIT>_<COMPNO>_<MM>_<YYYY>.
func parsePEXName(base string) (unit, compNo string, period types.Period, ok bool) {
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	parts := strings.Split(stem, "_")
	if len(parts) != 5 || !strings.EqualFold(parts[0], "PEX") {
		return "", "", types.Period{}, false
	}
	month, err1 := strconv.Atoi(parts[3])
	year, err2 := strconv.Atoi(parts[4])
	if err1 != nil || err2 != nil || month < 1 || month > 12 {
		return "", "", types.Period{}, false
	}
	return parts[1], parts[2], types.Period{Month: month, Year: year}, true
}

// buildPEXTable rebuilds the header from the raw caption row, slices off
// the leading caption rows and the trailing grand-total row, and returns
// the main period caption pair.
func buildPEXTable(rows [][]string) (*sheet.Table, string, string, error) {
	caption := rows[0]
	if len(caption) < pexMainCurrentCol+2 {
		return nil, "", "", types.NewFormatErrorf("", "caption row carries %d columns, need at least %d", len(caption), pexMainCurrentCol+2)
	}
	mainCurrent := sheet.CollapseSpaces(caption[pexMainCurrentCol])
	mainPrior := sheet.CollapseSpaces(caption[pexMainCurrentCol+1])

	headers := append([]string(nil), pexStaticLead...)
	headers = append(headers, mainCurrent, mainPrior)
	headers = append(headers, pexAggregates...)
	for c := pexTrailStart; c < len(caption); c++ {
		headers = append(headers, sheet.CollapseSpaces(caption[c]))
	}

	data := rows[pexDataStart:]
	if len(data) > 0 {
		// The export appends a grand-total row.
		data = data[:len(data)-1]
	}
	t := sheet.NewTable(headers, data)
	return t, mainCurrent, mainPrior, nil
}

// pexConversionColumns splits the monetary columns by period: captions
// naming the current year convert with the current factor, captions naming
// the prior year with the prior factor.
func pexConversionColumns(headers []string, period types.Period) (current, prior []string) {
	current = []string{"Actual L3M", "Actual YTD"}
	prior = []string{"Prior Yr L3M", "Prior Yr YTD"}
	curYear := strconv.Itoa(period.Year)
	priorYear := strconv.Itoa(period.Year - 1)
	for i, h := range headers {
		if i < len(pexStaticLead) {
			continue
		}
		switch {
		case strings.Contains(h, curYear):
			current = append(current, h)
		case strings.Contains(h, priorYear):
			prior = append(prior, h)
		}
	}
	return current, prior
}

// joinCostElementGroups appends a Group column assigned from the
// cost-element map. Unknown cost elements keep an empty group. Exact
// duplicate rows introduced upstream are collapsed.
func joinCostElementGroups(t *sheet.Table, groups map[string]string) {
	ce, ok := t.Col("Cost Element")
	if !ok {
		return
	}
	t.Headers = append(t.Headers, "Group")
	seen := make(map[string]bool, len(t.Rows))
	out := t.Rows[:0]
	for _, row := range t.Rows {
		row = append(row, groups[strings.TrimSpace(row[ce])])
		key := strings.Join(row, "\x00")
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, row)
	}
	t.Rows = out
}

// validate reconciles the per-Group aggregates against the period-expense
// truth workbook. The truth's Total Period Expense line is compared against
// the table's grand totals.
func (p *PeriodExpense) validate(t *sheet.Table, compNo, mainCurrent, mainPrior string, period types.Period) (report.NamedTable, bool) {
	if p.Cfg.Truth.PeriodExpense == "" {
		return report.NamedTable{}, false
	}
	rows, err := truthRows(p.Cfg.Truth.PeriodExpense, period.Abbrev())
	if err != nil {
		p.Log.WithError(err).Warn("Could not read period-expense truth workbook, omitting validation")
		return report.NamedTable{}, false
	}
	truth, found := reconcile.PEXTruth(rows, compNo)
	if !found {
		p.Log.WithError(types.NewReconWarningf(compNo, "entity not found in period-expense truth sheet")).
			Warn("Omitting validation")
		return report.NamedTable{}, false
	}

	subject := make(map[string]reconcile.Values)
	var grand reconcile.Values
	for i := range t.Rows {
		group := t.Cell(i, "Group")
		v := subject[group]
		cur := t.FloatByName(i, mainCurrent)
		prior := t.FloatByName(i, mainPrior)
		v.Current += cur
		v.Prior += prior
		subject[group] = v
		grand.Current += cur
		grand.Prior += prior
	}
	subject["Total Period Expense"] = grand

	vr := reconcile.Compare(subject, truth, reconcile.Options{Tolerance: p.Cfg.Tolerance})
	return report.ValidationSheet(compNo, []string{"Group"}, mainCurrent, mainPrior, vr), true
}
