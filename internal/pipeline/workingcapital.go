// =============================================================================
// BI Recon Engine - Working Capital Pipeline
// =============================================================================
//
// Two metrics over a fixed set of uploaded workbooks:
//
//   Overhead: five KE30 extracts plus the balance workbook. Each KE30 value
//   is located by its caption in column A and read from column M. YTD is
//   rebuilt as month CY + YTD CY - month PY per caption; the inventory line
//   comes from the balance sheet's trailing-twelve-month column sums.
//
//   DSO: trade receivables (accounts 110*) and customer prepayments
//   (accounts 360*) averaged over the last three month columns of the
//   balance sheet, against third-party sales from the KE30 month extracts.
//   The DSO arithmetic itself is written as Excel formulas so the finance
//   team can plug the VAT rate into the summary and watch the figure
//   recompute.
//
// The balance workbook stores values in thousands; receivables scale x1000
// and prepayments x-1000 on the way out.
//
// =============================================================================

package pipeline

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/mkfinops/bi-recon-engine/internal/report"
	"github.com/mkfinops/bi-recon-engine/internal/sheet"
	"github.com/mkfinops/bi-recon-engine/internal/types"
	"github.com/mkfinops/bi-recon-engine/pkg/utils"
)

// Working-capital metrics.
const (
	MetricOverhead = "overhead"
	MetricDSO      = "dso"
)

// Fixed input filenames of a working-capital upload.
const (
	wcKE30MonthCY  = "KE30 Month CY.xlsx"
	wcKE30MonthPY  = "KE30 Month PY.xlsx"
	wcKE30MonthPY1 = "KE30 Month PY-1.xlsx"
	wcKE30YTDCY    = "KE30 YTD CY.xlsx"
	wcKE30YTDPY    = "KE30 YTD PY.xlsx"
	wcBalance      = "Balance.xlsx"
)

// KE30 layout offsets.
const (
	wcOverheadValueCol = 12 // column M
	wcDSOValueCol      = 7  // column H
	wcBalanceHeaderRow = 14 // MT-A sheet
)

// Balance-sheet account prefixes.
const (
	wcReceivablesPrefix = "110"
	wcPrepaymentsPrefix = "360"
)

// overheadCaptions are the KE30 captions extracted for the overhead
// summary, with their report display names.
var overheadCaptions = []struct {
	Caption string
	Display string
}{
	{"Variable Production", `LTM Variable production costs (account "VPC")`},
	{"Inventory Revaluation", "LTM Inventory revaluation (account 7053)"},
	{"Fixed Manufacturing Costs", `LTM Fixed Manufacturing costs (account "FMC")`},
	{"Logistics & Purchasing Costs", `LTM Logistics & Purchasing costs (account "LPC")`},
	{"Total Sales - Net", "Sales"},
	{"Contribution 1", "C1"},
}

const wcSalesToThird = "Sales to third"

// WorkingCapital runs the working-capital pipeline.
type WorkingCapital struct {
	*Deps
}

// NewWorkingCapital builds the pipeline over shared run dependencies.
func NewWorkingCapital(deps *Deps) *WorkingCapital { return &WorkingCapital{Deps: deps} }

// Run computes one metric over the fixed input set and writes its summary
// workbook.
func (p *WorkingCapital) Run(inputDir, outputDir, metric string, period types.Period) (types.Result, error) {
	switch metric {
	case MetricOverhead:
		return p.overhead(inputDir, outputDir, period)
	case MetricDSO:
		return p.dso(inputDir, outputDir, period)
	}
	return types.Result{}, fmt.Errorf("unknown working-capital metric %q", metric)
}

// =============================================================================
// OVERHEAD
// =============================================================================

func (p *WorkingCapital) overhead(inputDir, outputDir string, period types.Period) (types.Result, error) {
	const name = "workingcapital"

	paths, err := requireFiles(inputDir, wcKE30MonthCY, wcKE30MonthPY, wcKE30MonthPY1, wcKE30YTDCY, wcKE30YTDPY, wcBalance)
	if err != nil {
		return types.Result{}, err
	}

	monthCY, err := p.readKE30(paths[wcKE30MonthCY], wcOverheadValueCol, overheadCaptionList())
	if err != nil {
		return types.Result{}, err
	}
	monthPY, err := p.readKE30(paths[wcKE30MonthPY], wcOverheadValueCol, overheadCaptionList())
	if err != nil {
		return types.Result{}, err
	}
	monthPY1, err := p.readKE30(paths[wcKE30MonthPY1], wcOverheadValueCol, overheadCaptionList())
	if err != nil {
		return types.Result{}, err
	}
	ytdCY, err := p.readKE30(paths[wcKE30YTDCY], wcOverheadValueCol, overheadCaptionList())
	if err != nil {
		return types.Result{}, err
	}
	ytdPY, err := p.readKE30(paths[wcKE30YTDPY], wcOverheadValueCol, overheadCaptionList())
	if err != nil {
		return types.Result{}, err
	}

	balance, err := p.readBalance(paths[wcBalance])
	if err != nil {
		return types.Result{}, err
	}
	invCurrent := sumMonthColumns(balance, trailingMonths(period, 12))
	invPrior := sumMonthColumns(balance, trailingMonths(types.Period{Month: period.Month, Year: period.Year - 1}, 12))

	monthUpper := strings.ToUpper(period.Abbrev())
	t := sheet.NewTable([]string{
		"Overhead Name",
		fmt.Sprintf("YTD %s %d", monthUpper, period.Year),
		fmt.Sprintf("YTD %s %d", monthUpper, period.Year-1),
		"Variance",
		"Variance %",
	}, nil)

	appendLine := func(display string, cur, prior float64) {
		variance := cur - prior
		pct := ""
		switch {
		case prior != 0:
			pct = sheet.FormatNumber(math.Round(variance/prior*10000) / 100)
		case variance == 0:
			pct = "0"
		}
		t.AppendRow([]string{display, sheet.FormatNumber(cur), sheet.FormatNumber(prior), sheet.FormatNumber(variance), pct})
	}

	for _, oc := range overheadCaptions {
		cur := monthCY[oc.Caption] + ytdCY[oc.Caption] - monthPY[oc.Caption]
		prior := monthPY[oc.Caption] + ytdPY[oc.Caption] - monthPY1[oc.Caption]
		appendLine(oc.Display, cur, prior)
	}
	appendLine(`LTM Inventory net (account "Inv")`, invCurrent, invPrior)

	written, err := report.WriteTableXLSX(filepath.Join(outputDir, "overhead_comparison.xlsx"), "Overhead Data", t)
	if err != nil {
		return types.Result{}, err
	}
	p.Log.WithField("output", filepath.Base(written)).Info("Overhead comparison written")
	return types.Result{
		InputFile:   inputDir,
		Pipeline:    name,
		OutputFiles: []string{written},
		RowCount:    t.Len(),
		Success:     true,
	}, nil
}

func overheadCaptionList() []string {
	out := make([]string, len(overheadCaptions))
	for i, oc := range overheadCaptions {
		out[i] = oc.Caption
	}
	return out
}

// =============================================================================
// DSO
// =============================================================================

func (p *WorkingCapital) dso(inputDir, outputDir string, period types.Period) (types.Result, error) {
	const name = "workingcapital"

	paths, err := requireFiles(inputDir, wcBalance, wcKE30MonthCY, wcKE30MonthPY)
	if err != nil {
		return types.Result{}, err
	}

	balance, err := p.readBalance(paths[wcBalance])
	if err != nil {
		return types.Result{}, err
	}
	l3mCY := trailingMonths(period, 3)
	l3mPY := trailingMonths(types.Period{Month: period.Month, Year: period.Year - 1}, 3)

	tarCY := averageMonthSums(balance, wcReceivablesPrefix, l3mCY) * 1000
	tarPY := averageMonthSums(balance, wcReceivablesPrefix, l3mPY) * 1000
	prepayCY := averageMonthSums(balance, wcPrepaymentsPrefix, l3mCY) * -1000
	prepayPY := averageMonthSums(balance, wcPrepaymentsPrefix, l3mPY) * -1000

	salesCY, err := p.readKE30(paths[wcKE30MonthCY], wcDSOValueCol, []string{wcSalesToThird})
	if err != nil {
		return types.Result{}, err
	}
	salesPY, err := p.readKE30(paths[wcKE30MonthPY], wcDSOValueCol, []string{wcSalesToThird})
	if err != nil {
		return types.Result{}, err
	}

	written, err := writeDSOWorkbook(filepath.Join(outputDir, "dso_financial_summary.xlsx"),
		salesCY[wcSalesToThird], salesPY[wcSalesToThird], tarCY, tarPY, prepayCY, prepayPY)
	if err != nil {
		return types.Result{}, err
	}
	p.Log.WithField("output", filepath.Base(written)).Info("DSO summary written")
	return types.Result{
		InputFile:   inputDir,
		Pipeline:    name,
		OutputFiles: []string{written},
		RowCount:    4,
		Success:     true,
	}, nil
}

// writeDSOWorkbook lays out the summary with live formulas: the VAT cell is
// left blank for the analyst, and the derived rows recompute from it.
func writeDSOWorkbook(path string, salesCY, salesPY, tarCY, tarPY, prepayCY, prepayPY float64) (string, error) {
	path = utils.UniquePath(path)

	f := excelize.NewFile()
	defer f.Close()
	const s = "Summary"
	if err := f.SetSheetName(f.GetSheetName(0), s); err != nil {
		return "", err
	}

	header := []interface{}{"Description", "Current Year", "Previous Year"}
	if err := f.SetSheetRow(s, "A1", &header); err != nil {
		return "", err
	}
	rows := [][]interface{}{
		{wcSalesToThird, salesCY, salesPY},
		{"TAR AVERAGE (L3M)", tarCY, tarPY},
		{"Customer Prepayment AVERAGE (L3M)", prepayCY, prepayPY},
		{"VAT", "", ""},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return "", err
		}
		r := row
		if err := f.SetSheetRow(s, cell, &r); err != nil {
			return "", err
		}
	}

	formulas := []struct {
		label, b, c string
	}{
		{"TAR L3M - customer prepayments L3M) * (100/(100+VAT)) x 360 days",
			"=(B3-B4)*(100/(100+B5))*360", "=(C3-C4)*(100/(100+C5))*360"},
		{"Sales third party L3M * 4", "=B2*4", "=C2*4"},
		{"DSO", "=IF(B7<>0, B6/B7, 0)", "=IF(C7<>0, C6/C7, 0)"},
	}
	for i, fr := range formulas {
		row := i + 6
		if err := f.SetCellValue(s, fmt.Sprintf("A%d", row), fr.label); err != nil {
			return "", err
		}
		if err := f.SetCellFormula(s, fmt.Sprintf("B%d", row), fr.b); err != nil {
			return "", err
		}
		if err := f.SetCellFormula(s, fmt.Sprintf("C%d", row), fr.c); err != nil {
			return "", err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save %s: %w", path, err)
	}
	return path, nil
}

// =============================================================================
// SHARED EXTRACTION
// =============================================================================

// readKE30 locates each caption in column A of a KE30 extract and reads the
// value column on the first matching row. Absent captions warn and read 0.
func (p *WorkingCapital) readKE30(path string, valueCol int, captions []string) (map[string]float64, error) {
	rows, err := sheet.ReadSheet(path, "Sheet1")
	if err != nil {
		return nil, err
	}
	if err := sheet.CheckWidth(rows, valueCol+1, "KE30", filepath.Base(path)); err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(captions))
	for _, caption := range captions {
		found := false
		for _, row := range rows {
			if len(row) > 0 && strings.TrimSpace(row[0]) == caption {
				out[caption] = sheet.ParseNumber(cellAt(row, valueCol))
				found = true
				break
			}
		}
		if !found {
			p.Log.WithFields(map[string]interface{}{
				"caption": caption,
				"file":    filepath.Base(path),
			}).Warn("KE30 caption not found, using 0")
			out[caption] = 0
		}
	}
	return out, nil
}

// readBalance reads the balance workbook's MT-A sheet with its fixed header
// row. The first column is the account identifier.
func (p *WorkingCapital) readBalance(path string) (*sheet.Table, error) {
	rows, err := sheet.ReadSheet(path, "MT-A")
	if err != nil {
		return nil, err
	}
	if len(rows) <= wcBalanceHeaderRow {
		return nil, types.NewFormatErrorf(filepath.Base(path), "MT-A sheet has no header row at offset %d", wcBalanceHeaderRow)
	}
	headers := make([]string, len(rows[wcBalanceHeaderRow]))
	for i, v := range rows[wcBalanceHeaderRow] {
		headers[i] = sheet.CollapseSpaces(v)
	}
	headers[0] = "Account"
	return sheet.NewTable(headers, rows[wcBalanceHeaderRow+1:]), nil
}

// trailingMonths returns the last n month captions ending at period,
// formatted the way the balance sheet names its columns ("Aug, 2025").
func trailingMonths(period types.Period, n int) []string {
	out := make([]string, 0, n)
	for i := n - 1; i >= 0; i-- {
		d := time.Date(period.Year, time.Month(period.Month), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -i, 0)
		out = append(out, fmt.Sprintf("%s, %d", d.Month().String()[:3], d.Year()))
	}
	return out
}

// sumMonthColumns totals each listed month column over all rows. Months
// absent from the sheet contribute nothing.
func sumMonthColumns(t *sheet.Table, months []string) float64 {
	var total float64
	for _, m := range months {
		total += t.SumColumn(m)
	}
	return total
}

// averageMonthSums sums each month column over the rows whose account
// starts with prefix, then averages across the months.
func averageMonthSums(t *sheet.Table, prefix string, months []string) float64 {
	ac, ok := t.Col("Account")
	if !ok {
		return 0
	}
	var total float64
	counted := 0
	for _, m := range months {
		mc, ok := t.Col(m)
		if !ok {
			continue
		}
		for i, row := range t.Rows {
			if strings.HasPrefix(strings.TrimSpace(row[ac]), prefix) {
				total += t.Float(i, mc)
			}
		}
		counted++
	}
	if counted == 0 {
		return 0
	}
	return total / float64(counted)
}

// requireFiles verifies every named file exists in dir and returns their
// full paths.
func requireFiles(dir string, names ...string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		if !utils.FileExists(path) {
			return nil, fmt.Errorf("required file %q not found in %s", name, dir)
		}
		out[name] = path
	}
	return out, nil
}
