// =============================================================================
// BI Recon Engine - Order Entry Pipeline
// =============================================================================
//
// Input:  Order Entry_<Mon>_<YYYY>_<UNIT>_<COMPNO>_<TYPE>.xlsx on "Sheet1".
//         The export tool injects a stray sub-header row, undone by shifting
//         columns A-L up one row everywhere and columns M-N up one row from
//         the second row.
// Output: OE_Data_Processed_<UNIT>_<COMPNO>_<MMYY>.csv, UTF-8 with BOM.
//
// The filename company number is mapped to its order-entry code through the
// directory; files whose number has no mapping are skipped. MO/MOPO entities
// keep only third-party rows. Service bookings are classified off the sales
// document type and dropped; the truth workbook's SERVICE total comes back
// later as an adjustment row.
//
// Adjustment synthesis and validation run per file only when grouping is
// off. Grouped runs defer both to the merge step, where the gap is defined
// on the combined totals.
//
// =============================================================================

package pipeline

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/mkfinops/bi-recon-engine/internal/directory"
	"github.com/mkfinops/bi-recon-engine/internal/normalize"
	"github.com/mkfinops/bi-recon-engine/internal/reconcile"
	"github.com/mkfinops/bi-recon-engine/internal/report"
	"github.com/mkfinops/bi-recon-engine/internal/sheet"
	"github.com/mkfinops/bi-recon-engine/internal/types"
	"github.com/mkfinops/bi-recon-engine/pkg/utils"
)

// Positional contract of the raw order-entry export.
const (
	oeHoldingCol  = 7  // column H before header promotion
	oeTagCol      = 10 // column K after header promotion
	oeSentinel    = "no applicable data found"
	oeKeepLeading = 9 // final slice keeps the first nine columns
)

var oeNameRe = regexp.MustCompile(`(?i)^Order Entry_([A-Za-z]{3})_(\d{4})_([A-Z0-9]+)_(\d+)_([A-Z0-9]+)\.xlsx$`)

// OrderEntry runs the order-entry pipeline.
type OrderEntry struct {
	*Deps

	// Grouped defers adjustment synthesis and validation to the merge step.
	Grouped bool

	rules   normalize.Rules
	aliases reconcile.Aliases
}

// NewOrderEntry builds the order-entry pipeline over shared run dependencies.
func NewOrderEntry(deps *Deps, grouped bool) *OrderEntry {
	return &OrderEntry{
		Deps:    deps,
		Grouped: grouped,
		rules:   normalize.DefaultRules(),
		aliases: reconcile.DefaultAliases(),
	}
}

// Run processes every workbook in inputDir and writes artifacts plus, for
// ungrouped runs, one validation workbook to outputDir.
func (p *OrderEntry) Run(inputDir, outputDir string) ([]types.Result, error) {
	files, err := utils.DiscoverFiles(inputDir, "*.xlsx")
	if err != nil {
		return nil, err
	}
	p.Log.WithField("files", len(files)).Info("Order-entry pipeline starting")

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
		path, err := report.WriteWorkbook(filepath.Join(outputDir, "OE_Hyperion_Validation.xlsx"), mu.sheets)
		if err != nil {
			p.Log.WithError(err).Error("Could not write order-entry validation workbook")
		} else {
			p.Log.WithField("report", path).Info("Order-entry validation workbook written")
		}
	}
	return results, nil
}

func (p *OrderEntry) processFile(path, outputDir string) (types.Result, []report.NamedTable) {
	const name = "orderentry"
	base := filepath.Base(path)

	m := oeNameRe.FindStringSubmatch(base)
	if m == nil {
		return skipped(path, name, "filename does not match Order Entry_<Mon>_<YYYY>_<UNIT>_<COMPNO>_<TYPE>.xlsx"), nil
	}
	monthAbbr := m[1]
	year, _ := strconv.Atoi(m[2])
	unit := strings.ToUpper(m[3])
	compNo := m[4]

	month, ok := monthNumber(monthAbbr)
	if !ok {
		return skipped(path, name, fmt.Sprintf("unrecognized month abbreviation %q", monthAbbr)), nil
	}
	period := types.Period{Month: month, Year: year}

	oeCode, ok := p.Dir.Resolve(compNo, directory.HopOECode)
	if !ok {
		return skipped(path, name, fmt.Sprintf("company number %q has no order-entry mapping in the directory", compNo)), nil
	}

	pair, hasPair := p.Dir.CurrencyForOE(oeCode, unit)
	factors, err := p.crossRatesOrIdentity(period, pair, hasPair, base)
	if err != nil {
		return failed(path, name, err), nil
	}

	rows, err := sheet.ReadSheet(path, "Sheet1")
	if err != nil {
		return failed(path, name, err), nil
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return skipped(path, name, "Sheet1 is empty"), nil
	}
	if strings.Contains(strings.ToLower(strings.TrimSpace(rows[0][0])), oeSentinel) {
		return skipped(path, name, "sheet carries the no-applicable-data sentinel"), nil
	}

	t, err := p.buildTable(rows)
	if err != nil {
		return failed(path, name, err), nil
	}

	if p.Dir.NeedsThirdPartyFilter(oeCode) {
		t = filterThirdParty(t, p)
		if t.Len() == 0 {
			return skipped(path, name, "no third-party rows remain after the 3RD filter"), nil
		}
	}

	p.normalizeTable(t)

	if err := normalize.ApplyRates(t, reconcile.ColBookingsMTD, reconcile.ColBookingsPY, factors); err != nil {
		return failed(path, name, err), nil
	}

	var sheets []report.NamedTable
	if !p.Grouped {
		sheets = p.adjustAndValidate(t, oeCode, monthAbbr, base)
	}

	out, err := sliceOutputColumns(t)
	if err != nil {
		return failed(path, name, err), nil
	}

	outName := fmt.Sprintf("OE_Data_Processed_%s_%s_%s.csv", unit, compNo, period.MMYY())
	written, err := report.WriteCSV(filepath.Join(outputDir, outName), out)
	if err != nil {
		return failed(path, name, err), nil
	}

	return types.Result{
		InputFile:   path,
		Pipeline:    name,
		OutputFiles: []string{written},
		RowCount:    out.Len(),
		Success:     true,
	}, sheets
}

// buildTable undoes the stray sub-header row, fixes the holding sentinel,
// and promotes the header row.
func (p *OrderEntry) buildTable(rows [][]string) (*sheet.Table, error) {
	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	if width >= 12 {
		sheet.ShiftUp(rows, 0, 12, 0)
	}
	if width >= 14 && len(rows) > 1 {
		sheet.ShiftUp(rows, 12, 14, 1)
	}
	for _, row := range rows {
		if oeHoldingCol < len(row) {
			row[oeHoldingCol] = strings.ReplaceAll(row[oeHoldingCol], "#", normalize.HoldingPlaceholder)
		}
	}

	t := sheet.FromRows(rows)
	if err := t.PromoteHeaderRow(); err != nil {
		return nil, err
	}
	return t, nil
}

// filterThirdParty keeps only rows tagged 3RD in column K. Tables too
// narrow to carry the tag column pass through with a warning.
func filterThirdParty(t *sheet.Table, p *OrderEntry) *sheet.Table {
	if oeTagCol >= t.Width() {
		p.Log.Warn("Table has no transaction-tag column, keeping all rows")
		return t
	}
	t.Filter(func(row []string) bool {
		return strings.TrimSpace(row[oeTagCol]) == "3RD"
	})
	return t
}

// normalizeTable applies the business cleanup between filtering and
// conversion: document-type classification, service-row removal, sentinel
// replacement, the leading-column drop, and division renames.
func (p *OrderEntry) normalizeTable(t *sheet.Table) {
	t.RenameColumn("Type - Sales Document", "Sales doc. type")
	normalize.CleanText(t)
	normalize.ClassifyDocTypes(t, "Sales doc. type", reconcile.ColProductService, p.rules, p.Log)
	normalize.DropCategory(t, reconcile.ColProductService, normalize.CategoryService)
	if c, ok := t.Col("Distribution Channel"); ok {
		normalize.ReplaceHoldingSentinel(t, c)
	}
	if t.Width() > 0 {
		// The first raw column is an internal export index with no
		// business meaning.
		_ = t.DropColumn(0)
	}
	if c, ok := t.Col(reconcile.ColDPC); ok {
		normalize.RenameDivisions(t, c, p.rules)
	}
}

// adjustAndValidate appends adjustment rows from the truth workbook and
// builds the per-entity validation sheet. A missing truth workbook or an
// absent entity column is a warning, never a failure.
func (p *OrderEntry) adjustAndValidate(t *sheet.Table, oeCode, monthAbbr, context string) []report.NamedTable {
	truthPath, err := p.orderEntryTruthPath()
	if err != nil {
		p.Log.WithError(err).WithField("file", context).Warn("No order-entry truth workbook, skipping adjustments")
		return nil
	}
	rows, err := truthRows(truthPath, monthAbbr)
	if err != nil {
		p.Log.WithError(err).WithField("file", context).Warn("Could not read order-entry truth workbook, skipping adjustments")
		return nil
	}
	byDPC, total, found := reconcile.OETruth(rows, oeCode)
	if !found {
		p.Log.WithError(types.NewReconWarningf(oeCode, "entity not found in order-entry truth sheet")).
			WithField("file", context).Warn("Skipping adjustments")
		return nil
	}

	reconcile.AddAdjustments(t, byDPC, total, p.aliases, p.Log)

	subject := make(map[string]reconcile.Values)
	for i := range t.Rows {
		dpc := t.Cell(i, reconcile.ColDPC)
		v := subject[dpc]
		v.Current += t.FloatByName(i, reconcile.ColBookingsMTD)
		v.Prior += t.FloatByName(i, reconcile.ColBookingsPY)
		subject[dpc] = v
	}

	opt := reconcile.Options{
		Tolerance: p.Cfg.Tolerance,
		SkipKeys:  []string{reconcile.AdjustmentLabel},
	}
	vr := reconcile.Compare(subject, reconcile.CanonicalizeTruth(byDPC, p.aliases), opt)
	vr = append(vr, reconcile.ServiceTotalRow(p.serviceTotal(t), total, opt))

	return []report.NamedTable{
		report.ValidationSheet(oeCode, []string{"Group"}, "MTD", "PY", vr),
	}
}

// serviceTotal sums the bookings of the SERVICE rows, which exist only as
// appended adjustment rows.
func (p *OrderEntry) serviceTotal(t *sheet.Table) reconcile.Values {
	var v reconcile.Values
	for i := range t.Rows {
		if t.Cell(i, reconcile.ColProductService) != normalize.CategoryService {
			continue
		}
		v.Current += t.FloatByName(i, reconcile.ColBookingsMTD)
		v.Prior += t.FloatByName(i, reconcile.ColBookingsPY)
	}
	return v
}

// orderEntryTruthPath returns the first workbook of the configured truth
// folder.
func (p *OrderEntry) orderEntryTruthPath() (string, error) {
	if p.Cfg.Truth.OrderEntryDir == "" {
		return "", fmt.Errorf("order-entry truth folder not configured")
	}
	files, err := utils.DiscoverFiles(p.Cfg.Truth.OrderEntryDir, "*.xlsx")
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no workbook in %s", p.Cfg.Truth.OrderEntryDir)
	}
	return files[0], nil
}

// sliceOutputColumns keeps the first nine columns plus the two bookings
// columns (original offsets 11 and 12). Tables too narrow for the slice
// are written whole.
func sliceOutputColumns(t *sheet.Table) (*sheet.Table, error) {
	if t.Width() < 13 {
		return t, nil
	}
	cols := make([]int, 0, oeKeepLeading+2)
	for i := 0; i < oeKeepLeading; i++ {
		cols = append(cols, i)
	}
	cols = append(cols, 11, 12)
	return t.SelectColumns(cols)
}
