// =============================================================================
// BI Recon Engine - Group Merging
// =============================================================================
//
// Entities that report as one business share a Grouping Unit in the company
// directory. After per-file cleaning, this module folds each group's
// artifacts into one: CSV artifacts are concatenated (columns aligned by
// name), PEX workbooks are concatenated sheet-wise, headcount extracts pick
// one representative file, and vendor workbooks are stacked. Source files
// are deleted only after their merged replacement has been written.
//
// Order-entry merges additionally run adjustment synthesis against the
// group's summary entity, because the truth gap is defined on the combined
// total; standalone order-entry files get their adjustments here too, since
// the cleaning pass deferred them.
//
// =============================================================================

package merge

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/mkfinops/bi-recon-engine/internal/directory"
	"github.com/mkfinops/bi-recon-engine/internal/reconcile"
	"github.com/mkfinops/bi-recon-engine/internal/report"
	"github.com/mkfinops/bi-recon-engine/internal/sheet"
	"github.com/mkfinops/bi-recon-engine/internal/types"
	"github.com/mkfinops/bi-recon-engine/pkg/utils"
)

// Processed-artifact filename patterns.
var (
	salesTypedRe   = regexp.MustCompile(`(?i)^Sales_Data_Processed_([A-Z0-9]+)_(\d+)_(\d{4})_([A-Z0-9]+)\.csv$`)
	salesUntypedRe = regexp.MustCompile(`(?i)^Sales_Data_Processed_([A-Z0-9]+)_(\d+)_(\d{4})\.csv$`)
	oeRe           = regexp.MustCompile(`(?i)^OE_Data_Processed_([A-Z0-9]+)_(\d+)_(\d{4})( ?\(\d+\))?\.csv$`)
	pexRe          = regexp.MustCompile(`(?i)^PEX_Data_Processed_([A-Z0-9]+)_(\d+)_(\d{4})\.xlsx$`)
	headcountRe    = regexp.MustCompile(`(?i)^([A-Z0-9]+)_(\d{4})_Headcount_Processed_(\d+)\.xlsx$`)
	vendorRe       = regexp.MustCompile(`(?i)^([A-Z0-9]+)_(\d+)_vendor_analysis_combined\.xlsx$`)
)

// Merger folds per-entity artifacts into per-group artifacts.
type Merger struct {
	Dir *directory.Directory
	Log *logrus.Logger

	// TruthDir holds the order-entry truth workbook used for post-merge
	// adjustment synthesis. Empty disables adjustments.
	TruthDir string

	aliases reconcile.Aliases
}

// New builds a Merger.
func New(dir *directory.Directory, truthDir string, log *logrus.Logger) *Merger {
	return &Merger{Dir: dir, Log: log, TruthDir: truthDir, aliases: reconcile.DefaultAliases()}
}

// salesKey groups sales artifacts; dateKey groups the other flavors.
type salesKey struct{ group, date, tag string }
type dateKey struct{ group, date string }

// =============================================================================
// SALES
// =============================================================================

// MergeSales groups sales artifacts by (group, period, tag) and returns the
// resulting file list. Untagged artifacts group by (group, period) alone.
func (m *Merger) MergeSales(outputDir string, files []string) []string {
	groups := make(map[salesKey][]string)
	var final []string

	for _, name := range files {
		compNo, date, tag, ok := parseSalesName(name)
		if !ok {
			final = append(final, name)
			continue
		}
		group, found := m.Dir.Resolve(compNo, directory.HopGroup)
		if !found {
			final = append(final, name)
			continue
		}
		k := salesKey{group: group, date: date, tag: tag}
		groups[k] = append(groups[k], name)
	}

	for _, k := range sortedSalesKeys(groups) {
		members := groups[k]
		outName := fmt.Sprintf("Sales_Data_Processed_%s_%s.csv", k.group, k.date)
		if k.tag != "" {
			outName = fmt.Sprintf("Sales_Data_Processed_%s_%s_%s.csv", k.group, k.date, k.tag)
		}
		merged, err := m.mergeCSVs(outputDir, members, outName, nil)
		if err != nil {
			m.Log.WithError(err).WithField("group", k.group).Error("Sales merge failed, keeping source files")
			final = append(final, members...)
			continue
		}
		final = append(final, merged)
	}
	return final
}

func sortedSalesKeys(groups map[salesKey][]string) []salesKey {
	keys := make([]salesKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].group != keys[j].group {
			return keys[i].group < keys[j].group
		}
		if keys[i].date != keys[j].date {
			return keys[i].date < keys[j].date
		}
		return keys[i].tag < keys[j].tag
	})
	return keys
}

func parseSalesName(name string) (compNo, date, tag string, ok bool) {
	if m := salesTypedRe.FindStringSubmatch(name); m != nil {
		return m[2], m[3], strings.ToUpper(m[4]), true
	}
	if m := salesUntypedRe.FindStringSubmatch(name); m != nil {
		return m[2], m[3], "", true
	}
	return "", "", "", false
}

// =============================================================================
// ORDER ENTRY
// =============================================================================

// MergeOrderEntry groups order-entry artifacts by (group, period), running
// adjustment synthesis on each merged file against its group's summary
// entity. Standalone files receive their deferred adjustments in place.
func (m *Merger) MergeOrderEntry(outputDir string, files []string) []string {
	groups := make(map[dateKey][]string)
	var final []string

	for _, name := range files {
		mm := oeRe.FindStringSubmatch(name)
		if mm == nil {
			final = append(final, name)
			continue
		}
		compNo, date := mm[2], mm[3]
		oeCode, found := m.Dir.Resolve(compNo, directory.HopOECode)
		if !found {
			m.Log.WithField("file", name).Warn("Company number has no order-entry mapping, keeping file unadjusted")
			final = append(final, name)
			continue
		}
		group, grouped := m.Dir.Resolve(oeCode, directory.HopGroupOfOE)
		if !grouped {
			m.adjustStandalone(outputDir, name, oeCode, date)
			final = append(final, name)
			continue
		}
		k := dateKey{group: group, date: date}
		groups[k] = append(groups[k], name)
	}

	for _, k := range sortedDateKeys(groups) {
		members := groups[k]
		outName := fmt.Sprintf("OE_Data_Processed_%s_%s.csv", k.group, k.date)

		adjust := func(t *sheet.Table) {
			summary, ok := m.Dir.Resolve(k.group, directory.HopSummary)
			if !ok {
				m.Log.WithField("group", k.group).Error("No summary entity for group, skipping adjustments")
				return
			}
			m.applyAdjustments(t, summary, k.date)
		}
		merged, err := m.mergeCSVs(outputDir, members, outName, adjust)
		if err != nil {
			m.Log.WithError(err).WithField("group", k.group).Error("Order-entry merge failed, keeping source files")
			final = append(final, members...)
			continue
		}
		final = append(final, merged)
	}
	return final
}

// adjustStandalone rewrites one ungrouped artifact with its adjustment rows
// appended. Failures leave the file as written by the cleaning pass.
func (m *Merger) adjustStandalone(outputDir, name, oeCode, date string) {
	path := filepath.Join(outputDir, name)
	t, err := report.ReadCSV(path)
	if err != nil {
		m.Log.WithError(err).WithField("file", name).Error("Could not read standalone artifact for adjustment")
		return
	}
	if !m.applyAdjustments(t, oeCode, date) {
		return
	}
	if err := overwriteCSV(path, t); err != nil {
		m.Log.WithError(err).WithField("file", name).Error("Could not rewrite standalone artifact")
	}
}

// applyAdjustments loads the truth sheet for the artifact's period and
// appends adjustment rows for the given entity. Returns whether the table
// changed.
func (m *Merger) applyAdjustments(t *sheet.Table, entity, date string) bool {
	period, ok := periodFromDate(date)
	if !ok || m.TruthDir == "" {
		return false
	}
	rows, err := m.truthRows(period)
	if err != nil {
		m.Log.WithError(err).Warn("Could not read order-entry truth workbook, skipping adjustments")
		return false
	}
	byDPC, total, found := reconcile.OETruth(rows, entity)
	if !found {
		m.Log.WithError(types.NewReconWarningf(entity, "entity not found in order-entry truth sheet")).
			Warn("Skipping adjustments")
		return false
	}
	return reconcile.AddAdjustments(t, byDPC, total, m.aliases, m.Log) > 0
}

func (m *Merger) truthRows(period types.Period) ([][]string, error) {
	files, err := utils.DiscoverFiles(m.TruthDir, "*.xlsx")
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no workbook in %s", m.TruthDir)
	}
	f, err := excelize.OpenFile(files[0])
	if err != nil {
		return nil, err
	}
	defer f.Close()
	name := period.Abbrev()
	if !sheet.HasSheet(f, name) {
		name = f.GetSheetName(0)
	}
	return sheet.SheetRows(f, name)
}

// =============================================================================
// PEX AND HEADCOUNT
// =============================================================================

// MergePEXAndHeadcount groups period-expense workbooks by (group, period)
// and concatenates them; headcount extracts in a group keep one
// representative file renamed to the group's summary entity.
func (m *Merger) MergePEXAndHeadcount(outputDir string, files []string) []string {
	pexGroups := make(map[dateKey][]string)
	hcGroups := make(map[dateKey][]string)
	var final []string

	for _, name := range files {
		if mm := pexRe.FindStringSubmatch(name); mm != nil {
			if group, found := m.Dir.Resolve(mm[2], directory.HopGroup); found {
				k := dateKey{group: group, date: mm[3]}
				pexGroups[k] = append(pexGroups[k], name)
				continue
			}
			final = append(final, name)
			continue
		}
		if mm := headcountRe.FindStringSubmatch(name); mm != nil {
			if group, found := m.Dir.Resolve(mm[3], directory.HopGroup); found {
				k := dateKey{group: group, date: mm[2]}
				hcGroups[k] = append(hcGroups[k], name)
				continue
			}
			final = append(final, name)
			continue
		}
		final = append(final, name)
	}

	for _, k := range sortedDateKeys(pexGroups) {
		members := pexGroups[k]
		outName := fmt.Sprintf("PEX_Data_Processed_%s_%s.xlsx", k.group, k.date)
		merged, err := m.mergeWorkbooks(outputDir, members, outName, "Sheet1")
		if err != nil {
			m.Log.WithError(err).WithField("group", k.group).Error("Period-expense merge failed, keeping source files")
			final = append(final, members...)
			continue
		}
		final = append(final, merged)
	}

	for _, k := range sortedDateKeys(hcGroups) {
		members := hcGroups[k]
		sort.Strings(members)
		summary, ok := m.Dir.Resolve(k.group, directory.HopSummary)
		if !ok {
			summary = "UnknownPC"
		}
		outName := fmt.Sprintf("%s_%s_Headcount_Processed_%s.xlsx", k.group, k.date, summary)
		if err := os.Rename(filepath.Join(outputDir, members[0]), filepath.Join(outputDir, outName)); err != nil {
			m.Log.WithError(err).WithField("group", k.group).Error("Headcount rename failed, keeping source files")
			final = append(final, members...)
			continue
		}
		// The extracts of one group all slice the same entity column, so
		// the rest are redundant.
		m.removeFiles(outputDir, members[1:])
		final = append(final, outName)
	}
	return final
}

// MergeVendor groups vendor workbooks by group name alone.
func (m *Merger) MergeVendor(outputDir string, files []string) []string {
	groups := make(map[string][]string)
	var final []string

	for _, name := range files {
		mm := vendorRe.FindStringSubmatch(name)
		if mm == nil {
			final = append(final, name)
			continue
		}
		group, found := m.Dir.Resolve(mm[2], directory.HopGroup)
		if !found {
			final = append(final, name)
			continue
		}
		groups[group] = append(groups[group], name)
	}

	names := make([]string, 0, len(groups))
	for g := range groups {
		names = append(names, g)
	}
	sort.Strings(names)

	for _, group := range names {
		members := groups[group]
		outName := fmt.Sprintf("%s_vendor_analysis_combined.xlsx", group)
		merged, err := m.mergeWorkbooks(outputDir, members, outName, "Combined_Vendor_Data")
		if err != nil {
			m.Log.WithError(err).WithField("group", group).Error("Vendor merge failed, keeping source files")
			final = append(final, members...)
			continue
		}
		final = append(final, merged)
	}
	return final
}

// =============================================================================
// SHARED MERGE MECHANICS
// =============================================================================

// mergeCSVs concatenates member artifacts, runs the optional mutation, and
// writes the merged file, deleting the members only on success.
func (m *Merger) mergeCSVs(outputDir string, members []string, outName string, mutate func(*sheet.Table)) (string, error) {
	sort.Strings(members)
	var tables []*sheet.Table
	for _, name := range members {
		t, err := report.ReadCSV(filepath.Join(outputDir, name))
		if err != nil {
			return "", fmt.Errorf("read %s: %w", name, err)
		}
		tables = append(tables, t)
	}
	merged := concatTables(tables)
	if mutate != nil {
		mutate(merged)
	}
	written, err := report.WriteCSV(filepath.Join(outputDir, outName), merged)
	if err != nil {
		return "", err
	}
	m.Log.WithFields(logrus.Fields{
		"members": len(members),
		"output":  filepath.Base(written),
	}).Info("Merged group artifact written")
	m.removeFiles(outputDir, members)
	return filepath.Base(written), nil
}

// mergeWorkbooks is mergeCSVs for single-sheet XLSX artifacts.
func (m *Merger) mergeWorkbooks(outputDir string, members []string, outName, sheetName string) (string, error) {
	sort.Strings(members)
	var tables []*sheet.Table
	for _, name := range members {
		t, err := readWorkbookTable(filepath.Join(outputDir, name), sheetName)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", name, err)
		}
		tables = append(tables, t)
	}
	merged := concatTables(tables)
	written, err := report.WriteTableXLSX(filepath.Join(outputDir, outName), sheetName, merged)
	if err != nil {
		return "", err
	}
	m.Log.WithFields(logrus.Fields{
		"members": len(members),
		"output":  filepath.Base(written),
	}).Info("Merged group workbook written")
	m.removeFiles(outputDir, members)
	return filepath.Base(written), nil
}

func (m *Merger) removeFiles(dir string, names []string) {
	for _, name := range names {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			m.Log.WithError(err).WithField("file", name).Warn("Could not delete merged source file")
		}
	}
}

// concatTables stacks tables, aligning columns by name: the header union
// preserves first-seen order, and cells absent from a member stay empty.
func concatTables(tables []*sheet.Table) *sheet.Table {
	var headers []string
	index := make(map[string]int)
	for _, t := range tables {
		for _, h := range t.Headers {
			if _, ok := index[h]; !ok {
				index[h] = len(headers)
				headers = append(headers, h)
			}
		}
	}

	out := sheet.NewTable(headers, nil)
	for _, t := range tables {
		for _, row := range t.Rows {
			merged := make([]string, len(headers))
			for c, h := range t.Headers {
				if c < len(row) {
					merged[index[h]] = row[c]
				}
			}
			out.AppendRow(merged)
		}
	}
	return out
}

// readWorkbookTable loads one sheet of a workbook as a header-promoted
// Table, falling back to the first sheet.
func readWorkbookTable(path, sheetName string) (*sheet.Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	name := sheetName
	if !sheet.HasSheet(f, name) {
		name = f.GetSheetName(0)
	}
	rows, err := sheet.SheetRows(f, name)
	if err != nil {
		return nil, err
	}
	t := sheet.FromRows(rows)
	if t.Len() == 0 {
		return t, nil
	}
	if err := t.PromoteHeaderRow(); err != nil {
		return nil, err
	}
	return t, nil
}

// overwriteCSV rewrites an artifact in place, unlike report.WriteCSV which
// diverts on collision.
func overwriteCSV(path string, t *sheet.Table) error {
	tmp := path + ".tmp"
	written, err := report.WriteCSV(tmp, t)
	if err != nil {
		return err
	}
	return os.Rename(written, path)
}

// periodFromDate parses the MMYY artifact suffix.
func periodFromDate(date string) (types.Period, bool) {
	if len(date) != 4 {
		return types.Period{}, false
	}
	month, err1 := strconv.Atoi(date[:2])
	yy, err2 := strconv.Atoi(date[2:])
	if err1 != nil || err2 != nil || month < 1 || month > 12 {
		return types.Period{}, false
	}
	return types.Period{Month: month, Year: 2000 + yy}, true
}

func sortedDateKeys(groups map[dateKey][]string) []dateKey {
	keys := make([]dateKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].group != keys[j].group {
			return keys[i].group < keys[j].group
		}
		return keys[i].date < keys[j].date
	})
	return keys
}
