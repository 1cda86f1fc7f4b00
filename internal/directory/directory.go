// =============================================================================
// BI Recon Engine - Entity Directory
// =============================================================================
//
// The company directory workbook is the single reference table behind every
// pipeline: it maps a raw entity code through several aliasing schemes
// (order-entry code, currency pair, type classification, grouping unit).
// It is loaded once per run, validated up front, and immutable thereafter.
//
// LOAD RULES:
//   - A missing required column is a hard LoadError; no partial directory
//     is ever produced.
//   - rawCode keyed maps are first-wins on duplicate rows.
//   - The (oeCode, unitCode) -> currency map collapses identical duplicate
//     rows silently, but two rows declaring different currency pairs for
//     the same key abort the load with every conflicting row enumerated.
//
// =============================================================================

package directory

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/mkfinops/bi-recon-engine/internal/sheet"
	"github.com/mkfinops/bi-recon-engine/internal/types"
)

// =============================================================================
// COLUMN CONTRACT
// =============================================================================

// Exact header strings of the directory workbook. These are contractual:
// the finance team maintains the workbook against this schema.
const (
	colCompNo             = "Comp_No"
	colCompNoForOE        = "Comp_No_for_OE"
	colType               = "Type"
	colSAPCompCode        = "SAP_Comp_Code"
	colOriginalCurrency   = "Original Currency"
	colConversionCurrency = "Conversion Currency"
	colGroupingUnit       = "Grouping Unit"
)

var requiredColumns = []string{
	colCompNo, colCompNoForOE, colType, colSAPCompCode,
	colOriginalCurrency, colConversionCurrency,
}

// Recognized type classifications. Rows with any other Type value keep
// their currency mapping but carry no classification.
var recognizedTypes = map[string]bool{"PO": true, "MO": true, "MOPO": true}

// =============================================================================
// DIRECTORY
// =============================================================================

// oeUnitKey is the compound lookup key of the order-entry currency map.
type oeUnitKey struct {
	OECode string
	Unit   string
}

// Hop selects one step of the identifier indirection chain in Resolve.
type Hop int

const (
	// HopOECode maps a raw entity code to its order-entry system code.
	HopOECode Hop = iota
	// HopGroup maps a raw entity code to its reporting group.
	HopGroup
	// HopGroupOfOE maps an order-entry code to its reporting group.
	HopGroupOfOE
	// HopSummary maps a group name to its designated summary entity code.
	HopSummary
)

func (h Hop) String() string {
	switch h {
	case HopOECode:
		return "raw->oe"
	case HopGroup:
		return "raw->group"
	case HopGroupOfOE:
		return "oe->group"
	case HopSummary:
		return "group->summary"
	}
	return "unknown"
}

// Directory holds the loaded lookup structures. Immutable after Load.
type Directory struct {
	typeByCode     map[string]string
	currencyByCode map[string]types.CurrencyPair
	currencyByOE   map[oeUnitKey]types.CurrencyPair
	oeByCode       map[string]string
	groupByCode    map[string]string
	groupByOE      map[string]string
	summaryByGroup map[string]string
	oeThirdParty   map[string]bool

	log *logrus.Logger
}

// Load reads the directory workbook's first sheet and builds every lookup
// structure. Any validation failure is a LoadError aborting the run.
func Load(path string, log *logrus.Logger) (*Directory, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, types.NewLoadError("directory workbook", err)
	}
	defer f.Close()

	rows, err := sheet.SheetRows(f, "")
	if err != nil {
		return nil, types.NewLoadError("directory workbook", err)
	}
	if len(rows) == 0 {
		return nil, types.NewLoadErrorf("directory workbook", "%s: empty sheet", path)
	}

	cols, err := indexColumns(rows[0], path)
	if err != nil {
		return nil, err
	}

	d := &Directory{
		typeByCode:     make(map[string]string),
		currencyByCode: make(map[string]types.CurrencyPair),
		currencyByOE:   make(map[oeUnitKey]types.CurrencyPair),
		oeByCode:       make(map[string]string),
		groupByCode:    make(map[string]string),
		groupByOE:      make(map[string]string),
		summaryByGroup: make(map[string]string),
		oeThirdParty:   make(map[string]bool),
		log:            log,
	}

	// Conflict bookkeeping for the (oeCode, unit) currency map: row numbers
	// per key per pair, reported together when a key maps to two pairs.
	seenPairs := make(map[oeUnitKey]map[types.CurrencyPair][]int)

	for i := 1; i < len(rows); i++ {
		row := rows[i]
		cell := func(col int) string {
			if col < 0 || col >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[col])
		}

		rawCode := cell(cols[colCompNo])
		oeCode := cell(cols[colCompNoForOE])
		typ := cell(cols[colType])
		unit := cell(cols[colSAPCompCode])
		orig := cell(cols[colOriginalCurrency])
		conv := cell(cols[colConversionCurrency])
		group := ""
		if gc, ok := cols[colGroupingUnit]; ok {
			group = cell(gc)
		}

		if rawCode != "" {
			if recognizedTypes[typ] {
				if _, dup := d.typeByCode[rawCode]; !dup {
					d.typeByCode[rawCode] = typ
				}
			}
			if orig != "" && conv != "" {
				if _, dup := d.currencyByCode[rawCode]; !dup {
					d.currencyByCode[rawCode] = types.CurrencyPair{Original: orig, Conversion: conv}
				}
			}
			if oeCode != "" {
				if _, dup := d.oeByCode[rawCode]; !dup {
					d.oeByCode[rawCode] = oeCode
				}
			}
			if group != "" {
				if _, dup := d.groupByCode[rawCode]; !dup {
					d.groupByCode[rawCode] = group
				}
			}
		}

		if oeCode != "" {
			if group != "" {
				if _, dup := d.groupByOE[oeCode]; !dup {
					d.groupByOE[oeCode] = group
				}
			}
			if typ == "MO" || typ == "MOPO" {
				d.oeThirdParty[oeCode] = true
			}
			if unit != "" && orig != "" && conv != "" {
				key := oeUnitKey{OECode: oeCode, Unit: unit}
				pair := types.CurrencyPair{Original: orig, Conversion: conv}
				if seenPairs[key] == nil {
					seenPairs[key] = make(map[types.CurrencyPair][]int)
				}
				seenPairs[key][pair] = append(seenPairs[key][pair], i+1)
			}
		}

		if group != "" && oeCode != "" {
			if _, dup := d.summaryByGroup[group]; !dup {
				d.summaryByGroup[group] = oeCode
			}
		}
	}

	if err := d.resolveCurrencyConflicts(seenPairs, path); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"entities":   len(d.currencyByCode),
		"oe_keys":    len(d.currencyByOE),
		"groups":     len(d.summaryByGroup),
		"classified": len(d.typeByCode),
	}).Info("Company directory loaded")

	return d, nil
}

// indexColumns maps header names to offsets and verifies the required set.
func indexColumns(header []string, path string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[sheet.CollapseSpaces(h)] = i
	}
	var missing []string
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, types.NewLoadErrorf("directory workbook",
			"%s: missing required columns: %s", path, strings.Join(missing, ", "))
	}
	return cols, nil
}

// resolveCurrencyConflicts collapses identical duplicates and turns real
// conflicts into a LoadError listing every row involved.
func (d *Directory) resolveCurrencyConflicts(seen map[oeUnitKey]map[types.CurrencyPair][]int, path string) error {
	var conflicts []string
	for key, pairs := range seen {
		if len(pairs) == 1 {
			for pair := range pairs {
				d.currencyByOE[key] = pair
			}
			continue
		}
		var details []string
		for pair, rowNums := range pairs {
			details = append(details, fmt.Sprintf("%s->%s (rows %s)", pair.Original, pair.Conversion, joinInts(rowNums)))
		}
		sort.Strings(details)
		conflicts = append(conflicts, fmt.Sprintf("(%s, %s): %s", key.OECode, key.Unit, strings.Join(details, " vs ")))
	}
	if len(conflicts) > 0 {
		sort.Strings(conflicts)
		return types.NewLoadErrorf("directory workbook",
			"%s: conflicting currency pairs for %d key(s): %s", path, len(conflicts), strings.Join(conflicts, "; "))
	}
	return nil
}

func joinInts(nums []int) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return strings.Join(parts, ",")
}

// =============================================================================
// LOOKUPS
// =============================================================================

// TypeOf returns the recognized type classification of a raw entity code.
func (d *Directory) TypeOf(rawCode string) (string, bool) {
	t, ok := d.typeByCode[rawCode]
	return t, ok
}

// CurrencyFor returns the currency pair declared for a raw entity code.
func (d *Directory) CurrencyFor(rawCode string) (types.CurrencyPair, bool) {
	p, ok := d.currencyByCode[rawCode]
	return p, ok
}

// CurrencyForOE returns the currency pair for an (oeCode, unit) compound key.
func (d *Directory) CurrencyForOE(oeCode, unit string) (types.CurrencyPair, bool) {
	p, ok := d.currencyByOE[oeUnitKey{OECode: oeCode, Unit: unit}]
	return p, ok
}

// NeedsThirdPartyFilter reports whether an order-entry code belongs to an
// MO or MOPO entity, whose extracts keep only third-party rows.
func (d *Directory) NeedsThirdPartyFilter(oeCode string) bool {
	return d.oeThirdParty[oeCode]
}

// SummaryForGroup returns the designated summary entity code of a group.
func (d *Directory) SummaryForGroup(group string) (string, bool) {
	c, ok := d.summaryByGroup[group]
	return c, ok
}

// Resolve performs one hop of the identifier indirection chain with debug
// tracing, so a mis-mapped entity can be diagnosed hop by hop.
func (d *Directory) Resolve(code string, hop Hop) (string, bool) {
	var out string
	var ok bool
	switch hop {
	case HopOECode:
		out, ok = d.oeByCode[code]
	case HopGroup:
		out, ok = d.groupByCode[code]
	case HopGroupOfOE:
		out, ok = d.groupByOE[code]
	case HopSummary:
		out, ok = d.summaryByGroup[code]
	}
	if d.log != nil {
		d.log.WithFields(logrus.Fields{
			"hop":   hop.String(),
			"code":  code,
			"to":    out,
			"found": ok,
		}).Debug("Directory hop")
	}
	return out, ok
}

// SummaryForEntity chains raw -> group -> summary, returning the summary
// entity code for a grouped raw code.
func (d *Directory) SummaryForEntity(rawCode string) (string, bool) {
	group, ok := d.Resolve(rawCode, HopGroup)
	if !ok {
		return "", false
	}
	return d.Resolve(group, HopSummary)
}
