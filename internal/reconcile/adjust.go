// =============================================================================
// BI Recon Engine - Adjustment Row Synthesis
// =============================================================================
//
// When the cleaned order-entry data systematically omits a bucket (service
// bookings filtered out earlier, product lines the export never carried),
// totals will not reconcile. Adjustment synthesis closes the gap: for every
// truth DPC whose scaled value differs from the subject aggregate, a row
// labelled "Adjustment figure" is appended carrying truth - subject, plus
// one SERVICE row rebuilding the truth sheet's final-row total. After the
// append, re-aggregating the subject reproduces the truth figures exactly.
//
// For grouped entities this runs strictly AFTER concatenation, against the
// group's summary entity, because the gap is defined on the combined total.
//
// =============================================================================

package reconcile

import (
	"math"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mkfinops/bi-recon-engine/internal/sheet"
)

// adjustmentThreshold is the minimum scaled gap that produces a row.
// Smaller residues are floating-point noise, not missing figures.
const adjustmentThreshold = 0.001

// Column names the adjustment rows depend on.
const (
	ColProductService = "Product/Service"
	ColDivision       = "P1-Division"
	ColDPC            = "P2-DPC"
	ColBookingsMTD    = "Bookings MTD Net Sales"
	ColBookingsPY     = "Bookings PY MTD"
)

// AddAdjustments appends adjustment rows to a cleaned order-entry table so
// its per-DPC aggregates match the truth sheet. truthByDPC and truthTotal
// are in thousands, exactly as extracted by OETruth. Returns the number of
// rows appended.
func AddAdjustments(t *sheet.Table, truthByDPC map[string]Values, truthTotal Values, aliases Aliases, log *logrus.Logger) int {
	if !t.HasCols(ColDPC, ColBookingsMTD, ColBookingsPY) {
		log.Warn("Skipping adjustment synthesis: table is missing required columns")
		return 0
	}

	subjectMTD := t.SumByKey(ColDPC, ColBookingsMTD)
	subjectPY := t.SumByKey(ColDPC, ColBookingsPY)

	appended := 0
	for _, hypDPC := range sortedKeys(truthByDPC) {
		if hypDPC == "" || containsTotal(hypDPC) {
			continue
		}
		biDPC := aliases.BIName(hypDPC)
		truth := truthByDPC[hypDPC]

		diffCurrent := truth.Current*TruthScale - subjectMTD[biDPC]
		diffPrior := truth.Prior*TruthScale - subjectPY[biDPC]
		if math.Abs(diffCurrent) <= adjustmentThreshold && math.Abs(diffPrior) <= adjustmentThreshold {
			continue
		}

		log.WithFields(logrus.Fields{
			"dpc":          biDPC,
			"hyperion_dpc": hypDPC,
			"diff_mtd":     diffCurrent,
			"diff_py":      diffPrior,
		}).Info("Appending adjustment row")

		row := sentinelRow(t)
		setByName(t, row, ColDPC, biDPC)
		setByName(t, row, ColProductService, "PRODUCT")
		setByName(t, row, ColDivision, aliases.Division(biDPC))
		setByName(t, row, ColBookingsMTD, sheet.FormatNumber(diffCurrent))
		setByName(t, row, ColBookingsPY, sheet.FormatNumber(diffPrior))
		t.AppendRow(row)
		appended++
	}

	// The SERVICE bucket is never present in the subject (service rows are
	// dropped during cleaning), so its truth total is appended whole.
	svcCurrent := truthTotal.Current * TruthScale
	svcPrior := truthTotal.Prior * TruthScale
	if math.Abs(svcCurrent) > adjustmentThreshold || math.Abs(svcPrior) > adjustmentThreshold {
		log.WithFields(logrus.Fields{
			"mtd": svcCurrent,
			"py":  svcPrior,
		}).Info("Appending SERVICE adjustment row from truth total")

		row := sentinelRow(t)
		setByName(t, row, ColProductService, "SERVICE")
		setByName(t, row, ColDivision, "SERVICE")
		setByName(t, row, ColBookingsMTD, sheet.FormatNumber(svcCurrent))
		setByName(t, row, ColBookingsPY, sheet.FormatNumber(svcPrior))
		t.AppendRow(row)
		appended++
	}

	if appended == 0 {
		log.Debug("No adjustment rows needed: truth and subject aggregates agree")
	}
	return appended
}

// sentinelRow builds a row with every cell set to the adjustment sentinel.
func sentinelRow(t *sheet.Table) []string {
	row := make([]string, t.Width())
	for i := range row {
		row[i] = AdjustmentLabel
	}
	return row
}

func setByName(t *sheet.Table, row []string, name, value string) {
	if c, ok := t.Col(name); ok {
		row[c] = value
	}
}

func containsTotal(s string) bool {
	return strings.Contains(s, "Total")
}

func sortedKeys(m map[string]Values) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
