// =============================================================================
// BI Recon Engine - Reconciliation Engine
// =============================================================================
//
// Diffs a cleaned (subject) aggregation against a Hyperion (truth)
// aggregation on a common key. The rules are identical across pipelines:
//
//   - The key universe is the UNION of both sides. A key present only in
//     truth still produces a row with subject=0, and vice versa.
//   - Truth values are stored in thousands and are scaled x1000 before
//     differencing against subject raw units.
//   - Status is "Matching" iff |truth - subject| <= tolerance, evaluated
//     independently per period. The tolerance is a fixed absolute 5.0
//     regardless of magnitude; reproduced as observed, intent unconfirmed.
//   - The "Adjustment figure" sentinel key is excluded from the output: it
//     exists purely to make totals reconcile and would self-compare.
//
// =============================================================================

package reconcile

import (
	"math"
	"sort"
)

// Fixed comparison constants.
const (
	// DefaultTolerance is the absolute matching cutoff in output units.
	DefaultTolerance = 5.0

	// TruthScale converts truth-workbook thousands to raw units.
	TruthScale = 1000.0

	// StatusMatching / StatusNotMatching are the report status literals.
	StatusMatching    = "Matching"
	StatusNotMatching = "Not Matching"

	// ServiceTotalKey labels the synthetic row comparing the truth sheet's
	// final-row total against the subject's SERVICE aggregate.
	ServiceTotalKey = "SERVICE (Total)"
)

// Row is one line of the validation report.
type Row struct {
	Key           []string
	Subject       Values
	Truth         Values // scaled to raw units
	Diff          Values // truth - subject
	CurrentStatus string
	PriorStatus   string
}

// Options tunes one comparison.
type Options struct {
	// Tolerance is the absolute matching cutoff; zero means DefaultTolerance.
	Tolerance float64

	// SkipKeys are excluded from the output (sentinel buckets).
	SkipKeys []string
}

func (o Options) tolerance() float64 {
	if o.Tolerance == 0 {
		return DefaultTolerance
	}
	return o.Tolerance
}

func (o Options) skip(key string) bool {
	for _, s := range o.SkipKeys {
		if s == key {
			return true
		}
	}
	return false
}

// Status classifies one signed difference under the tolerance.
func Status(diff, tolerance float64) string {
	if math.Abs(diff) <= tolerance {
		return StatusMatching
	}
	return StatusNotMatching
}

// Compare reconciles two single-key aggregations. Keys are emitted in
// sorted order for deterministic reports.
func Compare(subject, truth map[string]Values, opt Options) []Row {
	keys := make([]string, 0, len(subject)+len(truth))
	seen := make(map[string]bool)
	for k := range subject {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for k := range truth {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	tol := opt.tolerance()
	rows := make([]Row, 0, len(keys))
	for _, k := range keys {
		if k == "" || opt.skip(k) {
			continue
		}
		rows = append(rows, buildRow([]string{k}, subject[k], truth[k], tol))
	}
	return rows
}

// CompareCompound reconciles two compound-key aggregations (the sales
// flavor).
func CompareCompound(subject, truth map[SalesKey]Values, opt Options) []Row {
	seen := make(map[SalesKey]bool)
	keys := make([]SalesKey, 0, len(subject)+len(truth))
	for k := range subject {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for k := range truth {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.ProductService != b.ProductService {
			return a.ProductService < b.ProductService
		}
		if a.Division != b.Division {
			return a.Division < b.Division
		}
		return a.DPC < b.DPC
	})

	tol := opt.tolerance()
	rows := make([]Row, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, buildRow(
			[]string{k.ProductService, k.Division, k.DPC},
			subject[k], truth[k], tol))
	}
	return rows
}

// ServiceTotalRow builds the synthetic row comparing the truth sheet's
// final-row total (thousands) against the subject SERVICE aggregate (raw).
func ServiceTotalRow(subjectServiceTotal, truthTotal Values, opt Options) Row {
	row := buildRow([]string{ServiceTotalKey}, subjectServiceTotal, truthTotal, opt.tolerance())
	return row
}

// CanonicalizeTruth remaps a truth aggregation onto BI DPC naming, merging
// values when two Hyperion names alias to the same BI name.
func CanonicalizeTruth(truth map[string]Values, aliases Aliases) map[string]Values {
	out := make(map[string]Values, len(truth))
	for k, v := range truth {
		bi := aliases.BIName(k)
		out[bi] = out[bi].Add(v)
	}
	return out
}

func buildRow(key []string, subject, truth Values, tolerance float64) Row {
	scaled := Values{Current: truth.Current * TruthScale, Prior: truth.Prior * TruthScale}
	diff := Values{Current: scaled.Current - subject.Current, Prior: scaled.Prior - subject.Prior}
	return Row{
		Key:           key,
		Subject:       subject,
		Truth:         scaled,
		Diff:          diff,
		CurrentStatus: Status(diff.Current, tolerance),
		PriorStatus:   Status(diff.Prior, tolerance),
	}
}
