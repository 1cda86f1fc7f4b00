// =============================================================================
// BI Recon Engine - Reconciliation Alias Maps
// =============================================================================
//
// Hyperion and the BI extracts disagree on DPC naming, and adjustment rows
// need a division for each DPC. Both tables are passed into the engine as
// immutable values; DefaultAliases reproduces the finance team's production
// maps and tests substitute their own.
//
// =============================================================================

package reconcile

// AdjustmentLabel is the sentinel written into the non-value cells of a
// synthesized adjustment row, and the key excluded from comparison output.
const AdjustmentLabel = "Adjustment figure"

// Aliases holds the cross-system naming tables used during reconciliation.
type Aliases struct {
	// HyperionToBI translates a Hyperion DPC name to its BI equivalent.
	HyperionToBI map[string]string

	// DPCToDivision assigns the division of a synthesized adjustment row.
	DPCToDivision map[string]string
}

// DefaultAliases returns the production alias tables.
func DefaultAliases() Aliases {
	return Aliases{
		HyperionToBI: map[string]string{
			"OEM_SI": "OEM",
			"SI_S":   "Standard Industrial",
			"TL":     "T&L",
			"Misc":   "Miscellaneous",
			"Pro":    "PRO",
			"AC":     "AutoChem",
			"AS_S":   "AS",
		},
		DPCToDivision: map[string]string{
			"Labtec":              "Lab",
			"ANA":                 "Lab",
			"Ohaus":               "Lab",
			"Pipettes":            "Lab",
			"Biotix":              "Lab",
			"AutoChem":            "Lab",
			"OEM":                 "Industrial",
			"Standard Industrial": "Industrial",
			"T&L":                 "Industrial",
			"Vehicle":             "Industrial",
			"AS":                  "Industrial",
			"Miscellaneous":       "Misc",
			"PI":                  "PI",
			"Retail":              "Retail",
			"PRO":                 "PRO",
			AdjustmentLabel:       "SERVICE",
		},
	}
}

// BIName translates a Hyperion DPC name to BI naming; unknown names pass
// through unchanged.
func (a Aliases) BIName(hyperionDPC string) string {
	if bi, ok := a.HyperionToBI[hyperionDPC]; ok {
		return bi
	}
	return hyperionDPC
}

// Division returns the division assigned to a DPC on adjustment rows,
// falling back to the adjustment sentinel.
func (a Aliases) Division(dpc string) string {
	if div, ok := a.DPCToDivision[dpc]; ok {
		return div
	}
	return AdjustmentLabel
}
