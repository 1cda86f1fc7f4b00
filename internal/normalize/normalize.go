// =============================================================================
// BI Recon Engine - Reclassification & Normalization Rules
// =============================================================================
//
// Business cleanup applied to extracted tables: text hygiene, sentinel
// replacement, document-type classification, type-based row filtering, and
// currency conversion. Every transform is a pure in-place mutation of a
// sheet.Table and never fails on unknown input; unknown values degrade to
// documented defaults instead of erroring.
//
// The rule tables live in a Rules value passed in explicitly. Defaults
// reproduce the finance team's observed conventions; tests substitute their
// own.
//
// =============================================================================

package normalize

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mkfinops/bi-recon-engine/internal/sheet"
	"github.com/mkfinops/bi-recon-engine/internal/types"
)

// Classification categories.
const (
	CategoryProduct = "PRODUCT"
	CategoryService = "SERVICE"
)

// HoldingPlaceholder replaces the "#" sentinel in holding columns.
const HoldingPlaceholder = "non-holding"

// Rules is the immutable rule set for one pipeline run.
type Rules struct {
	// DocTypeCategories maps a lowercased, trimmed document type to a
	// classification category.
	DocTypeCategories map[string]string

	// DefaultCategory is assigned to unmapped document types. Defaulting
	// to PRODUCT is deliberate business policy; new document types are
	// logged for operator review, never dropped.
	DefaultCategory string

	// DivisionRenames fixes known division-name variants.
	DivisionRenames map[string]string
}

// DefaultRules returns the production rule set.
func DefaultRules() Rules {
	return Rules{
		DocTypeCategories: map[string]string{
			"mt arm return":        CategoryProduct,
			"mt credit memo req":   CategoryProduct,
			"mt debit memo req":    CategoryProduct,
			"mt eco order hybris":  CategoryProduct,
			"mt epro order b2b":    CategoryProduct,
			"mt standard order":    CategoryProduct,
			"mt int cred memo req": CategoryProduct,
			"mt rental deb req":    CategoryService,
			"mt svc conf dmr":      CategoryService,
			"mt svc contract dmr":  CategoryService,
			"pipette svc order":    CategoryService,
			"mt free of charge":    CategoryService,
		},
		DefaultCategory: CategoryProduct,
		DivisionRenames: map[string]string{
			"Std Industrial": "Standard Industrial",
		},
	}
}

// =============================================================================
// TEXT HYGIENE
// =============================================================================

// CleanText removes embedded newlines everywhere and makes data cells
// CSV-safe by replacing "," and "/" with "_". The header row keeps its
// punctuation: business column names like "Product/Service" are contractual.
func CleanText(t *sheet.Table) {
	for i, h := range t.Headers {
		t.Headers[i] = strings.ReplaceAll(h, "\n", " ")
	}
	for _, row := range t.Rows {
		for c, v := range row {
			v = strings.ReplaceAll(v, "\n", " ")
			v = strings.ReplaceAll(v, ",", "_")
			v = strings.ReplaceAll(v, "/", "_")
			row[c] = v
		}
	}
}

// ReplaceHoldingSentinel rewrites "#" cells in one column offset to the
// holding placeholder.
func ReplaceHoldingSentinel(t *sheet.Table, col int) {
	for _, row := range t.Rows {
		if col >= 0 && col < len(row) && strings.TrimSpace(row[col]) == "#" {
			row[col] = HoldingPlaceholder
		}
	}
}

// RenameDivisions applies the known division-name fixes to one column
// offset.
func RenameDivisions(t *sheet.Table, col int, rules Rules) {
	for _, row := range t.Rows {
		if col < 0 || col >= len(row) {
			continue
		}
		if fixed, ok := rules.DivisionRenames[strings.TrimSpace(row[col])]; ok {
			row[col] = fixed
		}
	}
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// ClassifyDocTypes writes a classification category into targetCol based on
// the document type in sourceCol. Rows whose document type is "none" are
// removed entirely. Unmapped types take the default category and are logged
// at Warn for operator review.
func ClassifyDocTypes(t *sheet.Table, sourceCol, targetCol string, rules Rules, log *logrus.Logger) {
	sc, ok := t.Col(sourceCol)
	if !ok {
		return
	}
	tc, ok := t.Col(targetCol)
	if !ok {
		return
	}
	unmapped := make(map[string]int)
	t.Filter(func(row []string) bool {
		docType := strings.TrimSpace(row[sc])
		key := strings.ToLower(docType)
		if key == "none" {
			return false
		}
		category, known := rules.DocTypeCategories[key]
		if !known {
			category = rules.DefaultCategory
			if docType != "" {
				unmapped[docType]++
			}
		}
		row[tc] = category
		return true
	})
	for docType, count := range unmapped {
		log.WithFields(logrus.Fields{
			"doc_type": docType,
			"rows":     count,
			"default":  rules.DefaultCategory,
		}).Warn("Unmapped document type, defaulted")
	}
}

// DropCategory removes every row whose targetCol equals category.
func DropCategory(t *sheet.Table, targetCol, category string) {
	tc, ok := t.Col(targetCol)
	if !ok {
		return
	}
	t.Filter(func(row []string) bool {
		return row[tc] != category
	})
}

// =============================================================================
// ROW FILTERING
// =============================================================================

// TagsForType returns the transaction tags an entity's extract must be
// split into, by type classification: PO keeps intercompany rows, MO keeps
// third-party rows, MOPO produces both outputs.
func TagsForType(typeClassification string) ([]string, error) {
	switch typeClassification {
	case "PO":
		return []string{"IC"}, nil
	case "MO":
		return []string{"3RD"}, nil
	case "MOPO":
		return []string{"3RD", "IC"}, nil
	}
	return nil, types.NewFormatErrorf("", "unrecognized type classification %q", typeClassification)
}

// FilterByTag returns a new Table holding the rows whose tag column offset
// exactly matches tag. When the exact match selects nothing, it falls back
// to a contains match on "3RD" tags, since some extracts decorate the tag
// with extra text.
func FilterByTag(t *sheet.Table, col int, tag string) *sheet.Table {
	exact := subsetWhere(t, func(row []string) bool {
		return col >= 0 && col < len(row) && strings.TrimSpace(row[col]) == tag
	})
	if exact.Len() > 0 || tag != "3RD" {
		return exact
	}
	return subsetWhere(t, func(row []string) bool {
		return col >= 0 && col < len(row) && strings.Contains(row[col], "3RD")
	})
}

func subsetWhere(t *sheet.Table, keep func(row []string) bool) *sheet.Table {
	out := sheet.NewTable(append([]string(nil), t.Headers...), nil)
	for _, row := range t.Rows {
		if keep(row) {
			out.AppendRow(append([]string(nil), row...))
		}
	}
	return out
}

// =============================================================================
// CURRENCY CONVERSION
// =============================================================================

// ApplyRates multiplies the current-period column by factors.Current and
// the prior-period column by factors.Prior, coercing non-numeric cells to
// 0. The table's rates guard makes a second application an error: applying
// cross rates twice silently corrupts monetary figures.
func ApplyRates(t *sheet.Table, currentCol, priorCol string, factors types.RatePair) error {
	return ApplyRatesColumns(t, []string{currentCol}, []string{priorCol}, factors)
}

// ApplyRatesColumns is ApplyRates over column sets, for layouts that carry
// several current-period and prior-period columns.
func ApplyRatesColumns(t *sheet.Table, currentCols, priorCols []string, factors types.RatePair) error {
	if err := t.MarkRatesApplied(); err != nil {
		return err
	}
	for _, name := range currentCols {
		scale(t, name, factors.Current)
	}
	for _, name := range priorCols {
		scale(t, name, factors.Prior)
	}
	return nil
}

func scale(t *sheet.Table, name string, factor float64) {
	c, ok := t.Col(name)
	if !ok {
		return
	}
	for i := range t.Rows {
		t.Rows[i][c] = sheet.FormatNumber(t.Float(i, c) * factor)
	}
}
