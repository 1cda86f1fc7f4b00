// =============================================================================
// BI Recon Engine - Currency Rate Table
// =============================================================================
//
// The monthly rate workbook carries one sheet per month named by 3-letter
// abbreviation ("Sep"); older files carry a single sheet. The header sits on
// the second row, and the period columns are matched case-insensitively
// against "<MonthName> <Year>" and "<MonthName> <Year-1>" after trimming,
// since the exact header strings drift between files.
//
// Cross rates are target/source per period. A missing currency or a zero
// source rate is a ConversionError; the caller proceeds with identity
// factors and flags the file rather than skipping it.
//
// =============================================================================

package rates

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/mkfinops/bi-recon-engine/internal/sheet"
	"github.com/mkfinops/bi-recon-engine/internal/types"
)

// headerRow is the fixed offset of the rate sheet's header row.
const headerRow = 1

// Map holds per-currency rates for one accounting period.
type Map map[string]types.RatePair

// Load reads the rate map for one period from the rate workbook. The sheet
// is the period's month abbreviation, falling back to the workbook's first
// sheet for older single-sheet files. A missing period column is a
// LoadError: without it nothing in the run can be converted.
func Load(path string, period types.Period, log *logrus.Logger) (Map, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, types.NewLoadError("rate workbook", err)
	}
	defer f.Close()

	name := sheet.ResolveSheet(f, period.Abbrev())
	rows, err := sheet.SheetRows(f, name)
	if err != nil {
		return nil, types.NewLoadError("rate workbook", err)
	}
	if len(rows) <= headerRow {
		return nil, types.NewLoadErrorf("rate workbook", "%s: sheet %q has no header row", path, name)
	}

	currencyCol, currentCol, priorCol := -1, -1, -1
	wantCurrent := fmt.Sprintf("%s %d", period.MonthName(), period.Year)
	wantPrior := fmt.Sprintf("%s %d", period.MonthName(), period.Year-1)
	for i, h := range rows[headerRow] {
		switch {
		case headerEquals(h, "Currency"):
			currencyCol = i
		case headerEquals(h, wantCurrent):
			currentCol = i
		case headerEquals(h, wantPrior):
			priorCol = i
		}
	}
	if currencyCol < 0 {
		return nil, types.NewLoadErrorf("rate workbook", "%s: sheet %q has no Currency column", path, name)
	}
	if currentCol < 0 {
		return nil, types.NewLoadErrorf("rate workbook", "%s: sheet %q has no column matching %q", path, name, wantCurrent)
	}
	if priorCol < 0 {
		return nil, types.NewLoadErrorf("rate workbook", "%s: sheet %q has no column matching %q", path, name, wantPrior)
	}

	m := make(Map)
	for _, row := range rows[headerRow+1:] {
		if currencyCol >= len(row) {
			continue
		}
		code := strings.ToUpper(strings.TrimSpace(row[currencyCol]))
		if code == "" {
			continue
		}
		if _, dup := m[code]; dup {
			continue
		}
		m[code] = types.RatePair{
			Current: cellFloat(row, currentCol),
			Prior:   cellFloat(row, priorCol),
		}
	}

	log.WithFields(logrus.Fields{
		"sheet":      name,
		"period":     period.Key(),
		"currencies": len(m),
	}).Info("Rate sheet loaded")

	return m, nil
}

func cellFloat(row []string, col int) float64 {
	if col < 0 || col >= len(row) {
		return 0
	}
	return sheet.ParseNumber(row[col])
}

// headerEquals compares a header cell against the wanted string after
// trimming and case folding.
func headerEquals(cell, want string) bool {
	return strings.EqualFold(sheet.CollapseSpaces(cell), sheet.CollapseSpaces(want))
}

// CrossRate computes the conversion factors from source to target currency,
// independently for the current and prior period. Currency lookups are
// case-insensitive. Identical currencies always yield identity factors even
// when the currency is absent from the table.
func CrossRate(m Map, source, target string) (types.RatePair, error) {
	source = strings.ToUpper(strings.TrimSpace(source))
	target = strings.ToUpper(strings.TrimSpace(target))
	if source == target {
		return types.Identity(), nil
	}
	src, ok := m[source]
	if !ok {
		return types.RatePair{}, types.NewConversionErrorf(source, "currency not present in rate sheet")
	}
	dst, ok := m[target]
	if !ok {
		return types.RatePair{}, types.NewConversionErrorf(target, "currency not present in rate sheet")
	}
	if src.Current == 0 {
		return types.RatePair{}, types.NewConversionErrorf(source, "current-period rate is zero")
	}
	if src.Prior == 0 {
		return types.RatePair{}, types.NewConversionErrorf(source, "prior-period rate is zero")
	}
	return types.RatePair{
		Current: dst.Current / src.Current,
		Prior:   dst.Prior / src.Prior,
	}, nil
}

// =============================================================================
// PER-RUN CACHE
// =============================================================================

// Cache memoizes rate maps per period within one run. Each session gets its
// own Cache; it is never shared across sessions, so a stale rate workbook
// in one working directory cannot leak into another.
type Cache struct {
	path string
	log  *logrus.Logger

	mu   sync.Mutex
	maps map[string]Map
}

// NewCache builds a cache over one rate workbook.
func NewCache(path string, log *logrus.Logger) *Cache {
	return &Cache{path: path, log: log, maps: make(map[string]Map)}
}

// Get returns the rate map for a period, loading it on first use.
func (c *Cache) Get(period types.Period) (Map, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.maps[period.Key()]; ok {
		return m, nil
	}
	m, err := Load(c.path, period, c.log)
	if err != nil {
		return nil, err
	}
	c.maps[period.Key()] = m
	return m, nil
}

// Cross resolves the cross rate for a currency pair in one period, going
// through the cache.
func (c *Cache) Cross(period types.Period, pair types.CurrencyPair) (types.RatePair, error) {
	m, err := c.Get(period)
	if err != nil {
		return types.RatePair{}, err
	}
	return CrossRate(m, pair.Original, pair.Conversion)
}
