package rates

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/mkfinops/bi-recon-engine/internal/types"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

var september = types.Period{Month: 9, Year: 2025}

// writeRateWorkbook builds a minimal rate workbook: one "Sep" sheet with the
// header on the second row, like the production files.
func writeRateWorkbook(t *testing.T, headers []interface{}, rows [][]interface{}) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetName("Sheet1", "Sep"))
	require.NoError(t, f.SetSheetRow("Sep", "A2", &headers))
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, 3+i)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sep", cell, &row))
	}
	path := filepath.Join(t.TempDir(), "Currency Rates.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func standardRateWorkbook(t *testing.T) string {
	t.Helper()
	return writeRateWorkbook(t,
		[]interface{}{"Currency", "September 2025", "September 2024"},
		[][]interface{}{
			{"USD", 1.0, 1.0},
			{"EUR", 0.9, 0.95},
			{"CHF", 0.8, 0.85},
			{"BAD", 0.0, 0.0},
		})
}

func TestLoad(t *testing.T) {
	m, err := Load(standardRateWorkbook(t), september, quietLogger())
	require.NoError(t, err)
	assert.Len(t, m, 4)
	assert.Equal(t, types.RatePair{Current: 0.9, Prior: 0.95}, m["EUR"])
}

func TestLoadMissingPeriodColumnIsFatal(t *testing.T) {
	path := writeRateWorkbook(t,
		[]interface{}{"Currency", "January 2025", "January 2024"},
		[][]interface{}{{"USD", 1.0, 1.0}})

	_, err := Load(path, september, quietLogger())
	require.Error(t, err)
	assert.True(t, types.IsFatal(err), "a rate workbook without the period column aborts the run")
}

func TestLoadMissingFileIsFatal(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.xlsx"), september, quietLogger())
	require.Error(t, err)
	assert.True(t, types.IsFatal(err))
}

func TestCrossRate(t *testing.T) {
	m := Map{
		"CHF": {Current: 0.8, Prior: 0.85},
		"USD": {Current: 1.0, Prior: 1.0},
	}

	t.Run("cross factors are target over source per period", func(t *testing.T) {
		rp, err := CrossRate(m, "CHF", "USD")
		require.NoError(t, err)
		assert.InDelta(t, 1.0/0.8, rp.Current, 1e-9)
		assert.InDelta(t, 1.0/0.85, rp.Prior, 1e-9)
	})

	t.Run("identical currencies are identity even when absent", func(t *testing.T) {
		rp, err := CrossRate(m, "xxx", "XXX")
		require.NoError(t, err)
		assert.Equal(t, types.Identity(), rp)
	})

	t.Run("lookups are case-insensitive", func(t *testing.T) {
		rp, err := CrossRate(m, " chf ", "usd")
		require.NoError(t, err)
		assert.InDelta(t, 1.25, rp.Current, 1e-9)
	})

	t.Run("missing currency degrades, never aborts", func(t *testing.T) {
		_, err := CrossRate(m, "JPY", "USD")
		require.Error(t, err)
		assert.False(t, types.IsFatal(err))
		var ce *types.ConversionError
		assert.ErrorAs(t, err, &ce)
	})

	t.Run("zero source rate is a conversion error", func(t *testing.T) {
		withZero := Map{"ZRO": {Current: 0, Prior: 1}, "USD": {Current: 1, Prior: 1}}
		_, err := CrossRate(withZero, "ZRO", "USD")
		var ce *types.ConversionError
		assert.ErrorAs(t, err, &ce)
	})
}

func TestCacheMemoizesPerPeriod(t *testing.T) {
	path := standardRateWorkbook(t)
	c := NewCache(path, quietLogger())

	rp, err := c.Cross(september, types.CurrencyPair{Original: "EUR", Conversion: "USD"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0/0.9, rp.Current, 1e-9)

	// A second lookup must not reopen the workbook.
	require.NoError(t, os.Remove(path))
	rp2, err := c.Cross(september, types.CurrencyPair{Original: "CHF", Conversion: "USD"})
	require.NoError(t, err)
	assert.InDelta(t, 1.25, rp2.Current, 1e-9)

	// A different period misses the cache and now fails to load.
	_, err = c.Cross(types.Period{Month: 1, Year: 2025}, types.CurrencyPair{Original: "EUR", Conversion: "USD"})
	assert.Error(t, err)
}
