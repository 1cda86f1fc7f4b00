package pipeline

import (
	"io"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkfinops/bi-recon-engine/internal/types"
)

func quietDeps() *Deps {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &Deps{Log: log}
}

func TestMonthNumber(t *testing.T) {
	m, ok := monthNumber("Sep")
	require.True(t, ok)
	assert.Equal(t, 9, m)

	m, ok = monthNumber("jan")
	require.True(t, ok)
	assert.Equal(t, 1, m)

	_, ok = monthNumber("Sept")
	assert.False(t, ok)
	_, ok = monthNumber("")
	assert.False(t, ok)
}

func TestRunAllPreservesInputOrder(t *testing.T) {
	files := []string{"c", "a", "b", "d"}
	var inFlight, peak int32

	results := runAll(files, 2, func(path string) types.Result {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		defer atomic.AddInt32(&inFlight, -1)
		return types.Result{InputFile: path, Success: true}
	})

	require.Len(t, results, 4)
	for i, f := range files {
		assert.Equal(t, f, results[i].InputFile)
	}
	assert.LessOrEqual(t, peak, int32(2), "the pool is bounded")
}

func TestRunAllZeroWorkers(t *testing.T) {
	results := runAll([]string{"x"}, 0, func(path string) types.Result {
		return types.Result{InputFile: path}
	})
	require.Len(t, results, 1)
}

// =============================================================================
// FILENAME PARSING
// =============================================================================

func TestSalesNamePattern(t *testing.T) {
	m := salesNameRe.FindStringSubmatch("Sales_CH01_1001_09_2025.xlsx")
	require.NotNil(t, m)
	assert.Equal(t, []string{"CH01", "1001", "09", "2025"}, m[1:])

	assert.Nil(t, salesNameRe.FindStringSubmatch("Sales_CH01_1001_9_2025.xlsx"), "month must be two digits")
	assert.Nil(t, salesNameRe.FindStringSubmatch("Sales_CH01_1001_09_2025.csv"))
}

func TestOrderEntryNamePattern(t *testing.T) {
	m := oeNameRe.FindStringSubmatch("Order Entry_Sep_2025_CH01_1001_MO.xlsx")
	require.NotNil(t, m)
	assert.Equal(t, "Sep", m[1])
	assert.Equal(t, "2025", m[2])
	assert.Equal(t, "CH01", m[3])
	assert.Equal(t, "1001", m[4])

	assert.Nil(t, oeNameRe.FindStringSubmatch("OrderEntry_Sep_2025_CH01_1001_MO.xlsx"))
}

func TestParsePEXName(t *testing.T) {
	unit, compNo, period, ok := parsePEXName("PEX_CH01_1001_09_2025.xlsx")
	require.True(t, ok)
	assert.Equal(t, "CH01", unit)
	assert.Equal(t, "1001", compNo)
	assert.Equal(t, types.Period{Month: 9, Year: 2025}, period)

	_, _, _, ok = parsePEXName("PEX_CH01_1001_2025.xlsx")
	assert.False(t, ok, "five underscore-separated parts are required")
	_, _, _, ok = parsePEXName("Sales_CH01_1001_09_2025.xlsx")
	assert.False(t, ok)
	_, _, _, ok = parsePEXName("PEX_CH01_1001_13_2025.xlsx")
	assert.False(t, ok)
}

// =============================================================================
// VENDOR WINDOWING
// =============================================================================

func TestVendorWindowMonths(t *testing.T) {
	period := types.Period{Month: 9, Year: 2025}

	t.Run("month over month keeps the analysis month only", func(t *testing.T) {
		v := NewVendor(quietDeps(), AnalysisMonthOverMonth)
		months := v.windowMonths("KSB1_CH01_1001_export_9_2025.xlsx", period)
		assert.Equal(t, map[int]bool{9: true}, months)
	})

	t.Run("quarter to date adds the two prior months", func(t *testing.T) {
		v := NewVendor(quietDeps(), AnalysisQuarterToDate)
		months := v.windowMonths("KSB1_CH01_1001_export_9_2025.xlsx", period)
		assert.Equal(t, map[int]bool{9: true, 8: true, 7: true}, months)
	})

	t.Run("the quarter wraps into the prior calendar year", func(t *testing.T) {
		v := NewVendor(quietDeps(), AnalysisQuarterToDate)
		months := v.windowMonths("KSB1_CH01_1001_export_1_2025.xlsx", period)
		assert.Equal(t, map[int]bool{1: true, 12: true, 11: true}, months)
	})

	t.Run("an unparsable filename disables the window", func(t *testing.T) {
		v := NewVendor(quietDeps(), AnalysisMonthOverMonth)
		assert.Nil(t, v.windowMonths("vendor_dump.xlsx", period))
	})
}

func TestNewVendorDefaultsToMonthOverMonth(t *testing.T) {
	v := NewVendor(quietDeps(), "whatever")
	assert.Equal(t, AnalysisMonthOverMonth, v.Analysis)
}

func TestVendorNamePattern(t *testing.T) {
	m := vendorNameRe.FindStringSubmatch("KSB1_CH01_1001_export_9_2025.xlsm")
	require.NotNil(t, m)
	assert.Equal(t, "CH01", m[1])
	assert.Equal(t, "1001", m[2])
	assert.Equal(t, "2025", m[3])
}

// =============================================================================
// WORKING CAPITAL
// =============================================================================

func TestTrailingMonths(t *testing.T) {
	months := trailingMonths(types.Period{Month: 2, Year: 2025}, 4)
	assert.Equal(t, []string{"Nov, 2024", "Dec, 2024", "Jan, 2025", "Feb, 2025"}, months)

	l3m := trailingMonths(types.Period{Month: 9, Year: 2025}, 3)
	assert.Equal(t, []string{"Jul, 2025", "Aug, 2025", "Sep, 2025"}, l3m)
}
