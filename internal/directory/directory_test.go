package directory

import (
	"io"
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

func writeDirectoryWorkbook(t *testing.T, header []interface{}, rows [][]interface{}) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &header))
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, 2+i)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	path := filepath.Join(t.TempDir(), "Directory.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

var directoryHeader = []interface{}{
	"Comp_No", "Comp_No_for_OE", "Type", "SAP_Comp_Code",
	"Original Currency", "Conversion Currency", "Grouping Unit",
}

func loadTestDirectory(t *testing.T) *Directory {
	t.Helper()
	path := writeDirectoryWorkbook(t, directoryHeader, [][]interface{}{
		{"1001", "2055", "MO", "CH01", "CHF", "USD", "Alpine"},
		{"1002", "2066", "PO", "DE01", "EUR", "USD", "Alpine"},
		{"1003", "2077", "MOPO", "US01", "USD", "USD", ""},
		{"1003", "9999", "PO", "US02", "EUR", "EUR", ""}, // duplicate raw code, first wins
		{"1004", "2088", "weird", "FR01", "EUR", "USD", ""},
	})
	d, err := Load(path, quietLogger())
	require.NoError(t, err)
	return d
}

func TestLoadLookups(t *testing.T) {
	d := loadTestDirectory(t)

	typ, ok := d.TypeOf("1001")
	require.True(t, ok)
	assert.Equal(t, "MO", typ)

	_, ok = d.TypeOf("1004")
	assert.False(t, ok, "unrecognized Type rows carry no classification")

	pair, ok := d.CurrencyFor("1001")
	require.True(t, ok)
	assert.Equal(t, types.CurrencyPair{Original: "CHF", Conversion: "USD"}, pair)

	pair, ok = d.CurrencyForOE("2055", "CH01")
	require.True(t, ok)
	assert.Equal(t, "CHF", pair.Original)

	_, ok = d.CurrencyForOE("2055", "XX99")
	assert.False(t, ok)
}

func TestLoadFirstWinsOnDuplicates(t *testing.T) {
	d := loadTestDirectory(t)

	oe, ok := d.Resolve("1003", HopOECode)
	require.True(t, ok)
	assert.Equal(t, "2077", oe)

	typ, _ := d.TypeOf("1003")
	assert.Equal(t, "MOPO", typ)
}

func TestResolveHops(t *testing.T) {
	d := loadTestDirectory(t)

	group, ok := d.Resolve("1001", HopGroup)
	require.True(t, ok)
	assert.Equal(t, "Alpine", group)

	group, ok = d.Resolve("2066", HopGroupOfOE)
	require.True(t, ok)
	assert.Equal(t, "Alpine", group)

	summary, ok := d.Resolve("Alpine", HopSummary)
	require.True(t, ok)
	assert.Equal(t, "2055", summary, "the first grouped row designates the summary entity")

	_, ok = d.Resolve("2077", HopGroupOfOE)
	assert.False(t, ok, "ungrouped entities have no group hop")
}

func TestSummaryForEntity(t *testing.T) {
	d := loadTestDirectory(t)

	summary, ok := d.SummaryForEntity("1002")
	require.True(t, ok)
	assert.Equal(t, "2055", summary)

	_, ok = d.SummaryForEntity("1003")
	assert.False(t, ok)
}

func TestNeedsThirdPartyFilter(t *testing.T) {
	d := loadTestDirectory(t)
	assert.True(t, d.NeedsThirdPartyFilter("2055"), "MO entities keep third-party rows only")
	assert.True(t, d.NeedsThirdPartyFilter("2077"), "MOPO entities too")
	assert.False(t, d.NeedsThirdPartyFilter("2066"), "PO entities are not filtered")
}

func TestLoadMissingColumnIsFatal(t *testing.T) {
	path := writeDirectoryWorkbook(t,
		[]interface{}{"Comp_No", "Type"},
		[][]interface{}{{"1001", "MO"}})

	_, err := Load(path, quietLogger())
	require.Error(t, err)
	assert.True(t, types.IsFatal(err))
	assert.Contains(t, err.Error(), "Comp_No_for_OE")
}

func TestLoadCurrencyConflictIsFatal(t *testing.T) {
	path := writeDirectoryWorkbook(t, directoryHeader, [][]interface{}{
		{"1001", "2055", "MO", "CH01", "CHF", "USD", ""},
		{"1005", "2055", "MO", "CH01", "EUR", "USD", ""},
	})

	_, err := Load(path, quietLogger())
	require.Error(t, err)
	assert.True(t, types.IsFatal(err))
	assert.Contains(t, err.Error(), "conflicting currency pairs")
}

func TestLoadIdenticalDuplicatePairsCollapse(t *testing.T) {
	path := writeDirectoryWorkbook(t, directoryHeader, [][]interface{}{
		{"1001", "2055", "MO", "CH01", "CHF", "USD", ""},
		{"1005", "2055", "MO", "CH01", "CHF", "USD", ""},
	})

	d, err := Load(path, quietLogger())
	require.NoError(t, err)
	pair, ok := d.CurrencyForOE("2055", "CH01")
	require.True(t, ok)
	assert.Equal(t, "CHF", pair.Original)
}

func TestLoadMissingFileIsFatal(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.xlsx"), quietLogger())
	require.Error(t, err)
	assert.True(t, types.IsFatal(err))
}
