package merge

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkfinops/bi-recon-engine/internal/report"
	"github.com/mkfinops/bi-recon-engine/internal/sheet"
	"github.com/mkfinops/bi-recon-engine/internal/types"
	"github.com/mkfinops/bi-recon-engine/pkg/utils"
)

func quietMerger() *Merger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &Merger{Log: log}
}

func TestArtifactNamePatterns(t *testing.T) {
	t.Run("sales names carry an optional tag", func(t *testing.T) {
		compNo, date, tag, ok := parseSalesName("Sales_Data_Processed_CH01_1001_0925_3RD.csv")
		require.True(t, ok)
		assert.Equal(t, "1001", compNo)
		assert.Equal(t, "0925", date)
		assert.Equal(t, "3RD", tag)

		compNo, date, tag, ok = parseSalesName("Sales_Data_Processed_CH01_1001_0925.csv")
		require.True(t, ok)
		assert.Equal(t, "1001", compNo)
		assert.Equal(t, "", tag)
		assert.Equal(t, "0925", date)

		_, _, _, ok = parseSalesName("OE_Data_Processed_CH01_1001_0925.csv")
		assert.False(t, ok)
	})

	t.Run("order-entry names tolerate collision suffixes", func(t *testing.T) {
		m := oeRe.FindStringSubmatch("OE_Data_Processed_CH01_1001_0925 (1).csv")
		require.NotNil(t, m)
		assert.Equal(t, "1001", m[2])
		assert.Equal(t, "0925", m[3])

		assert.Nil(t, oeRe.FindStringSubmatch("OE_Data_Processed_CH01_1001_0925.xlsx"))
	})

	t.Run("headcount names key on the trailing company number", func(t *testing.T) {
		m := headcountRe.FindStringSubmatch("CH01_0925_Headcount_Processed_1001.xlsx")
		require.NotNil(t, m)
		assert.Equal(t, "CH01", m[1])
		assert.Equal(t, "0925", m[2])
		assert.Equal(t, "1001", m[3])
	})

	t.Run("vendor names", func(t *testing.T) {
		m := vendorRe.FindStringSubmatch("CH01_1001_vendor_analysis_combined.xlsx")
		require.NotNil(t, m)
		assert.Equal(t, "1001", m[2])
	})
}

func TestPeriodFromDate(t *testing.T) {
	p, ok := periodFromDate("0925")
	require.True(t, ok)
	assert.Equal(t, types.Period{Month: 9, Year: 2025}, p)

	_, ok = periodFromDate("1325")
	assert.False(t, ok)
	_, ok = periodFromDate("925")
	assert.False(t, ok)
	_, ok = periodFromDate("ab25")
	assert.False(t, ok)
}

func TestConcatTables(t *testing.T) {
	a := sheet.NewTable([]string{"Name", "Value"}, [][]string{{"x", "1"}})
	b := sheet.NewTable([]string{"Value", "Extra"}, [][]string{{"2", "e"}})

	out := concatTables([]*sheet.Table{a, b})
	assert.Equal(t, []string{"Name", "Value", "Extra"}, out.Headers, "header union keeps first-seen order")
	require.Equal(t, 2, out.Len())
	assert.Equal(t, []string{"x", "1", ""}, out.Rows[0])
	assert.Equal(t, []string{"", "2", "e"}, out.Rows[1], "columns align by name, missing cells stay empty")
}

func TestMergeCSVsDeletesSourcesOnSuccess(t *testing.T) {
	dir := t.TempDir()
	m := quietMerger()

	t1 := sheet.NewTable([]string{"k", "v"}, [][]string{{"a", "1"}})
	t2 := sheet.NewTable([]string{"k", "v"}, [][]string{{"b", "2"}})
	_, err := report.WriteCSV(filepath.Join(dir, "one.csv"), t1)
	require.NoError(t, err)
	_, err = report.WriteCSV(filepath.Join(dir, "two.csv"), t2)
	require.NoError(t, err)

	merged, err := m.mergeCSVs(dir, []string{"two.csv", "one.csv"}, "merged.csv", nil)
	require.NoError(t, err)
	assert.Equal(t, "merged.csv", merged)

	out, err := report.ReadCSV(filepath.Join(dir, "merged.csv"))
	require.NoError(t, err)
	assert.Equal(t, 2, out.Len())
	assert.Equal(t, "a", out.Rows[0][0], "members concatenate in sorted name order")

	assert.NoFileExists(t, filepath.Join(dir, "one.csv"))
	assert.NoFileExists(t, filepath.Join(dir, "two.csv"))
}

func TestMergeCSVsKeepsSourcesOnFailure(t *testing.T) {
	dir := t.TempDir()
	m := quietMerger()

	_, err := report.WriteCSV(filepath.Join(dir, "one.csv"),
		sheet.NewTable([]string{"k"}, [][]string{{"a"}}))
	require.NoError(t, err)

	_, err = m.mergeCSVs(dir, []string{"one.csv", "missing.csv"}, "merged.csv", nil)
	require.Error(t, err)
	assert.FileExists(t, filepath.Join(dir, "one.csv"))
}

// =============================================================================
// DUPLICATE REMOVAL
// =============================================================================

func TestRemoveDuplicates(t *testing.T) {
	dir := t.TempDir()
	m := quietMerger()

	// Same content, different column and row order.
	_, err := report.WriteCSV(filepath.Join(dir, "a.csv"), sheet.NewTable(
		[]string{"Name", "Value"},
		[][]string{{"x", "1"}, {"y", "2"}}))
	require.NoError(t, err)
	_, err = report.WriteCSV(filepath.Join(dir, "b.csv"), sheet.NewTable(
		[]string{"Value", "Name"},
		[][]string{{"2", "y"}, {"1", "x"}}))
	require.NoError(t, err)
	_, err = report.WriteCSV(filepath.Join(dir, "c.csv"), sheet.NewTable(
		[]string{"Name", "Value"},
		[][]string{{"z", "9"}}))
	require.NoError(t, err)

	kept := m.RemoveDuplicates(dir, []string{"a.csv", "b.csv", "c.csv"})
	assert.Equal(t, []string{"a.csv", "c.csv"}, kept, "the first file with a given content stays")
	assert.NoFileExists(t, filepath.Join(dir, "b.csv"))
	assert.FileExists(t, filepath.Join(dir, "a.csv"))
}

func TestRemoveDuplicatesLeavesUnknownExtensionsAlone(t *testing.T) {
	dir := t.TempDir()
	m := quietMerger()

	for _, name := range []string{"one.txt", "two.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("same"), 0o644))
	}

	kept := m.RemoveDuplicates(dir, []string{"one.txt", "two.txt"})
	assert.Len(t, kept, 2, "only CSV and XLSX artifacts participate in dedupe")
	assert.FileExists(t, filepath.Join(dir, "two.txt"))
}

func TestRemoveDuplicatesSkipsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	m := quietMerger()
	kept := m.RemoveDuplicates(dir, []string{"ghost.csv"})
	assert.Empty(t, kept)
}

func TestCanonicalTable(t *testing.T) {
	a := canonicalTable(sheet.NewTable([]string{"B", "A"}, [][]string{{"2", "1"}, {"4", "3"}}))
	b := canonicalTable(sheet.NewTable([]string{"A", "B"}, [][]string{{"3", "4"}, {"1", "2"}}))
	assert.Equal(t, a, b)

	c := canonicalTable(sheet.NewTable([]string{"A", "B"}, [][]string{{"1", "9"}}))
	assert.NotEqual(t, a, c)
}

func TestOverwriteCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.csv")
	_, err := report.WriteCSV(path, sheet.NewTable([]string{"k"}, [][]string{{"old"}}))
	require.NoError(t, err)

	require.NoError(t, overwriteCSV(path, sheet.NewTable([]string{"k"}, [][]string{{"new"}})))

	out, err := report.ReadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, "new", out.Rows[0][0])
	files, err := utils.ListFiles(dir)
	require.NoError(t, err)
	assert.Len(t, files, 1, "no collision-suffixed variant is left behind")
}
