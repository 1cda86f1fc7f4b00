package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/mkfinops/bi-recon-engine/internal/reconcile"
	"github.com/mkfinops/bi-recon-engine/internal/sheet"
)

func TestWriteCSVAddsBOMAndReadStripsIt(t *testing.T) {
	dir := t.TempDir()
	tbl := sheet.NewTable([]string{"Entität", "Value"}, [][]string{{"Zürich", "10"}})

	written, err := WriteCSV(filepath.Join(dir, "out.csv"), tbl)
	require.NoError(t, err)

	data, err := os.ReadFile(written)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "\xEF\xBB\xBF"), "Excel needs the BOM")

	back, err := ReadCSV(written)
	require.NoError(t, err)
	assert.Equal(t, "Entität", back.Headers[0], "the BOM never leaks into the first header")
	assert.Equal(t, "Zürich", back.Rows[0][0])
}

func TestWriteCSVDivertsOnCollision(t *testing.T) {
	dir := t.TempDir()
	tbl := sheet.NewTable([]string{"a"}, [][]string{{"1"}})

	first, err := WriteCSV(filepath.Join(dir, "out.csv"), tbl)
	require.NoError(t, err)
	second, err := WriteCSV(filepath.Join(dir, "out.csv"), tbl)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, "out (1).csv", filepath.Base(second))
}

func TestReadCSVUnevenRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ragged.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b,c\n1\n1,2,3,4\n"), 0o644))

	tbl, err := ReadCSV(path)
	require.NoError(t, err)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, []string{"1", "", ""}, tbl.Rows[0], "short rows are padded")
	assert.Equal(t, []string{"1", "2", "3"}, tbl.Rows[1], "long rows are truncated to the header width")
}

func TestWriteWorkbook(t *testing.T) {
	dir := t.TempDir()
	tables := []NamedTable{
		{Name: "first", Headers: []string{"k", "v"}, Rows: [][]interface{}{{"a", 1.5}}},
		{Name: strings.Repeat("x", 40), Headers: []string{"k"}, Rows: [][]interface{}{{"b"}}},
	}

	written, err := WriteWorkbook(filepath.Join(dir, "report.xlsx"), tables)
	require.NoError(t, err)

	f, err := excelize.OpenFile(written)
	require.NoError(t, err)
	defer f.Close()

	names := f.GetSheetList()
	require.Len(t, names, 2)
	assert.Equal(t, "first", names[0])
	assert.Len(t, names[1], 31, "sheet names are trimmed to the Excel limit")

	rows, err := f.GetRows("first")
	require.NoError(t, err)
	assert.Equal(t, []string{"k", "v"}, rows[0])
	assert.Equal(t, "a", rows[1][0])

	_, err = WriteWorkbook(filepath.Join(dir, "empty.xlsx"), nil)
	assert.Error(t, err)
}

func TestWriteTableXLSXNumericCells(t *testing.T) {
	dir := t.TempDir()
	tbl := sheet.NewTable([]string{"Name", "Value"}, [][]string{
		{"widget", "12.5"},
		{"CH01", "-3"},
	})

	written, err := WriteTableXLSX(filepath.Join(dir, "out.xlsx"), "Data", tbl)
	require.NoError(t, err)

	f, err := excelize.OpenFile(written)
	require.NoError(t, err)
	defer f.Close()

	v, err := f.GetCellValue("Data", "B2")
	require.NoError(t, err)
	assert.Equal(t, "12.5", v)

	v, err = f.GetCellValue("Data", "A2")
	require.NoError(t, err)
	assert.Equal(t, "widget", v)

	v, err = f.GetCellValue("Data", "B3")
	require.NoError(t, err)
	assert.Equal(t, "-3", v)
}

func TestValidationSheet(t *testing.T) {
	rows := []reconcile.Row{{
		Key:           []string{"OEM"},
		Subject:       reconcile.Values{Current: 100, Prior: 90},
		Truth:         reconcile.Values{Current: 100, Prior: 80},
		Diff:          reconcile.Values{Current: 0, Prior: -10},
		CurrentStatus: reconcile.StatusMatching,
		PriorStatus:   reconcile.StatusNotMatching,
	}}

	nt := ValidationSheet("2055", []string{"Group"}, "MTD", "PY", rows)
	assert.Equal(t, "2055", nt.Name)
	assert.Equal(t, []string{
		"Group",
		"BI MTD", "BI PY",
		"Hyperion MTD", "Hyperion PY",
		"Difference MTD", "Difference PY",
		"Status MTD", "Status PY",
	}, nt.Headers)
	require.Len(t, nt.Rows, 1)
	assert.Equal(t, "OEM", nt.Rows[0][0])
	assert.Equal(t, reconcile.StatusNotMatching, nt.Rows[0][8])
}
