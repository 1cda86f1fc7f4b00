package sheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNumber(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want float64
	}{
		{"plain integer", "42", 42},
		{"decimal", "3.25", 3.25},
		{"thousands separators", "1,234,567.5", 1234567.5},
		{"accounting negative", "(123.45)", -123.45},
		{"surrounding whitespace", "  7.5  ", 7.5},
		{"empty cell", "", 0},
		{"non-numeric", "n/a", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseNumber(tt.in))
		})
	}
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "5", FormatNumber(5))
	assert.Equal(t, "-1200", FormatNumber(-1200))
	assert.Equal(t, "2.5", FormatNumber(2.5))
	assert.Equal(t, "0", FormatNumber(0))
}

func TestCollapseSpaces(t *testing.T) {
	assert.Equal(t, "Bookings MTD Net Sales", CollapseSpaces("  Bookings \n MTD\tNet  Sales "))
	assert.Equal(t, "", CollapseSpaces("   "))
}

func TestPromoteHeaderRow(t *testing.T) {
	tbl := FromRows([][]string{
		{"Product/Service", "Value \n MTD"},
		{"PRODUCT", "10"},
	})
	require.NoError(t, tbl.PromoteHeaderRow())
	assert.Equal(t, []string{"Product/Service", "Value MTD"}, tbl.Headers)
	assert.Equal(t, 1, tbl.Len())
	assert.Equal(t, "PRODUCT", tbl.Cell(0, "Product/Service"))

	empty := &Table{}
	assert.Error(t, empty.PromoteHeaderRow())
}

func TestSetHeadersWidthMismatch(t *testing.T) {
	tbl := NewTable([]string{"a", "b"}, [][]string{{"1", "2"}})
	assert.Error(t, tbl.SetHeaders([]string{"only one"}))
	require.NoError(t, tbl.SetHeaders([]string{"x", "y"}))
	assert.Equal(t, "2", tbl.Cell(0, "y"))
}

func TestAppendRowPadsAndTruncates(t *testing.T) {
	tbl := NewTable([]string{"a", "b", "c"}, nil)
	tbl.AppendRow([]string{"1"})
	tbl.AppendRow([]string{"1", "2", "3", "4"})
	assert.Equal(t, []string{"1", "", ""}, tbl.Rows[0])
	assert.Equal(t, []string{"1", "2", "3"}, tbl.Rows[1])
}

func TestSumByKey(t *testing.T) {
	tbl := NewTable([]string{"Group", "Value"}, [][]string{
		{"A", "10"},
		{"B", "2.5"},
		{"A", "(5)"},
		{"B", "junk"},
	})
	sums := tbl.SumByKey("Group", "Value")
	assert.Equal(t, 5.0, sums["A"])
	assert.Equal(t, 2.5, sums["B"])
	assert.Empty(t, tbl.SumByKey("Missing", "Value"))
}

func TestSelectColumnsCarriesRatesFlag(t *testing.T) {
	tbl := NewTable([]string{"a", "b", "c"}, [][]string{{"1", "2", "3"}})
	require.NoError(t, tbl.MarkRatesApplied())

	sliced, err := tbl.SelectColumns([]int{2, 0})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, sliced.Headers)
	assert.Equal(t, []string{"3", "1"}, sliced.Rows[0])
	assert.Error(t, sliced.MarkRatesApplied(), "conversion must stay at-most-once across slicing")

	_, err = tbl.SelectColumns([]int{5})
	assert.Error(t, err)
}

func TestMarkRatesAppliedTwice(t *testing.T) {
	tbl := NewTable([]string{"a"}, nil)
	require.NoError(t, tbl.MarkRatesApplied())
	assert.True(t, tbl.RatesApplied())
	assert.Error(t, tbl.MarkRatesApplied())
}

func TestDropColumn(t *testing.T) {
	tbl := NewTable([]string{"a", "b", "c"}, [][]string{{"1", "2", "3"}})
	require.NoError(t, tbl.DropColumn(1))
	assert.Equal(t, []string{"a", "c"}, tbl.Headers)
	assert.Equal(t, []string{"1", "3"}, tbl.Rows[0])
	assert.Error(t, tbl.DropColumn(9))
}

func TestRectangularize(t *testing.T) {
	rows := Rectangularize([][]string{
		{"a", "b", "c"},
		{"d"},
		{},
	})
	for _, r := range rows {
		assert.Len(t, r, 3)
	}
	assert.Equal(t, "d", rows[1][0])
	assert.Equal(t, "", rows[1][2])
}

func TestIsSentinel(t *testing.T) {
	rows := [][]string{{"  No Applicable Data Found  "}}
	assert.True(t, IsSentinel(rows, "no applicable data found"))
	assert.False(t, IsSentinel(rows, ""))
	assert.False(t, IsSentinel(nil, "no applicable data found"))
	assert.False(t, IsSentinel([][]string{{"real data"}}, "no applicable data found"))
}

func TestCheckWidth(t *testing.T) {
	rows := [][]string{{"a", "b"}, {"c", "d", "e"}}
	assert.NoError(t, CheckWidth(rows, 3, "test", "file.xlsx"))
	err := CheckWidth(rows, 5, "test", "file.xlsx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing 2")
}

func TestShiftUp(t *testing.T) {
	rows := [][]string{
		{"h1", "h2", "x"},
		{"a", "b", "y"},
		{"c", "d", "z"},
	}
	ShiftUp(rows, 0, 2, 1)
	assert.Equal(t, []string{"c", "d", "y"}, rows[1])
	assert.Equal(t, []string{"", "", "z"}, rows[2])
}

func TestExtract(t *testing.T) {
	spec := LayoutSpec{
		Name:           "test",
		SentinelPhrase: "no applicable data found",
		MinColumns:     2,
		HeaderRow:      0,
		DataStart:      1,
	}

	t.Run("sentinel sheet yields empty table", func(t *testing.T) {
		tbl, err := Extract([][]string{{"No applicable data found"}}, spec, "f.xlsx")
		require.NoError(t, err)
		assert.Equal(t, 0, tbl.Len())
	})

	t.Run("narrow sheet is a format error", func(t *testing.T) {
		_, err := Extract([][]string{{"only"}}, spec, "f.xlsx")
		assert.Error(t, err)
	})

	t.Run("header and data addressed by offset", func(t *testing.T) {
		tbl, err := Extract([][]string{
			{"Name", "Value"},
			{"widget", "10"},
		}, spec, "f.xlsx")
		require.NoError(t, err)
		assert.Equal(t, "widget", tbl.Cell(0, "Name"))
	})
}

func TestFindEntityColumn(t *testing.T) {
	rows := [][]string{
		{"", "", "Actual.101", "PY.101", "Actual.2055"},
	}
	col, ok := FindEntityColumn(rows, 0, 0, "101")
	require.True(t, ok)
	assert.Equal(t, 2, col)

	col, ok = FindEntityColumn(rows, 0, 4, "2055")
	require.True(t, ok)
	assert.Equal(t, 4, col)

	_, ok = FindEntityColumn(rows, 0, 0, "999")
	assert.False(t, ok)

	_, ok = FindEntityColumn(rows, 3, 0, "101")
	assert.False(t, ok, "header row beyond sheet end")
}
