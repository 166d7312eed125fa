package upload

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"moneta/internal/core"
)

const sampleCSV = "Date,Desc,Amt\n2025/01/03,GITHUB,-4.00\n2025/01/10,COFFEE,-3.50\n2025/01/15,SALARY,3500.00\n"

func TestParseCSV(t *testing.T) {
	g, err := ParseCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	assert.Equal(t, []string{"Date", "Desc", "Amt"}, g.Headers)
	assert.Equal(t, 3, g.RowCount())
	assert.Equal(t, []string{"2025/01/10", "COFFEE", "-3.50"}, g.Row(1))
}

func TestParseCSVHeaderOnly(t *testing.T) {
	g, err := ParseCSV(strings.NewReader("Date,Desc,Amt\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, g.RowCount())
}

func TestParseCSVEmpty(t *testing.T) {
	_, err := ParseCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrNoHeader)
}

func TestParseCSVPadsShortRows(t *testing.T) {
	g, err := ParseCSV(strings.NewReader("A,B,C\n\"x\",\"y\",\"z\"\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "z"}, g.Row(0))
}

func TestGridRows(t *testing.T) {
	g, err := ParseCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	cells, err := g.Rows(1, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"2025/01/10", "COFFEE", "-3.50",
		"2025/01/15", "SALARY", "3500.00",
	}, cells)

	_, err = g.Rows(2, 2)
	assert.Error(t, err)
	_, err = g.Rows(-1, 1)
	assert.Error(t, err)
}

func TestParseSniffsXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"Date", "Memo", "Amount"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"2025-01-03", "GITHUB", "-4.00"}))

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	g, err := Parse(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []string{"Date", "Memo", "Amount"}, g.Headers)
	assert.Equal(t, 1, g.RowCount())
	assert.Equal(t, "GITHUB", g.Row(0)[1])
}

func TestParseFallsBackToCSV(t *testing.T) {
	g, err := Parse([]byte(sampleCSV))
	require.NoError(t, err)
	assert.Equal(t, 3, g.RowCount())
}

func TestSuggestFields(t *testing.T) {
	got := core.SuggestFields([]string{"Date", " MEMO ", "amount", "Balance", "name"})
	assert.Equal(t, []core.Field{
		core.FieldDate,
		core.FieldDescription,
		core.FieldAmount,
		core.FieldUnassigned,
		core.FieldName,
	}, got)
}
