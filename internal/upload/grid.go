// Package upload models an uploaded spreadsheet as a staged grid of raw
// cells. Files are stored first and interpreted only at submit time, so a bad
// column mapping never loses data.
package upload

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// Grid is a parsed upload: one header row plus data cells flattened row-major.
// The width of every row equals len(Headers).
type Grid struct {
	Headers []string
	Cells   []string
}

var ErrNoHeader = errors.New("upload has no header row")

// RowCount returns the number of data rows.
func (g *Grid) RowCount() int {
	if len(g.Headers) == 0 {
		return 0
	}
	return len(g.Cells) / len(g.Headers)
}

// Width returns the column count.
func (g *Grid) Width() int { return len(g.Headers) }

// Row returns one data row as a slice view into the grid.
func (g *Grid) Row(index int) []string {
	w := g.Width()
	return g.Cells[index*w : (index+1)*w]
}

// Rows returns count rows starting at index as a flattened cell slice,
// bounds-checked against the grid.
func (g *Grid) Rows(index, count int) ([]string, error) {
	if index < 0 || count < 0 || index+count > g.RowCount() {
		return nil, fmt.Errorf("row range [%d, %d) out of bounds (rows=%d)", index, index+count, g.RowCount())
	}
	w := g.Width()
	return g.Cells[index*w : (index+count)*w], nil
}

// DataRows materializes the data cells as one slice per row.
func (g *Grid) DataRows() [][]string {
	w := g.Width()
	rows := make([][]string, 0, g.RowCount())
	for i := 0; i < g.RowCount(); i++ {
		rows = append(rows, g.Cells[i*w:(i+1)*w])
	}
	return rows
}

// appendRow adds a data row, padding or rejecting based on width.
func (g *Grid) appendRow(row []string) error {
	w := g.Width()
	if len(row) > w {
		return fmt.Errorf("row had length %d, expected %d", len(row), w)
	}
	g.Cells = append(g.Cells, row...)
	for i := len(row); i < w; i++ {
		g.Cells = append(g.Cells, "")
	}
	return nil
}

// xlsxMagic is the ZIP local-file signature; XLSX files are ZIP containers.
var xlsxMagic = []byte{0x50, 0x4b, 0x03, 0x04}

// Parse decodes an uploaded file into a Grid, sniffing XLSX by its ZIP
// signature and treating everything else as CSV.
func Parse(data []byte) (*Grid, error) {
	if bytes.HasPrefix(data, xlsxMagic) {
		return ParseXLSX(bytes.NewReader(data))
	}
	return ParseCSV(bytes.NewReader(data))
}

// ParseCSV reads a CSV stream: first record is the header, the rest are data.
func ParseCSV(r io.Reader) (*Grid, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}

	g := &Grid{Headers: header}
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV row %d: %w", row, err)
		}
		if err := g.appendRow(rec); err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
	}
	return g, nil
}

// ParseXLSX reads the first sheet of an XLSX workbook. Trailing empty cells
// are padded so the grid stays rectangular.
func ParseXLSX(r io.Reader) (*Grid, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoHeader
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, ErrNoHeader
	}

	g := &Grid{Headers: rows[0]}
	for i, row := range rows[1:] {
		if err := g.appendRow(row); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
	}
	return g, nil
}
