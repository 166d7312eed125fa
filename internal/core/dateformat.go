package core

import (
	"fmt"
	"time"
)

// DateFormat pairs a user-facing label with the Go layout used for parsing.
type DateFormat struct {
	Display string
	Layout  string
}

// DateFormats enumerates every date format an upload may declare. Submit
// requests reference a format by index into this table, so the order is part
// of the wire contract.
var DateFormats = []DateFormat{
	{"YYYY/MM/DD", "2006/01/02"},
	{"MM/DD/YYYY", "01/02/2006"},
	{"DD/MM/YYYY", "02/01/2006"},
	{"YYYY-MM-DD", "2006-01-02"},
	{"MM-DD-YYYY", "01-02-2006"},
	{"DD-MM-YYYY", "02-01-2006"},
	{"YYYY MM DD", "2006 01 02"},
	{"MM DD YYYY", "01 02 2006"},
	{"DD MM YYYY", "02 01 2006"},
	{"YYYYMMDD", "20060102"},
	{"MMDDYYYY", "01022006"},
	{"DDMMYYYY", "02012006"},
	{"YY/MM/DD", "06/01/02"},
	{"MM/DD/YY", "01/02/06"},
	{"DD/MM/YY", "02/01/06"},
	{"YY-MM-DD", "06-01-02"},
	{"MM-DD-YY", "01-02-06"},
	{"DD-MM-YY", "02-01-06"},
	{"YY MM DD", "06 01 02"},
	{"MM DD YY", "01 02 06"},
	{"DD MM YY", "02 01 06"},
	{"YYMMDD", "060102"},
	{"MMDDYY", "010206"},
	{"DDMMYY", "020106"},
}

// DateFormatDisplays returns the labels for the upload options endpoint.
func DateFormatDisplays() []string {
	out := make([]string, len(DateFormats))
	for i, f := range DateFormats {
		out[i] = f.Display
	}
	return out
}

// DateLayout resolves a wire-level format index to a parse layout.
func DateLayout(index int) (string, error) {
	if index < 0 || index >= len(DateFormats) {
		return "", fmt.Errorf("invalid date format: %d", index)
	}
	return DateFormats[index].Layout, nil
}

// ParseDate parses a cell value with the layout at the given format index.
func ParseDate(value string, formatIndex int) (time.Time, error) {
	layout, err := DateLayout(formatIndex)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(layout, value)
}
