package upload

import (
	"fmt"
	"strings"
	"time"

	"moneta/internal/core"
)

// Selections holds the resolved column index for each mapped field.
// NameCol is -1 when no column is mapped to Name; the other three are
// required and always valid after ResolveSelections.
type Selections struct {
	DateCol    int
	NameCol    int
	DescCol    int
	AmountCol  int
	DateFormat int
}

// HeaderError reports a problem with the column mapping as a whole,
// as opposed to a single bad cell.
type HeaderError struct {
	Msg string
}

func (e *HeaderError) Error() string { return e.Msg }

// CellError reports that one specific cell failed content validation.
type CellError struct {
	Row int
	Col int
	Msg string
}

func (e *CellError) Error() string {
	return fmt.Sprintf("row %d column %d: %s", e.Row, e.Col, e.Msg)
}

// ResolveSelections checks a column mapping for duplicates and missing
// required fields and resolves it into column indexes. Missing fields are
// listed in the fixed required-field order.
func ResolveSelections(selections []core.Field, dateFormat int) (Selections, error) {
	s := Selections{DateCol: -1, NameCol: -1, DescCol: -1, AmountCol: -1, DateFormat: dateFormat}

	for idx, sel := range selections {
		var col *int
		switch sel {
		case core.FieldDate:
			col = &s.DateCol
		case core.FieldName:
			col = &s.NameCol
		case core.FieldDescription:
			col = &s.DescCol
		case core.FieldAmount:
			col = &s.AmountCol
		case core.FieldUnassigned:
			continue
		default:
			return s, &HeaderError{Msg: fmt.Sprintf("unrecognized field %q", sel)}
		}

		if *col >= 0 {
			return s, &HeaderError{Msg: fmt.Sprintf("duplicate header used: %s", sel)}
		}
		*col = idx
	}

	var missing []string
	for _, f := range core.RequiredFields() {
		switch f {
		case core.FieldDate:
			if s.DateCol < 0 {
				missing = append(missing, string(f))
			}
		case core.FieldDescription:
			if s.DescCol < 0 {
				missing = append(missing, string(f))
			}
		case core.FieldAmount:
			if s.AmountCol < 0 {
				missing = append(missing, string(f))
			}
		}
	}
	if len(missing) > 0 {
		return s, &HeaderError{Msg: "missing required headers: " + strings.Join(missing, ", ")}
	}

	if _, err := core.DateLayout(dateFormat); err != nil {
		return s, err
	}

	return s, nil
}

// Validate parses every data row against the resolved mapping and returns the
// resulting transactions. The first unparseable cell stops validation and is
// reported as a CellError identifying its row and column; the server, not the
// client, is the source of truth for cell content.
func (g *Grid) Validate(sel Selections) ([]core.Transaction, error) {
	layout, err := core.DateLayout(sel.DateFormat)
	if err != nil {
		return nil, err
	}

	txns := make([]core.Transaction, 0, g.RowCount())
	for i := 0; i < g.RowCount(); i++ {
		row := g.Row(i)

		date, err := time.Parse(layout, strings.TrimSpace(row[sel.DateCol]))
		if err != nil {
			return nil, &CellError{
				Row: i,
				Col: sel.DateCol,
				Msg: fmt.Sprintf("cell %q could not be parsed as a date", row[sel.DateCol]),
			}
		}

		amount, err := core.ParseAmount(row[sel.AmountCol])
		if err != nil {
			return nil, &CellError{
				Row: i,
				Col: sel.AmountCol,
				Msg: fmt.Sprintf("cell %q could not be parsed as an amount", row[sel.AmountCol]),
			}
		}

		name := row[sel.DescCol]
		nameCol := sel.DescCol
		memo := ""
		if sel.NameCol >= 0 {
			name = row[sel.NameCol]
			nameCol = sel.NameCol
			memo = row[sel.DescCol]
		}
		if strings.TrimSpace(name) == "" {
			return nil, &CellError{Row: i, Col: nameCol, Msg: "cell is empty"}
		}

		txns = append(txns, core.NewTransaction(date, name, memo, amount))
	}
	return txns, nil
}
