package core

import (
	"fmt"
	"strings"
)

// Field is a semantic meaning assigned to an uploaded spreadsheet column.
type Field string

const (
	FieldUnassigned  Field = "-"
	FieldDate        Field = "Date"
	FieldName        Field = "Name"
	FieldDescription Field = "Description"
	FieldAmount      Field = "Amount"
)

// Fields lists every recognized field in wire order.
func Fields() []Field {
	return []Field{FieldUnassigned, FieldDate, FieldName, FieldDescription, FieldAmount}
}

// RequiredFields are the fields a column mapping must cover before submission.
// The order is fixed: validation messages enumerate missing fields in this order.
func RequiredFields() []Field {
	return []Field{FieldDate, FieldDescription, FieldAmount}
}

// ParseField converts a wire string into a Field. Only the exact enumerated
// names are accepted; anything else is an error rather than silently Unassigned,
// so a client sending garbage gets told.
func ParseField(s string) (Field, error) {
	switch Field(s) {
	case FieldUnassigned, FieldDate, FieldName, FieldDescription, FieldAmount:
		return Field(s), nil
	}
	return FieldUnassigned, fmt.Errorf("unrecognized field %q", s)
}

// SuggestField guesses the semantic field for a raw column header.
// The heuristic is intentionally dumb: trim, lowercase, exact match.
func SuggestField(header string) Field {
	switch strings.ToLower(strings.TrimSpace(header)) {
	case "date":
		return FieldDate
	case "name":
		return FieldName
	case "memo", "description":
		return FieldDescription
	case "amount":
		return FieldAmount
	}
	return FieldUnassigned
}

// SuggestFields maps every header of an upload to its suggested field.
func SuggestFields(headers []string) []Field {
	out := make([]Field, len(headers))
	for i, h := range headers {
		out[i] = SuggestField(h)
	}
	return out
}
