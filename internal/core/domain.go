package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// UncategorizedCategory is assigned to transactions created from uploads.
// Categorization happens later and is not part of the import flow.
const UncategorizedCategory = "Uncategorized"

type (
	// Transaction is one imported ledger entry.
	Transaction struct {
		ID           int64
		Account      string
		BaseCategory string
		Category     string
		Income       bool
		PostedDate   time.Time
		Amount       decimal.Decimal
		Name         string
		Memo         string
	}

	// CategorySeries is a dense per-category time series: Amounts is row-major
	// with the outer index over Dates and the inner index over Categories.
	CategorySeries struct {
		Categories []string    `json:"categories"`
		Dates      []string    `json:"dates"`
		Amounts    [][]float64 `json:"amounts"`
	}
)

var (
	ErrEmptyName     = errors.New("empty transaction name")
	ErrZeroDate      = errors.New("transaction date cannot be zero")
	ErrInvalidAmount = errors.New("invalid amount")
)

// NewTransaction builds an uncategorized transaction from parsed upload cells.
// The income flag is derived from the amount sign, matching how bank exports
// represent deposits and withdrawals.
func NewTransaction(date time.Time, name, memo string, amount decimal.Decimal) Transaction {
	return Transaction{
		BaseCategory: UncategorizedCategory,
		Category:     UncategorizedCategory,
		Income:       amount.IsPositive(),
		PostedDate:   date,
		Amount:       amount,
		Name:         name,
		Memo:         memo,
	}
}

func (t Transaction) Validate() error {
	if t.PostedDate.IsZero() {
		return ErrZeroDate
	}
	if strings.TrimSpace(t.Name) == "" {
		return ErrEmptyName
	}
	return nil
}

// AmountCents returns the amount in integer cents, half-up rounded.
// Storage keeps cents to avoid floating-point drift.
func (t Transaction) AmountCents() int64 {
	return t.Amount.Shift(2).Round(0).IntPart()
}

// AmountFromCents restores a decimal amount from stored cents.
func AmountFromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// ParseAmount parses a cell value as a monetary amount. Comma decimal
// separators are normalized, thousands separators are not accepted.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}
