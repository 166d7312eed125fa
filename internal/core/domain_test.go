package core

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNewTransaction(t *testing.T) {
	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

	tx := NewTransaction(date, "Coffee", "morning", decimal.NewFromFloat(-4.50))
	if tx.Income {
		t.Error("negative amount must not be income")
	}
	if tx.Category != UncategorizedCategory || tx.BaseCategory != UncategorizedCategory {
		t.Errorf("categories = %q/%q", tx.BaseCategory, tx.Category)
	}

	tx = NewTransaction(date, "Salary", "", decimal.NewFromInt(2500))
	if !tx.Income {
		t.Error("positive amount must be income")
	}
}

func TestTransactionValidate(t *testing.T) {
	date := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

	tx := NewTransaction(date, "Coffee", "", decimal.NewFromInt(-3))
	if err := tx.Validate(); err != nil {
		t.Errorf("valid transaction: %v", err)
	}

	tx = NewTransaction(time.Time{}, "Coffee", "", decimal.NewFromInt(-3))
	if err := tx.Validate(); !errors.Is(err, ErrZeroDate) {
		t.Errorf("zero date: %v", err)
	}

	tx = NewTransaction(date, "   ", "", decimal.NewFromInt(-3))
	if err := tx.Validate(); !errors.Is(err, ErrEmptyName) {
		t.Errorf("blank name: %v", err)
	}
}

func TestAmountCents(t *testing.T) {
	tests := []struct {
		amount string
		want   int64
	}{
		{"12.34", 1234},
		{"-12.34", -1234},
		{"0.005", 1},
		{"-0.005", -1},
		{"100", 10000},
		{"0", 0},
	}
	for _, tt := range tests {
		d := decimal.RequireFromString(tt.amount)
		tx := Transaction{Amount: d}
		if got := tx.AmountCents(); got != tt.want {
			t.Errorf("AmountCents(%s) = %d, want %d", tt.amount, got, tt.want)
		}
	}
}

func TestAmountFromCents(t *testing.T) {
	if got := AmountFromCents(-1234); got.String() != "-12.34" {
		t.Errorf("AmountFromCents(-1234) = %s", got)
	}
	if got := AmountFromCents(0); !got.IsZero() {
		t.Errorf("AmountFromCents(0) = %s", got)
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"12.34", "12.34", true},
		{"-12.34", "-12.34", true},
		{" 7 ", "7", true},
		{"12,34", "12.34", true},
		{"-0,5", "-0.5", true},
		{"1,234.56", "", false},
		{"", "", false},
		{"abc", "", false},
	}
	for _, tt := range tests {
		got, err := ParseAmount(tt.in)
		if tt.ok != (err == nil) {
			t.Errorf("ParseAmount(%q): err = %v", tt.in, err)
			continue
		}
		if tt.ok && got.String() != tt.want {
			t.Errorf("ParseAmount(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
