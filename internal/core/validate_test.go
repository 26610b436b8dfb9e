package core

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestValidateClientID(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"team200-1", false},
		{"client_42", false},
		{"", true},
		{"has space", true},
		{"semi;colon", true},
		{strings.Repeat("a", 100), false},
		{strings.Repeat("a", 101), true},
	}
	for _, tt := range tests {
		err := ValidateClientID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateClientID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidInput) {
			t.Errorf("ValidateClientID(%q) should wrap ErrInvalidInput", tt.in)
		}
	}
}

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"30d", 30, false},
		{"1d", 1, false},
		{"365d", 365, false},
		{" 7D ", 7, false},
		{"0d", 0, true},
		{"366d", 0, true},
		{"30", 0, true},
		{"d", 0, true},
		{"-5d", 0, true},
		{"1w", 0, true},
	}
	for _, tt := range tests {
		got, err := ParsePeriod(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePeriod(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePeriod(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeCategory(t *testing.T) {
	got, err := NormalizeCategory("  Groceries ")
	if err != nil || got != "groceries" {
		t.Errorf("NormalizeCategory = %q, %v", got, err)
	}
	for _, bad := range []string{"", "   ", "drop;table", strings.Repeat("x", 51), "кафе"} {
		if _, err := NormalizeCategory(bad); err == nil {
			t.Errorf("NormalizeCategory(%q) should fail", bad)
		}
	}
}

func TestValidateBonusPercent(t *testing.T) {
	for _, ok := range []string{"0", "5", "99.99", "100"} {
		if err := ValidateBonusPercent(decimal.RequireFromString(ok)); err != nil {
			t.Errorf("%s should be valid: %v", ok, err)
		}
	}
	for _, bad := range []string{"-0.01", "100.01", "1000"} {
		if err := ValidateBonusPercent(decimal.RequireFromString(bad)); err == nil {
			t.Errorf("%s should be invalid", bad)
		}
	}
}
