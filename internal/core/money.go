// Package core holds the canonical bank data model shared by every bank variant.
//
// This file contains helpers for parsing upstream amounts into exact decimals
// and for formatting them on the wire.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts an upstream amount to a decimal.
//
// Banks send amounts either as JSON strings or numbers, with a dot or a comma
// separator. Whitespace (including thousands separators made of spaces) is removed.
//
// Examples:
//
//	ParseAmount("150.00")   -> 150.00
//	ParseAmount("-1 250,5") -> -1250.5
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidInput
	}
	s = strings.ReplaceAll(s, "\u00a0", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidInput
	}
	return d, nil
}

// FormatAmount renders an amount with two fractional digits.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// Outflow returns |amount| for negative amounts and zero otherwise.
func Outflow(amount decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return amount.Neg()
	}
	return decimal.Zero
}
