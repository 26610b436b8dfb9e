package core

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const MaxPeriodDays = 365

var (
	clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)
	categoryPattern = regexp.MustCompile(`^[A-Za-z0-9 _-]{1,50}$`)
	periodPattern   = regexp.MustCompile(`^(\d{1,3})d$`)

	maxBonusPercent = decimal.NewFromInt(100)
)

// ValidateClientID checks the opaque client identifier passed to the banks.
func ValidateClientID(clientID string) error {
	if clientID == "" {
		return Invalid("client_id", "is required")
	}
	if !clientIDPattern.MatchString(clientID) {
		return Invalid("client_id", "must be 1-100 letters, digits, '_' or '-'")
	}
	return nil
}

// ParsePeriod parses a period such as "30d" into a number of days.
func ParsePeriod(s string) (int, error) {
	m := periodPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return 0, Invalid("period", "must look like 30d")
	}
	days, _ := strconv.Atoi(m[1])
	if days < 1 || days > MaxPeriodDays {
		return 0, Invalid("period", "must be between 1d and %dd", MaxPeriodDays)
	}
	return days, nil
}

// NormalizeCategory validates a spending category and lowercases it.
func NormalizeCategory(category string) (string, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return "", Invalid("category", "is required")
	}
	if !categoryPattern.MatchString(category) {
		return "", Invalid("category", "must be 1-50 letters, digits, spaces, '_' or '-'")
	}
	return strings.ToLower(category), nil
}

// ValidateBonusPercent accepts percentages in [0, 100].
func ValidateBonusPercent(p decimal.Decimal) error {
	if p.IsNegative() || p.GreaterThan(maxBonusPercent) {
		return Invalid("bonus_percent", "must be between 0 and 100")
	}
	return nil
}
