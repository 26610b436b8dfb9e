package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	VBank BankID = "vbank"
	ABank BankID = "abank"
	SBank BankID = "sbank"
)

const (
	ConsentApproved ConsentStatus = "approved"
	ConsentPending  ConsentStatus = "pending"
	ConsentRejected ConsentStatus = "rejected"
)

// Permissions requested when the caller does not name any.
var DefaultPermissions = []string{"ReadAccountsDetail", "ReadBalances", "ReadTransactions"}

type (
	BankID        string
	ConsentStatus string

	BankCredential struct {
		Bank         BankID
		BaseURL      string
		ClientID     string
		ClientSecret string
	}

	// CachedToken is the bank-level access token. It is replaced wholesale on refresh.
	CachedToken struct {
		Bank        BankID
		AccessToken string
		TokenType   string
		IssuedAt    time.Time
		ExpiresIn   time.Duration
	}

	// ConsentRecord is keyed by (Bank, ClientID). RequestID is set instead of
	// ConsentID while a manual approval is outstanding.
	ConsentRecord struct {
		Bank         BankID
		ClientID     string
		ConsentID    string
		RequestID    string
		Status       ConsentStatus
		AutoApproved bool
		Permissions  []string
		CreatedAt    time.Time
	}

	Servicer struct {
		SchemeName     string `json:"scheme_name,omitempty"`
		Identification string `json:"identification,omitempty"`
		Name           string `json:"name,omitempty"`
	}

	Account struct {
		AccountID   string    `json:"account_id"`
		Bank        BankID    `json:"bank"`
		Currency    string    `json:"currency"`
		AccountType string    `json:"account_type"`
		Nickname    *string   `json:"nickname"`
		Servicer    *Servicer `json:"servicer"`
	}

	Balance struct {
		AccountID string          `json:"account_id"`
		Bank      BankID          `json:"bank"`
		Amount    decimal.Decimal `json:"amount"`
		Currency  string          `json:"currency"`
		Type      string          `json:"type"`
		DateTime  time.Time       `json:"date_time"`
	}

	// Transaction amounts are signed: negative is an outflow.
	Transaction struct {
		TransactionID string          `json:"transaction_id"`
		AccountID     string          `json:"account_id"`
		Bank          BankID          `json:"bank"`
		Amount        decimal.Decimal `json:"amount"`
		Currency      string          `json:"currency"`
		BookingDate   time.Time       `json:"booking_date"`
		Description   *string         `json:"description"`
		MCC           *string         `json:"mcc"`
	}

	CashbackBonus struct {
		ID           string          `json:"id"`
		ClientID     string          `json:"client_id"`
		Category     string          `json:"category"`
		BonusPercent decimal.Decimal `json:"bonus_percent"`
		ValidUntil   time.Time       `json:"valid_until"`
		ActivatedAt  time.Time       `json:"activated_at"`
	}

	// PartialFailure annotates a bank that was excluded from an aggregate result.
	PartialFailure struct {
		Bank   BankID `json:"bank"`
		Reason string `json:"reason"`
		Err    error  `json:"-"`
	}
)

// AllBanks lists the bank variants in their canonical order.
var AllBanks = []BankID{VBank, ABank, SBank}

// ParseBankID accepts a bank name case-insensitively.
func ParseBankID(s string) (BankID, error) {
	id := BankID(strings.ToLower(strings.TrimSpace(s)))
	for _, b := range AllBanks {
		if b == id {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownBank, s)
}

func (b BankID) String() string {
	return string(b)
}

// Configured reports whether credentials were supplied for the bank.
func (c BankCredential) Configured() bool {
	return c.ClientID != "" || c.ClientSecret != ""
}

// ExpiresAt is the nominal expiry reported by the bank.
func (t CachedToken) ExpiresAt() time.Time {
	return t.IssuedAt.Add(t.ExpiresIn)
}

// Valid reports whether the token may still be used at now, treating it as
// expired skew before its nominal expiry.
func (t CachedToken) Valid(now time.Time, skew time.Duration) bool {
	if t.AccessToken == "" {
		return false
	}
	return now.Before(t.ExpiresAt().Add(-skew))
}

// Usable reports whether the record may be attached to data calls.
func (r ConsentRecord) Usable() bool {
	return r.Status == ConsentApproved && r.ConsentID != ""
}

// Active reports whether the bonus has not yet expired at now.
func (b CashbackBonus) Active(now time.Time) bool {
	return b.ValidUntil.After(now)
}

func (f PartialFailure) String() string {
	return string(f.Bank) + "=" + f.Reason
}

// StringPtr returns nil for the empty string.
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
