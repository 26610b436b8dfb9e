package core

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrUpstreamAuth        = errors.New("upstream authentication failed")
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrUpstream            = errors.New("upstream error")
	ErrConsentDenied       = errors.New("consent denied")
	ErrConsentPending      = errors.New("consent pending manual approval")
	ErrConsentRequired     = errors.New("consent required")
	ErrAllBanksUnavailable = errors.New("all banks unavailable")
	ErrUnknownBank         = errors.New("unknown bank")
	ErrBankNotConfigured   = errors.New("bank not configured")
	ErrInvalidInput        = errors.New("invalid input")
	ErrDuplicate           = errors.New("already exists")
)

// Partial failure reasons reported to API callers.
const (
	ReasonTimeout         = "timeout"
	ReasonAuth            = "auth_error"
	ReasonConsentDenied   = "consent_denied"
	ReasonConsentPending  = "consent_pending"
	ReasonConsentRequired = "consent_required"
	ReasonNotConfigured   = "not_configured"
	ReasonUpstream        = "upstream_error"
)

// BankError wraps a failure of one upstream call.
type BankError struct {
	Bank       BankID
	Op         string
	StatusCode int
	Err        error
}

func (e *BankError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Bank, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Bank, e.Op, e.Err)
}

func (e *BankError) Unwrap() error {
	return e.Err
}

// AllBanksError is returned when every bank in a fan-out failed.
type AllBanksError struct {
	Failures []PartialFailure
}

func (e *AllBanksError) Error() string {
	return fmt.Sprintf("%v: %d banks failed", ErrAllBanksUnavailable, len(e.Failures))
}

func (e *AllBanksError) Unwrap() error {
	return ErrAllBanksUnavailable
}

// ValidationError names the offending input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// FailureReason maps an error to the reason reported in a partial failure.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, ErrUpstreamAuth):
		return ReasonAuth
	case errors.Is(err, ErrConsentDenied):
		return ReasonConsentDenied
	case errors.Is(err, ErrConsentPending):
		return ReasonConsentPending
	case errors.Is(err, ErrConsentRequired):
		return ReasonConsentRequired
	case errors.Is(err, ErrBankNotConfigured):
		return ReasonNotConfigured
	default:
		return ReasonUpstream
	}
}
