// Package banks talks to the bank sandboxes.
//
// Every variant shares the same capability set (token issuance, consent
// request, account, balance and transaction reads) and the same transport
// rules, but each speaks its own native JSON dialect. The normalize_*.go files
// map those dialects onto the canonical types in package core.
package banks

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"finguru/internal/core"
	"finguru/internal/log"
	"finguru/internal/metrics"
)

// Session carries the per-call credentials of a data call.
type Session struct {
	Token     string
	ClientID  string
	ConsentID string
}

// Client is implemented once per bank variant.
type Client interface {
	ID() core.BankID

	// RequiresConsent reports whether data calls must carry a consent up front.
	// Variants returning false only need one after a CONSENT_REQUIRED rejection.
	RequiresConsent() bool

	IssueToken(ctx context.Context) (core.CachedToken, error)
	RequestConsent(ctx context.Context, token, clientID string, permissions []string) (core.ConsentRecord, error)
	ConsentStatus(ctx context.Context, token string, rec core.ConsentRecord) (core.ConsentRecord, error)

	ListAccounts(ctx context.Context, s Session) ([]core.Account, error)
	GetBalances(ctx context.Context, s Session, accountID string) ([]core.Balance, error)
	ListTransactions(ctx context.Context, s Session, accountID string, from, to time.Time) ([]core.Transaction, error)
}

// Options configures the transport shared by every variant.
type Options struct {
	RequestingBankID   string
	RequestingBankName string
	Timeout            time.Duration
	HTTPClient         *http.Client
	Metrics            *metrics.Metrics
	Logger             *log.Logger
	Now                func() time.Time
}

// New builds the client for cred.Bank.
func New(cred core.BankCredential, opts Options) (Client, error) {
	t := newTransport(cred, opts)
	switch cred.Bank {
	case core.VBank:
		return &VBankClient{transport: t}, nil
	case core.ABank:
		return &ABankClient{transport: t}, nil
	case core.SBank:
		return &SBankClient{transport: t}, nil
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownBank, cred.Bank)
	}
}

// NewAll builds a client for every credential, preserving order.
func NewAll(creds []core.BankCredential, opts Options) ([]Client, error) {
	clients := make([]Client, 0, len(creds))
	for _, cred := range creds {
		c, err := New(cred, opts)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, nil
}
