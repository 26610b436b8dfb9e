package aggregation

import (
	"context"
	"errors"
	"sync"
	"time"

	"finguru/internal/banks"
	"finguru/internal/core"
	"finguru/internal/log"
)

// pipeline runs the token, consent and data steps against one bank for one
// client. Data calls may run concurrently; a CONSENT_REQUIRED rejection
// triggers at most one consent renewal for the whole pipeline, and each call
// is retried at most once.
type pipeline struct {
	service  *Service
	client   banks.Client
	clientID string

	mu        sync.Mutex
	token     string
	consentID string
	renewed   bool
	renewErr  error
}

func (s *Service) newPipeline(c banks.Client, clientID string) *pipeline {
	return &pipeline{service: s, client: c, clientID: clientID}
}

// start obtains the bank token and, where the bank demands one up front, the
// client's consent.
func (p *pipeline) start(ctx context.Context) error {
	bank := p.client.ID()
	token, err := p.service.tokens.AccessToken(ctx, bank)
	if err != nil {
		return err
	}

	var consentID string
	if p.client.RequiresConsent() {
		consentID, err = p.service.consents.Get(ctx, bank, p.clientID, p.service.permissions)
		if err != nil {
			return err
		}
	} else if id, ok := p.service.consents.Lookup(bank, p.clientID); ok {
		consentID = id
	}

	p.mu.Lock()
	p.token = token
	p.consentID = consentID
	p.mu.Unlock()
	return nil
}

func (p *pipeline) session() banks.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return banks.Session{Token: p.token, ClientID: p.clientID, ConsentID: p.consentID}
}

// call runs fn and retries it once with a fresh consent when the bank
// rejects the current one.
func (p *pipeline) call(ctx context.Context, fn func(banks.Session) error) error {
	s := p.session()
	err := fn(s)
	if err == nil {
		return nil
	}

	if errors.Is(err, core.ErrUpstreamAuth) {
		p.service.tokens.Invalidate(p.client.ID())
		return err
	}
	if !errors.Is(err, core.ErrConsentRequired) {
		return err
	}

	fresh, rerr := p.renew(ctx, s.ConsentID)
	if rerr != nil {
		return rerr
	}
	s.ConsentID = fresh
	return fn(s)
}

// renew replaces stale with a fresh consent. Only the first caller contacts
// the consent manager; later callers reuse its outcome.
func (p *pipeline) renew(ctx context.Context, stale string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.renewed {
		return p.consentID, p.renewErr
	}
	p.renewed = true

	p.service.logger.InfoContext(ctx, "Bank requires a fresh consent",
		log.FieldBank, p.client.ID(), log.FieldClientID, p.clientID)

	id, err := p.service.consents.Renew(ctx, p.client.ID(), p.clientID, stale, p.service.permissions)
	if err != nil {
		p.renewErr = err
		return "", err
	}
	p.consentID = id
	return id, nil
}

func (p *pipeline) accounts(ctx context.Context) ([]core.Account, error) {
	var out []core.Account
	err := p.call(ctx, func(s banks.Session) error {
		accounts, err := p.client.ListAccounts(ctx, s)
		out = accounts
		return err
	})
	return out, err
}

func (p *pipeline) balances(ctx context.Context, acc core.Account) ([]core.Balance, error) {
	var out []core.Balance
	err := p.call(ctx, func(s banks.Session) error {
		balances, err := p.client.GetBalances(ctx, s, acc.AccountID)
		out = balances
		return err
	})
	return out, err
}

func (p *pipeline) transactions(ctx context.Context, acc core.Account, from, to time.Time) ([]core.Transaction, error) {
	var out []core.Transaction
	err := p.call(ctx, func(s banks.Session) error {
		txs, err := p.client.ListTransactions(ctx, s, acc.AccountID, from, to)
		out = txs
		return err
	})
	return out, err
}
