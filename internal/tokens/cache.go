// Package tokens caches one bank token per bank and refreshes it lazily.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"finguru/internal/core"
	"finguru/internal/log"
	"finguru/internal/metrics"
)

// Issuer obtains a fresh token from a bank. banks.Client satisfies it.
type Issuer interface {
	ID() core.BankID
	IssueToken(ctx context.Context) (core.CachedToken, error)
}

type Options struct {
	// Skew treats tokens as expired this long before their nominal expiry.
	Skew    time.Duration
	Now     func() time.Time
	Metrics *metrics.Metrics
	Logger  *log.Logger
}

// Cache holds the current token of every bank. Refresh is single-flight per
// bank; different banks refresh independently.
type Cache struct {
	issuers map[core.BankID]Issuer

	mu     sync.RWMutex
	tokens map[core.BankID]core.CachedToken

	group   singleflight.Group
	skew    time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *log.Logger
}

func New(issuers []Issuer, opts Options) *Cache {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	byBank := make(map[core.BankID]Issuer, len(issuers))
	for _, is := range issuers {
		byBank[is.ID()] = is
	}
	return &Cache{
		issuers: byBank,
		tokens:  make(map[core.BankID]core.CachedToken),
		skew:    opts.Skew,
		now:     now,
		metrics: opts.Metrics,
		logger:  logger.WithComponent(log.ComponentToken),
	}
}

// Get returns the cached token for bank if it is still valid, otherwise it
// issues a new one. Expired tokens are never returned.
func (c *Cache) Get(ctx context.Context, bank core.BankID) (core.CachedToken, error) {
	if tok, ok := c.cached(bank); ok {
		return tok, nil
	}
	return c.refresh(ctx, bank, false)
}

// AccessToken is Get reduced to the bearer string.
func (c *Cache) AccessToken(ctx context.Context, bank core.BankID) (string, error) {
	tok, err := c.Get(ctx, bank)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// Refresh issues a new token even if the cached one is valid.
func (c *Cache) Refresh(ctx context.Context, bank core.BankID) (core.CachedToken, error) {
	return c.refresh(ctx, bank, true)
}

// Invalidate drops the cached token of bank, e.g. after the bank rejected it.
func (c *Cache) Invalidate(bank core.BankID) {
	c.mu.Lock()
	delete(c.tokens, bank)
	c.mu.Unlock()
}

func (c *Cache) cached(bank core.BankID) (core.CachedToken, bool) {
	c.mu.RLock()
	tok, ok := c.tokens[bank]
	c.mu.RUnlock()
	if !ok || !tok.Valid(c.now(), c.skew) {
		return core.CachedToken{}, false
	}
	return tok, true
}

func (c *Cache) refresh(ctx context.Context, bank core.BankID, force bool) (core.CachedToken, error) {
	issuer, ok := c.issuers[bank]
	if !ok {
		return core.CachedToken{}, fmt.Errorf("%w: %s", core.ErrBankNotConfigured, bank)
	}

	// The shared flight must not die with whichever caller started it.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(string(bank), func() (any, error) {
		if !force {
			if tok, ok := c.cached(bank); ok {
				return tok, nil
			}
		}
		tok, err := issuer.IssueToken(flightCtx)
		if err != nil {
			c.logger.WarnContext(ctx, "Token issuance failed", log.FieldBank, bank, log.FieldError, err)
			return nil, err
		}
		c.mu.Lock()
		c.tokens[bank] = tok
		c.mu.Unlock()
		c.metrics.ObserveTokenIssued(string(bank))
		c.logger.DebugContext(ctx, "Token issued", log.FieldBank, bank, "expires_in_s", int64(tok.ExpiresIn.Seconds()))
		return tok, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return core.CachedToken{}, res.Err
		}
		return res.Val.(core.CachedToken), nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return core.CachedToken{}, fmt.Errorf("%w: waiting for %s token: %v", core.ErrUpstreamTimeout, bank, ctx.Err())
		}
		return core.CachedToken{}, ctx.Err()
	}
}
