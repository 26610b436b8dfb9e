// Package consent obtains, caches and re-checks per (bank, client) consents.
package consent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"finguru/internal/cache"
	"finguru/internal/core"
	"finguru/internal/log"
	"finguru/internal/metrics"
)

const maxRecords = 10000

// Bank is the consent half of banks.Client.
type Bank interface {
	ID() core.BankID
	RequestConsent(ctx context.Context, token, clientID string, permissions []string) (core.ConsentRecord, error)
	ConsentStatus(ctx context.Context, token string, rec core.ConsentRecord) (core.ConsentRecord, error)
}

// TokenSource yields the bank token to authenticate consent calls with.
type TokenSource interface {
	AccessToken(ctx context.Context, bank core.BankID) (string, error)
}

// Notifier is told about consents that became usable after a manual approval.
type Notifier interface {
	ConsentApproved(ctx context.Context, rec core.ConsentRecord) error
}

type Options struct {
	// TTL bounds how long an approved or pending record is reused.
	TTL      time.Duration
	Now      func() time.Time
	Metrics  *metrics.Metrics
	Logger   *log.Logger
	Notifier Notifier
}

// Manager caches one consent record per (bank, client_id). Acquisition for a
// key is single-flight; different keys proceed concurrently.
type Manager struct {
	banks    map[core.BankID]Bank
	tokens   TokenSource
	records  *cache.LRUCache[core.ConsentRecord]
	group    singleflight.Group
	now      func() time.Time
	metrics  *metrics.Metrics
	logger   *log.Logger
	notifier Notifier
}

func NewManager(banks []Bank, tokens TokenSource, opts Options) *Manager {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	byBank := make(map[core.BankID]Bank, len(banks))
	for _, b := range banks {
		byBank[b.ID()] = b
	}
	return &Manager{
		banks:    byBank,
		tokens:   tokens,
		records:  cache.NewLRUCache[core.ConsentRecord](maxRecords, ttl).WithClock(now),
		now:      now,
		metrics:  opts.Metrics,
		logger:   logger.WithComponent(log.ComponentConsent),
		notifier: opts.Notifier,
	}
}

func key(bank core.BankID, clientID string) string {
	return string(bank) + ":" + clientID
}

// Records exposes the record cache so its expiry can be driven by a cache.Manager.
func (m *Manager) Records() cache.Cleaner {
	return m.records
}

// Get returns a usable consent id for (bank, clientID), requesting one if
// none is cached. A consent awaiting manual approval yields ErrConsentPending.
func (m *Manager) Get(ctx context.Context, bank core.BankID, clientID string, permissions []string) (string, error) {
	rec, err := m.Ensure(ctx, bank, clientID, permissions)
	if err != nil {
		return "", err
	}
	if !rec.Usable() {
		return "", pendingError(rec)
	}
	return rec.ConsentID, nil
}

// Lookup returns the cached usable consent id without contacting the bank.
func (m *Manager) Lookup(bank core.BankID, clientID string) (string, bool) {
	rec, ok := m.records.Get(key(bank, clientID))
	if !ok || !rec.Usable() {
		return "", false
	}
	return rec.ConsentID, true
}

// Ensure returns the cached record for (bank, clientID), approved or pending,
// requesting a new consent when nothing is cached.
func (m *Manager) Ensure(ctx context.Context, bank core.BankID, clientID string, permissions []string) (core.ConsentRecord, error) {
	if rec, ok := m.records.Get(key(bank, clientID)); ok {
		return rec, nil
	}
	return m.acquire(ctx, bank, clientID, permissions, false)
}

// Request always asks the bank for a new consent and caches the result.
func (m *Manager) Request(ctx context.Context, bank core.BankID, clientID string, permissions []string) (core.ConsentRecord, error) {
	return m.acquire(ctx, bank, clientID, permissions, true)
}

// Renew replaces a consent the bank no longer accepts. It only drops the
// cached record if it still carries staleID, so concurrent callers that hit
// the same rejection share one re-acquisition.
func (m *Manager) Renew(ctx context.Context, bank core.BankID, clientID, staleID string, permissions []string) (string, error) {
	k := key(bank, clientID)
	if rec, ok := m.records.Get(k); ok && rec.ConsentID == staleID {
		m.records.Delete(k)
	}
	return m.Get(ctx, bank, clientID, permissions)
}

// Invalidate forgets the cached record for (bank, clientID).
func (m *Manager) Invalidate(bank core.BankID, clientID string) {
	m.records.Delete(key(bank, clientID))
}

// Pending lists the cached records still awaiting approval.
func (m *Manager) Pending() []core.ConsentRecord {
	var pending []core.ConsentRecord
	for _, rec := range m.records.Values() {
		if rec.Status == core.ConsentPending {
			pending = append(pending, rec)
		}
	}
	return pending
}

// Check asks the bank for the current status of a pending record and updates
// the cache accordingly.
func (m *Manager) Check(ctx context.Context, rec core.ConsentRecord) (core.ConsentRecord, error) {
	b, ok := m.banks[rec.Bank]
	if !ok {
		return rec, fmt.Errorf("%w: %s", core.ErrBankNotConfigured, rec.Bank)
	}
	token, err := m.tokens.AccessToken(ctx, rec.Bank)
	if err != nil {
		return rec, err
	}

	k := key(rec.Bank, rec.ClientID)
	updated, err := b.ConsentStatus(ctx, token, rec)
	if err != nil {
		if core.FailureReason(err) == core.ReasonConsentDenied {
			m.records.Delete(k)
			m.metrics.ObserveConsent(string(rec.Bank), string(core.ConsentRejected))
		}
		return rec, err
	}

	if updated.Status == core.ConsentApproved {
		m.records.Set(k, updated)
		m.metrics.ObserveConsent(string(rec.Bank), string(updated.Status))
		m.logger.InfoContext(ctx, "Pending consent approved",
			log.NewFields().WithBank(string(rec.Bank), rec.ClientID).WithConsent(updated.ConsentID, string(updated.Status)).ToSlice()...)
		if m.notifier != nil {
			if err := m.notifier.ConsentApproved(ctx, updated); err != nil {
				m.logger.WarnContext(ctx, "Failed to publish consent approval", log.FieldBank, rec.Bank, log.FieldError, err)
			}
		}
	}
	return updated, nil
}

func (m *Manager) acquire(ctx context.Context, bank core.BankID, clientID string, permissions []string, force bool) (core.ConsentRecord, error) {
	b, ok := m.banks[bank]
	if !ok {
		return core.ConsentRecord{}, fmt.Errorf("%w: %s", core.ErrBankNotConfigured, bank)
	}
	if len(permissions) == 0 {
		permissions = core.DefaultPermissions
	}

	k := key(bank, clientID)
	flightCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan(k, func() (any, error) {
		if !force {
			if rec, ok := m.records.Get(k); ok {
				return rec, nil
			}
		}
		token, err := m.tokens.AccessToken(flightCtx, bank)
		if err != nil {
			return nil, err
		}
		rec, err := b.RequestConsent(flightCtx, token, clientID, permissions)
		if err != nil {
			if core.FailureReason(err) == core.ReasonConsentDenied {
				m.records.Delete(k)
				m.metrics.ObserveConsent(string(bank), string(core.ConsentRejected))
			}
			m.logger.WarnContext(ctx, "Consent request failed",
				log.NewFields().WithBank(string(bank), clientID).WithError(err).ToSlice()...)
			return nil, err
		}
		m.records.Set(k, rec)
		m.metrics.ObserveConsent(string(bank), string(rec.Status))
		m.logger.InfoContext(ctx, "Consent acquired",
			log.NewFields().WithBank(string(bank), clientID).WithConsent(rec.ConsentID, string(rec.Status)).ToSlice()...)
		return rec, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return core.ConsentRecord{}, res.Err
		}
		return res.Val.(core.ConsentRecord), nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return core.ConsentRecord{}, fmt.Errorf("%w: waiting for %s consent: %v", core.ErrUpstreamTimeout, bank, ctx.Err())
		}
		return core.ConsentRecord{}, ctx.Err()
	}
}

func pendingError(rec core.ConsentRecord) error {
	return &core.BankError{
		Bank: rec.Bank,
		Op:   log.OpRequestConsent,
		Err:  fmt.Errorf("%w: request %s", core.ErrConsentPending, rec.RequestID),
	}
}
