package consent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"finguru/internal/core"
	"finguru/internal/log"
)

// PollerConfig holds configuration for the pending consent poller
type PollerConfig struct {
	// PollInterval is how often pending consents are scanned (default: 30s)
	PollInterval time.Duration

	// MaxAttempts is how many status checks a pending consent gets before it
	// is dropped and must be requested again (default: 20)
	MaxAttempts int

	// MaxBackoff caps the per-consent delay between checks (default: 10m)
	MaxBackoff time.Duration
}

// DefaultPollerConfig returns sensible defaults
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		PollInterval: 30 * time.Second,
		MaxAttempts:  20,
		MaxBackoff:   10 * time.Minute,
	}
}

type pollState struct {
	attempts int
	nextAt   time.Time
}

// Poller re-checks consents awaiting manual approval so that they become
// usable without the client having to call again. Each consent backs off
// exponentially between checks.
type Poller struct {
	manager *Manager
	config  PollerConfig
	now     func() time.Time
	logger  *log.Logger

	stateMu sync.Mutex
	state   map[string]*pollState

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewPoller creates a poller for the pending records of manager
func NewPoller(manager *Manager, config PollerConfig, logger *log.Logger) *Poller {
	defaults := DefaultPollerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Poller{
		manager: manager,
		config:  config,
		now:     manager.now,
		logger:  logger.WithComponent(log.ComponentPoller),
		state:   make(map[string]*pollState),
	}
}

// Start begins the polling loop. Returns an error if already running.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("consent poller is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	p.logger.InfoContext(ctx, "Consent poller started",
		"poll_interval", p.config.PollInterval,
		"max_attempts", p.config.MaxAttempts)

	return nil
}

// Stop gracefully stops the poller and waits for the current pass to finish.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
		p.logger.InfoContext(ctx, "Consent poller stopped gracefully")
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Consent poller stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

// IsRunning returns whether the poller is currently running
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce checks every pending consent whose backoff has elapsed and
// returns how many were checked.
func (p *Poller) PollOnce(ctx context.Context) int {
	pending := p.manager.Pending()
	p.forgetResolved(pending)

	checked := 0
	for _, rec := range pending {
		select {
		case <-p.stopCh:
			return checked
		case <-ctx.Done():
			return checked
		default:
		}

		k := key(rec.Bank, rec.ClientID)
		st := p.stateFor(k)
		if p.now().Before(st.nextAt) {
			continue
		}

		checked++
		updated, err := p.manager.Check(ctx, rec)
		switch {
		case err != nil && errors.Is(err, core.ErrConsentDenied):
			p.logger.WarnContext(ctx, "Pending consent rejected",
				log.NewFields().WithBank(string(rec.Bank), rec.ClientID).WithError(err).ToSlice()...)
			p.forget(k)
		case err == nil && updated.Status == core.ConsentApproved:
			p.forget(k)
		default:
			p.handleStillPending(ctx, k, rec, st, err)
		}
	}
	return checked
}

func (p *Poller) handleStillPending(ctx context.Context, k string, rec core.ConsentRecord, st *pollState, err error) {
	p.stateMu.Lock()
	st.attempts++
	attempts := st.attempts
	st.nextAt = p.now().Add(p.backoff(attempts))
	p.stateMu.Unlock()

	if attempts >= p.config.MaxAttempts {
		p.manager.Invalidate(rec.Bank, rec.ClientID)
		p.forget(k)
		p.logger.ErrorContext(ctx, "Giving up on pending consent after max attempts",
			log.NewFields().WithBank(string(rec.Bank), rec.ClientID).WithError(err).ToSlice()...)
		return
	}

	if err != nil {
		p.logger.WarnContext(ctx, "Consent status check failed",
			log.FieldBank, rec.Bank, log.FieldAttempt, attempts, log.FieldError, err)
	}
}

// backoff returns PollInterval * 2^attempts, capped at MaxBackoff.
func (p *Poller) backoff(attempts int) time.Duration {
	d := p.config.PollInterval
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= p.config.MaxBackoff {
			return p.config.MaxBackoff
		}
	}
	return d
}

func (p *Poller) stateFor(k string) *pollState {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	st, ok := p.state[k]
	if !ok {
		st = &pollState{}
		p.state[k] = st
	}
	return st
}

func (p *Poller) forget(k string) {
	p.stateMu.Lock()
	delete(p.state, k)
	p.stateMu.Unlock()
}

// forgetResolved drops backoff state of consents that are no longer pending.
func (p *Poller) forgetResolved(pending []core.ConsentRecord) {
	live := make(map[string]bool, len(pending))
	for _, rec := range pending {
		live[key(rec.Bank, rec.ClientID)] = true
	}
	p.stateMu.Lock()
	for k := range p.state {
		if !live[k] {
			delete(p.state, k)
		}
	}
	p.stateMu.Unlock()
}
