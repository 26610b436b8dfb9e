package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"finguru/internal/amqp"
	"finguru/internal/core"
	"finguru/internal/log"
)

// Ledger is where activated bonuses are recorded.
type Ledger interface {
	Save(ctx context.Context, b core.CashbackBonus) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Source delivers events until ctx is cancelled. amqp.Client satisfies it.
type Source interface {
	Consume(ctx context.Context, handler func(*amqp.Event) error) error
}

type Options struct {
	Now    func() time.Time
	Logger *log.Logger
}

// Stats counts what the worker has processed since it started.
type Stats struct {
	Recorded   int64
	Duplicates int64
	Dropped    int64
	Consents   int64
	Purged     int64
}

// EventWorker records published events into the cashback ledger and purges
// expired bonuses from it.
type EventWorker struct {
	ledger Ledger
	now    func() time.Time
	logger *log.Logger

	recorded   atomic.Int64
	duplicates atomic.Int64
	dropped    atomic.Int64
	consents   atomic.Int64
	purged     atomic.Int64
}

func NewEventWorker(ledger Ledger, opts Options) *EventWorker {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	return &EventWorker{
		ledger: ledger,
		now:    now,
		logger: logger.WithComponent(log.ComponentWorker),
	}
}

// HandleEvent processes a single event from AMQP. A returned error requeues it.
func (w *EventWorker) HandleEvent(ctx context.Context, ev *amqp.Event) error {
	switch ev.Type {
	case amqp.EventCashbackActivated:
		return w.handleCashback(ctx, ev.Cashback)
	case amqp.EventConsentApproved:
		w.handleConsent(ctx, ev.Consent)
		return nil
	default:
		w.dropped.Add(1)
		w.logger.WarnContext(ctx, "Ignoring event of unknown type", "type", ev.Type)
		return nil
	}
}

func (w *EventWorker) handleCashback(ctx context.Context, p *amqp.CashbackActivatedPayload) error {
	b, err := p.Bonus()
	if err != nil {
		w.dropped.Add(1)
		w.logger.ErrorContext(ctx, "Dropping malformed cashback event", log.FieldError, err)
		return nil
	}

	if !b.Active(w.now()) {
		w.dropped.Add(1)
		w.logger.DebugContext(ctx, "Skipping already expired cashback bonus",
			"id", b.ID, log.FieldClientID, b.ClientID)
		return nil
	}

	err = w.ledger.Save(ctx, b)
	if errors.Is(err, core.ErrDuplicate) {
		w.duplicates.Add(1)
		w.logger.DebugContext(ctx, "Cashback bonus already recorded", "id", b.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("record cashback bonus %s: %w", b.ID, err)
	}

	w.recorded.Add(1)
	w.logger.InfoContext(ctx, "Recorded cashback bonus",
		"id", b.ID,
		log.FieldClientID, b.ClientID,
		log.FieldCategory, b.Category,
		"bonus_percent", b.BonusPercent.String(),
		"valid_until", b.ValidUntil.Format(time.RFC3339))
	return nil
}

func (w *EventWorker) handleConsent(ctx context.Context, p *amqp.ConsentApprovedPayload) {
	w.consents.Add(1)
	w.logger.InfoContext(ctx, "Consent approved",
		log.FieldBank, p.Bank,
		log.FieldClientID, p.ClientID,
		log.FieldConsentID, p.ConsentID,
		"request_id", p.RequestID)
}

// PurgeExpired removes bonuses that are no longer valid from the ledger.
func (w *EventWorker) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := w.ledger.PurgeExpired(ctx, w.now())
	if err != nil {
		return 0, fmt.Errorf("purge expired bonuses: %w", err)
	}
	w.purged.Add(n)
	return n, nil
}

// Run consumes events from src and purges the ledger every purgeInterval
// until ctx is cancelled. It purges once before consuming.
func (w *EventWorker) Run(ctx context.Context, src Source, purgeInterval time.Duration) error {
	if _, err := w.PurgeExpired(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Startup purge failed", log.FieldError, err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := src.Consume(ctx, func(ev *amqp.Event) error {
			return w.HandleEvent(ctx, ev)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		ticker := time.NewTicker(purgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := w.PurgeExpired(ctx); err != nil {
					w.logger.ErrorContext(ctx, "Periodic purge failed", log.FieldError, err)
				}
			}
		}
	})

	err := g.Wait()
	stats := w.Stats()
	w.logger.Info("Event worker stopped",
		"recorded", stats.Recorded,
		"duplicates", stats.Duplicates,
		"dropped", stats.Dropped,
		"consents", stats.Consents,
		"purged", stats.Purged)
	return err
}

func (w *EventWorker) Stats() Stats {
	return Stats{
		Recorded:   w.recorded.Load(),
		Duplicates: w.duplicates.Load(),
		Dropped:    w.dropped.Load(),
		Consents:   w.consents.Load(),
		Purged:     w.purged.Load(),
	}
}
