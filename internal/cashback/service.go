// Package cashback records category cashback bonuses activated by clients.
package cashback

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"finguru/internal/core"
	"finguru/internal/log"
	"finguru/internal/metrics"
)

const defaultValidity = 30 * 24 * time.Hour

// Store persists bonuses. Implementations must be safe for concurrent use.
type Store interface {
	Save(ctx context.Context, b core.CashbackBonus) error
	// ListActive returns the client's bonuses with valid_until after now, in
	// activation order.
	ListActive(ctx context.Context, clientID string, now time.Time) ([]core.CashbackBonus, error)
}

// Publisher is told about every activation.
type Publisher interface {
	CashbackActivated(ctx context.Context, b core.CashbackBonus) error
}

type Options struct {
	// DefaultValidity is added to the activation time when no valid_until is given.
	DefaultValidity time.Duration
	Now             func() time.Time
	Publisher       Publisher
	Metrics         *metrics.Metrics
	Logger          *log.Logger
}

type ActivateRequest struct {
	ClientID     string
	Category     string
	BonusPercent decimal.Decimal
	ValidUntil   *time.Time
}

type Service struct {
	store     Store
	validity  time.Duration
	now       func() time.Time
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *log.Logger
}

func NewService(store Store, opts Options) *Service {
	validity := opts.DefaultValidity
	if validity <= 0 {
		validity = defaultValidity
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	return &Service{
		store:     store,
		validity:  validity,
		now:       now,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		logger:    logger.WithComponent(log.ComponentCashback),
	}
}

// Activate validates and records a bonus. It does no eligibility checks.
func (s *Service) Activate(ctx context.Context, req ActivateRequest) (core.CashbackBonus, error) {
	if err := core.ValidateClientID(req.ClientID); err != nil {
		return core.CashbackBonus{}, err
	}
	category, err := core.NormalizeCategory(req.Category)
	if err != nil {
		return core.CashbackBonus{}, err
	}
	if err := core.ValidateBonusPercent(req.BonusPercent); err != nil {
		return core.CashbackBonus{}, err
	}

	activatedAt := s.now().UTC()
	validUntil := activatedAt.Add(s.validity)
	if req.ValidUntil != nil {
		validUntil = req.ValidUntil.UTC()
		if !validUntil.After(activatedAt) {
			return core.CashbackBonus{}, core.Invalid("valid_until", "must be in the future")
		}
	}

	bonus := core.CashbackBonus{
		ID:           uuid.NewString(),
		ClientID:     req.ClientID,
		Category:     category,
		BonusPercent: req.BonusPercent,
		ValidUntil:   validUntil,
		ActivatedAt:  activatedAt,
	}
	if err := s.store.Save(ctx, bonus); err != nil {
		return core.CashbackBonus{}, fmt.Errorf("save cashback bonus: %w", err)
	}

	s.metrics.ObserveCashbackActivated()
	s.logger.InfoContext(ctx, "Cashback activated",
		log.FieldClientID, bonus.ClientID,
		log.FieldCategory, bonus.Category,
		"bonus_percent", bonus.BonusPercent.String(),
		"valid_until", bonus.ValidUntil)

	if s.publisher != nil {
		if err := s.publisher.CashbackActivated(ctx, bonus); err != nil {
			s.logger.WarnContext(ctx, "Failed to publish cashback activation",
				log.FieldClientID, bonus.ClientID, log.FieldError, err)
		}
	}
	return bonus, nil
}

// Active lists the client's unexpired bonuses.
func (s *Service) Active(ctx context.Context, clientID string) ([]core.CashbackBonus, error) {
	if err := core.ValidateClientID(clientID); err != nil {
		return nil, err
	}
	bonuses, err := s.store.ListActive(ctx, clientID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("list cashback bonuses: %w", err)
	}
	return bonuses, nil
}

// BonusForCategory returns the earliest activated unexpired bonus for category.
func (s *Service) BonusForCategory(ctx context.Context, clientID, category string) (core.CashbackBonus, bool, error) {
	active, err := s.Active(ctx, clientID)
	if err != nil {
		return core.CashbackBonus{}, false, err
	}
	category = strings.ToLower(strings.TrimSpace(category))
	for _, b := range active {
		if b.Category == category {
			return b, true, nil
		}
	}
	return core.CashbackBonus{}, false, nil
}
