package http

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"finguru/internal/cashback"
	"finguru/internal/core"
	"finguru/internal/log"
)

type cashbackResponse struct {
	Activated    bool            `json:"activated"`
	ID           string          `json:"id"`
	ClientID     string          `json:"client_id"`
	Category     string          `json:"category"`
	BonusPercent decimal.Decimal `json:"bonus_percent"`
	ValidUntil   time.Time       `json:"valid_until"`
	ActivatedAt  time.Time       `json:"activated_at"`
}

// handleActivateCashback serves POST /api/cashback/activate.
func (s *Server) handleActivateCashback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}

	req := cashback.ActivateRequest{
		ClientID: p.Get("client_id"),
		Category: p.Get("category"),
	}
	percent, err := p.Decimal("bonus_percent")
	if err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}
	req.BonusPercent = percent
	if v := p.Get("valid_until"); v != "" {
		t, err := ParseTime("valid_until", v)
		if err != nil {
			ErrorFor(ctx, err).Write(w)
			return
		}
		req.ValidUntil = &t
	}

	bonus, err := s.deps.Cashback.Activate(ctx, req)
	if err != nil {
		requestLogger(r).WarnContext(ctx, "Cashback activation rejected",
			log.FieldClientID, req.ClientID, log.FieldError, err)
		ErrorFor(ctx, err).Write(w)
		return
	}

	NewJSONResponse().Body(cashbackResponse{
		Activated:    true,
		ID:           bonus.ID,
		ClientID:     bonus.ClientID,
		Category:     bonus.Category,
		BonusPercent: bonus.BonusPercent,
		ValidUntil:   bonus.ValidUntil,
		ActivatedAt:  bonus.ActivatedAt,
	}).Write(w)
}

// handleActiveCashback serves GET /api/cashback/active.
func (s *Server) handleActiveCashback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID, err := ParseClientID(r.URL.Query())
	if err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}
	bonuses, err := s.deps.Cashback.Active(ctx, clientID)
	if err != nil {
		requestLogger(r).ErrorContext(ctx, "Listing active cashback failed",
			log.FieldClientID, clientID, log.FieldError, err)
		ErrorFor(ctx, err).Write(w)
		return
	}
	NewJSONResponse().Body(nonNil[core.CashbackBonus](bonuses)).Write(w)
}
