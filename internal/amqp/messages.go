package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"finguru/internal/core"
)

// Routing keys of the published events.
const (
	EventCashbackActivated = "cashback.activated"
	EventConsentApproved   = "consent.approved"
)

// CashbackActivatedPayload describes a recorded cashback bonus.
type CashbackActivatedPayload struct {
	ID           string    `json:"id"`
	ClientID     string    `json:"client_id"`
	Category     string    `json:"category"`
	BonusPercent string    `json:"bonus_percent"`
	ValidUntil   time.Time `json:"valid_until"`
	ActivatedAt  time.Time `json:"activated_at"`
}

// Bonus converts the payload back into a bonus.
func (p *CashbackActivatedPayload) Bonus() (core.CashbackBonus, error) {
	percent, err := decimal.NewFromString(p.BonusPercent)
	if err != nil {
		return core.CashbackBonus{}, fmt.Errorf("bonus_percent %q: %w", p.BonusPercent, err)
	}
	if p.ID == "" || p.ClientID == "" {
		return core.CashbackBonus{}, fmt.Errorf("cashback payload without id or client_id")
	}
	return core.CashbackBonus{
		ID:           p.ID,
		ClientID:     p.ClientID,
		Category:     p.Category,
		BonusPercent: percent,
		ValidUntil:   p.ValidUntil.UTC(),
		ActivatedAt:  p.ActivatedAt.UTC(),
	}, nil
}

// ConsentApprovedPayload describes a consent that became usable after manual approval.
type ConsentApprovedPayload struct {
	Bank      string `json:"bank"`
	ClientID  string `json:"client_id"`
	ConsentID string `json:"consent_id"`
	RequestID string `json:"request_id,omitempty"`
}

// Event is the envelope of every message on the exchange. Exactly one payload is set.
type Event struct {
	Type      string                    `json:"type"`
	Timestamp time.Time                 `json:"timestamp"`
	Cashback  *CashbackActivatedPayload `json:"cashback,omitempty"`
	Consent   *ConsentApprovedPayload   `json:"consent,omitempty"`
}

// NewCashbackActivatedEvent builds the event for an activated bonus
func NewCashbackActivatedEvent(b core.CashbackBonus) *Event {
	return &Event{
		Type:      EventCashbackActivated,
		Timestamp: time.Now().UTC(),
		Cashback: &CashbackActivatedPayload{
			ID:           b.ID,
			ClientID:     b.ClientID,
			Category:     b.Category,
			BonusPercent: b.BonusPercent.String(),
			ValidUntil:   b.ValidUntil,
			ActivatedAt:  b.ActivatedAt,
		},
	}
}

// NewConsentApprovedEvent builds the event for an approved consent
func NewConsentApprovedEvent(rec core.ConsentRecord) *Event {
	return &Event{
		Type:      EventConsentApproved,
		Timestamp: time.Now().UTC(),
		Consent: &ConsentApprovedPayload{
			Bank:      string(rec.Bank),
			ClientID:  rec.ClientID,
			ConsentID: rec.ConsentID,
			RequestID: rec.RequestID,
		},
	}
}

// ToJSON converts the event to JSON bytes
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventFromJSON decodes an event and checks that its payload matches its type
func EventFromJSON(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	switch ev.Type {
	case EventCashbackActivated:
		if ev.Cashback == nil {
			return nil, fmt.Errorf("%s event without cashback payload", ev.Type)
		}
	case EventConsentApproved:
		if ev.Consent == nil {
			return nil, fmt.Errorf("%s event without consent payload", ev.Type)
		}
	default:
		return nil, fmt.Errorf("unknown event type %q", ev.Type)
	}
	return &ev, nil
}
