package http

import (
	"context"
	"net/http"
	"sort"
	"time"

	"finguru/internal/core"
	"finguru/internal/log"
)

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   int64       `json:"expires_in"`
	ExpiresAt   time.Time   `json:"expires_at"`
	Bank        core.BankID `json:"bank"`
}

type consentResponse struct {
	Bank         core.BankID        `json:"bank"`
	ClientID     string             `json:"client_id"`
	ConsentID    string             `json:"consent_id,omitempty"`
	RequestID    string             `json:"request_id,omitempty"`
	Status       core.ConsentStatus `json:"status"`
	AutoApproved bool               `json:"auto_approved"`
	Permissions  []string           `json:"permissions"`
}

type readyResponse struct {
	Status string            `json:"status"`
	Banks  []core.BankID     `json:"banks"`
	Checks map[string]string `json:"checks,omitempty"`
}

// handleIssueToken serves POST /api/tokens/{bank}. force_refresh=true
// bypasses the cached token.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bank, err := ParseBank(r.PathValue("bank"))
	if err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}

	force := ParseBool(r.URL.Query(), "force_refresh")
	var tok core.CachedToken
	if force {
		tok, err = s.deps.Tokens.Refresh(ctx, bank)
	} else {
		tok, err = s.deps.Tokens.Get(ctx, bank)
	}
	if err != nil {
		requestLogger(r).WarnContext(ctx, "Token request failed",
			log.FieldBank, bank, "force_refresh", force, log.FieldError, err)
		ErrorFor(ctx, err).Write(w)
		return
	}

	NewJSONResponse().Body(tokenResponse{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		ExpiresIn:   int64(tok.ExpiresIn / time.Second),
		ExpiresAt:   tok.ExpiresAt().UTC(),
		Bank:        tok.Bank,
	}).Write(w)
}

// handleRequestConsent serves POST /api/consents/accounts. A consent waiting
// for manual approval is a success with status "pending".
func (s *Server) handleRequestConsent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}

	bank, err := ParseBank(p.Get("bank"))
	if err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}
	clientID := p.Get("client_id")
	if err := core.ValidateClientID(clientID); err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}
	permissions := p.Strings("permissions")
	if len(permissions) == 0 {
		permissions = core.DefaultPermissions
	}

	rec, err := s.deps.Consents.Request(ctx, bank, clientID, permissions)
	if err != nil {
		requestLogger(r).WarnContext(ctx, "Consent request failed",
			log.NewFields().WithBank(string(bank), clientID).WithError(err).ToSlice()...)
		ErrorFor(ctx, err).Write(w)
		return
	}

	NewJSONResponse().Body(consentResponse{
		Bank:         rec.Bank,
		ClientID:     rec.ClientID,
		ConsentID:    rec.ConsentID,
		RequestID:    rec.RequestID,
		Status:       rec.Status,
		AutoApproved: rec.AutoApproved,
		Permissions:  nonNil(rec.Permissions),
	}).Write(w)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady reports the configured banks and runs the registered checks.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
	defer cancel()

	resp := readyResponse{Status: "ready", Banks: nonNil(s.deps.Aggregator.Banks())}
	status := http.StatusOK

	names := make([]string, 0, len(s.deps.ReadyChecks))
	for name := range s.deps.ReadyChecks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if resp.Checks == nil {
			resp.Checks = make(map[string]string, len(names))
		}
		if err := s.deps.ReadyChecks[name](ctx); err != nil {
			requestLogger(r).WarnContext(ctx, "Readiness check failed", "check", name, log.FieldError, err)
			resp.Checks[name] = err.Error()
			resp.Status = "unready"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	if len(resp.Banks) == 0 {
		resp.Status = "unready"
		status = http.StatusServiceUnavailable
	}

	NewJSONResponse().Status(status).Body(resp).Write(w)
}
