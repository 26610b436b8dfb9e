package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finguru/internal/app"
	"finguru/internal/config"
	"finguru/internal/core"
)

var testNow = time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)

type fakeABank struct {
	tokens atomic.Int32
}

func (f *fakeABank) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/auth/bank-token":
		n := f.tokens.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-abank-" + string(rune('0'+n)), "token_type": "bearer", "expires_in": 3600,
		})
	case "/accounts":
		_, _ = w.Write([]byte(`{"accounts":[{"account_id":"a1","currency":"rub","type":"checking","name":"Main"}]}`))
	case "/accounts/a1/balances":
		_, _ = w.Write([]byte(`{"balances":[{"account_id":"a1","amount":"1200.00","currency":"RUB","type":"available","updated_at":"2025-03-12T10:00:00Z"}]}`))
	case "/accounts/a1/transactions":
		_, _ = w.Write([]byte(`{"transactions":[` +
			`{"id":"t1","account_id":"a1","amount":"-300.00","currency":"RUB","booked_at":"2025-03-11T09:00:00Z","description":"Pyaterochka","mcc":"5411"},` +
			`{"id":"t2","account_id":"a1","amount":"5000.00","currency":"RUB","booked_at":"2025-03-10T09:00:00Z","description":"Salary"}` +
			`],"has_more":false}`))
	default:
		http.NotFound(w, r)
	}
}

type harness struct {
	bank  *fakeABank
	wired atomic.Int32
	wire  wireFunc
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{bank: &fakeABank{}}
	srv := httptest.NewServer(h.bank)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		RequestingBankID:       "team200",
		RequestingBankName:     "FinGuru App",
		ABank:                  core.BankCredential{Bank: core.ABank, BaseURL: srv.URL, ClientID: "team200", ClientSecret: "s3cret"},
		HTTPTimeout:            2 * time.Second,
		AggregationTimeout:     5 * time.Second,
		TokenExpirySkew:        time.Minute,
		ConsentTTL:             time.Hour,
		ConsentPollInterval:    time.Minute,
		ConsentPollMaxAttempts: 3,
		CashbackDefaultDays:    30,
		DataBackend:            "memory",
	}
	h.wire = func(ctx context.Context) (*app.App, error) {
		h.wired.Add(1)
		return app.New(ctx, cfg, nil, app.Options{Now: func() time.Time { return testNow }, SkipEvents: true})
	}
	return h
}

func (h *harness) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := execute(context.Background(), h.wire, args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestTokenCommand(t *testing.T) {
	h := newHarness(t)

	stdout, _, err := h.run(t, "token", "ABank")
	require.NoError(t, err)
	var tok tokenOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &tok))
	assert.Equal(t, core.ABank, tok.Bank)
	assert.Equal(t, "tok-abank-1", tok.AccessToken)
	assert.Equal(t, "2025-03-12T13:00:00Z", tok.ExpiresAt)

	stdout, _, err = h.run(t, "token", "abank", "--force")
	require.NoError(t, err)
	assert.Contains(t, stdout, "tok-abank-2")
	assert.NotContains(t, stdout, "s3cret")
}

func TestTokenCommand_UnknownBankSkipsWiring(t *testing.T) {
	h := newHarness(t)

	_, stderr, err := h.run(t, "token", "xbank")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrUnknownBank))
	assert.Contains(t, stderr, "unknown bank")
	assert.Equal(t, int32(0), h.wired.Load())
}

func TestAccountsCommand(t *testing.T) {
	h := newHarness(t)

	stdout, stderr, err := h.run(t, "accounts", "--client-id", "team200-1")
	require.NoError(t, err)
	assert.Empty(t, stderr)

	var accounts []core.Account
	require.NoError(t, json.Unmarshal([]byte(stdout), &accounts))
	require.Len(t, accounts, 1)
	assert.Equal(t, "a1", accounts[0].AccountID)
	assert.Equal(t, "RUB", accounts[0].Currency)
}

func TestAccountsCommand_Validation(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.run(t, "accounts")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "client-id" not set`)

	_, _, err = h.run(t, "accounts", "--client-id", "bad id")
	assert.True(t, errors.Is(err, core.ErrInvalidInput))

	_, _, err = h.run(t, "balances", "--client-id", "c", "--bank", "xbank")
	assert.True(t, errors.Is(err, core.ErrUnknownBank))
}

func TestTransactionsCommand(t *testing.T) {
	h := newHarness(t)

	stdout, _, err := h.run(t, "transactions", "--client-id", "team200-1", "--from", "2025-03-01")
	require.NoError(t, err)
	var txs []core.Transaction
	require.NoError(t, json.Unmarshal([]byte(stdout), &txs))
	require.Len(t, txs, 2)
	assert.Equal(t, "t1", txs[0].TransactionID)

	_, _, err = h.run(t, "transactions", "--client-id", "team200-1", "--from", "2025-03-10", "--to", "2025-03-01")
	assert.True(t, errors.Is(err, core.ErrInvalidInput))
}

func TestSummaryCommand(t *testing.T) {
	h := newHarness(t)

	stdout, _, err := h.run(t, "summary", "--client-id", "team200-1", "--period", "7d")
	require.NoError(t, err)

	var summary core.AnalyticsSummary
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.Equal(t, 7, summary.PeriodDays)
	assert.Equal(t, 1, summary.TotalAccounts)
	assert.True(t, summary.NetWorth.Equal(decimal.NewFromInt(1200)), summary.NetWorth.String())
	assert.True(t, summary.TotalSpending.Equal(decimal.NewFromInt(300)), summary.TotalSpending.String())
	assert.True(t, summary.SpendingByCategory["groceries"].Equal(decimal.NewFromInt(300)))

	_, _, err = h.run(t, "summary", "--client-id", "team200-1", "--period", "month")
	assert.True(t, errors.Is(err, core.ErrInvalidInput))
}

func TestCashbackCommands(t *testing.T) {
	h := newHarness(t)

	stdout, _, err := h.run(t, "cashback", "activate",
		"--client-id", "team200-1", "--category", "Groceries", "--percent", "5", "--valid-until", "2025-04-01")
	require.NoError(t, err)
	var bonus core.CashbackBonus
	require.NoError(t, json.Unmarshal([]byte(stdout), &bonus))
	assert.Equal(t, "groceries", bonus.Category)
	assert.True(t, bonus.ValidUntil.Equal(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)))
	assert.NotEmpty(t, bonus.ID)

	// Each invocation builds fresh services, so the memory store starts empty.
	stdout, _, err = h.run(t, "cashback", "active", "--client-id", "team200-1")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(bytes.TrimSpace([]byte(stdout))))

	_, _, err = h.run(t, "cashback", "activate", "--client-id", "c", "--category", "gas", "--percent", "lots")
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "bonus_percent", verr.Field)
}

func TestWireError(t *testing.T) {
	wire := func(ctx context.Context) (*app.App, error) {
		return nil, errors.New("configuration validation failed")
	}
	var stdout, stderr bytes.Buffer
	err := execute(context.Background(), wire, []string{"cashback", "active", "--client-id", "c"}, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initialize services")
	assert.Empty(t, stdout.String())
}
