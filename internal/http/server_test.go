package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finguru/internal/aggregation"
	"finguru/internal/analytics"
	"finguru/internal/cashback"
	"finguru/internal/core"
	"finguru/internal/metrics"
)

var testNow = time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC)

type fakeTokens struct {
	refreshes atomic.Int32
	err       error
}

func (f *fakeTokens) Get(ctx context.Context, bank core.BankID) (core.CachedToken, error) {
	if f.err != nil {
		return core.CachedToken{}, f.err
	}
	return core.CachedToken{Bank: bank, AccessToken: "cached-" + string(bank), TokenType: "bearer", IssuedAt: testNow, ExpiresIn: time.Hour}, nil
}

func (f *fakeTokens) Refresh(ctx context.Context, bank core.BankID) (core.CachedToken, error) {
	f.refreshes.Add(1)
	return core.CachedToken{Bank: bank, AccessToken: "fresh-" + string(bank), TokenType: "bearer", IssuedAt: testNow, ExpiresIn: 24 * time.Hour}, nil
}

type fakeConsents struct {
	rec core.ConsentRecord
	err error
}

func (f *fakeConsents) Request(ctx context.Context, bank core.BankID, clientID string, permissions []string) (core.ConsentRecord, error) {
	if f.err != nil {
		return core.ConsentRecord{}, f.err
	}
	rec := f.rec
	rec.Bank, rec.ClientID, rec.Permissions = bank, clientID, permissions
	return rec, nil
}

type fakeAggregator struct {
	banks     []core.BankID
	accounts  []core.Account
	balances  []core.Balance
	txs       []core.Transaction
	failures  []core.PartialFailure
	err       error
	lastQuery aggregation.Query
	snapshots atomic.Int32
}

func (f *fakeAggregator) Banks() []core.BankID { return f.banks }

func (f *fakeAggregator) AggregateAccounts(ctx context.Context, q aggregation.Query) (aggregation.Result[core.Account], error) {
	f.lastQuery = q
	return aggregation.Result[core.Account]{Items: f.accounts, Failures: f.failures}, f.err
}

func (f *fakeAggregator) AggregateBalances(ctx context.Context, q aggregation.Query) (aggregation.Result[core.Balance], error) {
	f.lastQuery = q
	return aggregation.Result[core.Balance]{Items: f.balances, Failures: f.failures}, f.err
}

func (f *fakeAggregator) AggregateTransactions(ctx context.Context, q aggregation.Query) (aggregation.Result[core.Transaction], error) {
	f.lastQuery = q
	return aggregation.Result[core.Transaction]{Items: f.txs, Failures: f.failures}, f.err
}

func (f *fakeAggregator) Snapshot(ctx context.Context, q aggregation.Query) (aggregation.Snapshot, error) {
	f.lastQuery = q
	f.snapshots.Add(1)
	return aggregation.Snapshot{Accounts: f.accounts, Balances: f.balances, Transactions: f.txs, Failures: f.failures}, f.err
}

type testEnv struct {
	srv      *Server
	tokens   *fakeTokens
	consents *fakeConsents
	agg      *fakeAggregator
	metrics  *metrics.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	now := func() time.Time { return testNow }
	env := &testEnv{
		tokens:   &fakeTokens{},
		consents: &fakeConsents{rec: core.ConsentRecord{ConsentID: "consent-1", Status: core.ConsentApproved, AutoApproved: true}},
		agg:      &fakeAggregator{banks: []core.BankID{core.VBank, core.ABank, core.SBank}},
		metrics:  metrics.New(),
	}
	env.srv = NewServer(":0", Deps{
		Tokens:     env.tokens,
		Consents:   env.consents,
		Aggregator: env.agg,
		Analytics:  analytics.NewEngine(now),
		Cashback:   cashback.NewService(cashback.NewMemoryStore(), cashback.Options{Now: now}),
	}, Options{Now: now, Metrics: env.metrics})
	t.Cleanup(func() { _ = env.srv.Shutdown(context.Background()) })
	return env
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[readyResponse](t, rec)
	assert.Equal(t, "ready", ready.Status)
	assert.Equal(t, []core.BankID{core.VBank, core.ABank, core.SBank}, ready.Banks)
}

func TestReady_FailingCheck(t *testing.T) {
	env := newTestEnv(t)
	env.srv.deps.ReadyChecks = map[string]func(context.Context) error{
		"storage": func(context.Context) error { return errors.New("database is locked") },
	}

	rec := env.do(http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	ready := decode[readyResponse](t, rec)
	assert.Equal(t, "unready", ready.Status)
	assert.Equal(t, "database is locked", ready.Checks["storage"])
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/healthz", "")

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.True(t, strings.HasPrefix(rec.Header().Get("X-Request-ID"), "req_"))
}

func TestIssueToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/tokens/VBank", "")
	require.Equal(t, http.StatusOK, rec.Code)
	tok := decode[tokenResponse](t, rec)
	assert.Equal(t, "cached-vbank", tok.AccessToken)
	assert.Equal(t, core.VBank, tok.Bank)
	assert.EqualValues(t, 3600, tok.ExpiresIn)
	assert.Equal(t, int32(0), env.tokens.refreshes.Load())

	rec = env.do(http.MethodPost, "/api/tokens/sbank?force_refresh=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	tok = decode[tokenResponse](t, rec)
	assert.Equal(t, "fresh-sbank", tok.AccessToken)
	assert.Equal(t, int32(1), env.tokens.refreshes.Load())
}

func TestIssueToken_Errors(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/tokens/xbank", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/api/tokens/vbank", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	env.tokens.err = fmt.Errorf("%w: vbank token", core.ErrUpstreamTimeout)
	rec = env.do(http.MethodPost, "/api/tokens/vbank", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	env.tokens.err = &core.BankError{Bank: core.VBank, Op: "issue_token", StatusCode: 401, Err: core.ErrUpstreamAuth}
	rec = env.do(http.MethodPost, "/api/tokens/vbank", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestRequestConsent(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/consents/accounts", `{"bank":"vbank","client_id":"team200-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[consentResponse](t, rec)
	assert.Equal(t, "consent-1", got.ConsentID)
	assert.Equal(t, core.ConsentApproved, got.Status)
	assert.True(t, got.AutoApproved)
	assert.Equal(t, core.DefaultPermissions, got.Permissions)
}

func TestRequestConsent_Pending(t *testing.T) {
	env := newTestEnv(t)
	env.consents.rec = core.ConsentRecord{RequestID: "req-7", Status: core.ConsentPending}

	rec := env.do(http.MethodPost, "/api/consents/accounts", `{"bank":"sbank","client_id":"team200-1","permissions":["ReadBalances"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[consentResponse](t, rec)
	assert.Equal(t, core.ConsentPending, got.Status)
	assert.Equal(t, "req-7", got.RequestID)
	assert.Empty(t, got.ConsentID)
	assert.Equal(t, []string{"ReadBalances"}, got.Permissions)
}

func TestRequestConsent_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
	}{
		{"unknown bank", `{"bank":"xbank","client_id":"c"}`, nil, http.StatusBadRequest},
		{"bad client id", `{"bank":"vbank","client_id":"a b"}`, nil, http.StatusBadRequest},
		{"malformed body", `{"bank":`, nil, http.StatusBadRequest},
		{"denied", `{"bank":"vbank","client_id":"c"}`, &core.BankError{Bank: core.VBank, Op: "request_consent", StatusCode: 403, Err: core.ErrConsentDenied}, http.StatusForbidden},
		{"upstream", `{"bank":"vbank","client_id":"c"}`, &core.BankError{Bank: core.VBank, Op: "request_consent", StatusCode: 500, Err: core.ErrUpstream}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.consents.err = tt.err
			rec := env.do(http.MethodPost, "/api/consents/accounts", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestAggregateAccounts(t *testing.T) {
	env := newTestEnv(t)
	env.agg.accounts = []core.Account{
		{AccountID: "v1", Bank: core.VBank, Currency: "RUB", AccountType: "checking"},
		{AccountID: "s1", Bank: core.SBank, Currency: "RUB", AccountType: "savings"},
	}
	env.agg.failures = []core.PartialFailure{{Bank: core.ABank, Reason: core.ReasonTimeout}}

	rec := env.do(http.MethodGet, "/api/accounts/aggregate?client_id=team200-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abank=timeout", rec.Header().Get(PartialFailuresHeader))
	accounts := decode[[]core.Account](t, rec)
	assert.Len(t, accounts, 2)
	assert.Equal(t, "team200-1", env.agg.lastQuery.ClientID)
	assert.Empty(t, env.agg.lastQuery.Banks)
}

func TestAggregateAccounts_EmptyIsArray(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/api/accounts/aggregate?client_id=team200-1&bank=vbank", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
	assert.Equal(t, []core.BankID{core.VBank}, env.agg.lastQuery.Banks)
}

func TestAggregate_AllBanksDown(t *testing.T) {
	env := newTestEnv(t)
	failures := []core.PartialFailure{
		{Bank: core.VBank, Reason: core.ReasonTimeout},
		{Bank: core.ABank, Reason: core.ReasonAuth},
		{Bank: core.SBank, Reason: core.ReasonUpstream},
	}
	env.agg.failures = failures
	env.agg.err = &core.AllBanksError{Failures: failures}

	for _, path := range []string{"/api/accounts/aggregate", "/api/balances/aggregate", "/api/transactions/aggregate"} {
		rec := env.do(http.MethodGet, path+"?client_id=team200-1", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
		assert.Equal(t, "vbank=timeout,abank=auth_error,sbank=upstream_error", rec.Header().Get(PartialFailuresHeader), path)
	}

	rec := env.do(http.MethodGet, "/api/analytics/summary?client_id=team200-1", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[ErrorBody](t, rec)
	assert.Equal(t, CodeAllBanksDown, body.Code)
}

func TestAggregate_Validation(t *testing.T) {
	env := newTestEnv(t)
	tests := []string{
		"/api/accounts/aggregate",
		"/api/accounts/aggregate?client_id=bad%20id",
		"/api/balances/aggregate?client_id=c&bank=xbank",
		"/api/transactions/aggregate?client_id=c&from=2025-03-10&to=2025-03-01",
		"/api/transactions/aggregate?client_id=c&from=yesterday",
		"/api/analytics/summary?client_id=c&period=0d",
		"/api/analytics/summary?client_id=c&period=month",
	}
	for _, target := range tests {
		rec := env.do(http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Equal(t, CodeInvalidInput, decode[ErrorBody](t, rec).Code, target)
	}
}

func TestAggregateTransactions_Range(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/transactions/aggregate?client_id=c", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.agg.lastQuery.To.Equal(testNow))
	assert.True(t, env.agg.lastQuery.From.Equal(testNow.AddDate(0, 0, -30)))

	rec = env.do(http.MethodGet, "/api/transactions/aggregate?client_id=c&from=2025-03-01&to=2025-03-05T10:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.agg.lastQuery.From.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, env.agg.lastQuery.To.Equal(time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)))
}

func TestAnalyticsSummary(t *testing.T) {
	env := newTestEnv(t)
	mcc := "5812"
	uber := "Uber trip"
	env.agg.accounts = []core.Account{{AccountID: "v1", Bank: core.VBank}}
	env.agg.balances = []core.Balance{{AccountID: "v1", Bank: core.VBank, Amount: decimal.RequireFromString("1000.50"), DateTime: testNow}}
	env.agg.txs = []core.Transaction{
		{TransactionID: "t1", AccountID: "v1", Bank: core.VBank, Amount: decimal.RequireFromString("-150.00"), BookingDate: testNow.AddDate(0, 0, -1), MCC: &mcc},
		{TransactionID: "t2", AccountID: "v1", Bank: core.VBank, Amount: decimal.RequireFromString("-50.00"), BookingDate: testNow.AddDate(0, 0, -2), Description: &uber},
	}

	rec := env.do(http.MethodGet, "/api/analytics/summary?client_id=team200-1&period=7d", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "miss", rec.Header().Get("X-Cache"))
	summary := decode[core.AnalyticsSummary](t, rec)
	assert.True(t, summary.TotalSpending.Equal(decimal.NewFromInt(200)), summary.TotalSpending.String())
	assert.True(t, summary.NetWorth.Equal(decimal.RequireFromString("1000.50")))
	assert.Equal(t, 7, summary.PeriodDays)
	assert.Equal(t, 1, summary.TotalAccounts)
	assert.True(t, env.agg.lastQuery.From.Equal(testNow.AddDate(0, 0, -7)))

	rec = env.do(http.MethodGet, "/api/analytics/summary?client_id=team200-1&period=7d", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hit", rec.Header().Get("X-Cache"))
	assert.Equal(t, int32(1), env.agg.snapshots.Load())
}

func TestAnalyticsSummary_PartialIsNotCached(t *testing.T) {
	env := newTestEnv(t)
	env.agg.failures = []core.PartialFailure{{Bank: core.SBank, Reason: core.ReasonConsentPending}}

	for i := 0; i < 2; i++ {
		rec := env.do(http.MethodGet, "/api/analytics/summary?client_id=team200-1", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "sbank=consent_pending", rec.Header().Get(PartialFailuresHeader))
		assert.Equal(t, "miss", rec.Header().Get("X-Cache"))
	}
	assert.Equal(t, int32(2), env.agg.snapshots.Load())
}

func TestActivateCashback(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/cashback/activate", `{"client_id":"team200-1","category":"Groceries","bonus_percent":5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[cashbackResponse](t, rec)
	assert.True(t, got.Activated)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "groceries", got.Category)
	assert.True(t, got.BonusPercent.Equal(decimal.NewFromInt(5)))
	assert.True(t, got.ActivatedAt.Equal(testNow))
	assert.True(t, got.ValidUntil.Equal(testNow.AddDate(0, 0, 30)))

	rec = env.do(http.MethodGet, "/api/cashback/active?client_id=team200-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	active := decode[[]core.CashbackBonus](t, rec)
	require.Len(t, active, 1)
	assert.Equal(t, got.ID, active[0].ID)
}

func TestActivateCashback_ExplicitValidUntil(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/cashback/activate", `{"client_id":"c","category":"gas","bonus_percent":"2.5","valid_until":"2025-04-01"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[cashbackResponse](t, rec)
	assert.True(t, got.ValidUntil.Equal(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)))
}

func TestActivateCashback_Invalid(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		body  string
		field string
	}{
		{`{"category":"gas","bonus_percent":5}`, "client_id"},
		{`{"client_id":"c","bonus_percent":5}`, "category"},
		{`{"client_id":"c","category":"gas!","bonus_percent":5}`, "category"},
		{`{"client_id":"c","category":"gas"}`, "bonus_percent"},
		{`{"client_id":"c","category":"gas","bonus_percent":101}`, "bonus_percent"},
		{`{"client_id":"c","category":"gas","bonus_percent":"lots"}`, "bonus_percent"},
		{`{"client_id":"c","category":"gas","bonus_percent":5,"valid_until":"soon"}`, "valid_until"},
		{`{"client_id":"c","category":"gas","bonus_percent":5,"valid_until":"2025-01-01"}`, "valid_until"},
	}
	for _, tt := range tests {
		rec := env.do(http.MethodPost, "/api/cashback/activate", tt.body)
		require.Equal(t, http.StatusBadRequest, rec.Code, tt.body)
		assert.Equal(t, tt.field, decode[ErrorBody](t, rec).Field, tt.body)
	}
}

func TestRateLimit(t *testing.T) {
	now := func() time.Time { return testNow }
	srv := NewServer(":0", Deps{
		Aggregator: &fakeAggregator{},
		Cashback:   cashback.NewService(cashback.NewMemoryStore(), cashback.Options{Now: now}),
	}, Options{Now: now, RateLimitPerMinute: 2})
	defer srv.Shutdown(context.Background())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/cashback/active?client_id=c", nil)
		req.RemoteAddr = "203.0.113.9:4000"
		rec := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			assert.NotEmpty(t, rec.Header().Get("Retry-After"))
			assert.Equal(t, CodeRateLimited, decode[ErrorBody](t, rec).Code)
		}
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Health checks are not limited.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(http.MethodGet, "/api/accounts/aggregate?client_id=c", "")

	rec := env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="GET /api/accounts/aggregate"`)
}
