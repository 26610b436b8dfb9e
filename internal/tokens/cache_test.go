package tokens

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finguru/internal/banks"
	"finguru/internal/core"
)

type fakeIssuer struct {
	bank  core.BankID
	calls atomic.Int32
	delay time.Duration
	err   error
	now   func() time.Time
	ttl   time.Duration
}

func (f *fakeIssuer) ID() core.BankID { return f.bank }

func (f *fakeIssuer) IssueToken(ctx context.Context) (core.CachedToken, error) {
	n := f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return core.CachedToken{}, f.err
	}
	return core.CachedToken{
		Bank:        f.bank,
		AccessToken: fmt.Sprintf("%s-tok-%d", f.bank, n),
		IssuedAt:    f.now(),
		ExpiresIn:   f.ttl,
	}, nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *clock {
	return &clock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func TestGetReusesValidToken(t *testing.T) {
	clk := newClock()
	issuer := &fakeIssuer{bank: core.VBank, now: clk.Now, ttl: time.Hour}
	cache := New([]Issuer{issuer}, Options{Skew: time.Minute, Now: clk.Now})

	first, err := cache.Get(context.Background(), core.VBank)
	require.NoError(t, err)
	second, err := cache.Get(context.Background(), core.VBank)
	require.NoError(t, err)

	assert.Equal(t, first.AccessToken, second.AccessToken)
	assert.Equal(t, int32(1), issuer.calls.Load())
}

func TestGetRefreshesExpiredToken(t *testing.T) {
	clk := newClock()
	issuer := &fakeIssuer{bank: core.VBank, now: clk.Now, ttl: time.Hour}
	cache := New([]Issuer{issuer}, Options{Skew: time.Minute, Now: clk.Now})

	first, err := cache.AccessToken(context.Background(), core.VBank)
	require.NoError(t, err)

	// Inside the skew window the token counts as expired.
	clk.Advance(time.Hour - 30*time.Second)
	second, err := cache.AccessToken(context.Background(), core.VBank)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, int32(2), issuer.calls.Load())
}

func TestConcurrentGetIssuesOnce(t *testing.T) {
	clk := newClock()
	issuer := &fakeIssuer{bank: core.SBank, now: clk.Now, ttl: time.Hour, delay: 50 * time.Millisecond}
	cache := New([]Issuer{issuer}, Options{Now: clk.Now})

	const callers = 10
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = cache.AccessToken(context.Background(), core.SBank)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, tokens[0], tokens[i])
	}
	assert.Equal(t, int32(1), issuer.calls.Load())
}

func TestDistinctBanksRefreshIndependently(t *testing.T) {
	clk := newClock()
	slow := &fakeIssuer{bank: core.VBank, now: clk.Now, ttl: time.Hour, delay: 200 * time.Millisecond}
	fast := &fakeIssuer{bank: core.ABank, now: clk.Now, ttl: time.Hour}
	cache := New([]Issuer{slow, fast}, Options{Now: clk.Now})

	go cache.Get(context.Background(), core.VBank)
	time.Sleep(10 * time.Millisecond)

	start := time.Now()
	_, err := cache.Get(context.Background(), core.ABank)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 150*time.Millisecond, "abank must not wait for vbank")
}

func TestRefreshForcesIssuance(t *testing.T) {
	clk := newClock()
	issuer := &fakeIssuer{bank: core.VBank, now: clk.Now, ttl: time.Hour}
	cache := New([]Issuer{issuer}, Options{Now: clk.Now})

	_, err := cache.Get(context.Background(), core.VBank)
	require.NoError(t, err)
	_, err = cache.Refresh(context.Background(), core.VBank)
	require.NoError(t, err)
	assert.Equal(t, int32(2), issuer.calls.Load())

	cache.Invalidate(core.VBank)
	_, err = cache.Get(context.Background(), core.VBank)
	require.NoError(t, err)
	assert.Equal(t, int32(3), issuer.calls.Load())
}

func TestGetPropagatesAuthError(t *testing.T) {
	clk := newClock()
	issuer := &fakeIssuer{bank: core.VBank, now: clk.Now, err: &core.BankError{Bank: core.VBank, Op: "issue_token", Err: core.ErrUpstreamAuth}}
	cache := New([]Issuer{issuer}, Options{Now: clk.Now})

	_, err := cache.Get(context.Background(), core.VBank)
	assert.ErrorIs(t, err, core.ErrUpstreamAuth)

	_, err = cache.Get(context.Background(), core.SBank)
	assert.ErrorIs(t, err, core.ErrBankNotConfigured)
}

func TestWaiterDeadlineDoesNotCancelFlight(t *testing.T) {
	clk := newClock()
	issuer := &fakeIssuer{bank: core.VBank, now: clk.Now, ttl: time.Hour, delay: 100 * time.Millisecond}
	cache := New([]Issuer{issuer}, Options{Now: clk.Now})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := cache.Get(ctx, core.VBank)
	assert.True(t, errors.Is(err, core.ErrUpstreamTimeout))

	// The abandoned flight still completes and populates the cache.
	time.Sleep(150 * time.Millisecond)
	_, err = cache.Get(context.Background(), core.VBank)
	require.NoError(t, err)
	assert.Equal(t, int32(1), issuer.calls.Load())
}

func TestConcurrentGetAgainstBankServer(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(30 * time.Millisecond)
		w.Write([]byte(`{"access_token": "tok", "expires_in": 3600}`))
	}))
	defer srv.Close()

	client, err := banks.New(core.BankCredential{Bank: core.VBank, BaseURL: srv.URL, ClientID: "id", ClientSecret: "s"}, banks.Options{Timeout: time.Second})
	require.NoError(t, err)
	cache := New([]Issuer{client}, Options{Skew: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Get(context.Background(), core.VBank)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
}
