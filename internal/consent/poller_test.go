package consent

import (
	"context"
	"testing"
	"time"

	"finguru/internal/core"
)

func TestDefaultPollerConfig(t *testing.T) {
	config := DefaultPollerConfig()

	if config.PollInterval != 30*time.Second {
		t.Errorf("expected PollInterval 30s, got %v", config.PollInterval)
	}
	if config.MaxAttempts != 20 {
		t.Errorf("expected MaxAttempts 20, got %d", config.MaxAttempts)
	}
	if config.MaxBackoff != 10*time.Minute {
		t.Errorf("expected MaxBackoff 10m, got %v", config.MaxBackoff)
	}
}

func TestPoller_Backoff(t *testing.T) {
	p := NewPoller(NewManager(nil, staticTokens{}, Options{}), PollerConfig{
		PollInterval: time.Second,
		MaxAttempts:  5,
		MaxBackoff:   10 * time.Second,
	}, nil)

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{30, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := p.backoff(tt.attempts); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestPoller_StartTwice(t *testing.T) {
	p := NewPoller(NewManager(nil, staticTokens{}, Options{}), PollerConfig{PollInterval: 10 * time.Millisecond}, nil)

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if err := p.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}
	if !p.IsRunning() {
		t.Error("poller should be running")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if p.IsRunning() {
		t.Error("poller should not be running after Stop")
	}
}

func TestPoller_ApprovesAfterBackoff(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	bank := pendingBank()
	bank.status = func(n int32, rec core.ConsentRecord) (core.ConsentRecord, error) {
		if n < 2 {
			return rec, nil
		}
		rec.Status = core.ConsentApproved
		rec.ConsentID = "consent-ok"
		return rec, nil
	}
	notifier := &recordingNotifier{}
	m := NewManager([]Bank{bank}, staticTokens{}, Options{Now: clock, Notifier: notifier})
	p := NewPoller(m, PollerConfig{PollInterval: time.Second, MaxAttempts: 10, MaxBackoff: time.Minute}, nil)

	if _, err := m.Ensure(context.Background(), core.SBank, "team200-1", nil); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	if n := p.PollOnce(context.Background()); n != 1 {
		t.Fatalf("first pass checked %d, want 1", n)
	}
	// Still inside the backoff window: nothing is checked.
	if n := p.PollOnce(context.Background()); n != 0 {
		t.Fatalf("second pass checked %d, want 0", n)
	}

	now = now.Add(5 * time.Second)
	if n := p.PollOnce(context.Background()); n != 1 {
		t.Fatalf("third pass checked %d, want 1", n)
	}

	id, err := m.Get(context.Background(), core.SBank, "team200-1", nil)
	if err != nil {
		t.Fatalf("expected approved consent, got %v", err)
	}
	if id != "consent-ok" {
		t.Errorf("consent id = %q, want consent-ok", id)
	}
	if len(m.Pending()) != 0 {
		t.Errorf("no consent should remain pending")
	}
	if len(notifier.approved) != 1 {
		t.Errorf("expected one approval notification, got %d", len(notifier.approved))
	}
}

func TestPoller_GivesUpAfterMaxAttempts(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	bank := pendingBank()
	m := NewManager([]Bank{bank}, staticTokens{}, Options{Now: clock})
	p := NewPoller(m, PollerConfig{PollInterval: time.Second, MaxAttempts: 2, MaxBackoff: time.Second}, nil)

	if _, err := m.Ensure(context.Background(), core.SBank, "team200-1", nil); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	p.PollOnce(context.Background())
	now = now.Add(time.Minute)
	p.PollOnce(context.Background())

	if len(m.Pending()) != 0 {
		t.Fatal("pending consent should be dropped after max attempts")
	}

	// The next data call submits a fresh request.
	_, err := m.Get(context.Background(), core.SBank, "team200-1", nil)
	if err == nil {
		t.Fatal("expected pending error")
	}
	if got := bank.requests.Load(); got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
}

func TestPoller_DropsRejectedConsent(t *testing.T) {
	bank := pendingBank()
	bank.status = func(n int32, rec core.ConsentRecord) (core.ConsentRecord, error) {
		return rec, &core.BankError{Bank: core.SBank, Op: "consent_status", Err: core.ErrConsentDenied}
	}
	m := NewManager([]Bank{bank}, staticTokens{}, Options{})
	p := NewPoller(m, PollerConfig{PollInterval: time.Second}, nil)

	if _, err := m.Ensure(context.Background(), core.SBank, "team200-1", nil); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	p.PollOnce(context.Background())

	if len(m.Pending()) != 0 {
		t.Fatal("rejected consent must be removed")
	}
}
