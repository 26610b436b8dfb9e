package banks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"finguru/internal/core"
	"finguru/internal/log"
	"finguru/internal/metrics"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultTokenTTL     = 86400 * time.Second
	maxResponseBytes    = 8 << 20
	maxErrorDetailBytes = 256

	// Transactions are paged; limit is the largest page the sandboxes accept.
	pageLimit = 500
	maxPages  = 20
)

// transport is the HTTP plumbing shared by all variants.
type transport struct {
	cred           core.BankCredential
	requestingBank string
	requestingName string
	timeout        time.Duration
	httpClient     *http.Client
	metrics        *metrics.Metrics
	logger         *log.StructuredLogger
	now            func() time.Time
}

type call struct {
	op      string
	method  string
	path    string
	query   url.Values
	token   string
	consent string
	body    any
}

func newTransport(cred core.BankCredential, opts Options) *transport {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	name := opts.RequestingBankName
	if name == "" {
		name = "FinGuru App"
	}
	cred.BaseURL = strings.TrimRight(cred.BaseURL, "/")
	return &transport{
		cred:           cred,
		requestingBank: opts.RequestingBankID,
		requestingName: name,
		timeout:        timeout,
		httpClient:     client,
		metrics:        opts.Metrics,
		logger:         log.NewStructuredLogger(logger.WithComponent(log.ComponentBank)),
		now:            now,
	}
}

func (t *transport) ID() core.BankID {
	return t.cred.Bank
}

// do performs one upstream call bounded by the per-call deadline and decodes
// the JSON response into out. Failures are returned as *core.BankError.
func (t *transport) do(ctx context.Context, c call, out any) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var body io.Reader
	if c.body != nil {
		payload, err := json.Marshal(c.body)
		if err != nil {
			return t.wrap(c.op, 0, fmt.Errorf("%w: encode request: %v", core.ErrUpstream, err))
		}
		body = bytes.NewReader(payload)
	}

	target := t.cred.BaseURL + c.path
	if len(c.query) > 0 {
		target += "?" + c.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, c.method, target, body)
	if err != nil {
		return t.wrap(c.op, 0, fmt.Errorf("%w: build request: %v", core.ErrUpstream, err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if t.requestingBank != "" {
		req.Header.Set("X-Requesting-Bank", t.requestingBank)
	}
	if c.consent != "" {
		req.Header.Set("X-Consent-Id", c.consent)
	}

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return t.finish(ctx, c.op, 0, start, classifyTransportError(ctx, err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return t.finish(ctx, c.op, resp.StatusCode, start, classifyTransportError(ctx, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return t.finish(ctx, c.op, resp.StatusCode, start, classifyStatus(c.op, resp.StatusCode, payload))
	}

	if out != nil && len(bytes.TrimSpace(payload)) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return t.finish(ctx, c.op, resp.StatusCode, start, fmt.Errorf("%w: decode response: %v", core.ErrUpstream, err))
		}
	}
	return t.finish(ctx, c.op, resp.StatusCode, start, nil)
}

func (t *transport) finish(ctx context.Context, op string, status int, start time.Time, err error) error {
	// Token endpoint failures other than timeouts all mean we could not authenticate.
	if err != nil && op == log.OpIssueToken && !errors.Is(err, core.ErrUpstreamTimeout) && !errors.Is(err, core.ErrUpstreamAuth) {
		err = fmt.Errorf("%w: %v", core.ErrUpstreamAuth, err)
	}

	elapsed := time.Since(start)
	outcome := "ok"
	if err != nil {
		outcome = core.FailureReason(err)
	}
	t.metrics.ObserveBankCall(string(t.cred.Bank), op, outcome, elapsed)
	t.logger.LogBankCall(ctx, string(t.cred.Bank), op, status, elapsed.Milliseconds(), err)

	if err == nil {
		return nil
	}
	return t.wrap(op, status, err)
}

func (t *transport) wrap(op string, status int, err error) error {
	return &core.BankError{Bank: t.cred.Bank, Op: op, StatusCode: status, Err: err}
}

// classifyTransportError strips the request URL (it may carry the client
// secret) and maps deadline expiry to ErrUpstreamTimeout.
func classifyTransportError(ctx context.Context, err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", core.ErrUpstreamTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", core.ErrUpstream, err)
}

func classifyStatus(op string, status int, payload []byte) error {
	detail := errorDetail(payload)
	switch {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", core.ErrUpstreamAuth, detail)
	case status == http.StatusForbidden && op == log.OpIssueToken:
		return fmt.Errorf("%w: %s", core.ErrUpstreamAuth, detail)
	case status == http.StatusForbidden && op == log.OpRequestConsent:
		return fmt.Errorf("%w: %s", core.ErrConsentDenied, detail)
	case status == http.StatusForbidden:
		if err := consentError(payload); err != nil {
			return fmt.Errorf("%w: %s", err, detail)
		}
		return fmt.Errorf("%w: %s", core.ErrUpstream, detail)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s", core.ErrUpstreamTimeout, detail)
	default:
		return fmt.Errorf("%w: %s", core.ErrUpstream, detail)
	}
}

var (
	consentCodeNormalizer = strings.NewReplacer(" ", "_", "-", "_")

	renewableConsentCodes = []string{"CONSENT_REQUIRED", "CONSENT_EXPIRED"}
	deniedConsentCodes    = []string{"CONSENT_REVOKED", "CONSENT_DENIED", "CONSENT_REJECTED"}
)

// consentError reads the consent error code out of a 403 body. Codes may be
// spelled "CONSENT_REQUIRED" or as words ("Consent expired"). It returns nil
// when the body names no consent condition.
func consentError(payload []byte) error {
	code := consentCodeNormalizer.Replace(strings.ToUpper(string(payload)))
	for _, c := range deniedConsentCodes {
		if strings.Contains(code, c) {
			return core.ErrConsentDenied
		}
	}
	for _, c := range renewableConsentCodes {
		if strings.Contains(code, c) {
			return core.ErrConsentRequired
		}
	}
	return nil
}

// errorDetail extracts a short human readable message from an error body.
func errorDetail(payload []byte) string {
	var body struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(payload, &body) == nil {
		switch {
		case body.Message != "":
			return truncate(body.Message)
		case body.Error != "":
			return truncate(body.Error)
		case body.Detail != nil:
			return truncate(fmt.Sprint(body.Detail))
		}
	}
	if s := strings.TrimSpace(string(payload)); s != "" {
		return truncate(s)
	}
	return "no detail"
}

func truncate(s string) string {
	if len(s) > maxErrorDetailBytes {
		return s[:maxErrorDetailBytes] + "..."
	}
	return s
}

// issueToken exchanges the bank credentials for a bank token.
func (t *transport) issueToken(ctx context.Context) (core.CachedToken, error) {
	q := url.Values{}
	q.Set("client_id", t.cred.ClientID)
	q.Set("client_secret", t.cred.ClientSecret)

	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := t.do(ctx, call{op: log.OpIssueToken, method: http.MethodPost, path: "/auth/bank-token", query: q}, &resp); err != nil {
		return core.CachedToken{}, err
	}
	if resp.AccessToken == "" {
		return core.CachedToken{}, t.wrap(log.OpIssueToken, http.StatusOK, fmt.Errorf("%w: empty access token", core.ErrUpstreamAuth))
	}

	ttl := time.Duration(resp.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	tokenType := resp.TokenType
	if tokenType == "" {
		tokenType = "bearer"
	}
	return core.CachedToken{
		Bank:        t.cred.Bank,
		AccessToken: resp.AccessToken,
		TokenType:   tokenType,
		IssuedAt:    t.now(),
		ExpiresIn:   ttl,
	}, nil
}

func dataQuery(clientID string) url.Values {
	q := url.Values{}
	if clientID != "" {
		q.Set("client_id", clientID)
	}
	return q
}

func transactionQuery(clientID string, page int, from, to time.Time) url.Values {
	q := dataQuery(clientID)
	q.Set("page", fmt.Sprint(page))
	q.Set("limit", fmt.Sprint(pageLimit))
	if !from.IsZero() {
		q.Set("from_booking_date_time", from.UTC().Format(time.RFC3339))
	}
	if !to.IsZero() {
		q.Set("to_booking_date_time", to.UTC().Format(time.RFC3339))
	}
	return q
}

// paginate follows pages until fetch reports no more data or maxPages is hit.
func paginate[T any](ctx context.Context, fetch func(ctx context.Context, page int) ([]T, bool, error)) ([]T, error) {
	var all []T
	for page := 1; page <= maxPages; page++ {
		items, more, err := fetch(ctx, page)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
		if !more {
			break
		}
	}
	return all, nil
}
