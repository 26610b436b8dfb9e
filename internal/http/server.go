package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"finguru/internal/aggregation"
	"finguru/internal/cache"
	"finguru/internal/cashback"
	"finguru/internal/core"
	"finguru/internal/log"
	"finguru/internal/metrics"
	"finguru/internal/middleware/ratelimit"
	"finguru/internal/middleware/security"
	"finguru/internal/middleware/trace"
)

const (
	summaryCacheSize   = 1000
	defaultSummaryTTL  = 5 * time.Minute
	readyCheckTimeout  = 2 * time.Second
	readHeaderTimeout  = 10 * time.Second
	defaultWriteWindow = 60 * time.Second
)

// TokenService issues and caches bank tokens.
type TokenService interface {
	Get(ctx context.Context, bank core.BankID) (core.CachedToken, error)
	Refresh(ctx context.Context, bank core.BankID) (core.CachedToken, error)
}

// ConsentService requests account consents on behalf of a client.
type ConsentService interface {
	Request(ctx context.Context, bank core.BankID, clientID string, permissions []string) (core.ConsentRecord, error)
}

// Aggregator fans out to the configured banks.
type Aggregator interface {
	Banks() []core.BankID
	AggregateAccounts(ctx context.Context, q aggregation.Query) (aggregation.Result[core.Account], error)
	AggregateBalances(ctx context.Context, q aggregation.Query) (aggregation.Result[core.Balance], error)
	AggregateTransactions(ctx context.Context, q aggregation.Query) (aggregation.Result[core.Transaction], error)
	Snapshot(ctx context.Context, q aggregation.Query) (aggregation.Snapshot, error)
}

// Summarizer derives analytics from canonical data.
type Summarizer interface {
	Summarize(accounts []core.Account, balances []core.Balance, txs []core.Transaction, periodDays int) core.AnalyticsSummary
}

// CashbackService records cashback bonuses.
type CashbackService interface {
	Activate(ctx context.Context, req cashback.ActivateRequest) (core.CashbackBonus, error)
	Active(ctx context.Context, clientID string) ([]core.CashbackBonus, error)
}

// Deps are the services behind the API.
type Deps struct {
	Tokens     TokenService
	Consents   ConsentService
	Aggregator Aggregator
	Analytics  Summarizer
	Cashback   CashbackService

	// ReadyChecks are run by /readyz; any error makes the service unready.
	ReadyChecks map[string]func(context.Context) error
}

// Options tune the HTTP layer.
type Options struct {
	RateLimitPerMinute int
	SummaryCacheTTL    time.Duration
	Now                func() time.Time
	Metrics            *metrics.Metrics
	Logger             *log.Logger
	CacheManager       *cache.Manager
}

type Server struct {
	http.Server
	deps    Deps
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *log.Logger

	limiter  *ratelimit.Limiter
	detector *security.Detector

	// Summaries are cached per client, period and bank filter.
	summaryCache *cache.LRUCache[core.AnalyticsSummary]

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, deps Deps, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ttl := opts.SummaryCacheTTL
	if ttl <= 0 {
		ttl = defaultSummaryTTL
	}

	s := &Server{
		deps:         deps,
		now:          now,
		metrics:      opts.Metrics,
		logger:       logger.WithComponent(log.ComponentHTTP),
		detector:     security.NewDetector(logger),
		summaryCache: cache.NewLRUCache[core.AnalyticsSummary](summaryCacheSize, ttl).WithClock(now),
	}
	s.limiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute})
	if opts.CacheManager != nil {
		opts.CacheManager.Register(s.summaryCache)
	}

	mux := http.NewServeMux()
	s.routes(mux)

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	tracer := trace.NewMiddleware(s.detector.ExtractClientIP, logger, opts.Metrics)

	// None of the inner layers replace *http.Request, so the trace layer sees
	// the route pattern set by the mux.
	var handler http.Handler = mux
	handler = s.detector.Middleware(handler)
	handler = headers.Middleware(handler)
	handler = tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      defaultWriteWindow,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	limited := s.limiter.Middleware(s.detector.ExtractClientIP, s.rateLimited)
	api := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, limited(h))
	}

	api("POST /api/tokens/{bank}", s.handleIssueToken)
	api("POST /api/consents/accounts", s.handleRequestConsent)
	api("GET /api/accounts/aggregate", s.handleAggregateAccounts)
	api("GET /api/balances/aggregate", s.handleAggregateBalances)
	api("GET /api/transactions/aggregate", s.handleAggregateTransactions)
	api("GET /api/analytics/summary", s.handleAnalyticsSummary)
	api("POST /api/cashback/activate", s.handleActivateCashback)
	api("GET /api/cashback/active", s.handleActiveCashback)

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

func (s *Server) rateLimited(w http.ResponseWriter, r *http.Request) {
	requestLogger(r).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	ErrorResponse(r.Context(), http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded, try again later").Write(w)
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}
