// Package app wires the services shared by the server and the operator CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finguru/internal/aggregation"
	"finguru/internal/amqp"
	"finguru/internal/analytics"
	"finguru/internal/backend"
	"finguru/internal/banks"
	"finguru/internal/cache"
	"finguru/internal/cashback"
	"finguru/internal/config"
	"finguru/internal/consent"
	apphttp "finguru/internal/http"
	"finguru/internal/log"
	"finguru/internal/metrics"
	"finguru/internal/tokens"
)

type App struct {
	Config  *config.Config
	Logger  *log.Logger
	Metrics *metrics.Metrics
	Caches  *cache.Manager

	Clients    []banks.Client
	Tokens     *tokens.Cache
	Consents   *consent.Manager
	Poller     *consent.Poller
	Aggregator *aggregation.Service
	Analytics  *analytics.Engine
	Cashback   *cashback.Service

	Backend *backend.BackendResult
	// Events is nil when AMQP_URL is empty or the broker was unreachable at startup.
	Events *amqp.Client

	now func() time.Time
}

// Options override process-wide defaults, mostly for tests.
type Options struct {
	Now     func() time.Time
	Metrics *metrics.Metrics
	// SkipEvents leaves Events nil even when an AMQP URL is configured.
	SkipEvents bool
}

// New builds every service from cfg. Close releases what it opened.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = log.Discard()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
		Caches:  cache.NewManager(logger),
		now:     now,
	}

	clients, err := banks.NewAll(cfg.Banks(), banks.Options{
		RequestingBankID:   cfg.RequestingBankID,
		RequestingBankName: cfg.RequestingBankName,
		Timeout:            cfg.HTTPTimeout,
		Metrics:            m,
		Logger:             logger,
		Now:                now,
	})
	if err != nil {
		return nil, fmt.Errorf("build bank clients: %w", err)
	}
	a.Clients = clients

	if cfg.AMQPURL != "" && !opts.SkipEvents {
		events, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without events", log.FieldError, err)
		} else {
			logger.InfoContext(ctx, "Initialized AMQP client",
				"exchange", cfg.AMQPExchange,
				"queue", cfg.AMQPQueue)
			a.Events = events
		}
	}

	issuers := make([]tokens.Issuer, len(clients))
	consentBanks := make([]consent.Bank, len(clients))
	for i, c := range clients {
		issuers[i] = c
		consentBanks[i] = c
	}

	a.Tokens = tokens.New(issuers, tokens.Options{
		Skew:    cfg.TokenExpirySkew,
		Now:     now,
		Metrics: m,
		Logger:  logger,
	})

	consentOpts := consent.Options{
		TTL:     cfg.ConsentTTL,
		Now:     now,
		Metrics: m,
		Logger:  logger,
	}
	if a.Events != nil {
		consentOpts.Notifier = a.Events
	}
	a.Consents = consent.NewManager(consentBanks, a.Tokens, consentOpts)
	a.Caches.Register(a.Consents.Records())

	a.Poller = consent.NewPoller(a.Consents, consent.PollerConfig{
		PollInterval: cfg.ConsentPollInterval,
		MaxAttempts:  cfg.ConsentPollMaxAttempts,
	}, logger)

	a.Aggregator = aggregation.NewService(clients, a.Tokens, a.Consents, aggregation.Options{
		Timeout: cfg.AggregationTimeout,
		Metrics: m,
		Logger:  logger,
	})
	a.Analytics = analytics.NewEngine(now)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Backend, err = backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create %s backend: %w", backendCfg.Type, err)
	}

	cashbackOpts := cashback.Options{
		DefaultValidity: time.Duration(cfg.CashbackDefaultDays) * 24 * time.Hour,
		Now:             now,
		Metrics:         m,
		Logger:          logger,
	}
	if a.Events != nil {
		cashbackOpts.Publisher = a.Events
	}
	a.Cashback = cashback.NewService(a.Backend.Store, cashbackOpts)

	logger.InfoContext(ctx, "Services initialized",
		"banks", a.Aggregator.Banks(),
		"backend", backendCfg.Type,
		"events_enabled", a.Events != nil)
	return a, nil
}

// ServerDeps exposes the services to the REST layer.
func (a *App) ServerDeps() apphttp.Deps {
	deps := apphttp.Deps{
		Tokens:      a.Tokens,
		Consents:    a.Consents,
		Aggregator:  a.Aggregator,
		Analytics:   a.Analytics,
		Cashback:    a.Cashback,
		ReadyChecks: map[string]func(context.Context) error{},
	}
	if a.Backend != nil && a.Backend.Ready != nil {
		deps.ReadyChecks["storage"] = a.Backend.Ready
	}
	return deps
}

// ServerOptions derives the REST layer options from the configuration.
func (a *App) ServerOptions() apphttp.Options {
	return apphttp.Options{
		RateLimitPerMinute: a.Config.RateLimitPerMinute,
		SummaryCacheTTL:    a.Config.SummaryCacheTTL,
		Now:                a.now,
		Metrics:            a.Metrics,
		Logger:             a.Logger,
		CacheManager:       a.Caches,
	}
}

// Now is the clock the services were built with.
func (a *App) Now() time.Time {
	return a.now()
}

// Close releases the event connection and the backend.
func (a *App) Close() error {
	var errs []error
	if a.Events != nil {
		errs = append(errs, a.Events.Close())
		a.Events = nil
	}
	if a.Backend != nil {
		errs = append(errs, a.Backend.Close())
		a.Backend = nil
	}
	return errors.Join(errs...)
}
