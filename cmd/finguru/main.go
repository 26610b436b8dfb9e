package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"finguru/internal/app"
	"finguru/internal/cli"
	apphttp "finguru/internal/http"
	"finguru/internal/log"
)

const cacheCleanupInterval = time.Minute

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(nil, log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)
	logger = cli.SetupLogger(cfg, log.ComponentApp)

	a, err := app.New(context.Background(), cfg, logger, app.Options{})
	if err != nil {
		logger.Error("Failed to initialize services", log.FieldError, err)
		os.Exit(1)
	}
	defer a.Close()

	srv := apphttp.NewServer(":"+cfg.Port, a.ServerDeps(), a.ServerOptions())

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = cfg.AggregationTimeout + 10*time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	a.Caches.StartCleanup(cacheCleanupInterval)

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
	})

	if err := a.Poller.Start(ctx); err != nil {
		logger.Error("Failed to start consent poller", log.FieldError, err)
		os.Exit(1)
	}

	logger.Info("Starting finguru server",
		"port", cfg.Port,
		"banks", a.Aggregator.Banks(),
		"backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Poller.Stop(stopCtx); err != nil {
		logger.Warn("Consent poller did not stop cleanly", log.FieldError, err)
	}
	a.Caches.Stop()

	logger.Info("Server stopped gracefully")
}
