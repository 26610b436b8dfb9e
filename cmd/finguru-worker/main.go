package main

import (
	"os"

	"finguru/internal/amqp"
	"finguru/internal/cli"
	"finguru/internal/log"
	"finguru/internal/storage"
	"finguru/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(nil, log.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(logger)
	logger = cli.SetupLogger(cfg, log.ComponentWorker)

	logger.Info("Starting finguru-worker")

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required by the worker")
		os.Exit(1)
	}

	// The ledger is always SQLite, whatever DATA_BACKEND the API uses.
	ledger, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath, logger)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", log.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer ledger.Close()

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	w := worker.NewEventWorker(ledger, worker.Options{Logger: logger})

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, nil)

	logger.Info("Consuming events",
		"queue", cfg.AMQPQueue,
		"purge_interval", cfg.PurgeInterval,
		"db_path", cfg.SQLiteDBPath)

	if err := w.Run(ctx, amqpClient, cfg.PurgeInterval); err != nil {
		logger.Error("Event worker failed", log.FieldError, err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}
