package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"finguru/internal/cli"
)

func main() {
	cli.LoadEnvFile()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, wireFromEnv, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}
