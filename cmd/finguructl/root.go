package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"finguru/internal/app"
	"finguru/internal/cli"
	"finguru/internal/core"
	"finguru/internal/log"
)

type wireFunc func(ctx context.Context) (*app.App, error)

// wireFromEnv builds the services from the environment. Logs go to stderr so
// that stdout carries only command output.
func wireFromEnv(ctx context.Context) (*app.App, error) {
	cfg, err := cli.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Component: log.ComponentCLI,
		Handler:   log.NewHandler(os.Stderr, cfg.LogLevel, cfg.LogFormat),
	})
	return app.New(ctx, cfg, logger, app.Options{})
}

type ctl struct {
	wire wireFunc
	app  *app.App
}

func (c *ctl) services(cmd *cobra.Command) (*app.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	a, err := c.wire(cmd.Context())
	if err != nil {
		return nil, fmt.Errorf("initialize services: %w", err)
	}
	c.app = a
	return a, nil
}

func (c *ctl) close() error {
	if c.app == nil {
		return nil
	}
	return c.app.Close()
}

func newRootCmd(c *ctl) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "finguructl",
		Short:         "Operate the FinGuru bank aggregator from the terminal",
		Long:          "finguructl issues bank tokens, requests consents, aggregates accounts and transactions and manages cashback bonuses using the same configuration as the finguru server.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newTokenCmd(c),
		newConsentCmd(c),
		newAccountsCmd(c),
		newBalancesCmd(c),
		newTransactionsCmd(c),
		newSummaryCmd(c),
		newCashbackCmd(c),
	)
	return rootCmd
}

func execute(ctx context.Context, wire wireFunc, args []string, stdout, stderr io.Writer) error {
	c := &ctl{wire: wire}
	rootCmd := newRootCmd(c)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
	}
	return errors.Join(err, c.close())
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func reportFailures(cmd *cobra.Command, failures []core.PartialFailure) {
	for _, f := range failures {
		fmt.Fprintf(cmd.ErrOrStderr(), "partial: %s\n", f)
	}
}
