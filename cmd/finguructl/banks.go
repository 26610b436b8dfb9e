package main

import (
	"net/url"

	"github.com/spf13/cobra"

	"finguru/internal/aggregation"
	"finguru/internal/core"
	apphttp "finguru/internal/http"
)

type tokenOutput struct {
	Bank        core.BankID `json:"bank"`
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresAt   string      `json:"expires_at"`
}

func newTokenCmd(c *ctl) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "token <bank>",
		Short: "Print the current bank token, issuing one if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bank, err := apphttp.ParseBank(args[0])
			if err != nil {
				return err
			}
			a, err := c.services(cmd)
			if err != nil {
				return err
			}
			var tok core.CachedToken
			if force {
				tok, err = a.Tokens.Refresh(cmd.Context(), bank)
			} else {
				tok, err = a.Tokens.Get(cmd.Context(), bank)
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd, tokenOutput{
				Bank:        tok.Bank,
				AccessToken: tok.AccessToken,
				TokenType:   tok.TokenType,
				ExpiresAt:   tok.ExpiresAt().UTC().Format("2006-01-02T15:04:05Z"),
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Bypass the cache and issue a new token")
	return cmd
}

type consentOutput struct {
	Bank         core.BankID        `json:"bank"`
	ClientID     string             `json:"client_id"`
	ConsentID    string             `json:"consent_id,omitempty"`
	RequestID    string             `json:"request_id,omitempty"`
	Status       core.ConsentStatus `json:"status"`
	AutoApproved bool               `json:"auto_approved"`
	Permissions  []string           `json:"permissions"`
}

func newConsentCmd(c *ctl) *cobra.Command {
	var clientID string
	var permissions []string

	cmd := &cobra.Command{
		Use:   "consent <bank>",
		Short: "Request an account consent for a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bank, err := apphttp.ParseBank(args[0])
			if err != nil {
				return err
			}
			if err := core.ValidateClientID(clientID); err != nil {
				return err
			}
			if len(permissions) == 0 {
				permissions = core.DefaultPermissions
			}
			a, err := c.services(cmd)
			if err != nil {
				return err
			}
			rec, err := a.Consents.Request(cmd.Context(), bank, clientID, permissions)
			if err != nil {
				return err
			}
			return writeJSON(cmd, consentOutput{
				Bank:         rec.Bank,
				ClientID:     rec.ClientID,
				ConsentID:    rec.ConsentID,
				RequestID:    rec.RequestID,
				Status:       rec.Status,
				AutoApproved: rec.AutoApproved,
				Permissions:  rec.Permissions,
			})
		},
	}

	cmd.Flags().StringVar(&clientID, "client-id", "", "Client identifier at the bank")
	cmd.Flags().StringSliceVar(&permissions, "permission", nil, "Permission to request (repeatable, default: all read permissions)")
	_ = cmd.MarkFlagRequired("client-id")
	return cmd
}

// queryFlags are the selectors shared by the aggregate commands.
type queryFlags struct {
	clientID string
	banks    []string
}

func (f *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.clientID, "client-id", "", "Client identifier at the banks")
	cmd.Flags().StringSliceVar(&f.banks, "bank", nil, "Restrict to these banks (default: all configured)")
	_ = cmd.MarkFlagRequired("client-id")
}

func (f *queryFlags) query() (aggregation.Query, error) {
	q := url.Values{"client_id": {f.clientID}, "bank": f.banks}
	clientID, err := apphttp.ParseClientID(q)
	if err != nil {
		return aggregation.Query{}, err
	}
	banks, err := apphttp.ParseBankFilter(q)
	if err != nil {
		return aggregation.Query{}, err
	}
	return aggregation.Query{ClientID: clientID, Banks: banks}, nil
}

func newAccountsCmd(c *ctl) *cobra.Command {
	var flags queryFlags

	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List accounts across banks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := flags.query()
			if err != nil {
				return err
			}
			a, err := c.services(cmd)
			if err != nil {
				return err
			}
			res, err := a.Aggregator.AggregateAccounts(cmd.Context(), q)
			reportFailures(cmd, res.Failures)
			if err != nil {
				return err
			}
			return writeJSON(cmd, res.Items)
		},
	}

	flags.register(cmd)
	return cmd
}

func newBalancesCmd(c *ctl) *cobra.Command {
	var flags queryFlags

	cmd := &cobra.Command{
		Use:   "balances",
		Short: "List balances across banks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := flags.query()
			if err != nil {
				return err
			}
			a, err := c.services(cmd)
			if err != nil {
				return err
			}
			res, err := a.Aggregator.AggregateBalances(cmd.Context(), q)
			reportFailures(cmd, res.Failures)
			if err != nil {
				return err
			}
			return writeJSON(cmd, res.Items)
		},
	}

	flags.register(cmd)
	return cmd
}

func newTransactionsCmd(c *ctl) *cobra.Command {
	var flags queryFlags
	var from, to string

	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "List transactions across banks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := flags.query()
			if err != nil {
				return err
			}
			a, err := c.services(cmd)
			if err != nil {
				return err
			}
			rng, err := apphttp.ParseDateRange(url.Values{"from": {from}, "to": {to}}, a.Now())
			if err != nil {
				return err
			}
			q.From, q.To = rng.From, rng.To

			res, err := a.Aggregator.AggregateTransactions(cmd.Context(), q)
			reportFailures(cmd, res.Failures)
			if err != nil {
				return err
			}
			return writeJSON(cmd, res.Items)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&from, "from", "", "Start of the range, ISO-8601 (default: 30 days ago)")
	cmd.Flags().StringVar(&to, "to", "", "End of the range, ISO-8601 (default: now)")
	return cmd
}

func newSummaryCmd(c *ctl) *cobra.Command {
	var flags queryFlags
	var period string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Compute the analytics summary for a client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := flags.query()
			if err != nil {
				return err
			}
			days, err := core.ParsePeriod(period)
			if err != nil {
				return err
			}
			a, err := c.services(cmd)
			if err != nil {
				return err
			}
			now := a.Now().UTC()
			q.From, q.To = now.AddDate(0, 0, -days), now

			snap, err := a.Aggregator.Snapshot(cmd.Context(), q)
			reportFailures(cmd, snap.Failures)
			if err != nil {
				return err
			}
			return writeJSON(cmd, a.Analytics.Summarize(snap.Accounts, snap.Balances, snap.Transactions, days))
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&period, "period", "30d", "Analysis window, e.g. 7d")
	return cmd
}
