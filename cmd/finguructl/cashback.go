package main

import (
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"finguru/internal/cashback"
	"finguru/internal/core"
	apphttp "finguru/internal/http"
)

func newCashbackCmd(c *ctl) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cashback",
		Short: "Manage cashback bonuses",
	}
	cmd.AddCommand(newCashbackActivateCmd(c), newCashbackActiveCmd(c))
	return cmd
}

func newCashbackActivateCmd(c *ctl) *cobra.Command {
	var clientID, category, percent, validUntil string

	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Activate a cashback bonus for a category",
		Long:  "Activate a cashback bonus for a category. With DATA_BACKEND=memory the bonus only lives as long as this process; use sqlite to keep it.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := decimal.NewFromString(percent)
			if err != nil {
				return core.Invalid("bonus_percent", "must be a number")
			}
			req := cashback.ActivateRequest{ClientID: clientID, Category: category, BonusPercent: p}
			if validUntil != "" {
				t, err := apphttp.ParseTime("valid_until", validUntil)
				if err != nil {
					return err
				}
				req.ValidUntil = &t
			}

			a, err := c.services(cmd)
			if err != nil {
				return err
			}
			bonus, err := a.Cashback.Activate(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeJSON(cmd, bonus)
		},
	}

	cmd.Flags().StringVar(&clientID, "client-id", "", "Client identifier")
	cmd.Flags().StringVar(&category, "category", "", "Spending category, e.g. groceries")
	cmd.Flags().StringVar(&percent, "percent", "", "Bonus percent between 0 and 100")
	cmd.Flags().StringVar(&validUntil, "valid-until", "", "Expiry, ISO-8601 (default: configured validity)")
	_ = cmd.MarkFlagRequired("client-id")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("percent")
	return cmd
}

func newCashbackActiveCmd(c *ctl) *cobra.Command {
	var clientID string

	cmd := &cobra.Command{
		Use:   "active",
		Short: "List the client's unexpired bonuses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := core.ValidateClientID(clientID); err != nil {
				return err
			}
			a, err := c.services(cmd)
			if err != nil {
				return err
			}
			bonuses, err := a.Cashback.Active(cmd.Context(), clientID)
			if err != nil {
				return err
			}
			if bonuses == nil {
				bonuses = []core.CashbackBonus{}
			}
			return writeJSON(cmd, bonuses)
		},
	}

	cmd.Flags().StringVar(&clientID, "client-id", "", "Client identifier")
	_ = cmd.MarkFlagRequired("client-id")
	return cmd
}
