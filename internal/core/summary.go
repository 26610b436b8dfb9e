package core

import (
	"github.com/shopspring/decimal"
)

// CategoryAmount is one entry of the top expenses ranking.
type CategoryAmount struct {
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
}

// WeeklyBucket aggregates outflow for the week starting on WeekStart (a Monday, YYYY-MM-DD).
type WeeklyBucket struct {
	WeekStart string          `json:"week_start"`
	Amount    decimal.Decimal `json:"amount"`
}

// AnalyticsSummary is derived on demand from canonical data and never persisted.
type AnalyticsSummary struct {
	NetWorth           decimal.Decimal            `json:"net_worth"`
	TotalAccounts      int                        `json:"total_accounts"`
	TotalSpending      decimal.Decimal            `json:"total_spending"`
	SpendingByCategory map[string]decimal.Decimal `json:"spending_by_category"`
	TopExpenses        []CategoryAmount           `json:"top_expenses"`
	WeeklyTrend        []WeeklyBucket             `json:"weekly_trend"`
	PeriodDays         int                        `json:"period_days"`
}
