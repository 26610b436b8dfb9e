// Package analytics derives the dashboard summary from canonical accounts,
// balances and transactions.
package analytics

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"finguru/internal/core"
)

const (
	topExpensesLimit = 5
	dateLayout       = "2006-01-02"
	week             = 7 * 24 * time.Hour
)

type Engine struct {
	now func() time.Time
}

func NewEngine(now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{now: now}
}

// Summarize computes the summary over the periodDays ending now. It does not
// modify its inputs, so calling it twice on the same data yields equal results.
func (e *Engine) Summarize(accounts []core.Account, balances []core.Balance, txs []core.Transaction, periodDays int) core.AnalyticsSummary {
	now := e.now().UTC()
	from := now.AddDate(0, 0, -periodDays)

	byCategory := make(map[string]decimal.Decimal)
	total := decimal.Zero
	weekly := newWeeks(from, now)

	for _, tx := range txs {
		if !tx.Amount.IsNegative() {
			continue
		}
		booked := tx.BookingDate.UTC()
		if booked.Before(from) || booked.After(now) {
			continue
		}
		out := core.Outflow(tx.Amount)
		cat := Categorize(tx)
		byCategory[cat] = byCategory[cat].Add(out)
		total = total.Add(out)
		weekly.add(booked, out)
	}

	return core.AnalyticsSummary{
		NetWorth:           NetWorth(balances),
		TotalAccounts:      len(accounts),
		TotalSpending:      total,
		SpendingByCategory: byCategory,
		TopExpenses:        topExpenses(byCategory, topExpensesLimit),
		WeeklyTrend:        weekly.buckets(),
		PeriodDays:         periodDays,
	}
}

// NetWorth sums the latest balance of every account. Currencies are summed as
// reported without conversion.
func NetWorth(balances []core.Balance) decimal.Decimal {
	type accountKey struct {
		bank core.BankID
		id   string
	}
	latest := make(map[accountKey]core.Balance)
	var order []accountKey
	for _, b := range balances {
		k := accountKey{b.Bank, b.AccountID}
		cur, ok := latest[k]
		if !ok {
			order = append(order, k)
			latest[k] = b
			continue
		}
		if b.DateTime.After(cur.DateTime) {
			latest[k] = b
		}
	}

	sum := decimal.Zero
	for _, k := range order {
		sum = sum.Add(latest[k].Amount)
	}
	return sum
}

func topExpenses(byCategory map[string]decimal.Decimal, limit int) []core.CategoryAmount {
	ranked := make([]core.CategoryAmount, 0, len(byCategory))
	for cat, amount := range byCategory {
		ranked = append(ranked, core.CategoryAmount{Category: cat, Amount: amount})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if c := ranked[i].Amount.Cmp(ranked[j].Amount); c != 0 {
			return c > 0
		}
		return ranked[i].Category < ranked[j].Category
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// weeks holds one zero-initialised bucket per Monday-based UTC week that
// overlaps [from, to].
type weeks struct {
	first  time.Time
	totals []decimal.Decimal
}

func newWeeks(from, to time.Time) *weeks {
	first := weekStart(from)
	last := weekStart(to)
	n := int(last.Sub(first)/week) + 1
	totals := make([]decimal.Decimal, n)
	for i := range totals {
		totals[i] = decimal.Zero
	}
	return &weeks{first: first, totals: totals}
}

func (w *weeks) add(t time.Time, amount decimal.Decimal) {
	i := int(weekStart(t).Sub(w.first) / week)
	if i < 0 || i >= len(w.totals) {
		return
	}
	w.totals[i] = w.totals[i].Add(amount)
}

func (w *weeks) buckets() []core.WeeklyBucket {
	out := make([]core.WeeklyBucket, len(w.totals))
	for i, amount := range w.totals {
		out[i] = core.WeeklyBucket{
			WeekStart: w.first.Add(time.Duration(i) * week).Format(dateLayout),
			Amount:    amount,
		}
	}
	return out
}

// weekStart returns midnight UTC of the Monday on or before t.
func weekStart(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
