package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"finguru/internal/aggregation"
	"finguru/internal/core"
	"finguru/internal/log"
)

// aggregateQuery reads the client and bank filter shared by every aggregate endpoint.
func aggregateQuery(r *http.Request) (aggregation.Query, error) {
	query := r.URL.Query()
	clientID, err := ParseClientID(query)
	if err != nil {
		return aggregation.Query{}, err
	}
	banks, err := ParseBankFilter(query)
	if err != nil {
		return aggregation.Query{}, err
	}
	return aggregation.Query{ClientID: clientID, Banks: banks}, nil
}

// writeAggregate renders a fan-out result: 200 with annotations while at least
// one bank answered, the mapped error otherwise.
func writeAggregate[T any](w http.ResponseWriter, r *http.Request, op string, res aggregation.Result[T], err error) {
	ctx := r.Context()
	if err != nil {
		requestLogger(r).WarnContext(ctx, "Aggregation failed",
			append([]any{log.FieldOperation, op, log.FieldError, err}, failureFields(res.Failures)...)...)
		ErrorFor(ctx, err).Write(w)
		return
	}
	if len(res.Failures) > 0 {
		requestLogger(r).InfoContext(ctx, "Aggregation returned partial results",
			append([]any{log.FieldOperation, op, log.FieldCount, len(res.Items)}, failureFields(res.Failures)...)...)
	}
	NewJSONResponse().PartialFailures(res.Failures).Body(nonNil(res.Items)).Write(w)
}

// handleAggregateAccounts serves GET /api/accounts/aggregate.
func (s *Server) handleAggregateAccounts(w http.ResponseWriter, r *http.Request) {
	q, err := aggregateQuery(r)
	if err != nil {
		ErrorFor(r.Context(), err).Write(w)
		return
	}
	res, err := s.deps.Aggregator.AggregateAccounts(r.Context(), q)
	writeAggregate(w, r, "accounts", res, err)
}

// handleAggregateBalances serves GET /api/balances/aggregate.
func (s *Server) handleAggregateBalances(w http.ResponseWriter, r *http.Request) {
	q, err := aggregateQuery(r)
	if err != nil {
		ErrorFor(r.Context(), err).Write(w)
		return
	}
	res, err := s.deps.Aggregator.AggregateBalances(r.Context(), q)
	writeAggregate(w, r, "balances", res, err)
}

// handleAggregateTransactions serves GET /api/transactions/aggregate. The
// range defaults to the last 30 days.
func (s *Server) handleAggregateTransactions(w http.ResponseWriter, r *http.Request) {
	q, err := aggregateQuery(r)
	if err != nil {
		ErrorFor(r.Context(), err).Write(w)
		return
	}
	rng, err := ParseDateRange(r.URL.Query(), s.now())
	if err != nil {
		ErrorFor(r.Context(), err).Write(w)
		return
	}
	q.From, q.To = rng.From, rng.To

	res, err := s.deps.Aggregator.AggregateTransactions(r.Context(), q)
	writeAggregate(w, r, "transactions", res, err)
}

// handleAnalyticsSummary serves GET /api/analytics/summary. Complete
// summaries are cached; partial ones are always recomputed.
func (s *Server) handleAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q, err := aggregateQuery(r)
	if err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}
	days, err := ParsePeriodParam(r.URL.Query())
	if err != nil {
		ErrorFor(ctx, err).Write(w)
		return
	}

	key := summaryKey(q, days)
	if summary, ok := s.summaryCache.Get(key); ok {
		NewJSONResponse().Header("X-Cache", "hit").Body(summary).Write(w)
		return
	}

	now := s.now().UTC()
	q.From, q.To = now.AddDate(0, 0, -days), now
	snap, err := s.deps.Aggregator.Snapshot(ctx, q)
	if err != nil {
		requestLogger(r).ErrorContext(ctx, "Analytics summary failed",
			append([]any{log.FieldClientID, q.ClientID, log.FieldPeriodDays, days, log.FieldError, err}, failureFields(snap.Failures)...)...)
		if errors.Is(err, core.ErrAllBanksUnavailable) {
			ErrorFor(ctx, err).Status(http.StatusInternalServerError).Write(w)
			return
		}
		ErrorFor(ctx, err).Write(w)
		return
	}

	summary := s.deps.Analytics.Summarize(snap.Accounts, snap.Balances, snap.Transactions, days)
	if len(snap.Failures) == 0 {
		s.summaryCache.Set(key, summary)
	}
	NewJSONResponse().Header("X-Cache", "miss").PartialFailures(snap.Failures).Body(summary).Write(w)
}

func summaryKey(q aggregation.Query, days int) string {
	banks := make([]string, len(q.Banks))
	for i, b := range q.Banks {
		banks[i] = string(b)
	}
	return fmt.Sprintf("%s|%d|%s", q.ClientID, days, strings.Join(banks, ","))
}
