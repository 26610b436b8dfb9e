// Package aggregation fans requests out to every configured bank, merges the
// canonical results and reports the banks that could not contribute.
package aggregation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"finguru/internal/banks"
	"finguru/internal/core"
	"finguru/internal/log"
	"finguru/internal/metrics"
)

const (
	defaultTimeout            = 25 * time.Second
	defaultAccountConcurrency = 4
)

// TokenProvider is the part of tokens.Cache the pipeline needs.
type TokenProvider interface {
	AccessToken(ctx context.Context, bank core.BankID) (string, error)
	Invalidate(bank core.BankID)
}

// ConsentProvider is the part of consent.Manager the pipeline needs.
type ConsentProvider interface {
	Get(ctx context.Context, bank core.BankID, clientID string, permissions []string) (string, error)
	Lookup(bank core.BankID, clientID string) (string, bool)
	Renew(ctx context.Context, bank core.BankID, clientID, staleID string, permissions []string) (string, error)
}

type Options struct {
	// Timeout bounds a whole fan-out. Banks still running when it expires are
	// reported as timed out.
	Timeout            time.Duration
	Permissions        []string
	AccountConcurrency int
	Metrics            *metrics.Metrics
	Logger             *log.Logger
}

// Query selects what to aggregate. An empty Banks means every configured bank.
type Query struct {
	ClientID string
	Banks    []core.BankID
	From     time.Time
	To       time.Time
}

// Result is a merged collection plus the banks excluded from it.
type Result[T any] struct {
	Items    []T
	Failures []core.PartialFailure
}

// Snapshot holds everything the analytics summary needs from one fan-out.
type Snapshot struct {
	Accounts     []core.Account
	Balances     []core.Balance
	Transactions []core.Transaction
	Failures     []core.PartialFailure
}

type Service struct {
	clients     []banks.Client
	tokens      TokenProvider
	consents    ConsentProvider
	timeout     time.Duration
	permissions []string
	concurrency int
	metrics     *metrics.Metrics
	logger      *log.Logger
	slog        *log.StructuredLogger
}

func NewService(clients []banks.Client, tokens TokenProvider, consents ConsentProvider, opts Options) *Service {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	concurrency := opts.AccountConcurrency
	if concurrency <= 0 {
		concurrency = defaultAccountConcurrency
	}
	perms := opts.Permissions
	if len(perms) == 0 {
		perms = core.DefaultPermissions
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentAggregation)
	return &Service{
		clients:     clients,
		tokens:      tokens,
		consents:    consents,
		timeout:     timeout,
		permissions: perms,
		concurrency: concurrency,
		metrics:     opts.Metrics,
		logger:      logger,
		slog:        log.NewStructuredLogger(logger),
	}
}

// Banks lists the configured banks in fan-out order.
func (s *Service) Banks() []core.BankID {
	ids := make([]core.BankID, len(s.clients))
	for i, c := range s.clients {
		ids[i] = c.ID()
	}
	return ids
}

// AggregateAccounts lists the accounts of q.ClientID at every bank.
func (s *Service) AggregateAccounts(ctx context.Context, q Query) (Result[core.Account], error) {
	return collect(ctx, s, q, func(ctx context.Context, p *pipeline) ([]core.Account, error) {
		return p.accounts(ctx)
	})
}

// AggregateBalances lists the balances of every account at every bank.
func (s *Service) AggregateBalances(ctx context.Context, q Query) (Result[core.Balance], error) {
	return collect(ctx, s, q, func(ctx context.Context, p *pipeline) ([]core.Balance, error) {
		accounts, err := p.accounts(ctx)
		if err != nil {
			return nil, err
		}
		return perAccount(ctx, p, accounts, p.balances)
	})
}

// AggregateTransactions lists transactions booked in [q.From, q.To] on every
// account at every bank.
func (s *Service) AggregateTransactions(ctx context.Context, q Query) (Result[core.Transaction], error) {
	return collect(ctx, s, q, func(ctx context.Context, p *pipeline) ([]core.Transaction, error) {
		accounts, err := p.accounts(ctx)
		if err != nil {
			return nil, err
		}
		return perAccount(ctx, p, accounts, func(ctx context.Context, acc core.Account) ([]core.Transaction, error) {
			return p.transactions(ctx, acc, q.From, q.To)
		})
	})
}

type bankSnapshot struct {
	accounts     []core.Account
	balances     []core.Balance
	transactions []core.Transaction
}

// Snapshot fetches accounts, balances and transactions in a single fan-out.
func (s *Service) Snapshot(ctx context.Context, q Query) (Snapshot, error) {
	res, err := collect(ctx, s, q, func(ctx context.Context, p *pipeline) ([]bankSnapshot, error) {
		accounts, err := p.accounts(ctx)
		if err != nil {
			return nil, err
		}
		snap := bankSnapshot{accounts: accounts}
		var g errgroup.Group
		var balErr, txErr error
		g.Go(func() error {
			snap.balances, balErr = perAccount(ctx, p, accounts, p.balances)
			return nil
		})
		g.Go(func() error {
			snap.transactions, txErr = perAccount(ctx, p, accounts, func(ctx context.Context, acc core.Account) ([]core.Transaction, error) {
				return p.transactions(ctx, acc, q.From, q.To)
			})
			return nil
		})
		g.Wait()
		// Accounts without a balance count as zero in the summary.
		if balErr != nil {
			s.logger.WarnContext(ctx, "Balances unavailable, continuing without them",
				log.FieldBank, p.client.ID(),
				log.FieldReason, core.FailureReason(balErr),
				log.FieldError, balErr)
			snap.balances = nil
		}
		if txErr != nil {
			return nil, txErr
		}
		return []bankSnapshot{snap}, nil
	})

	out := Snapshot{Failures: res.Failures}
	for _, snap := range res.Items {
		out.Accounts = append(out.Accounts, snap.accounts...)
		out.Balances = append(out.Balances, snap.balances...)
		out.Transactions = append(out.Transactions, snap.transactions...)
	}
	return out, err
}

func (s *Service) selectClients(filter []core.BankID) ([]banks.Client, error) {
	if len(filter) == 0 {
		return s.clients, nil
	}
	want := make(map[core.BankID]bool, len(filter))
	for _, b := range filter {
		want[b] = true
	}
	var selected []banks.Client
	for _, c := range s.clients {
		if want[c.ID()] {
			selected = append(selected, c)
			delete(want, c.ID())
		}
	}
	for b := range want {
		return nil, fmt.Errorf("%w: %s", core.ErrBankNotConfigured, b)
	}
	return selected, nil
}

type slot[T any] struct {
	items []T
	err   error
	done  bool
}

// collect runs fetch for every selected bank concurrently. One bank failing
// never cancels another; banks that have not finished when the overall
// deadline passes are abandoned and reported as timeouts. Results are merged
// in bank order.
func collect[T any](ctx context.Context, s *Service, q Query, fetch func(context.Context, *pipeline) ([]T, error)) (Result[T], error) {
	clients, err := s.selectClients(q.Banks)
	if err != nil {
		return Result[T]{}, err
	}
	if len(clients) == 0 {
		return Result[T]{}, &core.AllBanksError{}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var mu sync.Mutex
	slots := make([]slot[T], len(clients))

	var g errgroup.Group
	for i, c := range clients {
		g.Go(func() error {
			p := s.newPipeline(c, q.ClientID)
			var items []T
			err := p.start(ctx)
			if err == nil {
				items, err = fetch(ctx, p)
			}
			mu.Lock()
			slots[i] = slot[T]{items: items, err: err, done: true}
			mu.Unlock()
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	final := make([]slot[T], len(slots))
	copy(final, slots)
	mu.Unlock()

	var res Result[T]
	for i, c := range clients {
		sl := final[i]
		switch {
		case !sl.done:
			res.Failures = append(res.Failures, s.failure(ctx, c.ID(), q.ClientID, core.ReasonTimeout,
				fmt.Errorf("%w: aggregation deadline exceeded", core.ErrUpstreamTimeout)))
		case sl.err != nil:
			res.Failures = append(res.Failures, s.failure(ctx, c.ID(), q.ClientID, core.FailureReason(sl.err), sl.err))
		default:
			res.Items = append(res.Items, sl.items...)
		}
	}

	if len(res.Failures) == len(clients) {
		return res, &core.AllBanksError{Failures: res.Failures}
	}
	return res, nil
}

func (s *Service) failure(ctx context.Context, bank core.BankID, clientID, reason string, err error) core.PartialFailure {
	s.metrics.ObservePartialFailure(string(bank), reason)
	s.slog.LogPartialFailure(context.WithoutCancel(ctx), string(bank), clientID, reason, err)
	return core.PartialFailure{Bank: bank, Reason: reason, Err: err}
}

// perAccount runs fetch for every account with bounded concurrency and keeps
// account order. A failing account is skipped unless every account failed.
func perAccount[T any](ctx context.Context, p *pipeline, accounts []core.Account, fetch func(context.Context, core.Account) ([]T, error)) ([]T, error) {
	if len(accounts) == 0 {
		return nil, nil
	}

	results := make([][]T, len(accounts))
	errs := make([]error, len(accounts))

	var g errgroup.Group
	g.SetLimit(p.service.concurrency)
	for i, acc := range accounts {
		g.Go(func() error {
			results[i], errs[i] = fetch(ctx, acc)
			return nil
		})
	}
	g.Wait()

	var out []T
	failed := 0
	var firstErr error
	for i, acc := range accounts {
		if errs[i] != nil {
			failed++
			if firstErr == nil {
				firstErr = errs[i]
			}
			p.service.logger.WarnContext(ctx, "Skipping account after failed fetch",
				log.FieldBank, p.client.ID(), log.FieldAccountID, acc.AccountID, log.FieldError, errs[i])
			continue
		}
		out = append(out, results[i]...)
	}
	if failed == len(accounts) {
		return nil, firstErr
	}
	return out, nil
}
