package banks

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"finguru/internal/core"
	"finguru/internal/log"
)

// SBankClient requires manual consent approval: a consent request comes back
// pending with a request id and only becomes usable once a human approves it.
type SBankClient struct {
	*transport
}

func (c *SBankClient) RequiresConsent() bool { return true }

func (c *SBankClient) IssueToken(ctx context.Context) (core.CachedToken, error) {
	return c.issueToken(ctx)
}

func (c *SBankClient) RequestConsent(ctx context.Context, token, clientID string, permissions []string) (core.ConsentRecord, error) {
	rec, err := c.requestConsent(ctx, token, clientID, permissions)
	if err != nil {
		return rec, err
	}
	// Never auto-approved, whatever the payload claims.
	rec.AutoApproved = false
	return rec, nil
}

func (c *SBankClient) ConsentStatus(ctx context.Context, token string, rec core.ConsentRecord) (core.ConsentRecord, error) {
	return c.consentStatus(ctx, token, rec)
}

func (c *SBankClient) ListAccounts(ctx context.Context, s Session) ([]core.Account, error) {
	var resp sbankAccountsResponse
	err := c.do(ctx, call{
		op: log.OpListAccounts, method: http.MethodGet, path: "/accounts",
		query: dataQuery(s.ClientID), token: s.Token, consent: s.ConsentID,
	}, &resp)
	if err != nil {
		return nil, err
	}
	accounts := normalizeSBankAccounts(resp)
	c.logger.LogSkippedRecords(ctx, string(core.SBank), log.OpListAccounts, len(accounts), len(resp.Result.Accounts))
	return accounts, nil
}

func (c *SBankClient) GetBalances(ctx context.Context, s Session, accountID string) ([]core.Balance, error) {
	var resp sbankBalancesResponse
	err := c.do(ctx, call{
		op: log.OpGetBalances, method: http.MethodGet, path: "/accounts/" + url.PathEscape(accountID) + "/balances",
		query: dataQuery(s.ClientID), token: s.Token, consent: s.ConsentID,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return normalizeSBankBalances(accountID, resp), nil
}

func (c *SBankClient) ListTransactions(ctx context.Context, s Session, accountID string, from, to time.Time) ([]core.Transaction, error) {
	return paginate(ctx, func(ctx context.Context, page int) ([]core.Transaction, bool, error) {
		var resp sbankOperationsResponse
		err := c.do(ctx, call{
			op: log.OpListTransactions, method: http.MethodGet, path: "/accounts/" + url.PathEscape(accountID) + "/transactions",
			query: transactionQuery(s.ClientID, page, from, to), token: s.Token, consent: s.ConsentID,
		}, &resp)
		if err != nil {
			return nil, false, err
		}
		more := len(resp.Result.Operations) >= pageLimit
		txs := normalizeSBankOperations(accountID, resp)
		c.logger.LogSkippedRecords(ctx, string(core.SBank), log.OpListTransactions, len(txs), len(resp.Result.Operations))
		return txs, more, nil
	})
}
