package banks

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"finguru/internal/core"
	"finguru/internal/log"
)

// ABankClient serves data without a consent until the bank answers
// 403 CONSENT_REQUIRED; callers then acquire one and retry.
type ABankClient struct {
	*transport
}

func (c *ABankClient) RequiresConsent() bool { return false }

func (c *ABankClient) IssueToken(ctx context.Context) (core.CachedToken, error) {
	return c.issueToken(ctx)
}

func (c *ABankClient) RequestConsent(ctx context.Context, token, clientID string, permissions []string) (core.ConsentRecord, error) {
	return c.requestConsent(ctx, token, clientID, permissions)
}

func (c *ABankClient) ConsentStatus(ctx context.Context, token string, rec core.ConsentRecord) (core.ConsentRecord, error) {
	return c.consentStatus(ctx, token, rec)
}

func (c *ABankClient) ListAccounts(ctx context.Context, s Session) ([]core.Account, error) {
	var resp abankAccountsResponse
	err := c.do(ctx, call{
		op: log.OpListAccounts, method: http.MethodGet, path: "/accounts",
		query: dataQuery(s.ClientID), token: s.Token, consent: s.ConsentID,
	}, &resp)
	if err != nil {
		return nil, err
	}
	accounts := normalizeABankAccounts(resp)
	c.logger.LogSkippedRecords(ctx, string(core.ABank), log.OpListAccounts, len(accounts), len(resp.Accounts))
	return accounts, nil
}

func (c *ABankClient) GetBalances(ctx context.Context, s Session, accountID string) ([]core.Balance, error) {
	var resp abankBalancesResponse
	err := c.do(ctx, call{
		op: log.OpGetBalances, method: http.MethodGet, path: "/accounts/" + url.PathEscape(accountID) + "/balances",
		query: dataQuery(s.ClientID), token: s.Token, consent: s.ConsentID,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return normalizeABankBalances(accountID, resp), nil
}

func (c *ABankClient) ListTransactions(ctx context.Context, s Session, accountID string, from, to time.Time) ([]core.Transaction, error) {
	return paginate(ctx, func(ctx context.Context, page int) ([]core.Transaction, bool, error) {
		var resp abankTransactionsResponse
		err := c.do(ctx, call{
			op: log.OpListTransactions, method: http.MethodGet, path: "/accounts/" + url.PathEscape(accountID) + "/transactions",
			query: transactionQuery(s.ClientID, page, from, to), token: s.Token, consent: s.ConsentID,
		}, &resp)
		if err != nil {
			return nil, false, err
		}
		txs := normalizeABankTransactions(accountID, resp)
		c.logger.LogSkippedRecords(ctx, string(core.ABank), log.OpListTransactions, len(txs), len(resp.Transactions))
		return txs, resp.HasMore, nil
	})
}
