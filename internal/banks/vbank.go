package banks

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"finguru/internal/core"
	"finguru/internal/log"
)

// VBankClient auto-approves consents and requires one on every data call.
type VBankClient struct {
	*transport
}

func (c *VBankClient) RequiresConsent() bool { return true }

func (c *VBankClient) IssueToken(ctx context.Context) (core.CachedToken, error) {
	return c.issueToken(ctx)
}

func (c *VBankClient) RequestConsent(ctx context.Context, token, clientID string, permissions []string) (core.ConsentRecord, error) {
	return c.requestConsent(ctx, token, clientID, permissions)
}

func (c *VBankClient) ConsentStatus(ctx context.Context, token string, rec core.ConsentRecord) (core.ConsentRecord, error) {
	return c.consentStatus(ctx, token, rec)
}

func (c *VBankClient) ListAccounts(ctx context.Context, s Session) ([]core.Account, error) {
	var resp vbankAccountsResponse
	err := c.do(ctx, call{
		op: log.OpListAccounts, method: http.MethodGet, path: "/accounts",
		query: dataQuery(s.ClientID), token: s.Token, consent: s.ConsentID,
	}, &resp)
	if err != nil {
		return nil, err
	}
	accounts := normalizeVBankAccounts(resp)
	c.logger.LogSkippedRecords(ctx, string(core.VBank), log.OpListAccounts, len(accounts), len(resp.Data.Account))
	return accounts, nil
}

func (c *VBankClient) GetBalances(ctx context.Context, s Session, accountID string) ([]core.Balance, error) {
	var resp vbankBalancesResponse
	err := c.do(ctx, call{
		op: log.OpGetBalances, method: http.MethodGet, path: "/accounts/" + url.PathEscape(accountID) + "/balances",
		query: dataQuery(s.ClientID), token: s.Token, consent: s.ConsentID,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return normalizeVBankBalances(accountID, resp), nil
}

func (c *VBankClient) ListTransactions(ctx context.Context, s Session, accountID string, from, to time.Time) ([]core.Transaction, error) {
	return paginate(ctx, func(ctx context.Context, page int) ([]core.Transaction, bool, error) {
		var resp vbankTransactionsResponse
		err := c.do(ctx, call{
			op: log.OpListTransactions, method: http.MethodGet, path: "/accounts/" + url.PathEscape(accountID) + "/transactions",
			query: transactionQuery(s.ClientID, page, from, to), token: s.Token, consent: s.ConsentID,
		}, &resp)
		if err != nil {
			return nil, false, err
		}
		more := resp.Links.Next != "" && len(resp.Data.Transaction) > 0
		txs := normalizeVBankTransactions(accountID, resp)
		c.logger.LogSkippedRecords(ctx, string(core.VBank), log.OpListTransactions, len(txs), len(resp.Data.Transaction))
		return txs, more, nil
	})
}
