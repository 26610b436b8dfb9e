package banks

import (
	"strings"

	"github.com/shopspring/decimal"

	"finguru/internal/core"
)

// sbank wraps everything in "result", reports balances as a single object and
// calls transactions "operations": unsigned sums with an in/out direction and
// a numeric MCC.

type sbankAccount struct {
	ID           string `json:"id"`
	CurrencyCode string `json:"currency_code"`
	Kind         string `json:"kind"`
	Title        string `json:"title"`
}

type sbankAccountsResponse struct {
	Result struct {
		Accounts []sbankAccount `json:"accounts"`
	} `json:"result"`
}

type sbankBalancesResponse struct {
	Result struct {
		Balance *struct {
			Available    decimal.Decimal `json:"available"`
			CurrencyCode string          `json:"currency_code"`
			AsOf         string          `json:"as_of"`
		} `json:"balance"`
	} `json:"result"`
}

type sbankOperation struct {
	OperationID string          `json:"operation_id"`
	Sum         decimal.Decimal `json:"sum"`
	Currency    string          `json:"currency_code"`
	Direction   string          `json:"direction"`
	Date        string          `json:"date"`
	Comment     string          `json:"comment"`
	MCC         int             `json:"mcc"`
}

type sbankOperationsResponse struct {
	Result struct {
		Operations []sbankOperation `json:"operations"`
	} `json:"result"`
}

func normalizeSBankAccounts(resp sbankAccountsResponse) []core.Account {
	out := make([]core.Account, 0, len(resp.Result.Accounts))
	for _, a := range resp.Result.Accounts {
		if a.ID == "" {
			continue
		}
		out = append(out, core.Account{
			AccountID:   a.ID,
			Bank:        core.SBank,
			Currency:    upper(a.CurrencyCode),
			AccountType: a.Kind,
			Nickname:    core.StringPtr(a.Title),
		})
	}
	return out
}

func normalizeSBankBalances(accountID string, resp sbankBalancesResponse) []core.Balance {
	b := resp.Result.Balance
	if b == nil {
		return nil
	}
	at, _ := parseTime(b.AsOf)
	return []core.Balance{{
		AccountID: accountID,
		Bank:      core.SBank,
		Amount:    b.Available,
		Currency:  upper(b.CurrencyCode),
		Type:      "available",
		DateTime:  at,
	}}
}

func normalizeSBankOperations(accountID string, resp sbankOperationsResponse) []core.Transaction {
	out := make([]core.Transaction, 0, len(resp.Result.Operations))
	for _, op := range resp.Result.Operations {
		booked, ok := parseTime(op.Date)
		if op.OperationID == "" || !ok {
			continue
		}
		amount := op.Sum.Abs()
		if strings.EqualFold(op.Direction, "out") {
			amount = amount.Neg()
		}
		out = append(out, core.Transaction{
			TransactionID: op.OperationID,
			AccountID:     accountID,
			Bank:          core.SBank,
			Amount:        amount,
			Currency:      upper(op.Currency),
			BookingDate:   booked,
			Description:   core.StringPtr(op.Comment),
			MCC:           mccFromInt(op.MCC),
		})
	}
	return out
}
