package banks

import (
	"strings"

	"github.com/shopspring/decimal"

	"finguru/internal/core"
)

// vbank speaks an Open Banking style dialect: camelCase fields wrapped in a
// "data" envelope, unsigned amounts with a credit/debit indicator.

type vbankAmount struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type vbankServicer struct {
	SchemeName     string `json:"schemeName"`
	Identification string `json:"identification"`
	Name           string `json:"name"`
}

type vbankAccount struct {
	AccountID      string         `json:"accountId"`
	Status         string         `json:"status"`
	Currency       string         `json:"currency"`
	AccountType    string         `json:"accountType"`
	AccountSubType string         `json:"accountSubType"`
	Nickname       string         `json:"nickname"`
	Servicer       *vbankServicer `json:"servicer"`
}

type vbankAccountsResponse struct {
	Data struct {
		Account []vbankAccount `json:"account"`
	} `json:"data"`
}

type vbankBalance struct {
	AccountID            string      `json:"accountId"`
	Type                 string      `json:"type"`
	DateTime             string      `json:"dateTime"`
	Amount               vbankAmount `json:"amount"`
	CreditDebitIndicator string      `json:"creditDebitIndicator"`
}

type vbankBalancesResponse struct {
	Data struct {
		Balance []vbankBalance `json:"balance"`
	} `json:"data"`
}

type vbankTransaction struct {
	TransactionID          string      `json:"transactionId"`
	AccountID              string      `json:"accountId"`
	Amount                 vbankAmount `json:"amount"`
	CreditDebitIndicator   string      `json:"creditDebitIndicator"`
	BookingDateTime        string      `json:"bookingDateTime"`
	TransactionInformation string      `json:"transactionInformation"`
	Merchant               *struct {
		MerchantName         string `json:"merchantName"`
		MerchantCategoryCode string `json:"merchantCategoryCode"`
	} `json:"merchant"`
}

type vbankTransactionsResponse struct {
	Data struct {
		Transaction []vbankTransaction `json:"transaction"`
	} `json:"data"`
	Links struct {
		Next string `json:"next"`
	} `json:"links"`
}

func signByIndicator(amount decimal.Decimal, indicator string) decimal.Decimal {
	switch strings.ToLower(strings.TrimSpace(indicator)) {
	case "debit":
		return amount.Abs().Neg()
	case "credit":
		return amount.Abs()
	default:
		return amount
	}
}

func normalizeVBankAccounts(resp vbankAccountsResponse) []core.Account {
	out := make([]core.Account, 0, len(resp.Data.Account))
	for _, a := range resp.Data.Account {
		if a.AccountID == "" {
			continue
		}
		accountType := a.AccountSubType
		if accountType == "" {
			accountType = a.AccountType
		}
		acc := core.Account{
			AccountID:   a.AccountID,
			Bank:        core.VBank,
			Currency:    upper(a.Currency),
			AccountType: accountType,
			Nickname:    core.StringPtr(a.Nickname),
		}
		if a.Servicer != nil && (a.Servicer.Identification != "" || a.Servicer.Name != "") {
			acc.Servicer = &core.Servicer{
				SchemeName:     a.Servicer.SchemeName,
				Identification: a.Servicer.Identification,
				Name:           a.Servicer.Name,
			}
		}
		out = append(out, acc)
	}
	return out
}

func normalizeVBankBalances(accountID string, resp vbankBalancesResponse) []core.Balance {
	out := make([]core.Balance, 0, len(resp.Data.Balance))
	for _, b := range resp.Data.Balance {
		id := b.AccountID
		if id == "" {
			id = accountID
		}
		at, _ := parseTime(b.DateTime)
		out = append(out, core.Balance{
			AccountID: id,
			Bank:      core.VBank,
			Amount:    signByIndicator(b.Amount.Amount, b.CreditDebitIndicator),
			Currency:  upper(b.Amount.Currency),
			Type:      b.Type,
			DateTime:  at,
		})
	}
	return out
}

func normalizeVBankTransactions(accountID string, resp vbankTransactionsResponse) []core.Transaction {
	out := make([]core.Transaction, 0, len(resp.Data.Transaction))
	for _, t := range resp.Data.Transaction {
		booked, ok := parseTime(t.BookingDateTime)
		if t.TransactionID == "" || !ok {
			continue
		}
		id := t.AccountID
		if id == "" {
			id = accountID
		}
		tx := core.Transaction{
			TransactionID: t.TransactionID,
			AccountID:     id,
			Bank:          core.VBank,
			Amount:        signByIndicator(t.Amount.Amount, t.CreditDebitIndicator),
			Currency:      upper(t.Amount.Currency),
			BookingDate:   booked,
			Description:   core.StringPtr(t.TransactionInformation),
		}
		if t.Merchant != nil {
			tx.MCC = core.StringPtr(t.Merchant.MerchantCategoryCode)
			if tx.Description == nil {
				tx.Description = core.StringPtr(t.Merchant.MerchantName)
			}
		}
		out = append(out, tx)
	}
	return out
}
