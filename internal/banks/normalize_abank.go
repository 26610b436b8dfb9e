package banks

import (
	"github.com/shopspring/decimal"

	"finguru/internal/core"
)

// abank returns flat snake_case collections with signed string amounts. Older
// sandbox builds name the same fields differently (account_type, nickname,
// servicer, balance_type, transaction_id, booking_date_time); both spellings
// are accepted, the newer one wins.

type abankServicer struct {
	SchemeName     string `json:"scheme_name"`
	Identification string `json:"identification"`
	Name           string `json:"name"`
}

type abankAccount struct {
	AccountID   string         `json:"account_id"`
	Currency    string         `json:"currency"`
	Type        string         `json:"type"`
	AccountType string         `json:"account_type"`
	Name        string         `json:"name"`
	Nickname    string         `json:"nickname"`
	BIC         string         `json:"bic"`
	BankName    string         `json:"bank_name"`
	Servicer    *abankServicer `json:"servicer"`
}

type abankAccountsResponse struct {
	Accounts []abankAccount `json:"accounts"`
}

type abankBalance struct {
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Type        string          `json:"type"`
	BalanceType string          `json:"balance_type"`
	UpdatedAt   string          `json:"updated_at"`
}

type abankBalancesResponse struct {
	Balances []abankBalance `json:"balances"`
}

type abankTransaction struct {
	ID              string          `json:"id"`
	TransactionID   string          `json:"transaction_id"`
	AccountID       string          `json:"account_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	BookedAt        string          `json:"booked_at"`
	BookingDateTime string          `json:"booking_date_time"`
	Description     string          `json:"description"`
	MCC             string          `json:"mcc"`
}

type abankTransactionsResponse struct {
	Transactions []abankTransaction `json:"transactions"`
	HasMore      bool               `json:"has_more"`
}

func normalizeABankAccounts(resp abankAccountsResponse) []core.Account {
	out := make([]core.Account, 0, len(resp.Accounts))
	for _, a := range resp.Accounts {
		if a.AccountID == "" {
			continue
		}
		acc := core.Account{
			AccountID:   a.AccountID,
			Bank:        core.ABank,
			Currency:    upper(a.Currency),
			AccountType: firstNonEmpty(a.Type, a.AccountType),
			Nickname:    core.StringPtr(firstNonEmpty(a.Name, a.Nickname)),
		}
		switch {
		case a.BIC != "" || a.BankName != "":
			acc.Servicer = &core.Servicer{SchemeName: "BIC", Identification: a.BIC, Name: a.BankName}
		case a.Servicer != nil:
			acc.Servicer = &core.Servicer{SchemeName: a.Servicer.SchemeName, Identification: a.Servicer.Identification, Name: a.Servicer.Name}
		}
		out = append(out, acc)
	}
	return out
}

func normalizeABankBalances(accountID string, resp abankBalancesResponse) []core.Balance {
	out := make([]core.Balance, 0, len(resp.Balances))
	for _, b := range resp.Balances {
		id := b.AccountID
		if id == "" {
			id = accountID
		}
		at, _ := parseTime(b.UpdatedAt)
		out = append(out, core.Balance{
			AccountID: id,
			Bank:      core.ABank,
			Amount:    b.Amount,
			Currency:  upper(b.Currency),
			Type:      firstNonEmpty(b.Type, b.BalanceType),
			DateTime:  at,
		})
	}
	return out
}

func normalizeABankTransactions(accountID string, resp abankTransactionsResponse) []core.Transaction {
	out := make([]core.Transaction, 0, len(resp.Transactions))
	for _, t := range resp.Transactions {
		txID := firstNonEmpty(t.ID, t.TransactionID)
		booked, ok := parseTime(firstNonEmpty(t.BookedAt, t.BookingDateTime))
		if txID == "" || !ok {
			continue
		}
		id := t.AccountID
		if id == "" {
			id = accountID
		}
		out = append(out, core.Transaction{
			TransactionID: txID,
			AccountID:     id,
			Bank:          core.ABank,
			Amount:        t.Amount,
			Currency:      upper(t.Currency),
			BookingDate:   booked,
			Description:   core.StringPtr(t.Description),
			MCC:           core.StringPtr(t.MCC),
		})
	}
	return out
}
