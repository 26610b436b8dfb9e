package banks

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finguru/internal/core"
)

func decode[T any](t *testing.T, raw string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestNormalizeVBank(t *testing.T) {
	accounts := normalizeVBankAccounts(decode[vbankAccountsResponse](t, `{
		"data": {"account": [
			{"accountId": "v-1", "currency": "rub", "accountType": "Personal", "accountSubType": "CurrentAccount",
			 "nickname": "Main", "servicer": {"schemeName": "RU.CBR.BIK", "identification": "044525000", "name": "VBank"}},
			{"accountId": "v-2", "currency": "RUB", "accountType": "Personal"},
			{"currency": "RUB"}
		]}}`))

	require.Len(t, accounts, 2)
	assert.Equal(t, core.VBank, accounts[0].Bank)
	assert.Equal(t, "RUB", accounts[0].Currency)
	assert.Equal(t, "CurrentAccount", accounts[0].AccountType)
	require.NotNil(t, accounts[0].Nickname)
	assert.Equal(t, "Main", *accounts[0].Nickname)
	require.NotNil(t, accounts[0].Servicer)
	assert.Equal(t, "044525000", accounts[0].Servicer.Identification)

	assert.Equal(t, "Personal", accounts[1].AccountType)
	assert.Nil(t, accounts[1].Nickname, "absent nickname must stay absent")
	assert.Nil(t, accounts[1].Servicer)

	txs := normalizeVBankTransactions("v-1", decode[vbankTransactionsResponse](t, `{
		"data": {"transaction": [
			{"transactionId": "t1", "amount": {"amount": "150.00", "currency": "RUB"}, "creditDebitIndicator": "Debit",
			 "bookingDateTime": "2025-01-10T12:00:00Z", "transactionInformation": "Кафе", "merchant": {"merchantCategoryCode": "5812"}},
			{"transactionId": "t2", "amount": {"amount": "1000", "currency": "RUB"}, "creditDebitIndicator": "Credit",
			 "bookingDateTime": "2025-01-11"},
			{"transactionId": "t3", "amount": {"amount": "1", "currency": "RUB"}, "bookingDateTime": "garbage"}
		]}}`))

	require.Len(t, txs, 2)
	assert.Equal(t, "-150", txs[0].Amount.String())
	assert.Equal(t, "v-1", txs[0].AccountID)
	require.NotNil(t, txs[0].MCC)
	assert.Equal(t, "5812", *txs[0].MCC)
	assert.Equal(t, "1000", txs[1].Amount.String())
	assert.Nil(t, txs[1].Description)
	assert.Nil(t, txs[1].MCC)
	assert.Equal(t, time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC), txs[1].BookingDate)

	balances := normalizeVBankBalances("v-1", decode[vbankBalancesResponse](t, `{
		"data": {"balance": [{"type": "InterimAvailable", "dateTime": "2025-01-12T08:00:00+03:00",
			"amount": {"amount": "250.50", "currency": "RUB"}, "creditDebitIndicator": "Credit"}]}}`))
	require.Len(t, balances, 1)
	assert.Equal(t, "v-1", balances[0].AccountID)
	assert.Equal(t, "250.5", balances[0].Amount.String())
	assert.Equal(t, time.Date(2025, 1, 12, 5, 0, 0, 0, time.UTC), balances[0].DateTime)
}

func TestNormalizeABank(t *testing.T) {
	accounts := normalizeABankAccounts(decode[abankAccountsResponse](t, `{
		"accounts": [{"account_id": "a-1", "currency": "RUB", "type": "checking", "name": "", "bic": "044525111", "bank_name": "ABank"}]}`))
	require.Len(t, accounts, 1)
	assert.Equal(t, core.ABank, accounts[0].Bank)
	assert.Nil(t, accounts[0].Nickname)
	require.NotNil(t, accounts[0].Servicer)
	assert.Equal(t, "BIC", accounts[0].Servicer.SchemeName)

	txs := normalizeABankTransactions("a-1", decode[abankTransactionsResponse](t, `{
		"transactions": [
			{"id": "x1", "amount": "-50.00", "currency": "RUB", "booked_at": "2025-01-10T09:30:00", "description": "Uber trip", "mcc": ""},
			{"id": "x2", "amount": 20.5, "currency": "RUB", "booked_at": "2025-01-10T10:00:00Z"}
		], "has_more": false}`))
	require.Len(t, txs, 2)
	assert.Equal(t, "-50", txs[0].Amount.String())
	assert.Nil(t, txs[0].MCC, "empty mcc must map to absent")
	require.NotNil(t, txs[0].Description)
	assert.Equal(t, "Uber trip", *txs[0].Description)
	assert.Equal(t, "20.5", txs[1].Amount.String())
	assert.Nil(t, txs[1].Description)

	balances := normalizeABankBalances("a-1", decode[abankBalancesResponse](t, `{
		"balances": [{"amount": "-12.34", "currency": "RUB", "type": "booked", "updated_at": "2025-01-01"}]}`))
	require.Len(t, balances, 1)
	assert.Equal(t, "a-1", balances[0].AccountID)
	assert.Equal(t, "-12.34", balances[0].Amount.String())
}

func TestNormalizeABank_LegacyFieldNames(t *testing.T) {
	accounts := normalizeABankAccounts(decode[abankAccountsResponse](t, `{
		"accounts": [{"account_id": "a-1", "currency": "RUB", "account_type": "Personal", "nickname": "Main",
			"servicer": {"scheme_name": "RU.CBR.BIK", "identification": "044525111", "name": "ABank"}}]}`))
	require.Len(t, accounts, 1)
	assert.Equal(t, "Personal", accounts[0].AccountType)
	require.NotNil(t, accounts[0].Nickname)
	assert.Equal(t, "Main", *accounts[0].Nickname)
	require.NotNil(t, accounts[0].Servicer)
	assert.Equal(t, "RU.CBR.BIK", accounts[0].Servicer.SchemeName)

	balances := normalizeABankBalances("a-1", decode[abankBalancesResponse](t, `{
		"balances": [{"amount": "500.00", "currency": "RUB", "balance_type": "interimBooked"}]}`))
	require.Len(t, balances, 1)
	assert.Equal(t, "interimBooked", balances[0].Type)

	txs := normalizeABankTransactions("a-1", decode[abankTransactionsResponse](t, `{
		"transactions": [{"transaction_id": "t1", "amount": "-150.00", "currency": "RUB",
			"booking_date_time": "2025-01-10T12:00:00Z", "description": "Cafe", "mcc": "5812"}]}`))
	require.Len(t, txs, 1)
	assert.Equal(t, "t1", txs[0].TransactionID)
	assert.Equal(t, "a-1", txs[0].AccountID)
	assert.Equal(t, time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC), txs[0].BookingDate)
	require.NotNil(t, txs[0].MCC)
	assert.Equal(t, "5812", *txs[0].MCC)
}

func TestNormalizeSBank(t *testing.T) {
	accounts := normalizeSBankAccounts(decode[sbankAccountsResponse](t, `{
		"result": {"accounts": [{"id": "s-1", "currency_code": "RUB", "kind": "card", "title": "Salary"}]}}`))
	require.Len(t, accounts, 1)
	assert.Equal(t, core.SBank, accounts[0].Bank)
	assert.Equal(t, "card", accounts[0].AccountType)
	assert.Nil(t, accounts[0].Servicer)

	txs := normalizeSBankOperations("s-1", decode[sbankOperationsResponse](t, `{
		"result": {"operations": [
			{"operation_id": "o1", "sum": 99.9, "currency_code": "RUB", "direction": "out", "date": "2025-02-01", "comment": "Аптека", "mcc": 5912},
			{"operation_id": "o2", "sum": 500, "currency_code": "RUB", "direction": "in", "date": "2025-02-02", "mcc": 0},
			{"operation_id": "o3", "sum": 7, "direction": "out", "date": "2025-02-03", "mcc": 742}
		]}}`))
	require.Len(t, txs, 3)
	assert.Equal(t, "-99.9", txs[0].Amount.String())
	assert.Equal(t, "5912", *txs[0].MCC)
	assert.Equal(t, "500", txs[1].Amount.String())
	assert.Nil(t, txs[1].MCC)
	assert.Nil(t, txs[1].Description)
	assert.Equal(t, "0742", *txs[2].MCC)

	balances := normalizeSBankBalances("s-1", decode[sbankBalancesResponse](t, `{
		"result": {"balance": {"available": 1000.01, "currency_code": "rub", "as_of": "2025-02-03T00:00:00Z"}}}`))
	require.Len(t, balances, 1)
	assert.Equal(t, "RUB", balances[0].Currency)
	assert.Equal(t, "1000.01", balances[0].Amount.String())

	assert.Empty(t, normalizeSBankBalances("s-1", sbankBalancesResponse{}))
}

func TestParseConsentStatus(t *testing.T) {
	tests := []struct {
		status    string
		consentID string
		want      core.ConsentStatus
	}{
		{"approved", "c", core.ConsentApproved},
		{"Authorised", "c", core.ConsentApproved},
		{"AwaitingAuthorisation", "", core.ConsentPending},
		{"pending", "", core.ConsentPending},
		{"rejected", "", core.ConsentRejected},
		{"", "c", core.ConsentApproved},
		{"", "", core.ConsentPending},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseConsentStatus(tt.status, tt.consentID), "status %q", tt.status)
	}
}
