package ledger

import (
	"slices"

	"github.com/shopspring/decimal"
)

// StatementRow is one displayed line of a statement.
type StatementRow struct {
	TransactionID  int64           `json:"transaction_id"`
	Date           Date            `json:"date"`
	Account        AccountTag      `json:"account"`
	Particulars    string          `json:"particulars"`
	Debit          decimal.Decimal `json:"dr"`
	Credit         decimal.Decimal `json:"cr"`
	RunningBalance decimal.Decimal `json:"running_balance"`
}

// Statement is a client's ledger over a date range.
type Statement struct {
	Client         Client          `json:"client"`
	Range          DateRange       `json:"range"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	// BroughtForward is the balance carried into the range: the opening
	// balance plus every movement dated before From.
	BroughtForward decimal.Decimal `json:"brought_forward"`
	Rows           []StatementRow  `json:"rows"`
	TotalDebit     decimal.Decimal `json:"total_dr"`
	TotalCredit    decimal.Decimal `json:"total_cr"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
}

// AssembleStatement computes running balances over the client's whole
// history, then keeps only the rows dated inside r. txns may be in any
// order and must all belong to client.
//
// Totals cover displayed rows only. With no displayed rows the closing
// balance is the client's opening balance.
func AssembleStatement(client Client, txns []Transaction, r DateRange) (Statement, error) {
	if err := r.Validate(); err != nil {
		return Statement{}, err
	}
	sorted := slices.Clone(txns)
	SortEntries(sorted)

	st := Statement{
		Client:         client,
		Range:          r,
		OpeningBalance: client.OpeningBalance,
		BroughtForward: client.OpeningBalance,
		Rows:           []StatementRow{},
		TotalDebit:     decimal.Zero,
		TotalCredit:    decimal.Zero,
		ClosingBalance: client.OpeningBalance,
	}
	for _, e := range Accumulate(client.OpeningBalance, sorted) {
		if e.Date.Before(r.From) {
			st.BroughtForward = e.RunningBalance
			continue
		}
		if e.Date.After(r.To) {
			break
		}
		st.Rows = append(st.Rows, StatementRow{
			TransactionID:  e.ID,
			Date:           e.Date,
			Account:        e.Account,
			Particulars:    e.Particulars,
			Debit:          e.Debit,
			Credit:         e.Credit,
			RunningBalance: e.RunningBalance,
		})
		st.TotalDebit = st.TotalDebit.Add(e.Debit)
		st.TotalCredit = st.TotalCredit.Add(e.Credit)
		st.ClosingBalance = e.RunningBalance
	}
	return st, nil
}
