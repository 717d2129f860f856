package ledger

import (
	"cmp"
	"slices"

	"github.com/shopspring/decimal"
)

// ClientBalance is a client with its lifetime totals and current balance.
type ClientBalance struct {
	Client
	TotalDebit     decimal.Decimal `json:"total_dr"`
	TotalCredit    decimal.Decimal `json:"total_cr"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
}

// Classification partitions clients by the sign of their balance. Clients
// whose balance is exactly zero are in neither list.
type Classification struct {
	Debtors   []ClientBalance `json:"debtors"`
	Creditors []ClientBalance `json:"creditors"`
}

// SummarizeClients totals every client's transactions. Each client appears
// once, even with no transactions; transactions of unknown clients are
// ignored. The result is ordered by name, then ID.
func SummarizeClients(clients []Client, txns []Transaction) []ClientBalance {
	index := make(map[int64]int, len(clients))
	out := make([]ClientBalance, len(clients))
	for i, c := range clients {
		index[c.ID] = i
		out[i] = ClientBalance{
			Client:         c,
			TotalDebit:     decimal.Zero,
			TotalCredit:    decimal.Zero,
			CurrentBalance: c.OpeningBalance,
		}
	}
	for _, t := range txns {
		i, ok := index[t.ClientID]
		if !ok {
			continue
		}
		cb := &out[i]
		cb.TotalDebit = cb.TotalDebit.Add(t.Debit)
		cb.TotalCredit = cb.TotalCredit.Add(t.Credit)
		cb.CurrentBalance = cb.CurrentBalance.Add(t.Movement())
	}
	slices.SortStableFunc(out, func(a, b ClientBalance) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Classify splits balances into debtors (owing, largest first) and
// creditors (owed, most negative first).
func Classify(balances []ClientBalance) Classification {
	result := Classification{
		Debtors:   []ClientBalance{},
		Creditors: []ClientBalance{},
	}
	for _, b := range balances {
		switch b.CurrentBalance.Sign() {
		case 1:
			result.Debtors = append(result.Debtors, b)
		case -1:
			result.Creditors = append(result.Creditors, b)
		}
	}
	slices.SortFunc(result.Debtors, func(a, b ClientBalance) int {
		if c := b.CurrentBalance.Cmp(a.CurrentBalance); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	slices.SortFunc(result.Creditors, func(a, b ClientBalance) int {
		if c := a.CurrentBalance.Cmp(b.CurrentBalance); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return result
}
