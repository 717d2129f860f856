package ledger

import (
	"cmp"
	"slices"

	"github.com/shopspring/decimal"
)

// BalancedEntry pairs an entry with the running balance after applying it.
type BalancedEntry struct {
	Transaction
	RunningBalance decimal.Decimal `json:"running_balance"`
}

// compareEntries orders by (date, id). IDs grow with insertion, so same-day
// entries keep the order they were recorded in.
func compareEntries(a, b Transaction) int {
	if c := a.Date.Compare(b.Date); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// SortEntries sorts entries in ledger order, in place.
func SortEntries(entries []Transaction) {
	slices.SortStableFunc(entries, compareEntries)
}

// Accumulate folds entries, which must already be in ledger order, into
// running balances seeded with opening:
//
//	R_i = opening + sum(debit_j - credit_j) for j <= i
//
// The result has the same length and order as entries.
func Accumulate(opening decimal.Decimal, entries []Transaction) []BalancedEntry {
	out := make([]BalancedEntry, 0, len(entries))
	running := opening
	for _, e := range entries {
		running = running.Add(e.Movement())
		out = append(out, BalancedEntry{Transaction: e, RunningBalance: running})
	}
	return out
}

// balanceUpdates turns an accumulation into the write-back payload.
func balanceUpdates(balanced []BalancedEntry) []BalanceUpdate {
	updates := make([]BalanceUpdate, len(balanced))
	for i, b := range balanced {
		updates[i] = BalanceUpdate{TransactionID: b.ID, Balance: b.RunningBalance}
	}
	return updates
}
