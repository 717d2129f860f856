package ledger

import (
	"cmp"
	"slices"

	"github.com/shopspring/decimal"
)

// DailySummary is one date bucket.
type DailySummary struct {
	Date             Date            `json:"date"`
	TransactionCount int             `json:"transaction_count"`
	TotalDebit       decimal.Decimal `json:"total_dr"`
	TotalCredit      decimal.Decimal `json:"total_cr"`
}

// MonthlySummary is one calendar-month bucket keyed by its first day.
type MonthlySummary struct {
	Month            Date            `json:"month"`
	TransactionCount int             `json:"transaction_count"`
	TotalDebit       decimal.Decimal `json:"total_dr"`
	TotalCredit      decimal.Decimal `json:"total_cr"`
}

// AccountSummary is one account-tag bucket.
type AccountSummary struct {
	Account          AccountTag      `json:"account"`
	TransactionCount int             `json:"transaction_count"`
	TotalDebit       decimal.Decimal `json:"total_dr"`
	TotalCredit      decimal.Decimal `json:"total_cr"`
}

// RangeSummary totals every transaction inside a range.
type RangeSummary struct {
	From             Date            `json:"from"`
	To               Date            `json:"to"`
	TransactionCount int             `json:"transaction_count"`
	TotalDebit       decimal.Decimal `json:"total_dr"`
	TotalCredit      decimal.Decimal `json:"total_cr"`
}

type bucket struct {
	count  int
	debit  decimal.Decimal
	credit decimal.Decimal
}

func (b *bucket) add(t Transaction) {
	b.count++
	b.debit = b.debit.Add(t.Debit)
	b.credit = b.credit.Add(t.Credit)
}

// groupBy buckets txns by key, keeping only those accepted by keep.
func groupBy[K comparable](txns []Transaction, keep func(Transaction) bool, key func(Transaction) K) map[K]*bucket {
	groups := make(map[K]*bucket)
	for _, t := range txns {
		if keep != nil && !keep(t) {
			continue
		}
		k := key(t)
		b, ok := groups[k]
		if !ok {
			b = &bucket{debit: decimal.Zero, credit: decimal.Zero}
			groups[k] = b
		}
		b.add(t)
	}
	return groups
}

// AggregateByDate buckets transactions whose date falls inside r by exact
// date, newest first.
func AggregateByDate(txns []Transaction, r DateRange) ([]DailySummary, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	groups := groupBy(txns, func(t Transaction) bool { return r.Contains(t.Date) },
		func(t Transaction) Date { return t.Date })

	out := make([]DailySummary, 0, len(groups))
	for d, b := range groups {
		out = append(out, DailySummary{Date: d, TransactionCount: b.count, TotalDebit: b.debit, TotalCredit: b.credit})
	}
	slices.SortFunc(out, func(a, b DailySummary) int { return b.Date.Compare(a.Date) })
	return out, nil
}

// AggregateByMonth buckets transactions whose date falls inside r by
// calendar month, newest first.
func AggregateByMonth(txns []Transaction, r DateRange) ([]MonthlySummary, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	groups := groupBy(txns, func(t Transaction) bool { return r.Contains(t.Date) },
		func(t Transaction) Date { return t.Date.MonthStart() })

	out := make([]MonthlySummary, 0, len(groups))
	for m, b := range groups {
		out = append(out, MonthlySummary{Month: m, TransactionCount: b.count, TotalDebit: b.debit, TotalCredit: b.credit})
	}
	slices.SortFunc(out, func(a, b MonthlySummary) int { return b.Month.Compare(a.Month) })
	return out, nil
}

// AggregateByAccount buckets all transactions by account tag, most used
// first. Equal counts are ordered by tag.
func AggregateByAccount(txns []Transaction) []AccountSummary {
	groups := groupBy(txns, nil, func(t Transaction) AccountTag { return t.Account })

	out := make([]AccountSummary, 0, len(groups))
	for tag, b := range groups {
		out = append(out, AccountSummary{Account: tag, TransactionCount: b.count, TotalDebit: b.debit, TotalCredit: b.credit})
	}
	slices.SortFunc(out, func(a, b AccountSummary) int {
		if c := cmp.Compare(b.TransactionCount, a.TransactionCount); c != 0 {
			return c
		}
		return cmp.Compare(a.Account, b.Account)
	})
	return out
}

// SummarizeRange always returns one row; an empty range yields zeros.
func SummarizeRange(txns []Transaction, r DateRange) (RangeSummary, error) {
	if err := r.Validate(); err != nil {
		return RangeSummary{}, err
	}
	total := bucket{debit: decimal.Zero, credit: decimal.Zero}
	for _, t := range txns {
		if r.Contains(t.Date) {
			total.add(t)
		}
	}
	return RangeSummary{
		From:             r.From,
		To:               r.To,
		TransactionCount: total.count,
		TotalDebit:       total.debit,
		TotalCredit:      total.credit,
	}, nil
}
