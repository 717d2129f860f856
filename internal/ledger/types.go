// Package ledger is the bookkeeping core of the shop ledger: clients, their
// debit/credit entries, running balances, statements and rollups.
//
// The computation functions (Accumulate, SummarizeClients, Classify,
// AggregateByDate, AssembleStatement, ...) are pure and work on slices
// already fetched from a Store. LedgerService ties them to a Store and
// serializes writes per client.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountTag labels how an entry was settled.
type AccountTag string

const (
	AccountCash  AccountTag = "Cash"
	AccountBank  AccountTag = "Bank"
	AccountNet   AccountTag = "Net"
	AccountNoNet AccountTag = "No NET"
)

// KnownAccountTags is the fixed vocabulary offered to users. Free-form tags
// such as "Goods" are accepted as well.
var KnownAccountTags = []AccountTag{AccountCash, AccountBank, AccountNet, AccountNoNet}

// Client is a customer whose entries make up one ledger book.
type Client struct {
	ID             int64           `json:"id"`
	Name           string          `json:"client_name"`
	ShopName       string          `json:"shop_name"`
	Mobile         string          `json:"mobile_number"`
	City           string          `json:"city"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ClientInput carries every mutable client field for create and update.
type ClientInput struct {
	Name           string          `json:"client_name"`
	ShopName       string          `json:"shop_name"`
	Mobile         string          `json:"mobile_number"`
	City           string          `json:"city"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

// Transaction is one ledger entry owned by a client.
type Transaction struct {
	ID          int64           `json:"id"`
	ClientID    int64           `json:"client_id"`
	Date        Date            `json:"date"`
	Account     AccountTag      `json:"account"`
	Particulars string          `json:"particulars"`
	Debit       decimal.Decimal `json:"dr"`
	Credit      decimal.Decimal `json:"cr"`
	// Balance is the stored running balance. It is a cache of Accumulate and
	// is rewritten by RecalculateClientBalances.
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`

	// Populated only by queries that join the owning client.
	ClientName string `json:"client_name,omitempty"`
	ShopName   string `json:"shop_name,omitempty"`
}

// Movement is the signed contribution of the entry to its client's balance.
func (t Transaction) Movement() decimal.Decimal { return t.Debit.Sub(t.Credit) }

// TransactionInput carries the mutable fields of an entry. ClientID is only
// read on create; the owner of an existing entry never changes.
type TransactionInput struct {
	ClientID    int64           `json:"client_id"`
	Date        Date            `json:"date"`
	Account     AccountTag      `json:"account"`
	Particulars string          `json:"particulars"`
	Debit       decimal.Decimal `json:"dr"`
	Credit      decimal.Decimal `json:"cr"`
}

// BalanceUpdate is one row of a recalculation write-back.
type BalanceUpdate struct {
	TransactionID int64
	Balance       decimal.Decimal
}
