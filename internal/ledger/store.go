package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store timeouts applied to every call at the store boundary.
const (
	rowTimeout  = 5 * time.Second
	bulkTimeout = 30 * time.Second
)

// Recent transaction listing bounds.
const (
	DefaultRecentLimit = 10
	MaxRecentLimit     = 100
)

// Store is the Entry Store the service reads from and writes to.
// Implementations translate missing rows to *NotFoundError and every other
// failure to *StoreError.
type Store interface {
	// GetClientOpeningBalance returns the opening balance of one client.
	GetClientOpeningBalance(ctx context.Context, clientID int64) (decimal.Decimal, error)
	// GetTransactionsForClient returns the client's entries in ledger order,
	// optionally limited to r.
	GetTransactionsForClient(ctx context.Context, clientID int64, r *DateRange) ([]Transaction, error)
	// GetAllClients returns every client, newest first.
	GetAllClients(ctx context.Context) ([]Client, error)
	// GetAllTransactions returns every entry joined with its client,
	// newest date first, optionally limited to r.
	GetAllTransactions(ctx context.Context, r *DateRange) ([]Transaction, error)
	// PersistBalances writes every cached balance of one client in a single
	// transaction. Either all rows are updated or none are.
	PersistBalances(ctx context.Context, clientID int64, updates []BalanceUpdate) error

	CreateClient(ctx context.Context, in ClientInput) (*Client, error)
	GetClient(ctx context.Context, id int64) (*Client, error)
	UpdateClient(ctx context.Context, id int64, in ClientInput) (*Client, error)
	// DeleteClient removes the client and all of its entries atomically.
	DeleteClient(ctx context.Context, id int64) error
	SearchClients(ctx context.Context, query string) ([]Client, error)
	CountClients(ctx context.Context) (int, error)

	CreateTransaction(ctx context.Context, in TransactionInput) (*Transaction, error)
	GetTransaction(ctx context.Context, id int64) (*Transaction, error)
	UpdateTransaction(ctx context.Context, id int64, in TransactionInput) (*Transaction, error)
	DeleteTransaction(ctx context.Context, id int64) error
	RecentTransactions(ctx context.Context, limit int) ([]Transaction, error)

	Close() error
}

func clampRecentLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultRecentLimit
	case limit > MaxRecentLimit:
		return MaxRecentLimit
	}
	return limit
}
