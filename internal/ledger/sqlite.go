package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteSchema creates the ledger tables. Money is stored as decimal text
// and dates as YYYY-MM-DD text so both round-trip exactly.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS clients (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    client_name     TEXT NOT NULL,
    shop_name       TEXT NOT NULL DEFAULT '',
    mobile_number   TEXT NOT NULL DEFAULT '',
    city            TEXT NOT NULL DEFAULT '',
    opening_balance TEXT NOT NULL DEFAULT '0',
    created_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    client_id   INTEGER NOT NULL REFERENCES clients(id),
    txn_date    TEXT NOT NULL,
    account     TEXT NOT NULL,
    particulars TEXT NOT NULL DEFAULT '',
    dr          TEXT NOT NULL DEFAULT '0',
    cr          TEXT NOT NULL DEFAULT '0',
    balance     TEXT NOT NULL DEFAULT '0',
    created_at  TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_client_order ON transactions (client_id, txn_date, id);
CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions (txn_date);
`

const (
	sqliteClientColumns = `id, client_name, shop_name, mobile_number, city, opening_balance, created_at`
	sqliteTxnColumns    = `t.id, t.client_id, t.txn_date, t.account, t.particulars, t.dr, t.cr, t.balance, t.created_at`
)

// SQLiteStore is the Store used for single-shop installs and tests.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens path (or ":memory:") and applies SQLiteSchema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	if path == ":memory:" {
		dsn = "file::memory:?_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps an in-memory database alive and serializes
	// writers on a file database.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	store := NewSQLiteStore(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore wraps an already opened database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Migrate applies SQLiteSchema. It is safe to run repeatedly.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, bulkTimeout)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, SQLiteSchema); err != nil {
		return storeErr("migrate", err)
	}
	return nil
}

func (s *SQLiteStore) GetClientOpeningBalance(ctx context.Context, clientID int64) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, rowTimeout)
	defer cancel()

	var opening decimal.Decimal
	err := s.db.QueryRowContext(ctx, `SELECT opening_balance FROM clients WHERE id = ?`, clientID).Scan(&opening)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, clientNotFound(clientID)
	}
	if err != nil {
		return decimal.Zero, storeErr("get opening balance", err)
	}
	return opening, nil
}

func (s *SQLiteStore) GetTransactionsForClient(ctx context.Context, clientID int64, r *DateRange) ([]Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, bulkTimeout)
	defer cancel()

	query := `SELECT ` + sqliteTxnColumns + ` FROM transactions t WHERE t.client_id = ?`
	args := []any{clientID}
	if r != nil {
		query += ` AND t.txn_date BETWEEN ? AND ?`
		args = append(args, r.From.String(), r.To.String())
	}
	query += ` ORDER BY t.txn_date ASC, t.id ASC`

	return s.queryTransactions(ctx, "list client transactions", scanTransaction, query, args...)
}

func (s *SQLiteStore) GetAllClients(ctx context.Context) ([]Client, error) {
	ctx, cancel := context.WithTimeout(ctx, bulkTimeout)
	defer cancel()
	return s.queryClients(ctx, "list clients",
		`SELECT `+sqliteClientColumns+` FROM clients ORDER BY created_at DESC, id DESC`)
}

func (s *SQLiteStore) GetAllTransactions(ctx context.Context, r *DateRange) ([]Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, bulkTimeout)
	defer cancel()

	query := `SELECT ` + sqliteTxnColumns + `, c.client_name, c.shop_name
		FROM transactions t JOIN clients c ON c.id = t.client_id`
	var args []any
	if r != nil {
		query += ` WHERE t.txn_date BETWEEN ? AND ?`
		args = append(args, r.From.String(), r.To.String())
	}
	query += ` ORDER BY t.txn_date DESC, t.id DESC`

	return s.queryTransactions(ctx, "list transactions", scanJoinedTransaction, query, args...)
}

func (s *SQLiteStore) PersistBalances(ctx context.Context, clientID int64, updates []BalanceUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, bulkTimeout)
	defer cancel()

	return s.inTx(ctx, "persist balances", func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM clients WHERE id = ?)`, clientID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return clientNotFound(clientID)
		}
		stmt, err := tx.PrepareContext(ctx, `UPDATE transactions SET balance = ? WHERE id = ? AND client_id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, u := range updates {
			res, err := stmt.ExecContext(ctx, u.Balance.String(), u.TransactionID, clientID)
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return transactionNotFound(u.TransactionID)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) CreateClient(ctx context.Context, in ClientInput) (*Client, error) {
	ctx, cancel := context.WithTimeout(ctx, rowTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (client_name, shop_name, mobile_number, city, opening_balance, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		in.Name, in.ShopName, in.Mobile, in.City, in.OpeningBalance.String(), time.Now().UTC())
	if err != nil {
		return nil, storeErr("create client", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, storeErr("create client", err)
	}
	return s.GetClient(ctx, id)
}

func (s *SQLiteStore) GetClient(ctx context.Context, id int64) (*Client, error) {
	ctx, cancel := context.WithTimeout(ctx, rowTimeout)
	defer cancel()

	c, err := scanClient(s.db.QueryRowContext(ctx, `SELECT `+sqliteClientColumns+` FROM clients WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, clientNotFound(id)
	}
	if err != nil {
		return nil, storeErr("get client", err)
	}
	return c, nil
}

func (s *SQLiteStore) UpdateClient(ctx context.Context, id int64, in ClientInput) (*Client, error) {
	ctx, cancel := context.WithTimeout(ctx, rowTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE clients
		SET client_name = ?, shop_name = ?, mobile_number = ?, city = ?, opening_balance = ?
		WHERE id = ?`,
		in.Name, in.ShopName, in.Mobile, in.City, in.OpeningBalance.String(), id)
	if err != nil {
		return nil, storeErr("update client", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, clientNotFound(id)
	}
	return s.GetClient(ctx, id)
}

func (s *SQLiteStore) DeleteClient(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, rowTimeout)
	defer cancel()

	return s.inTx(ctx, "delete client", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE client_id = ?`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM clients WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return clientNotFound(id)
		}
		return nil
	})
}

func (s *SQLiteStore) SearchClients(ctx context.Context, query string) ([]Client, error) {
	ctx, cancel := context.WithTimeout(ctx, bulkTimeout)
	defer cancel()

	pattern := likePattern(query)
	return s.queryClients(ctx, "search clients",
		`SELECT `+sqliteClientColumns+` FROM clients
		WHERE client_name LIKE ? ESCAPE '\' OR shop_name LIKE ? ESCAPE '\'
		ORDER BY client_name ASC, id ASC`, pattern, pattern)
}

func (s *SQLiteStore) CountClients(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, rowTimeout)
	defer cancel()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clients`).Scan(&n); err != nil {
		return 0, storeErr("count clients", err)
	}
	return n, nil
}

func (s *SQLiteStore) CreateTransaction(ctx context.Context, in TransactionInput) (*Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, rowTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (client_id, txn_date, account, particulars, dr, cr, balance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, '0', ?)`,
		in.ClientID, in.Date.String(), string(in.Account), in.Particulars,
		in.Debit.String(), in.Credit.String(), time.Now().UTC())
	if err != nil {
		return nil, storeErr("create transaction", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, storeErr("create transaction", err)
	}
	return s.GetTransaction(ctx, id)
}

func (s *SQLiteStore) GetTransaction(ctx context.Context, id int64) (*Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, rowTimeout)
	defer cancel()

	t, err := scanJoinedTransaction(s.db.QueryRowContext(ctx, `
		SELECT `+sqliteTxnColumns+`, c.client_name, c.shop_name
		FROM transactions t JOIN clients c ON c.id = t.client_id
		WHERE t.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, transactionNotFound(id)
	}
	if err != nil {
		return nil, storeErr("get transaction", err)
	}
	return t, nil
}

func (s *SQLiteStore) UpdateTransaction(ctx context.Context, id int64, in TransactionInput) (*Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, rowTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET txn_date = ?, account = ?, particulars = ?, dr = ?, cr = ?
		WHERE id = ?`,
		in.Date.String(), string(in.Account), in.Particulars, in.Debit.String(), in.Credit.String(), id)
	if err != nil {
		return nil, storeErr("update transaction", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, transactionNotFound(id)
	}
	return s.GetTransaction(ctx, id)
}

func (s *SQLiteStore) DeleteTransaction(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, rowTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return storeErr("delete transaction", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return transactionNotFound(id)
	}
	return nil
}

func (s *SQLiteStore) RecentTransactions(ctx context.Context, limit int) ([]Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, bulkTimeout)
	defer cancel()

	return s.queryTransactions(ctx, "recent transactions", scanJoinedTransaction, `
		SELECT `+sqliteTxnColumns+`, c.client_name, c.shop_name
		FROM transactions t JOIN clients c ON c.id = t.client_id
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT ?`, clampRecentLimit(limit))
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) queryClients(ctx context.Context, op, query string, args ...any) ([]Client, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	clients := []Client{}
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		clients = append(clients, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return clients, nil
}

func (s *SQLiteStore) queryTransactions(ctx context.Context, op string, scan func(rowScanner) (*Transaction, error), query string, args ...any) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	txns := []Transaction{}
	for rows.Next() {
		t, err := scan(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return txns, nil
}

// inTx runs fn in a transaction. Typed ledger errors returned by fn pass
// through unchanged; anything else becomes a StoreError.
func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return err
		}
		return storeErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr(op, err)
	}
	return nil
}
