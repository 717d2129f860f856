package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresSchema creates the ledger tables. Deleting a client removes its
// transactions explicitly inside one transaction, so the foreign key has
// no cascade.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS clients (
    id              BIGSERIAL PRIMARY KEY,
    client_name     VARCHAR(255) NOT NULL,
    shop_name       VARCHAR(255) NOT NULL DEFAULT '',
    mobile_number   VARCHAR(10)  NOT NULL DEFAULT '',
    city            VARCHAR(255) NOT NULL DEFAULT '',
    opening_balance NUMERIC(14,2) NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS transactions (
    id          BIGSERIAL PRIMARY KEY,
    client_id   BIGINT NOT NULL REFERENCES clients(id),
    txn_date    DATE NOT NULL,
    account     VARCHAR(50) NOT NULL,
    particulars TEXT NOT NULL DEFAULT '',
    dr          NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (dr >= 0),
    cr          NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (cr >= 0),
    balance     NUMERIC(14,2) NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_transactions_client_order ON transactions (client_id, txn_date, id);
CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions (txn_date);
`

// Money and dates are read through ::text and parsed, so no pgx numeric
// adapter is involved and values round-trip exactly.
const (
	pgClientColumns = `id, client_name, shop_name, mobile_number, city, opening_balance::text, created_at`
	pgTxnColumns    = `t.id, t.client_id, t.txn_date::text, t.account, t.particulars, t.dr::text, t.cr::text, t.balance::text, t.created_at`
)

// PostgresStore is the Store backed by a pgx pool.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

// NewPostgresStore wraps a pool owned by the store from then on.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{Pool: pool}
}

// OpenPostgres connects, pings and migrates.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, rowTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	store := NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Migrate applies PostgresSchema. It is safe to run repeatedly.
func (ps *PostgresStore) Migrate(ctx context.Context) error {
	queryCtx, cancel := context.WithTimeout(ctx, bulkTimeout)
	defer cancel()
	if _, err := ps.Pool.Exec(queryCtx, PostgresSchema); err != nil {
		return storeErr("migrate", err)
	}
	return nil
}

func (ps *PostgresStore) GetClientOpeningBalance(ctx context.Context, clientID int64) (decimal.Decimal, error) {
	queryCtx, cancel := context.WithTimeout(ctx, rowTimeout)
	defer cancel()

	var opening decimal.Decimal
	err := ps.Pool.QueryRow(queryCtx, `SELECT opening_balance::text FROM clients WHERE id = $1`, clientID).Scan(&opening)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, clientNotFound(clientID)
	}
	if err != nil {
		return decimal.Zero, storeErr("get opening balance", err)
	}
	return opening, nil
}

func (ps *PostgresStore) GetTransactionsForClient(ctx context.Context, clientID int64, r *DateRange) ([]Transaction, error) {
	queryCtx, cancel := context.WithTimeout(ctx, bulkTimeout)
	defer cancel()

	query := `SELECT ` + pgTxnColumns + ` FROM transactions t WHERE t.client_id = $1`
	args := []any{clientID}
	if r != nil {
		query += ` AND t.txn_date BETWEEN $2::date AND $3::date`
		args = append(args, r.From.String(), r.To.String())
	}
	query += ` ORDER BY t.txn_date ASC, t.id ASC`

	return ps.queryTransactions(queryCtx, "list client transactions", scanTransaction, query, args...)
}

func (ps *PostgresStore) GetAllClients(ctx context.Context) ([]Client, error) {
	queryCtx, cancel := context.WithTimeout(ctx, bulkTimeout)
	defer cancel()
	return ps.queryClients(queryCtx, "list clients",
		`SELECT `+pgClientColumns+` FROM clients ORDER BY created_at DESC, id DESC`)
}

func (ps *PostgresStore) GetAllTransactions(ctx context.Context, r *DateRange) ([]Transaction, error) {
	queryCtx, cancel := context.WithTimeout(ctx, bulkTimeout)
	defer cancel()

	query := `SELECT ` + pgTxnColumns + `, c.client_name, c.shop_name
		FROM transactions t JOIN clients c ON c.id = t.client_id`
	var args []any
	if r != nil {
		query += ` WHERE t.txn_date BETWEEN $1::date AND $2::date`
		args = append(args, r.From.String(), r.To.String())
	}
	query += ` ORDER BY t.txn_date DESC, t.id DESC`

	return ps.queryTransactions(queryCtx, "list transactions", scanJoinedTransaction, query, args...)
}

// PersistBalances locks the client row, then rewrites every balance in one
// transaction. The row lock serializes recalculation across processes that
// share the database.
func (ps *PostgresStore) PersistBalances(ctx context.Context, clientID int64, updates []BalanceUpdate) error {
	queryCtx, cancel := context.WithTimeout(ctx, bulkTimeout)
	defer cancel()

	return ps.inTx(queryCtx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite}, "persist balances", func(tx pgx.Tx) error {
		var locked int64
		err := tx.QueryRow(queryCtx, `SELECT id FROM clients WHERE id = $1 FOR UPDATE`, clientID).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return clientNotFound(clientID)
		}
		if err != nil {
			return fmt.Errorf("failed to lock client: %w", err)
		}

		batch := &pgx.Batch{}
		for _, u := range updates {
			batch.Queue(`UPDATE transactions SET balance = $1::numeric WHERE id = $2 AND client_id = $3`,
				u.Balance.String(), u.TransactionID, clientID)
		}
		results := tx.SendBatch(queryCtx, batch)
		for _, u := range updates {
			tag, err := results.Exec()
			if err != nil {
				results.Close()
				return fmt.Errorf("failed to update balance of transaction %d: %w", u.TransactionID, err)
			}
			if tag.RowsAffected() == 0 {
				results.Close()
				return transactionNotFound(u.TransactionID)
			}
		}
		return results.Close()
	})
}

func (ps *PostgresStore) CreateClient(ctx context.Context, in ClientInput) (*Client, error) {
	queryCtx, cancel := context.WithTimeout(ctx, rowTimeout)
	defer cancel()

	c, err := scanClient(ps.Pool.QueryRow(queryCtx, `
		INSERT INTO clients (client_name, shop_name, mobile_number, city, opening_balance)
		VALUES ($1, $2, $3, $4, $5::numeric)
		RETURNING `+pgClientColumns,
		in.Name, in.ShopName, in.Mobile, in.City, in.OpeningBalance.String()))
	if err != nil {
		return nil, storeErr("create client", err)
	}
	return c, nil
}

func (ps *PostgresStore) GetClient(ctx context.Context, id int64) (*Client, error) {
	queryCtx, cancel := context.WithTimeout(ctx, rowTimeout)
	defer cancel()

	c, err := scanClient(ps.Pool.QueryRow(queryCtx, `SELECT `+pgClientColumns+` FROM clients WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, clientNotFound(id)
	}
	if err != nil {
		return nil, storeErr("get client", err)
	}
	return c, nil
}

func (ps *PostgresStore) UpdateClient(ctx context.Context, id int64, in ClientInput) (*Client, error) {
	queryCtx, cancel := context.WithTimeout(ctx, rowTimeout)
	defer cancel()

	c, err := scanClient(ps.Pool.QueryRow(queryCtx, `
		UPDATE clients
		SET client_name = $1, shop_name = $2, mobile_number = $3, city = $4, opening_balance = $5::numeric
		WHERE id = $6
		RETURNING `+pgClientColumns,
		in.Name, in.ShopName, in.Mobile, in.City, in.OpeningBalance.String(), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, clientNotFound(id)
	}
	if err != nil {
		return nil, storeErr("update client", err)
	}
	return c, nil
}

// DeleteClient removes the client's transactions and then the client in one
// serializable transaction, retrying on serialization failures. Retrying is
// safe because a second attempt deletes the same rows.
func (ps *PostgresStore) DeleteClient(ctx context.Context, id int64) error {
	const maxRetries = 3

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = ps.deleteClientOnce(ctx, id)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "40001" {
			time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
			continue
		}
		return err
	}
	return storeErr("delete client", fmt.Errorf("gave up after %d serialization failures: %w", maxRetries, err))
}

func (ps *PostgresStore) deleteClientOnce(ctx context.Context, id int64) error {
	queryCtx, cancel := context.WithTimeout(ctx, rowTimeout)
	defer cancel()

	return ps.inTx(queryCtx, pgx.TxOptions{IsoLevel: pgx.Serializable, AccessMode: pgx.ReadWrite}, "delete client", func(tx pgx.Tx) error {
		if _, err := tx.Exec(queryCtx, `DELETE FROM transactions WHERE client_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete transactions: %w", err)
		}
		tag, err := tx.Exec(queryCtx, `DELETE FROM clients WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete client: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return clientNotFound(id)
		}
		return nil
	})
}

func (ps *PostgresStore) SearchClients(ctx context.Context, query string) ([]Client, error) {
	queryCtx, cancel := context.WithTimeout(ctx, bulkTimeout)
	defer cancel()

	return ps.queryClients(queryCtx, "search clients",
		`SELECT `+pgClientColumns+` FROM clients
		WHERE client_name ILIKE $1 OR shop_name ILIKE $1
		ORDER BY client_name ASC, id ASC`, likePattern(query))
}

func (ps *PostgresStore) CountClients(ctx context.Context) (int, error) {
	queryCtx, cancel := context.WithTimeout(ctx, rowTimeout)
	defer cancel()

	var n int
	if err := ps.Pool.QueryRow(queryCtx, `SELECT COUNT(*) FROM clients`).Scan(&n); err != nil {
		return 0, storeErr("count clients", err)
	}
	return n, nil
}

func (ps *PostgresStore) CreateTransaction(ctx context.Context, in TransactionInput) (*Transaction, error) {
	queryCtx, cancel := context.WithTimeout(ctx, rowTimeout)
	defer cancel()

	var id int64
	err := ps.Pool.QueryRow(queryCtx, `
		INSERT INTO transactions (client_id, txn_date, account, particulars, dr, cr)
		VALUES ($1, $2::date, $3, $4, $5::numeric, $6::numeric)
		RETURNING id`,
		in.ClientID, in.Date.String(), string(in.Account), in.Particulars,
		in.Debit.String(), in.Credit.String()).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, clientNotFound(in.ClientID)
		}
		return nil, storeErr("create transaction", err)
	}
	return ps.GetTransaction(ctx, id)
}

func (ps *PostgresStore) GetTransaction(ctx context.Context, id int64) (*Transaction, error) {
	queryCtx, cancel := context.WithTimeout(ctx, rowTimeout)
	defer cancel()

	t, err := scanJoinedTransaction(ps.Pool.QueryRow(queryCtx, `
		SELECT `+pgTxnColumns+`, c.client_name, c.shop_name
		FROM transactions t JOIN clients c ON c.id = t.client_id
		WHERE t.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, transactionNotFound(id)
	}
	if err != nil {
		return nil, storeErr("get transaction", err)
	}
	return t, nil
}

func (ps *PostgresStore) UpdateTransaction(ctx context.Context, id int64, in TransactionInput) (*Transaction, error) {
	queryCtx, cancel := context.WithTimeout(ctx, rowTimeout)
	defer cancel()

	tag, err := ps.Pool.Exec(queryCtx, `
		UPDATE transactions
		SET txn_date = $1::date, account = $2, particulars = $3, dr = $4::numeric, cr = $5::numeric
		WHERE id = $6`,
		in.Date.String(), string(in.Account), in.Particulars, in.Debit.String(), in.Credit.String(), id)
	if err != nil {
		return nil, storeErr("update transaction", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, transactionNotFound(id)
	}
	return ps.GetTransaction(ctx, id)
}

func (ps *PostgresStore) DeleteTransaction(ctx context.Context, id int64) error {
	queryCtx, cancel := context.WithTimeout(ctx, rowTimeout)
	defer cancel()

	tag, err := ps.Pool.Exec(queryCtx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return storeErr("delete transaction", err)
	}
	if tag.RowsAffected() == 0 {
		return transactionNotFound(id)
	}
	return nil
}

func (ps *PostgresStore) RecentTransactions(ctx context.Context, limit int) ([]Transaction, error) {
	queryCtx, cancel := context.WithTimeout(ctx, bulkTimeout)
	defer cancel()

	return ps.queryTransactions(queryCtx, "recent transactions", scanJoinedTransaction, `
		SELECT `+pgTxnColumns+`, c.client_name, c.shop_name
		FROM transactions t JOIN clients c ON c.id = t.client_id
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT $1`, clampRecentLimit(limit))
}

// Close closes the PostgreSQL pool
func (ps *PostgresStore) Close() error {
	ps.Pool.Close()
	return nil
}

func (ps *PostgresStore) queryClients(ctx context.Context, op, query string, args ...any) ([]Client, error) {
	rows, err := ps.Pool.Query(ctx, query, args...)
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

func (ps *PostgresStore) queryTransactions(ctx context.Context, op string, scan func(rowScanner) (*Transaction, error), query string, args ...any) ([]Transaction, error) {
	rows, err := ps.Pool.Query(ctx, query, args...)
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

// inTx acquires a connection and runs fn in a transaction with opts.
// NotFoundError and serialization failures are returned unwrapped so
// callers can act on them.
func (ps *PostgresStore) inTx(ctx context.Context, opts pgx.TxOptions, op string, fn func(tx pgx.Tx) error) error {
	conn, err := ps.Pool.Acquire(ctx)
	if err != nil {
		return storeErr(op, fmt.Errorf("failed to acquire connection: %w", err))
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, opts)
	if err != nil {
		return storeErr(op, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		var nf *NotFoundError
		var pgErr *pgconn.PgError
		switch {
		case errors.As(err, &nf):
			return err
		case errors.As(err, &pgErr) && pgErr.Code == "40001":
			return err
		}
		return storeErr(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "40001" {
			return err
		}
		return storeErr(op, fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}
