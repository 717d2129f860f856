package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStoreRoundTripsMoneyAndDates(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	c, err := store.CreateClient(ctx, ClientInput{Name: "Ravi", Mobile: "9876543210", OpeningBalance: dec("-12.50")})
	require.NoError(t, err)
	assert.NotZero(t, c.ID)
	assertDecimal(t, "-12.5", c.OpeningBalance)
	assert.False(t, c.CreatedAt.IsZero())

	txn, err := store.CreateTransaction(ctx, TransactionInput{
		ClientID:    c.ID,
		Date:        MustParseDate("2024-02-29"),
		Account:     "Goods",
		Particulars: "line one\nline two",
		Debit:       dec("1234567.89"),
		Credit:      dec("0"),
	})
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", txn.Date.String())
	assert.Equal(t, AccountTag("Goods"), txn.Account)
	assert.Equal(t, "line one\nline two", txn.Particulars)
	assertDecimal(t, "1234567.89", txn.Debit)
	assert.Equal(t, "Ravi", txn.ClientName)
}

func TestSQLiteStoreIDsIncreaseWithInsertion(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	c, err := store.CreateClient(ctx, ClientInput{Name: "Ravi"})
	require.NoError(t, err)

	var last int64
	for i := 0; i < 5; i++ {
		txn, err := store.CreateTransaction(ctx, TransactionInput{
			ClientID: c.ID, Date: MustParseDate("2024-01-01"), Account: AccountCash, Debit: dec("1"), Credit: dec("0"),
		})
		require.NoError(t, err)
		assert.Greater(t, txn.ID, last)
		last = txn.ID
	}
}

func TestSQLiteStoreRangeFilters(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	c, err := store.CreateClient(ctx, ClientInput{Name: "Ravi"})
	require.NoError(t, err)

	for _, d := range []string{"2024-01-01", "2024-01-15", "2024-02-01"} {
		_, err := store.CreateTransaction(ctx, TransactionInput{
			ClientID: c.ID, Date: MustParseDate(d), Account: AccountCash, Debit: dec("1"), Credit: dec("0"),
		})
		require.NoError(t, err)
	}

	r := dateRange("2024-01-01", "2024-01-31")
	got, err := store.GetTransactionsForClient(ctx, c.ID, &r)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	all, err := store.GetAllTransactions(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "2024-02-01", all[0].Date.String())
}

func TestSQLiteStorePersistBalancesIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	c, err := store.CreateClient(ctx, ClientInput{Name: "Ravi"})
	require.NoError(t, err)
	txn, err := store.CreateTransaction(ctx, TransactionInput{
		ClientID: c.ID, Date: MustParseDate("2024-01-01"), Account: AccountCash, Debit: dec("1"), Credit: dec("0"),
	})
	require.NoError(t, err)

	err = store.PersistBalances(ctx, c.ID, []BalanceUpdate{
		{TransactionID: txn.ID, Balance: dec("1")},
		{TransactionID: 9999, Balance: dec("2")},
	})
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := store.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assertDecimal(t, "0", got.Balance)

	assert.ErrorIs(t, store.PersistBalances(ctx, 9999, nil), ErrNotFound)
}

func TestSQLiteStoreSearchEscapesWildcards(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	_, err := store.CreateClient(ctx, ClientInput{Name: "100% Cotton"})
	require.NoError(t, err)
	_, err = store.CreateClient(ctx, ClientInput{Name: "1000 Threads"})
	require.NoError(t, err)

	got, err := store.SearchClients(ctx, "100%")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "100% Cotton", got[0].Name)
}

func TestSQLiteStoreRecentLimit(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	c, err := store.CreateClient(ctx, ClientInput{Name: "Ravi"})
	require.NoError(t, err)
	for i := 0; i < 12; i++ {
		_, err := store.CreateTransaction(ctx, TransactionInput{
			ClientID: c.ID, Date: MustParseDate("2024-01-01"), Account: AccountCash, Debit: dec("1"), Credit: dec("0"),
		})
		require.NoError(t, err)
	}

	got, err := store.RecentTransactions(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, got, DefaultRecentLimit)
	assert.Greater(t, got[0].ID, got[1].ID)
}

func TestSQLiteStoreFileDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	store, err := Open(ctx, DriverSQLite, path)
	require.NoError(t, err)
	_, err = store.CreateClient(ctx, ClientInput{Name: "Ravi"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, "sqlite", path)
	require.NoError(t, err)
	defer reopened.Close()
	n, err := reopened.CountClients(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = Open(ctx, "mysql", "")
	assert.Error(t, err)
}
