package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/shop-ledger/internal/events"
)

// LedgerService is the entry point for every read and write on the ledger.
// Writes and recalculation are serialized per client; different clients
// proceed in parallel.
type LedgerService struct {
	store     Store
	validator *Validator
	locks     *clientLocks
	publisher events.Publisher
	logger    *slog.Logger
}

// NewLedgerService wires a service around store. A nil logger uses
// slog.Default and a nil publisher drops events.
func NewLedgerService(store Store, validator *Validator, publisher events.Publisher, logger *slog.Logger) *LedgerService {
	if validator == nil {
		validator = NewValidator(NetCreditNormalize)
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerService{
		store:     store,
		validator: validator,
		locks:     newClientLocks(),
		publisher: publisher,
		logger:    logger,
	}
}

// RecalculationResult confirms a completed balance write-back.
type RecalculationResult struct {
	ClientID         int64           `json:"client_id"`
	TransactionCount int             `json:"transaction_count"`
	ClosingBalance   decimal.Decimal `json:"closing_balance"`
	RecalculatedAt   time.Time       `json:"recalculated_at"`
}

// ComputeRunningBalances folds caller-supplied entries for one client. The
// input is not modified; a sorted copy is accumulated.
func (s *LedgerService) ComputeRunningBalances(ctx context.Context, clientID int64, entries []Transaction, opening decimal.Decimal) ([]BalancedEntry, error) {
	for _, e := range entries {
		if e.ClientID != clientID {
			return nil, &ValidationError{
				Field:   "client_id",
				Message: fmt.Sprintf("transaction %d belongs to client %d, not %d", e.ID, e.ClientID, clientID),
			}
		}
	}
	sorted := slices.Clone(entries)
	SortEntries(sorted)
	return Accumulate(opening, sorted), nil
}

// RecalculateClientBalances recomputes and stores the running balance of
// every entry of the client. Running it twice without intervening writes
// changes nothing.
func (s *LedgerService) RecalculateClientBalances(ctx context.Context, clientID int64) (*RecalculationResult, error) {
	unlock := s.locks.lock(clientID)
	defer unlock()

	res, _, err := s.recalculateLocked(ctx, clientID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.BalancesRecalculated, clientID, 0)
	return res, nil
}

// RecalculateAll recalculates every client in turn and stops at the first error.
func (s *LedgerService) RecalculateAll(ctx context.Context) ([]RecalculationResult, error) {
	clients, err := s.store.GetAllClients(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]RecalculationResult, 0, len(clients))
	for _, c := range clients {
		res, err := s.RecalculateClientBalances(ctx, c.ID)
		if err != nil {
			return results, fmt.Errorf("recalculate client %d: %w", c.ID, err)
		}
		results = append(results, *res)
	}
	return results, nil
}

// recalculateLocked must be called with the client's lock held.
func (s *LedgerService) recalculateLocked(ctx context.Context, clientID int64) (*RecalculationResult, []BalancedEntry, error) {
	opening, err := s.store.GetClientOpeningBalance(ctx, clientID)
	if err != nil {
		return nil, nil, err
	}
	entries, err := s.store.GetTransactionsForClient(ctx, clientID, nil)
	if err != nil {
		return nil, nil, err
	}
	SortEntries(entries)
	balanced := Accumulate(opening, entries)

	if err := s.store.PersistBalances(ctx, clientID, balanceUpdates(balanced)); err != nil {
		return nil, nil, err
	}

	closing := opening
	if n := len(balanced); n > 0 {
		closing = balanced[n-1].RunningBalance
	}
	s.logger.DebugContext(ctx, "balances recalculated", "client_id", clientID, "count", len(balanced), "closing", closing.String())
	return &RecalculationResult{
		ClientID:         clientID,
		TransactionCount: len(balanced),
		ClosingBalance:   closing,
		RecalculatedAt:   time.Now().UTC(),
	}, balanced, nil
}

// refreshAfterWrite recalculates after a successful write. A failure here
// does not undo the write; it is logged and the balances stay stale until
// the next recalculation.
func (s *LedgerService) refreshAfterWrite(ctx context.Context, clientID int64) []BalancedEntry {
	_, balanced, err := s.recalculateLocked(ctx, clientID)
	if err != nil {
		s.logger.WarnContext(ctx, "balance recalculation after write failed", "client_id", clientID, "error", err)
		return nil
	}
	return balanced
}

// VerifyClientBalances reports whether the stored balances match a fresh
// accumulation, without writing anything.
func (s *LedgerService) VerifyClientBalances(ctx context.Context, clientID int64) (*ValidationResult, error) {
	opening, err := s.store.GetClientOpeningBalance(ctx, clientID)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.GetTransactionsForClient(ctx, clientID, nil)
	if err != nil {
		return nil, err
	}
	SortEntries(entries)
	return CheckStoredBalances(clientID, opening, entries), nil
}

// Clients

func (s *LedgerService) CreateClient(ctx context.Context, in ClientInput) (*Client, error) {
	in, err := s.validator.NormalizeClient(in)
	if err != nil {
		return nil, err
	}
	c, err := s.store.CreateClient(ctx, in)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "client created", "client_id", c.ID)
	s.publish(ctx, events.ClientCreated, c.ID, 0)
	return c, nil
}

// UpdateClient replaces all mutable fields. A changed opening balance shifts
// every running balance, so the client is recalculated.
func (s *LedgerService) UpdateClient(ctx context.Context, id int64, in ClientInput) (*Client, error) {
	in, err := s.validator.NormalizeClient(in)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.lock(id)
	defer unlock()

	c, err := s.store.UpdateClient(ctx, id, in)
	if err != nil {
		return nil, err
	}
	s.refreshAfterWrite(ctx, id)
	s.logger.InfoContext(ctx, "client updated", "client_id", id)
	s.publish(ctx, events.ClientUpdated, id, 0)
	return c, nil
}

// DeleteClient removes the client together with all of its transactions.
func (s *LedgerService) DeleteClient(ctx context.Context, id int64) error {
	unlock := s.locks.lock(id)
	defer unlock()

	if err := s.store.DeleteClient(ctx, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "client deleted", "client_id", id)
	s.publish(ctx, events.ClientDeleted, id, 0)
	return nil
}

func (s *LedgerService) GetClient(ctx context.Context, id int64) (*Client, error) {
	return s.store.GetClient(ctx, id)
}

func (s *LedgerService) ListClients(ctx context.Context) ([]Client, error) {
	return s.store.GetAllClients(ctx)
}

// SearchClients matches name or shop name, case-insensitively.
func (s *LedgerService) SearchClients(ctx context.Context, query string) ([]Client, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &ValidationError{Field: "q", Message: "search query is required"}
	}
	return s.store.SearchClients(ctx, query)
}

func (s *LedgerService) CountClients(ctx context.Context) (int, error) {
	return s.store.CountClients(ctx)
}

// ClientsWithBalances returns every client with its totals, ordered by name.
func (s *LedgerService) ClientsWithBalances(ctx context.Context) ([]ClientBalance, error) {
	clients, err := s.store.GetAllClients(ctx)
	if err != nil {
		return nil, err
	}
	txns, err := s.store.GetAllTransactions(ctx, nil)
	if err != nil {
		return nil, err
	}
	return SummarizeClients(clients, txns), nil
}

func (s *LedgerService) ClientWithBalance(ctx context.Context, id int64) (*ClientBalance, error) {
	c, err := s.store.GetClient(ctx, id)
	if err != nil {
		return nil, err
	}
	txns, err := s.store.GetTransactionsForClient(ctx, id, nil)
	if err != nil {
		return nil, err
	}
	summary := SummarizeClients([]Client{*c}, txns)
	return &summary[0], nil
}

// ClassifyClients splits clients into debtors and creditors.
func (s *LedgerService) ClassifyClients(ctx context.Context) (*Classification, error) {
	balances, err := s.ClientsWithBalances(ctx)
	if err != nil {
		return nil, err
	}
	c := Classify(balances)
	return &c, nil
}

// Transactions

// CreateTransaction records an entry and refreshes the client's balances.
// The returned entry carries its recalculated balance.
func (s *LedgerService) CreateTransaction(ctx context.Context, in TransactionInput) (*Transaction, error) {
	if in.ClientID <= 0 {
		return nil, &ValidationError{Field: "client_id", Message: "client id is required"}
	}
	in, err := s.validator.NormalizeTransaction(in)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.lock(in.ClientID)
	defer unlock()

	if _, err := s.store.GetClient(ctx, in.ClientID); err != nil {
		return nil, err
	}
	t, err := s.store.CreateTransaction(ctx, in)
	if err != nil {
		return nil, err
	}
	applyBalance(t, s.refreshAfterWrite(ctx, t.ClientID))
	s.logger.InfoContext(ctx, "transaction created", "client_id", t.ClientID, "transaction_id", t.ID)
	s.publish(ctx, events.TransactionCreated, t.ClientID, t.ID)
	return t, nil
}

// UpdateTransaction replaces the mutable fields of an entry. The owning
// client cannot change.
func (s *LedgerService) UpdateTransaction(ctx context.Context, id int64, in TransactionInput) (*Transaction, error) {
	in, err := s.validator.NormalizeTransaction(in)
	if err != nil {
		return nil, err
	}
	return s.withTransactionLock(ctx, id, func(current *Transaction) (*Transaction, error) {
		if in.ClientID != 0 && in.ClientID != current.ClientID {
			return nil, &ValidationError{Field: "client_id", Message: "a transaction cannot be moved to another client"}
		}
		in.ClientID = current.ClientID
		return s.updateLocked(ctx, id, in)
	})
}

// CompleteNetEntry turns a No NET placeholder into a Net entry with the
// given debit and narration.
func (s *LedgerService) CompleteNetEntry(ctx context.Context, id int64, debit decimal.Decimal, particulars string) (*Transaction, error) {
	return s.withTransactionLock(ctx, id, func(current *Transaction) (*Transaction, error) {
		if err := s.validator.ValidateNetCompletion(*current, debit, particulars); err != nil {
			return nil, err
		}
		in, err := s.validator.NormalizeTransaction(TransactionInput{
			ClientID:    current.ClientID,
			Date:        current.Date,
			Account:     AccountNet,
			Particulars: strings.TrimSpace(particulars),
			Debit:       debit,
			Credit:      decimal.Zero,
		})
		if err != nil {
			return nil, err
		}
		return s.updateLocked(ctx, id, in)
	})
}

func (s *LedgerService) updateLocked(ctx context.Context, id int64, in TransactionInput) (*Transaction, error) {
	t, err := s.store.UpdateTransaction(ctx, id, in)
	if err != nil {
		return nil, err
	}
	applyBalance(t, s.refreshAfterWrite(ctx, t.ClientID))
	s.logger.InfoContext(ctx, "transaction updated", "client_id", t.ClientID, "transaction_id", id)
	s.publish(ctx, events.TransactionUpdated, t.ClientID, id)
	return t, nil
}

func (s *LedgerService) DeleteTransaction(ctx context.Context, id int64) error {
	_, err := s.withTransactionLock(ctx, id, func(current *Transaction) (*Transaction, error) {
		if err := s.store.DeleteTransaction(ctx, id); err != nil {
			return nil, err
		}
		s.refreshAfterWrite(ctx, current.ClientID)
		s.logger.InfoContext(ctx, "transaction deleted", "client_id", current.ClientID, "transaction_id", id)
		s.publish(ctx, events.TransactionDeleted, current.ClientID, id)
		return nil, nil
	})
	return err
}

// withTransactionLock looks up the entry's owner, takes that client's lock
// and re-reads the entry before calling fn.
func (s *LedgerService) withTransactionLock(ctx context.Context, id int64, fn func(current *Transaction) (*Transaction, error)) (*Transaction, error) {
	t, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.lock(t.ClientID)
	defer unlock()

	current, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	return fn(current)
}

func applyBalance(t *Transaction, balanced []BalancedEntry) {
	for _, b := range balanced {
		if b.ID == t.ID {
			t.Balance = b.RunningBalance
			return
		}
	}
}

func (s *LedgerService) GetTransaction(ctx context.Context, id int64) (*Transaction, error) {
	return s.store.GetTransaction(ctx, id)
}

// ListTransactions returns every entry joined with its client, newest first.
func (s *LedgerService) ListTransactions(ctx context.Context) ([]Transaction, error) {
	return s.store.GetAllTransactions(ctx, nil)
}

// TransactionsForClient returns the client's entries in ledger order.
func (s *LedgerService) TransactionsForClient(ctx context.Context, clientID int64) ([]Transaction, error) {
	if _, err := s.store.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	return s.store.GetTransactionsForClient(ctx, clientID, nil)
}

// RecentTransactions returns the most recently recorded entries. limit is
// clamped to [1, MaxRecentLimit]; zero means DefaultRecentLimit.
func (s *LedgerService) RecentTransactions(ctx context.Context, limit int) ([]Transaction, error) {
	return s.store.RecentTransactions(ctx, clampRecentLimit(limit))
}

// Reports

func (s *LedgerService) rangeTransactions(ctx context.Context, r DateRange) ([]Transaction, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return s.store.GetAllTransactions(ctx, &r)
}

func (s *LedgerService) AggregateByDate(ctx context.Context, r DateRange) ([]DailySummary, error) {
	txns, err := s.rangeTransactions(ctx, r)
	if err != nil {
		return nil, err
	}
	return AggregateByDate(txns, r)
}

func (s *LedgerService) AggregateByMonth(ctx context.Context, r DateRange) ([]MonthlySummary, error) {
	txns, err := s.rangeTransactions(ctx, r)
	if err != nil {
		return nil, err
	}
	return AggregateByMonth(txns, r)
}

func (s *LedgerService) AggregateByAccount(ctx context.Context) ([]AccountSummary, error) {
	txns, err := s.store.GetAllTransactions(ctx, nil)
	if err != nil {
		return nil, err
	}
	return AggregateByAccount(txns), nil
}

func (s *LedgerService) SummarizeRange(ctx context.Context, r DateRange) (*RangeSummary, error) {
	txns, err := s.rangeTransactions(ctx, r)
	if err != nil {
		return nil, err
	}
	sum, err := SummarizeRange(txns, r)
	if err != nil {
		return nil, err
	}
	return &sum, nil
}

// BuildStatement assembles the client's statement for r.
func (s *LedgerService) BuildStatement(ctx context.Context, clientID int64, r DateRange) (*Statement, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	c, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	txns, err := s.store.GetTransactionsForClient(ctx, clientID, nil)
	if err != nil {
		return nil, err
	}
	st, err := AssembleStatement(*c, txns, r)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// ClientLedger returns the client's entries with running balances seeded
// from the opening balance. With r set, only rows inside r are returned but
// their balances still include every earlier movement.
func (s *LedgerService) ClientLedger(ctx context.Context, clientID int64, r *DateRange) ([]BalancedEntry, error) {
	if r != nil {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	opening, err := s.store.GetClientOpeningBalance(ctx, clientID)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.GetTransactionsForClient(ctx, clientID, nil)
	if err != nil {
		return nil, err
	}
	SortEntries(entries)
	balanced := Accumulate(opening, entries)
	if r == nil {
		return balanced, nil
	}
	out := make([]BalancedEntry, 0, len(balanced))
	for _, b := range balanced {
		if r.Contains(b.Date) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *LedgerService) publish(ctx context.Context, typ events.Type, clientID, transactionID int64) {
	if err := s.publisher.Publish(ctx, events.New(typ, clientID, transactionID)); err != nil {
		s.logger.WarnContext(ctx, "publish ledger event failed", "type", string(typ), "client_id", clientID, "error", err)
	}
}

// Close releases the underlying store.
func (s *LedgerService) Close() error {
	return s.store.Close()
}
