// Package api serves the ledger over HTTP with chi.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/example/shop-ledger/internal/auth"
	"github.com/example/shop-ledger/internal/ledger"
	"github.com/example/shop-ledger/internal/security"
	"github.com/example/shop-ledger/pkg/audit"
)

type Auditor interface {
	Append(payload string) *audit.LogEntry
}

// Ledger is the part of ledger.LedgerService the API calls.
type Ledger interface {
	CreateClient(ctx context.Context, in ledger.ClientInput) (*ledger.Client, error)
	UpdateClient(ctx context.Context, id int64, in ledger.ClientInput) (*ledger.Client, error)
	DeleteClient(ctx context.Context, id int64) error
	GetClient(ctx context.Context, id int64) (*ledger.Client, error)
	ListClients(ctx context.Context) ([]ledger.Client, error)
	SearchClients(ctx context.Context, query string) ([]ledger.Client, error)
	CountClients(ctx context.Context) (int, error)
	ClientsWithBalances(ctx context.Context) ([]ledger.ClientBalance, error)
	ClientWithBalance(ctx context.Context, id int64) (*ledger.ClientBalance, error)
	ClassifyClients(ctx context.Context) (*ledger.Classification, error)

	CreateTransaction(ctx context.Context, in ledger.TransactionInput) (*ledger.Transaction, error)
	UpdateTransaction(ctx context.Context, id int64, in ledger.TransactionInput) (*ledger.Transaction, error)
	CompleteNetEntry(ctx context.Context, id int64, debit decimal.Decimal, particulars string) (*ledger.Transaction, error)
	DeleteTransaction(ctx context.Context, id int64) error
	GetTransaction(ctx context.Context, id int64) (*ledger.Transaction, error)
	ListTransactions(ctx context.Context) ([]ledger.Transaction, error)
	TransactionsForClient(ctx context.Context, clientID int64) ([]ledger.Transaction, error)
	RecentTransactions(ctx context.Context, limit int) ([]ledger.Transaction, error)
	RecalculateClientBalances(ctx context.Context, clientID int64) (*ledger.RecalculationResult, error)

	AggregateByDate(ctx context.Context, r ledger.DateRange) ([]ledger.DailySummary, error)
	AggregateByMonth(ctx context.Context, r ledger.DateRange) ([]ledger.MonthlySummary, error)
	AggregateByAccount(ctx context.Context) ([]ledger.AccountSummary, error)
	SummarizeRange(ctx context.Context, r ledger.DateRange) (*ledger.RangeSummary, error)
	BuildStatement(ctx context.Context, clientID int64, r ledger.DateRange) (*ledger.Statement, error)
	ClientLedger(ctx context.Context, clientID int64, r *ledger.DateRange) ([]ledger.BalancedEntry, error)
}

type Dependencies struct {
	Logger       *slog.Logger
	OAuth        *auth.OAuthServer
	JWTValidator *auth.JWTValidator

	Ledger Ledger

	Auditor      Auditor
	RateLimiter  *security.RedisTokenBucket
	IPAllowlist  []*net.IPNet
	MaxBodyBytes int64
}

func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	clientV, err := security.NewJSONSchemaValidator(clientSchema)
	if err != nil {
		return nil, err
	}
	createTxnV, err := security.NewJSONSchemaValidator(createTransactionSchema)
	if err != nil {
		return nil, err
	}
	updateTxnV, err := security.NewJSONSchemaValidator(updateTransactionSchema)
	if err != nil {
		return nil, err
	}
	completeNetV, err := security.NewJSONSchemaValidator(completeNetSchema)
	if err != nil {
		return nil, err
	}

	onAuthError := func(w http.ResponseWriter, r *http.Request, status int, code string) {
		security.WriteJSONError(w, r, status, code)
	}
	scoped := func(r chi.Router, scope string) chi.Router {
		return r.With(auth.RequireScopes(onAuthError, scope))
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.CorrelationID)
	r.Use(RequestLogger(deps.Logger))
	r.Use(security.BodySizeLimit(deps.MaxBodyBytes))
	r.Use(security.IPAllowlist(deps.IPAllowlist))
	if deps.RateLimiter != nil {
		r.Use(security.RateLimitMiddleware(deps.RateLimiter, security.RemoteIPKey))
	}
	if deps.Auditor != nil {
		r.Use(AuditMiddleware(deps.Auditor))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if deps.OAuth != nil {
		r.Post("/oauth/token", deps.OAuth.TokenHandler)
		r.Get("/oauth/jwks.json", deps.OAuth.JWKSHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Authenticate(deps.JWTValidator, onAuthError))
		r.Use(requireLedger(deps.Ledger))

		r.Route("/clients", func(r chi.Router) {
			read := scoped(r, auth.ScopeClientsRead)
			read.Get("/", handleListClients(deps))
			read.Get("/with-balances", handleClientsWithBalances(deps))
			read.Get("/debtors", handleDebtors(deps))
			read.Get("/creditors", handleCreditors(deps))
			read.Get("/count", handleCountClients(deps))
			read.Get("/search", handleSearchClients(deps))
			read.Get("/{id}", handleGetClient(deps))
			read.Get("/{id}/balance", handleClientBalance(deps))

			write := scoped(r, auth.ScopeClientsWrite)
			write.With(clientV.Middleware).Post("/", handleCreateClient(deps))
			write.With(clientV.Middleware).Put("/{id}", handleUpdateClient(deps))
			write.Delete("/{id}", handleDeleteClient(deps))
		})

		r.Route("/transactions", func(r chi.Router) {
			read := scoped(r, auth.ScopeLedgerRead)
			read.Get("/", handleListTransactions(deps))
			read.Get("/recent", handleRecentTransactions(deps))
			read.Get("/summary/by-account", handleSummaryByAccount(deps))
			read.Get("/summary/date-range", handleSummaryRange(deps))
			read.Get("/summary/daily", handleSummaryDaily(deps))
			read.Get("/summary/monthly", handleSummaryMonthly(deps))
			read.Get("/ledger/{clientID}", handleStatement(deps))
			read.Get("/ledger/{clientID}/running", handleRunningLedger(deps))
			read.Get("/client/{clientID}", handleClientTransactions(deps))
			read.Get("/{id}", handleGetTransaction(deps))

			write := scoped(r, auth.ScopeLedgerWrite)
			write.With(createTxnV.Middleware).Post("/", handleCreateTransaction(deps))
			write.With(updateTxnV.Middleware).Put("/{id}", handleUpdateTransaction(deps))
			write.Delete("/{id}", handleDeleteTransaction(deps))
			write.With(completeNetV.Middleware).Post("/{id}/complete-net", handleCompleteNet(deps))
			write.Post("/recalculate/{clientID}", handleRecalculate(deps))
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	return r, nil
}

func requireLedger(l Ledger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l == nil {
				security.WriteJSONError(w, r, http.StatusServiceUnavailable, "ledger_unavailable")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
