package api

import (
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/example/shop-ledger/internal/ledger"
)

type transactionResponse struct {
	CorrelationID string              `json:"correlation_id"`
	Transaction   *ledger.Transaction `json:"transaction"`
}

type listTransactionsResponse struct {
	CorrelationID string               `json:"correlation_id"`
	Transactions  []ledger.Transaction `json:"transactions"`
	Total         int                  `json:"total"`
}

type completeNetRequest struct {
	Debit       decimal.Decimal `json:"dr"`
	Particulars string          `json:"particulars"`
}

type recalculateResponse struct {
	CorrelationID string                      `json:"correlation_id"`
	Result        *ledger.RecalculationResult `json:"result"`
}

func handleListTransactions(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		txns, err := deps.Ledger.ListTransactions(r.Context())
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, listTransactionsResponse{CorrelationID: cid(r), Transactions: orEmpty(txns), Total: len(txns)})
	}
}

func handleRecentTransactions(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeError(deps.Logger, w, r, &ledger.ValidationError{Field: "limit", Message: "must be an integer"})
				return
			}
			limit = n
		}
		txns, err := deps.Ledger.RecentTransactions(r.Context(), limit)
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, listTransactionsResponse{CorrelationID: cid(r), Transactions: orEmpty(txns), Total: len(txns)})
	}
}

func handleClientTransactions(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID, err := pathID(r, "clientID")
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		txns, err := deps.Ledger.TransactionsForClient(r.Context(), clientID)
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, listTransactionsResponse{CorrelationID: cid(r), Transactions: orEmpty(txns), Total: len(txns)})
	}
}

func handleGetTransaction(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		t, err := deps.Ledger.GetTransaction(r.Context(), id)
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, transactionResponse{CorrelationID: cid(r), Transaction: t})
	}
}

func handleCreateTransaction(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in ledger.TransactionInput
		if err := decodeBody(r, &in); err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		t, err := deps.Ledger.CreateTransaction(r.Context(), in)
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		writeJSON(w, r, http.StatusCreated, transactionResponse{CorrelationID: cid(r), Transaction: t})
	}
}

func handleUpdateTransaction(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		var in ledger.TransactionInput
		if err := decodeBody(r, &in); err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		t, err := deps.Ledger.UpdateTransaction(r.Context(), id, in)
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, transactionResponse{CorrelationID: cid(r), Transaction: t})
	}
}

// handleCompleteNet turns a "No NET" placeholder into a Net entry.
func handleCompleteNet(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		var req completeNetRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		t, err := deps.Ledger.CompleteNetEntry(r.Context(), id, req.Debit, req.Particulars)
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, transactionResponse{CorrelationID: cid(r), Transaction: t})
	}
}

func handleDeleteTransaction(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		if err := deps.Ledger.DeleteTransaction(r.Context(), id); err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, actionResponse{CorrelationID: cid(r), Success: true, Status: "deleted"})
	}
}

func handleRecalculate(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID, err := pathID(r, "clientID")
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		res, err := deps.Ledger.RecalculateClientBalances(r.Context(), clientID)
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, recalculateResponse{CorrelationID: cid(r), Result: res})
	}
}
