package api

import (
	"net/http"
	"strings"

	"github.com/example/shop-ledger/internal/ledger"
	"github.com/example/shop-ledger/internal/security"
)

type clientResponse struct {
	CorrelationID string         `json:"correlation_id"`
	Client        *ledger.Client `json:"client"`
}

type listClientsResponse struct {
	CorrelationID string          `json:"correlation_id"`
	Clients       []ledger.Client `json:"clients"`
	Total         int             `json:"total"`
}

type clientBalancesResponse struct {
	CorrelationID string                 `json:"correlation_id"`
	Clients       []ledger.ClientBalance `json:"clients"`
}

type clientBalanceResponse struct {
	CorrelationID string                `json:"correlation_id"`
	Client        *ledger.ClientBalance `json:"client"`
}

type countResponse struct {
	CorrelationID string `json:"correlation_id"`
	Count         int    `json:"count"`
}

type actionResponse struct {
	CorrelationID string `json:"correlation_id"`
	Success       bool   `json:"success"`
	Status        string `json:"status"`
}

func cid(r *http.Request) string {
	return security.CorrelationIDFromContext(r.Context())
}

func handleListClients(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clients, err := deps.Ledger.ListClients(r.Context())
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, listClientsResponse{CorrelationID: cid(r), Clients: orEmpty(clients), Total: len(clients)})
	}
}

func handleSearchClients(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clients, err := deps.Ledger.SearchClients(r.Context(), strings.TrimSpace(r.URL.Query().Get("q")))
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, listClientsResponse{CorrelationID: cid(r), Clients: orEmpty(clients), Total: len(clients)})
	}
}

func handleCountClients(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Ledger.CountClients(r.Context())
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, countResponse{CorrelationID: cid(r), Count: n})
	}
}

func handleClientsWithBalances(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		balances, err := deps.Ledger.ClientsWithBalances(r.Context())
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, clientBalancesResponse{CorrelationID: cid(r), Clients: orEmpty(balances)})
	}
}

func handleDebtors(deps Dependencies) http.HandlerFunc {
	return handleClassified(deps, func(c *ledger.Classification) []ledger.ClientBalance { return c.Debtors })
}

func handleCreditors(deps Dependencies) http.HandlerFunc {
	return handleClassified(deps, func(c *ledger.Classification) []ledger.ClientBalance { return c.Creditors })
}

func handleClassified(deps Dependencies, pick func(*ledger.Classification) []ledger.ClientBalance) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := deps.Ledger.ClassifyClients(r.Context())
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, clientBalancesResponse{CorrelationID: cid(r), Clients: orEmpty(pick(c))})
	}
}

func handleGetClient(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		c, err := deps.Ledger.GetClient(r.Context(), id)
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, clientResponse{CorrelationID: cid(r), Client: c})
	}
}

func handleClientBalance(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		b, err := deps.Ledger.ClientWithBalance(r.Context(), id)
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, clientBalanceResponse{CorrelationID: cid(r), Client: b})
	}
}

func handleCreateClient(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in ledger.ClientInput
		if err := decodeBody(r, &in); err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		c, err := deps.Ledger.CreateClient(r.Context(), in)
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		writeJSON(w, r, http.StatusCreated, clientResponse{CorrelationID: cid(r), Client: c})
	}
}

func handleUpdateClient(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		var in ledger.ClientInput
		if err := decodeBody(r, &in); err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		c, err := deps.Ledger.UpdateClient(r.Context(), id, in)
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, clientResponse{CorrelationID: cid(r), Client: c})
	}
}

// handleDeleteClient removes the client and, by cascade, all of its entries.
func handleDeleteClient(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		if err := deps.Ledger.DeleteClient(r.Context(), id); err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, actionResponse{CorrelationID: cid(r), Success: true, Status: "deleted"})
	}
}
