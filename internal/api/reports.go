package api

import (
	"net/http"

	"github.com/example/shop-ledger/internal/ledger"
)

type dailySummaryResponse struct {
	CorrelationID string                `json:"correlation_id"`
	Days          []ledger.DailySummary `json:"days"`
}

type monthlySummaryResponse struct {
	CorrelationID string                  `json:"correlation_id"`
	Months        []ledger.MonthlySummary `json:"months"`
}

type accountSummaryResponse struct {
	CorrelationID string                  `json:"correlation_id"`
	Accounts      []ledger.AccountSummary `json:"accounts"`
}

type rangeSummaryResponse struct {
	CorrelationID string               `json:"correlation_id"`
	Summary       *ledger.RangeSummary `json:"summary"`
}

type statementResponse struct {
	CorrelationID string            `json:"correlation_id"`
	Statement     *ledger.Statement `json:"statement"`
}

type runningLedgerResponse struct {
	CorrelationID string                 `json:"correlation_id"`
	ClientID      int64                  `json:"client_id"`
	Range         *ledger.DateRange      `json:"range,omitempty"`
	Entries       []ledger.BalancedEntry `json:"entries"`
}

func handleSummaryByAccount(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := deps.Ledger.AggregateByAccount(r.Context())
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, accountSummaryResponse{CorrelationID: cid(r), Accounts: orEmpty(rows)})
	}
}

// handleSummaryRange needs both start and end.
func handleSummaryRange(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rng, err := queryRange(r)
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		sum, err := deps.Ledger.SummarizeRange(r.Context(), rng)
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, rangeSummaryResponse{CorrelationID: cid(r), Summary: sum})
	}
}

func handleSummaryDaily(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rng, err := queryRange(r)
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		rows, err := deps.Ledger.AggregateByDate(r.Context(), rng)
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, dailySummaryResponse{CorrelationID: cid(r), Days: orEmpty(rows)})
	}
}

func handleSummaryMonthly(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rng, err := queryRange(r)
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		rows, err := deps.Ledger.AggregateByMonth(r.Context(), rng)
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, monthlySummaryResponse{CorrelationID: cid(r), Months: orEmpty(rows)})
	}
}

func handleStatement(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID, err := pathID(r, "clientID")
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		rng, err := queryRange(r)
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		st, err := deps.Ledger.BuildStatement(r.Context(), clientID, rng)
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, statementResponse{CorrelationID: cid(r), Statement: st})
	}
}

// handleRunningLedger lists the client's entries with running balances,
// optionally narrowed to ?start=&end=.
func handleRunningLedger(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID, err := pathID(r, "clientID")
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		rng, err := queryOptionalRange(r)
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		entries, err := deps.Ledger.ClientLedger(r.Context(), clientID, rng)
		if err != nil {
			writeError(deps.Logger, w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, runningLedgerResponse{
			CorrelationID: cid(r),
			ClientID:      clientID,
			Range:         rng,
			Entries:       orEmpty(entries),
		})
	}
}
