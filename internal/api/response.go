package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/example/shop-ledger/internal/ledger"
	"github.com/example/shop-ledger/internal/security"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	cid := security.CorrelationIDFromContext(r.Context())
	if cid != "" {
		w.Header().Set(security.CorrelationIDHeader, cid)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps ledger errors onto HTTP statuses. Anything that is not a
// validation, not-found or store failure is a 500 and is logged.
func writeError(l *slog.Logger, w http.ResponseWriter, r *http.Request, err error) {
	var ve *ledger.ValidationError
	switch {
	case errors.As(err, &ve):
		security.WriteJSONErrorResponse(w, r, http.StatusBadRequest, security.ErrorResponse{
			Error:   "validation_error",
			Message: ve.Message,
			Field:   ve.Field,
		})
	case errors.Is(err, ledger.ErrValidation):
		security.WriteJSONErrorResponse(w, r, http.StatusBadRequest, security.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
	case errors.Is(err, ledger.ErrNotFound):
		security.WriteJSONErrorResponse(w, r, http.StatusNotFound, security.ErrorResponse{
			Error:   "not_found",
			Message: err.Error(),
		})
	case errors.Is(err, ledger.ErrStore):
		l.ErrorContext(r.Context(), "store failure",
			"cid", security.CorrelationIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		security.WriteJSONError(w, r, http.StatusServiceUnavailable, "store_unavailable")
	default:
		l.ErrorContext(r.Context(), "request failed",
			"cid", security.CorrelationIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &ledger.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, &ledger.ValidationError{Field: name, Message: "must be a positive integer"}
	}
	return id, nil
}

func queryDate(r *http.Request, name string) (ledger.Date, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return ledger.Date{}, nil
	}
	d, err := ledger.ParseDate(v)
	if err != nil {
		return ledger.Date{}, &ledger.ValidationError{Field: name, Message: "must be a date in YYYY-MM-DD form"}
	}
	return d, nil
}

// queryRange reads ?start=&end=. The range is not validated here; the
// service rejects missing or inverted bounds.
func queryRange(r *http.Request) (ledger.DateRange, error) {
	from, err := queryDate(r, "start")
	if err != nil {
		return ledger.DateRange{}, err
	}
	to, err := queryDate(r, "end")
	if err != nil {
		return ledger.DateRange{}, err
	}
	return ledger.DateRange{From: from, To: to}, nil
}

// queryOptionalRange returns nil when neither bound is given.
func queryOptionalRange(r *http.Request) (*ledger.DateRange, error) {
	q := r.URL.Query()
	if q.Get("start") == "" && q.Get("end") == "" {
		return nil, nil
	}
	rng, err := queryRange(r)
	if err != nil {
		return nil, err
	}
	return &rng, nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
