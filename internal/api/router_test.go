package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/shop-ledger/internal/auth"
	"github.com/example/shop-ledger/internal/ledger"
	"github.com/example/shop-ledger/internal/security"
	"github.com/example/shop-ledger/pkg/audit"
)

type testAPI struct {
	t       *testing.T
	srv     *httptest.Server
	auditor *audit.ChainLogger
	token   string
}

func newTestDeps(t *testing.T) Dependencies {
	t.Helper()
	store, err := ledger.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := ledger.NewLedgerService(store, nil, nil, logger)
	t.Cleanup(func() { _ = svc.Close() })

	hash, err := auth.HashClientSecret("s3cret")
	require.NoError(t, err)
	clients, err := auth.NewStaticClientStore(
		auth.APIClient{ID: "back-office", SecretHash: hash, Scopes: auth.AllScopes},
		auth.APIClient{ID: "viewer", SecretHash: hash, Scopes: []string{auth.ScopeClientsRead, auth.ScopeLedgerRead}},
	)
	require.NoError(t, err)
	keys, err := auth.NewKeySet()
	require.NoError(t, err)
	oauth := &auth.OAuthServer{Store: clients, Keys: keys, Issuer: "shop-ledger", AccessTokenTTL: time.Minute}

	return Dependencies{
		Logger:       logger,
		OAuth:        oauth,
		JWTValidator: &auth.JWTValidator{KeySet: keys, Issuer: "shop-ledger"},
		Ledger:       svc,
		MaxBodyBytes: 1 << 20,
	}
}

func startAPI(t *testing.T, deps Dependencies) *testAPI {
	t.Helper()
	chain := audit.NewChainLogger()
	deps.Auditor = chain
	h, err := NewRouter(deps)
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	a := &testAPI{t: t, srv: srv, auditor: chain}
	a.token = a.issueToken("back-office", "")
	return a
}

func (a *testAPI) issueToken(clientID, scope string) string {
	a.t.Helper()
	form := url.Values{"grant_type": {"client_credentials"}}
	if scope != "" {
		form.Set("scope", scope)
	}
	req, err := http.NewRequest(http.MethodPost, a.srv.URL+"/oauth/token", strings.NewReader(form.Encode()))
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(clientID, "s3cret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	require.Equal(a.t, http.StatusOK, resp.StatusCode)

	var tr auth.TokenResponse
	require.NoError(a.t, json.NewDecoder(resp.Body).Decode(&tr))
	return tr.AccessToken
}

// do sends body (nil, a string or a value to marshal) and decodes the JSON
// reply into out when out is not nil.
func (a *testAPI) do(method, path, token string, body any, out any) int {
	a.t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(a.t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rdr)
	require.NoError(a.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (a *testAPI) createClient(name, opening string) int64 {
	a.t.Helper()
	var resp clientResponse
	status := a.do(http.MethodPost, "/v1/clients", a.token, map[string]any{
		"client_name":     name,
		"opening_balance": opening,
	}, &resp)
	require.Equal(a.t, http.StatusCreated, status)
	return resp.Client.ID
}

func (a *testAPI) createTxn(body map[string]any) *ledger.Transaction {
	a.t.Helper()
	var resp transactionResponse
	status := a.do(http.MethodPost, "/v1/transactions", a.token, body, &resp)
	require.Equal(a.t, http.StatusCreated, status)
	return resp.Transaction
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestHealthzIsOpen(t *testing.T) {
	deps := newTestDeps(t)
	a := startAPI(t, deps)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/healthz", "", nil, nil))
}

func TestAuthFailures(t *testing.T) {
	deps := newTestDeps(t)
	a := startAPI(t, deps)

	var errResp security.ErrorResponse
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/v1/clients", "", nil, &errResp))
	assert.Equal(t, "unauthorized", errResp.Error)
	assert.NotEmpty(t, errResp.CorrelationID)

	viewer := a.issueToken("viewer", "")
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/v1/clients", viewer, nil, nil))
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPost, "/v1/clients", viewer, map[string]any{"client_name": "Ravi"}, nil))

	readOnly := a.issueToken("back-office", "ledger:read")
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodGet, "/v1/clients", readOnly, nil, nil))
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/v1/transactions", readOnly, nil, nil))
}

func TestClientLifecycle(t *testing.T) {
	deps := newTestDeps(t)
	a := startAPI(t, deps)

	id := a.createClient("Ravi Traders", "100")

	var got clientResponse
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/v1/clients/"+itoa(id), a.token, nil, &got))
	assert.Equal(t, "Ravi Traders", got.Client.Name)
	assertDecimal(t, "100", got.Client.OpeningBalance)

	var updated clientResponse
	require.Equal(t, http.StatusOK, a.do(http.MethodPut, "/v1/clients/"+itoa(id), a.token, map[string]any{
		"client_name":     "Ravi Traders",
		"city":            "Pune",
		"mobile_number":   "9876543210",
		"opening_balance": 250.5,
	}, &updated))
	assert.Equal(t, "Pune", updated.Client.City)
	assertDecimal(t, "250.5", updated.Client.OpeningBalance)

	var count countResponse
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/v1/clients/count", a.token, nil, &count))
	assert.Equal(t, 1, count.Count)

	var found listClientsResponse
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/v1/clients/search?q=ravi", a.token, nil, &found))
	assert.Equal(t, 1, found.Total)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/v1/clients/search?q=", a.token, nil, nil))

	require.Equal(t, http.StatusOK, a.do(http.MethodDelete, "/v1/clients/"+itoa(id), a.token, nil, nil))
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/v1/clients/"+itoa(id), a.token, nil, nil))
}

func TestValidationErrors(t *testing.T) {
	deps := newTestDeps(t)
	a := startAPI(t, deps)
	id := a.createClient("Ravi", "0")

	cases := map[string]struct {
		method, path string
		body         any
		field        string
	}{
		"missing name":     {http.MethodPost, "/v1/clients", map[string]any{"city": "Pune"}, ""},
		"bad mobile":       {http.MethodPost, "/v1/clients", map[string]any{"client_name": "A", "mobile_number": "12ab"}, "mobile_number"},
		"unknown field":    {http.MethodPost, "/v1/clients", map[string]any{"client_name": "A", "extra": 1}, ""},
		"negative debit":   {http.MethodPost, "/v1/transactions", map[string]any{"client_id": id, "date": "2024-01-01", "account": "Cash", "dr": -5}, ""},
		"bad amount":       {http.MethodPost, "/v1/transactions", map[string]any{"client_id": id, "date": "2024-01-01", "account": "Cash", "dr": "ten"}, ""},
		"bad date":         {http.MethodPost, "/v1/transactions", map[string]any{"client_id": id, "date": "2024-13-45", "account": "Cash"}, "body"},
		"bad id":           {http.MethodGet, "/v1/clients/abc", nil, "id"},
		"range needs both": {http.MethodGet, "/v1/transactions/summary/date-range?start=2024-01-01", nil, "to"},
		"inverted range":   {http.MethodGet, "/v1/transactions/summary/daily?start=2024-02-01&end=2024-01-01", nil, "from"},
		"bad limit":        {http.MethodGet, "/v1/transactions/recent?limit=lots", nil, "limit"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var errResp security.ErrorResponse
			status := a.do(tc.method, tc.path, a.token, tc.body, &errResp)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, "validation_error", errResp.Error)
			if tc.field != "" {
				assert.Equal(t, tc.field, errResp.Field)
			}
		})
	}

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/v1/clients", a.token, "{not json", nil))
}

func TestTransactionFlowKeepsRunningBalances(t *testing.T) {
	deps := newTestDeps(t)
	a := startAPI(t, deps)
	id := a.createClient("Ravi", "100")

	first := a.createTxn(map[string]any{"client_id": id, "date": "2024-01-01", "account": "Cash", "dr": 50})
	second := a.createTxn(map[string]any{"client_id": id, "date": "2024-01-02", "account": "Bank", "cr": "30"})
	assertDecimal(t, "150", first.Balance)
	assertDecimal(t, "120", second.Balance)

	// A back-dated entry shifts every later balance.
	a.createTxn(map[string]any{"client_id": id, "date": "2023-12-31", "account": "Cash", "dr": 10})
	var got transactionResponse
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/v1/transactions/"+itoa(second.ID), a.token, nil, &got))
	assertDecimal(t, "130", got.Transaction.Balance)

	var running runningLedgerResponse
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/v1/transactions/ledger/"+itoa(id)+"/running", a.token, nil, &running))
	require.Len(t, running.Entries, 3)
	assertDecimal(t, "110", running.Entries[0].RunningBalance)
	assertDecimal(t, "130", running.Entries[2].RunningBalance)

	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/v1/transactions/ledger/"+itoa(id)+"/running?start=2024-01-02&end=2024-01-31", a.token, nil, &running))
	require.Len(t, running.Entries, 1)
	assertDecimal(t, "130", running.Entries[0].RunningBalance)

	var balance clientBalanceResponse
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/v1/clients/"+itoa(id)+"/balance", a.token, nil, &balance))
	assertDecimal(t, "130", balance.Client.CurrentBalance)

	var recalc recalculateResponse
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/v1/transactions/recalculate/"+itoa(id), a.token, nil, &recalc))
	assert.Equal(t, 3, recalc.Result.TransactionCount)
	assertDecimal(t, "130", recalc.Result.ClosingBalance)

	require.Equal(t, http.StatusOK, a.do(http.MethodDelete, "/v1/transactions/"+itoa(first.ID), a.token, nil, nil))
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/v1/transactions/"+itoa(second.ID), a.token, nil, &got))
	assertDecimal(t, "80", got.Transaction.Balance)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodDelete, "/v1/transactions/"+itoa(first.ID), a.token, nil, nil))
}

func TestNetEntries(t *testing.T) {
	deps := newTestDeps(t)
	a := startAPI(t, deps)
	id := a.createClient("Ravi", "0")

	net := a.createTxn(map[string]any{"client_id": id, "date": "2024-01-01", "account": "Net", "dr": 40, "cr": 15})
	assertDecimal(t, "0", net.Credit)
	assertDecimal(t, "40", net.Balance)

	placeholder := a.createTxn(map[string]any{"client_id": id, "date": "2024-01-02", "account": "No NET", "dr": 99, "cr": 1})
	assertDecimal(t, "0", placeholder.Debit)
	assertDecimal(t, "40", placeholder.Balance)

	var done transactionResponse
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/v1/transactions/"+itoa(placeholder.ID)+"/complete-net", a.token,
		map[string]any{"dr": "25", "particulars": "invoice 42"}, &done))
	assert.Equal(t, ledger.AccountNet, done.Transaction.Account)
	assertDecimal(t, "65", done.Transaction.Balance)

	var errResp security.ErrorResponse
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/v1/transactions/"+itoa(net.ID)+"/complete-net", a.token,
		map[string]any{"dr": "25", "particulars": "again"}, &errResp))
	assert.Equal(t, "account", errResp.Field)
}

func TestUpdateTransactionCannotChangeClient(t *testing.T) {
	deps := newTestDeps(t)
	a := startAPI(t, deps)
	ravi := a.createClient("Ravi", "0")
	sita := a.createClient("Sita", "0")
	txn := a.createTxn(map[string]any{"client_id": ravi, "date": "2024-01-01", "account": "Cash", "dr": 10})

	var errResp security.ErrorResponse
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPut, "/v1/transactions/"+itoa(txn.ID), a.token,
		map[string]any{"client_id": sita, "date": "2024-01-01", "account": "Cash", "dr": 10}, &errResp))
	assert.Equal(t, "client_id", errResp.Field)

	var updated transactionResponse
	require.Equal(t, http.StatusOK, a.do(http.MethodPut, "/v1/transactions/"+itoa(txn.ID), a.token,
		map[string]any{"date": "2024-01-03", "account": "Bank", "dr": 12.25, "particulars": "fixed"}, &updated))
	assertDecimal(t, "12.25", updated.Transaction.Balance)
	assert.Equal(t, "2024-01-03", updated.Transaction.Date.String())

	assert.Equal(t, http.StatusNotFound, a.do(http.MethodPost, "/v1/transactions", a.token,
		map[string]any{"client_id": 999, "date": "2024-01-01", "account": "Cash"}, nil))
}

func TestReports(t *testing.T) {
	deps := newTestDeps(t)
	a := startAPI(t, deps)
	ravi := a.createClient("Ravi", "0")
	sita := a.createClient("Sita", "-50")
	a.createTxn(map[string]any{"client_id": ravi, "date": "2024-01-05", "account": "Cash", "dr": 100})
	a.createTxn(map[string]any{"client_id": ravi, "date": "2024-02-10", "account": "Bank", "cr": 30})
	a.createTxn(map[string]any{"client_id": sita, "date": "2024-02-10", "account": "Cash", "dr": 20})

	var debtors, creditors clientBalancesResponse
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/v1/clients/debtors", a.token, nil, &debtors))
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/v1/clients/creditors", a.token, nil, &creditors))
	require.Len(t, debtors.Clients, 1)
	require.Len(t, creditors.Clients, 1)
	assert.Equal(t, "Ravi", debtors.Clients[0].Name)
	assertDecimal(t, "-30", creditors.Clients[0].CurrentBalance)

	var daily dailySummaryResponse
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/v1/transactions/summary/daily?start=2024-01-01&end=2024-02-28", a.token, nil, &daily))
	require.Len(t, daily.Days, 2)
	assert.Equal(t, "2024-02-10", daily.Days[0].Date.String())
	assert.Equal(t, 2, daily.Days[0].TransactionCount)

	var monthly monthlySummaryResponse
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/v1/transactions/summary/monthly?start=2024-01-01&end=2024-02-28", a.token, nil, &monthly))
	require.Len(t, monthly.Months, 2)
	assertDecimal(t, "20", monthly.Months[0].TotalDebit)

	var accounts accountSummaryResponse
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/v1/transactions/summary/by-account", a.token, nil, &accounts))
	require.Len(t, accounts.Accounts, 2)
	assert.Equal(t, ledger.AccountCash, accounts.Accounts[0].Account)

	var rng rangeSummaryResponse
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/v1/transactions/summary/date-range?start=2024-02-01&end=2024-02-28", a.token, nil, &rng))
	assert.Equal(t, 2, rng.Summary.TransactionCount)

	var st statementResponse
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/v1/transactions/ledger/"+itoa(ravi)+"?start=2024-02-01&end=2024-02-28", a.token, nil, &st))
	assertDecimal(t, "100", st.Statement.BroughtForward)
	assertDecimal(t, "70", st.Statement.ClosingBalance)
	require.Len(t, st.Statement.Rows, 1)

	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/v1/transactions/ledger/999?start=2024-02-01&end=2024-02-28", a.token, nil, nil))

	var recent listTransactionsResponse
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/v1/transactions/recent?limit=2", a.token, nil, &recent))
	assert.Len(t, recent.Transactions, 2)

	var forClient listTransactionsResponse
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/v1/transactions/client/"+itoa(ravi), a.token, nil, &forClient))
	assert.Equal(t, 2, forClient.Total)
}

func TestEmptyListsEncodeAsArrays(t *testing.T) {
	deps := newTestDeps(t)
	a := startAPI(t, deps)

	var raw map[string]any
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/v1/clients", a.token, nil, &raw))
	assert.Equal(t, []any{}, raw["clients"])
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/v1/clients/debtors", a.token, nil, &raw))
	assert.Equal(t, []any{}, raw["clients"])
}

type brokenLedger struct {
	Ledger
	err error
}

func (b brokenLedger) ListClients(context.Context) ([]ledger.Client, error) { return nil, b.err }

func TestStoreAndInternalErrorsMapToStatus(t *testing.T) {
	deps := newTestDeps(t)
	svc := deps.Ledger

	deps.Ledger = brokenLedger{Ledger: svc, err: &ledger.StoreError{Op: "list clients", Err: errors.New("connection refused")}}
	a := startAPI(t, deps)
	var errResp security.ErrorResponse
	assert.Equal(t, http.StatusServiceUnavailable, a.do(http.MethodGet, "/v1/clients", a.token, nil, &errResp))
	assert.Equal(t, "store_unavailable", errResp.Error)

	deps.Ledger = brokenLedger{Ledger: svc, err: errors.New("boom")}
	b := startAPI(t, deps)
	assert.Equal(t, http.StatusInternalServerError, b.do(http.MethodGet, "/v1/clients", b.token, nil, &errResp))
	assert.Equal(t, "internal_error", errResp.Error)

	deps.Ledger = nil
	c := startAPI(t, deps)
	assert.Equal(t, http.StatusServiceUnavailable, c.do(http.MethodGet, "/v1/clients", c.token, nil, nil))
}

func TestRateLimitTrips(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	deps := newTestDeps(t)
	deps.RateLimiter = &security.RedisTokenBucket{Redis: rdb, Prefix: "test", Capacity: 1, RefillRate: 0.0000001}
	h, err := NewRouter(deps)
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/oauth/jwks.json")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/oauth/jwks.json")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestBodySizeLimit(t *testing.T) {
	deps := newTestDeps(t)
	deps.MaxBodyBytes = 32
	a := startAPI(t, deps)

	status := a.do(http.MethodPost, "/v1/clients", a.token,
		`{"client_name":"A very long shop name that overflows","city":"Pune"}`, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
}

func TestAuditChainRecordsRequests(t *testing.T) {
	deps := newTestDeps(t)
	a := startAPI(t, deps)
	a.createClient("Ravi", "0")
	a.do(http.MethodGet, "/v1/clients/999", a.token, nil, nil)

	entries := a.auditor.Entries()
	require.GreaterOrEqual(t, len(entries), 3)
	last := entries[len(entries)-1]
	assert.Contains(t, last.Payload, "path=/v1/clients/999")
	assert.Contains(t, last.Payload, "status=404")
	assert.NoError(t, a.auditor.Verify())
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
