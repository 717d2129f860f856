package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *OAuthServer {
	t.Helper()
	hash, err := HashClientSecret("s3cret")
	require.NoError(t, err)
	store, err := NewStaticClientStore(APIClient{
		ID:         "shop-frontend",
		SecretHash: hash,
		Scopes:     []string{ScopeLedgerRead, ScopeClientsRead},
	})
	require.NoError(t, err)
	keys, err := NewKeySet()
	require.NoError(t, err)
	return &OAuthServer{Store: store, Keys: keys, Issuer: "shop-ledger", AccessTokenTTL: time.Minute}
}

func requestToken(srv *OAuthServer, form url.Values, basic ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if len(basic) == 2 {
		req.SetBasicAuth(basic[0], basic[1])
	}
	rec := httptest.NewRecorder()
	srv.TokenHandler(rec, req)
	return rec
}

func TestTokenHandlerIssuesValidToken(t *testing.T) {
	srv := newTestServer(t)

	rec := requestToken(srv, url.Values{"grant_type": {"client_credentials"}}, "shop-frontend", "s3cret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var resp TokenResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(60), resp.ExpiresIn)
	assert.Equal(t, "clients:read ledger:read", resp.Scope)

	v := &JWTValidator{KeySet: srv.Keys, Issuer: "shop-ledger"}
	claims, err := v.Validate(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "shop-frontend", claims.ClientID)

	_, err = (&JWTValidator{KeySet: srv.Keys, Issuer: "someone-else"}).Validate(resp.AccessToken)
	assert.Error(t, err)
}

func TestTokenHandlerScopeNarrowing(t *testing.T) {
	srv := newTestServer(t)

	rec := requestToken(srv, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {"shop-frontend"},
		"client_secret": {"s3cret"},
		"scope":         {"ledger:read ledger:write"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp TokenResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ledger:read", resp.Scope)

	rec = requestToken(srv, url.Values{"grant_type": {"client_credentials"}, "scope": {"ledger:write"}}, "shop-frontend", "s3cret")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTokenHandlerRejects(t *testing.T) {
	srv := newTestServer(t)

	cases := map[string]struct {
		form   url.Values
		basic  []string
		status int
	}{
		"wrong grant": {url.Values{"grant_type": {"password"}}, []string{"shop-frontend", "s3cret"}, http.StatusBadRequest},
		"no creds":    {url.Values{"grant_type": {"client_credentials"}}, nil, http.StatusUnauthorized},
		"bad secret":  {url.Values{"grant_type": {"client_credentials"}}, []string{"shop-frontend", "nope"}, http.StatusUnauthorized},
		"unknown id":  {url.Values{"grant_type": {"client_credentials"}}, []string{"ghost", "s3cret"}, http.StatusUnauthorized},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := requestToken(srv, tc.form, tc.basic...)
			assert.Equal(t, tc.status, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	srv.TokenHandler(rec, httptest.NewRequest(http.MethodGet, "/oauth/token", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestJWKSHandler(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.JWKSHandler(rec, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var jwks JWKS
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&jwks))
	require.Len(t, jwks.Keys, 1)
	assert.Equal(t, srv.Keys.KeyID(), jwks.Keys[0].Kid)
	assert.Equal(t, "AQAB", jwks.Keys[0].E)
}

func TestAuthenticateAndRequireScopes(t *testing.T) {
	srv := newTestServer(t)
	token, _, err := srv.Issue("shop-frontend", []string{ScopeLedgerRead})
	require.NoError(t, err)

	var gotStatus int
	onError := func(w http.ResponseWriter, _ *http.Request, status int, _ string) {
		gotStatus = status
		w.WriteHeader(status)
	}
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ai, found := AuthInfoFromContext(r.Context())
		require.True(t, found)
		assert.Equal(t, "shop-frontend", ai.ClientID)
		w.WriteHeader(http.StatusNoContent)
	})
	v := &JWTValidator{KeySet: srv.Keys, Issuer: "shop-ledger"}

	serve := func(h http.Handler, authz string) int {
		gotStatus = 0
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if authz != "" {
			req.Header.Set("Authorization", authz)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	read := Authenticate(v, onError)(RequireScopes(onError, ScopeLedgerRead)(ok))
	write := Authenticate(v, onError)(RequireScopes(onError, ScopeLedgerWrite)(ok))

	assert.Equal(t, http.StatusNoContent, serve(read, "Bearer "+token))
	assert.Equal(t, http.StatusNoContent, serve(read, "bearer "+token))
	assert.Equal(t, http.StatusForbidden, serve(write, "Bearer "+token))
	assert.Equal(t, http.StatusForbidden, gotStatus)
	assert.Equal(t, http.StatusUnauthorized, serve(read, ""))
	assert.Equal(t, http.StatusUnauthorized, serve(read, "Bearer garbage"))
	assert.Equal(t, http.StatusUnauthorized, serve(RequireScopes(onError, ScopeLedgerRead)(ok), ""))
}

func TestLoadClientStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clients.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
clients:
  - id: shop-frontend
    secret_hash: "$2a$10$abcdefghijklmnopqrstuu"
    scopes: [clients:read, ledger:read]
  - id: back-office
    secret_hash: "$2a$10$zyxwvutsrqponmlkjihgff"
    scopes: [clients:write, ledger:write]
`), 0o600))

	store, err := LoadClientStore(path)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())

	c, err := store.GetClient(context.Background(), "back-office")
	require.NoError(t, err)
	assert.Equal(t, []string{ScopeClientsWrite, ScopeLedgerWrite}, c.Scopes)

	_, err = store.GetClient(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrClientNotFound)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("clients:\n  - id: x\n    secret_hash: h\n    scopes: [admin]\n"), 0o600))
	_, err = LoadClientStore(bad)
	assert.ErrorContains(t, err, "unknown scope")

	_, err = NewStaticClientStore(APIClient{ID: "a", SecretHash: "h"}, APIClient{ID: "a", SecretHash: "h"})
	assert.Error(t, err)
}

func TestLoadKeySetIsStable(t *testing.T) {
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(pk)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "signing.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0o600))

	a, err := LoadKeySet(path)
	require.NoError(t, err)
	b, err := LoadKeySet(path)
	require.NoError(t, err)
	assert.Equal(t, a.KeyID(), b.KeyID())
	assert.True(t, pk.PublicKey.Equal(a.PublicKey()))

	pkcs1 := filepath.Join(t.TempDir(), "rsa.pem")
	require.NoError(t, os.WriteFile(pkcs1, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(pk)}), 0o600))
	c, err := LoadKeySet(pkcs1)
	require.NoError(t, err)
	assert.Equal(t, a.KeyID(), c.KeyID())

	junk := filepath.Join(t.TempDir(), "junk.pem")
	require.NoError(t, os.WriteFile(junk, []byte("not pem"), 0o600))
	_, err = LoadKeySet(junk)
	assert.Error(t, err)
}

func TestGeneratedSigningKeyLoads(t *testing.T) {
	raw, err := GenerateSigningKeyPEM()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "signing.pem")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	ks, err := LoadKeySet(path)
	require.NoError(t, err)
	assert.Equal(t, 2048, ks.PublicKey().N.BitLen())
}
