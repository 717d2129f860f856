// Package auth issues and checks the bearer tokens of API clients using the
// OAuth2 client-credentials grant and RS256 JWTs.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Scopes granted to API clients.
const (
	ScopeClientsRead  = "clients:read"
	ScopeClientsWrite = "clients:write"
	ScopeLedgerRead   = "ledger:read"
	ScopeLedgerWrite  = "ledger:write"
)

// AllScopes lists every scope the service understands.
var AllScopes = []string{ScopeClientsRead, ScopeClientsWrite, ScopeLedgerRead, ScopeLedgerWrite}

var ErrClientNotFound = errors.New("api client not found")

// APIClient is a machine caller of the API, such as the shop front end.
// It is unrelated to the ledger's customers.
type APIClient struct {
	ID         string   `yaml:"id"`
	SecretHash string   `yaml:"secret_hash"`
	Scopes     []string `yaml:"scopes"`
}

type ClientStore interface {
	GetClient(ctx context.Context, clientID string) (*APIClient, error)
}

type OAuthServer struct {
	Store          ClientStore
	Keys           *KeySet
	Issuer         string
	AccessTokenTTL time.Duration
}

type AccessTokenClaims struct {
	jwt.RegisteredClaims
	ClientID string   `json:"client_id"`
	Scopes   []string `json:"scopes"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

func HashClientSecret(secret string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func VerifyClientSecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// TokenHandler implements the client_credentials grant. Credentials come
// from HTTP basic auth or the client_id/client_secret form fields.
func (s *OAuthServer) TokenHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	_ = r.ParseForm()
	if r.FormValue("grant_type") != "client_credentials" {
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}

	clientID, clientSecret, ok := r.BasicAuth()
	if !ok {
		clientID = r.FormValue("client_id")
		clientSecret = r.FormValue("client_secret")
	}
	if clientID == "" || clientSecret == "" {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	client, err := s.Store.GetClient(r.Context(), clientID)
	if err != nil || client == nil || !VerifyClientSecret(client.SecretHash, clientSecret) {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	requested := strings.Fields(r.FormValue("scope"))
	granted := intersectScopes(client.Scopes, requested)
	if len(requested) > 0 && len(granted) == 0 {
		writeOAuthError(w, http.StatusForbidden, "invalid_scope")
		return
	}

	signed, exp, err := s.Issue(client.ID, granted)
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(TokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(exp.Seconds()),
		Scope:       strings.Join(granted, " "),
	})
}

// Issue signs an access token for clientID carrying scopes.
func (s *OAuthServer) Issue(clientID string, scopes []string) (string, time.Duration, error) {
	exp := s.AccessTokenTTL
	if exp == 0 {
		exp = 15 * time.Minute
	}
	now := time.Now()
	claims := AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Issuer,
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(exp)),
			ID:        uuid.NewString(),
		},
		ClientID: clientID,
		Scopes:   scopes,
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.Keys.KeyID()
	signed, err := tok.SignedString(s.Keys.PrivateKey())
	if err != nil {
		return "", 0, err
	}
	return signed, exp, nil
}

func (s *OAuthServer) JWKSHandler(w http.ResponseWriter, r *http.Request) {
	jwks, err := s.Keys.JWKS()
	if err != nil {
		writeOAuthError(w, http.StatusInternalServerError, "server_error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(jwks)
}

func writeOAuthError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}

// intersectScopes returns the requested scopes the client holds, or every
// held scope when none were requested.
func intersectScopes(allowed []string, requested []string) []string {
	allowedSet := map[string]struct{}{}
	for _, s := range allowed {
		if s = strings.TrimSpace(s); s != "" {
			allowedSet[s] = struct{}{}
		}
	}

	if len(requested) == 0 {
		out := make([]string, 0, len(allowedSet))
		for s := range allowedSet {
			out = append(out, s)
		}
		slices.Sort(out)
		return out
	}

	var out []string
	for _, s := range requested {
		if _, ok := allowedSet[s]; ok {
			out = append(out, s)
		}
	}
	return out
}
