package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type authInfoKey struct{}

// AuthInfo is the authenticated caller of a request.
type AuthInfo struct {
	ClientID string
	Scopes   map[string]struct{}
}

func (ai *AuthInfo) HasScopes(required ...string) bool {
	for _, s := range required {
		if _, ok := ai.Scopes[s]; !ok {
			return false
		}
	}
	return true
}

func WithAuthInfo(ctx context.Context, ai *AuthInfo) context.Context {
	return context.WithValue(ctx, authInfoKey{}, ai)
}

func AuthInfoFromContext(ctx context.Context) (*AuthInfo, bool) {
	v := ctx.Value(authInfoKey{})
	ai, ok := v.(*AuthInfo)
	return ai, ok
}

type JWTValidator struct {
	KeySet *KeySet
	Issuer string
}

func (v *JWTValidator) Validate(tokenString string) (*AccessTokenClaims, error) {
	if v.KeySet == nil || v.KeySet.PublicKey() == nil {
		return nil, errors.New("missing keyset")
	}

	claims := &AccessTokenClaims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.KeySet.PublicKey(), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	if v.Issuer != "" && claims.Issuer != v.Issuer {
		return nil, errors.New("invalid issuer")
	}
	return claims, nil
}

// AuthInfoFromBearer validates an "Authorization: Bearer ..." value.
func (v *JWTValidator) AuthInfoFromBearer(authz string) (*AuthInfo, error) {
	if v == nil {
		return nil, errors.New("no token validator configured")
	}
	if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
		return nil, errors.New("missing bearer token")
	}
	claims, err := v.Validate(strings.TrimSpace(authz[len("Bearer "):]))
	if err != nil {
		return nil, err
	}
	scopes := make(map[string]struct{}, len(claims.Scopes))
	for _, s := range claims.Scopes {
		scopes[s] = struct{}{}
	}
	return &AuthInfo{ClientID: claims.ClientID, Scopes: scopes}, nil
}

func Authenticate(v *JWTValidator, onError func(http.ResponseWriter, *http.Request, int, string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ai, err := v.AuthInfoFromBearer(r.Header.Get("Authorization"))
			if err != nil {
				onError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuthInfo(r.Context(), ai)))
		})
	}
}

func RequireScopes(onError func(http.ResponseWriter, *http.Request, int, string), required ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ai, ok := AuthInfoFromContext(r.Context())
			if !ok {
				onError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !ai.HasScopes(required...) {
				onError(w, r, http.StatusForbidden, "forbidden")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
