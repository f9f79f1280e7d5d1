package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// MintAuthToken signs a short-lived JWT with secret (the configured
// AUTH_TOKEN), so an operator can hand a browser session a token that
// expires instead of pasting the raw shared secret into every request.
// cmd/taskforge-server prints one at startup alongside the raw token.
func MintAuthToken(secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.StandardClaims{
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// authMiddleware enforces §6.4's AUTH_TOKEN on every request once one
// is configured: the raw shared secret in constant time, or a JWT
// minted from it via MintAuthToken. An empty secret disables auth.
func authMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := bearerToken(r)
			if presented == "" {
				respondError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
			if validJWT(presented, secret) {
				next.ServeHTTP(w, r)
				return
			}
			respondError(w, http.StatusUnauthorized, "invalid bearer token")
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

func validJWT(tokenString, secret string) bool {
	tok, err := jwt.ParseWithClaims(tokenString, &jwt.StandardClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	return err == nil && tok.Valid
}
