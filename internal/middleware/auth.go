// Package middleware provides HTTP middleware for the oracle service.
package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/openfeeds/rate-layer/pkg/logger"
)

type contextKey string

const clientNameKey contextKey = "client_name"

// ClientName returns the authenticated client name stored in the request
// context, or the empty string when the request was not authenticated.
func ClientName(ctx context.Context) string {
	name, _ := ctx.Value(clientNameKey).(string)
	return name
}

// TokenAuth authenticates submitters against a static set of bearer tokens.
// Tokens map client names to secrets; the matched client name is stored in
// the request context for downstream handlers and rate limiting.
type TokenAuth struct {
	tokens map[string]string
	log    *logger.Logger
}

// NewTokenAuth creates a bearer token authenticator. If log is nil a default
// logger is created.
func NewTokenAuth(tokens map[string]string, log *logger.Logger) *TokenAuth {
	if log == nil {
		log = logger.NewDefault("middleware.auth")
	}
	return &TokenAuth{tokens: tokens, log: log}
}

// Handler rejects requests that do not carry a valid bearer token. When no
// tokens are configured every request is rejected.
func (a *TokenAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, ok := a.authenticate(r)
		if !ok {
			a.log.WithField("remote_addr", r.RemoteAddr).Warn("Rejected unauthenticated request")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"missing or invalid bearer token"}`))
			return
		}
		ctx := context.WithValue(r.Context(), clientNameKey, name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *TokenAuth) authenticate(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", false
	}
	for name, secret := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1 {
			return name, true
		}
	}
	return "", false
}
