// Package auth guards the admin API with a static bearer token.
package auth

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// Middleware validates the static admin token.
type Middleware struct {
	token string
}

func NewMiddleware(token string) *Middleware {
	return &Middleware{token: token}
}

// Authenticate rejects requests without the configured token.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := extractToken(r)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "authentication_error", "missing admin token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(m.token)) != 1 {
			slog.Warn("auth failed", "remote", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "authentication_error", "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractToken(r *http.Request) string {
	if key := r.Header.Get("x-admin-token"); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, errType, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"type":"%s","message":"%s"}}`, errType, msg)
}
