// Package middleware provides HTTP middleware for the stealthfetch server.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"
)

// APIKey returns middleware that requires the X-API-Key header (or an
// "Authorization: Bearer" token) to match key. When enabled is false requests
// pass through unchanged. /health and /metrics are always reachable.
//
// Keys in query parameters are not accepted: they end up in access logs.
func APIKey(enabled bool, key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled || r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-API-Key")
			if provided == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					provided = strings.TrimPrefix(auth, "Bearer ")
				}
			}

			// An empty configured key never authenticates.
			if key == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
				writeErrorResponse(w, http.StatusUnauthorized, "Invalid or missing API key", time.Now())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
