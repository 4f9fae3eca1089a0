// Package middleware provides HTTP middleware components.
package middleware

import (
	"context"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type fetchHostKey struct{}

// fetchHost is filled in by the handler once the target URL is known,
// so a panic further down can be logged against it.
type fetchHost struct {
	mu   sync.Mutex
	host string
}

// SetFetchHost records the host a request is fetching. It is a no-op
// outside Recovery.
func SetFetchHost(ctx context.Context, host string) {
	if fh, ok := ctx.Value(fetchHostKey{}).(*fetchHost); ok {
		fh.mu.Lock()
		fh.host = host
		fh.mu.Unlock()
	}
}

func (fh *fetchHost) get() string {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	return fh.host
}

// Recovery returns middleware that recovers from panics and logs the error
// with the request ID and, when known, the fetch host.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		fh := &fetchHost{}

		defer func() {
			if err := recover(); err != nil {
				// RequestID runs inside Recovery; its response header is the only trace left.
				requestID := w.Header().Get(RequestIDHeader)
				if requestID == "" {
					requestID = RequestIDFromContext(r.Context())
				}

				log.Error().
					Interface("error", err).
					Str("stack", string(debug.Stack())).
					Str("request_id", requestID).
					Str("fetch_host", fh.get()).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("Panic recovered")

				writeErrorResponse(w, http.StatusInternalServerError, "Internal server error", startTime)
			}
		}()
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), fetchHostKey{}, fh)))
	})
}
