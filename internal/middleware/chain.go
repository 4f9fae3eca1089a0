package middleware

import "net/http"

// Chain composes middleware so Chain(A, B, C)(h) runs as A(B(C(h))).
// Nil entries are skipped, which lets callers leave optional layers out.
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			if mw := middlewares[i]; mw != nil {
				final = mw(final)
			}
		}
		return final
	}
}
