package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/tiergate/internal/observability"
)

// RequestID returns a middleware that assigns each request a correlation
// id. A well-formed id supplied by the client is kept.
func RequestID() func(http.Handler) http.Handler {
	return RequestIDWithGenerator(func() string { return uuid.New().String() })
}

// RequestIDWithGenerator returns a middleware that uses a custom ID generator.
func RequestIDWithGenerator(generator func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(HeaderXRequestID)
			if !validRequestID(requestID) {
				requestID = generator()
			}

			ctx := observability.ContextWithRequestID(r.Context(), requestID)
			r = r.WithContext(ctx)

			w.Header().Set(HeaderXRequestID, requestID)

			next.ServeHTTP(w, r)
		})
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}
