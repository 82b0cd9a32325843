package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/vyrodovalexey/tiergate/internal/observability"
)

// Recovery returns a middleware that recovers from panics and answers 500.
func Recovery(logger observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				err := recover()
				if err == nil {
					return
				}
				if err == http.ErrAbortHandler {
					panic(err)
				}

				logger.WithContext(r.Context()).Error("panic recovered",
					observability.String("path", r.URL.Path),
					observability.String("method", r.Method),
					observability.Any("error", err),
					observability.String("stack", string(debug.Stack())),
				)

				panicsRecovered.Inc()

				WriteError(w, r, http.StatusInternalServerError, CodeInternalError, "internal server error")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
