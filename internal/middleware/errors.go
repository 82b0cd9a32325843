package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/vyrodovalexey/tiergate/internal/observability"
)

// ErrorResponse is the JSON body of every error the gateway produces.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
	// RetryAfter is in whole seconds and only set on rate-limit denials.
	RetryAfter *int64 `json:"retryAfter,omitempty"`
}

// WriteError writes an error body. The request id is taken from the
// request context.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSONError(w, status, ErrorResponse{
		Error:     code,
		Message:   message,
		RequestID: observability.RequestIDFromContext(r.Context()),
	})
}

// WriteRateLimitError writes a 429 body and the Retry-After header.
func WriteRateLimitError(w http.ResponseWriter, r *http.Request, message string, retryAfter time.Duration) {
	seconds := RetryAfterSeconds(retryAfter)
	w.Header().Set(HeaderRetryAfter, strconv.FormatInt(seconds, 10))
	writeJSONError(w, http.StatusTooManyRequests, ErrorResponse{
		Error:      CodeRateLimitExceeded,
		Message:    message,
		RequestID:  observability.RequestIDFromContext(r.Context()),
		RetryAfter: &seconds,
	})
}

// RetryAfterSeconds rounds d up to whole seconds, never below one.
func RetryAfterSeconds(d time.Duration) int64 {
	seconds := int64(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

func writeJSONError(w http.ResponseWriter, status int, body ErrorResponse) {
	w.Header().Set(HeaderContentType, ContentTypeJSON)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
