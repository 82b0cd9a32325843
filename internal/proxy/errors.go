package proxy

import (
	"errors"
	"fmt"
)

// ErrUpstreamStatus marks a backend answer that counts as a failure.
var ErrUpstreamStatus = errors.New("upstream returned a server error")

// UpstreamError is a failed backend call: a transport error, a timeout, or
// a 5xx answer.
type UpstreamError struct {
	Service string
	// StatusCode is the backend status for ErrUpstreamStatus, zero otherwise.
	StatusCode int
	Cause      error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s: status %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("upstream %s: %v", e.Service, e.Cause)
}

// Unwrap returns the underlying error.
func (e *UpstreamError) Unwrap() error {
	return e.Cause
}
