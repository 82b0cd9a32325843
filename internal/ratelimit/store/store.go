// Package store provides counter storage for fixed-window rate limiting.
//
// Every implementation performs check-and-increment atomically per key, so
// concurrent callers can never both take the last slot of a window.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Decision is the outcome of a Take call.
type Decision struct {
	// Allowed is true when the counter was below the limit and has been
	// incremented.
	Allowed bool
	// Count is the counter value after the call.
	Count int64
	// ResetAfter is the time left until the window for the key ends.
	ResetAfter time.Duration
}

// Store is a fixed-window counter store.
type Store interface {
	// Take increments the counter for key if it is below limit. A window
	// starts at the first Take for a key and lasts window; the counter is
	// reset once it has elapsed.
	Take(ctx context.Context, key string, limit int64, window time.Duration) (Decision, error)

	// Close releases resources held by the store.
	Close() error
}
