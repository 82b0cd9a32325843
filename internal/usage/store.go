// Package usage records how often each identity calls each service.
//
// Counts are kept in day buckets keyed by (identity, service, UTC date) and
// split by HTTP method. Recording never blocks the request path: the Meter
// queues events for background workers and drops them when the queue is
// full.
package usage

import (
	"context"
	"errors"
	"time"
)

// DayLayout is the format of bucket dates.
const DayLayout = "2006-01-02"

var (
	// ErrQueueFull is returned by Record when the event was dropped.
	ErrQueueFull = errors.New("usage queue is full")

	// ErrMeterClosed is returned by Record after Close.
	ErrMeterClosed = errors.New("usage meter is closed")
)

// Counts maps service name to HTTP method to call count.
type Counts map[string]map[string]int64

// Add increments a single cell.
func (c Counts) Add(service, method string, n int64) {
	methods, ok := c[service]
	if !ok {
		methods = make(map[string]int64)
		c[service] = methods
	}
	methods[method] += n
}

// Total returns the sum over all services and methods.
func (c Counts) Total() int64 {
	var total int64
	for _, methods := range c {
		for _, n := range methods {
			total += n
		}
	}
	return total
}

// Store persists day buckets.
type Store interface {
	// Increment adds one call to the bucket for day.
	Increment(ctx context.Context, identity, service, method string, day time.Time) error

	// Counts returns one identity's buckets for day.
	Counts(ctx context.Context, identity string, day time.Time) (Counts, error)

	// Prune deletes buckets dated before the given day and returns how many
	// were removed. Stores that expire buckets themselves return zero.
	Prune(ctx context.Context, before time.Time) (int64, error)

	// Close releases resources held by the store.
	Close() error
}

func dayKey(t time.Time) string {
	return t.UTC().Format(DayLayout)
}
