package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// windowCounter is one key's window. Each counter carries its own lock so
// unrelated keys never contend.
type windowCounter struct {
	mu          sync.Mutex
	count       int64
	windowStart time.Time
	window      time.Duration
	// dead is set when the sweeper removed the counter from the map.
	dead bool
}

// MemoryStore keeps counters in process memory.
type MemoryStore struct {
	counters sync.Map
	now      func() time.Time
	done     chan struct{}
	closed   atomic.Bool
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an in-memory store that sweeps expired windows
// every cleanupInterval. A non-positive interval disables sweeping.
func NewMemoryStore(cleanupInterval time.Duration, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		now:  time.Now,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cleanupInterval > 0 {
		go s.cleanupLoop(cleanupInterval)
	}

	return s
}

// Take implements Store.
func (s *MemoryStore) Take(ctx context.Context, key string, limit int64, window time.Duration) (Decision, error) {
	if s.closed.Load() {
		return Decision{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	wc := s.lockCounter(key)
	defer wc.mu.Unlock()

	now := s.now()
	if wc.windowStart.IsZero() || !now.Before(wc.windowStart.Add(wc.window)) {
		wc.count = 0
		wc.windowStart = now
		wc.window = window
	}

	allowed := wc.count < limit
	if allowed {
		wc.count++
	}

	return Decision{
		Allowed:    allowed,
		Count:      wc.count,
		ResetAfter: wc.windowStart.Add(wc.window).Sub(now),
	}, nil
}

// lockCounter returns the live counter for key with its lock held.
func (s *MemoryStore) lockCounter(key string) *windowCounter {
	for {
		value, _ := s.counters.LoadOrStore(key, &windowCounter{})
		wc := value.(*windowCounter)
		wc.mu.Lock()
		if !wc.dead {
			return wc
		}
		wc.mu.Unlock()
	}
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	n := 0
	s.counters.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Close stops the cleanup goroutine.
func (s *MemoryStore) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.done)
	}
	return nil
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

// sweep drops counters whose window has ended.
func (s *MemoryStore) sweep() {
	now := s.now()
	s.counters.Range(func(key, value any) bool {
		wc := value.(*windowCounter)
		wc.mu.Lock()
		if !now.Before(wc.windowStart.Add(wc.window)) {
			wc.dead = true
			s.counters.CompareAndDelete(key, value)
		}
		wc.mu.Unlock()
		return true
	})
}
