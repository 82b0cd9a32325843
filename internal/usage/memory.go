package usage

import (
	"context"
	"sync"
	"time"
)

type bucketKey struct {
	identity string
	day      string
}

// MemoryStore keeps buckets in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[bucketKey]Counts
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[bucketKey]Counts)}
}

// Increment implements Store.
func (s *MemoryStore) Increment(_ context.Context, identity, service, method string, day time.Time) error {
	key := bucketKey{identity: identity, day: dayKey(day)}

	s.mu.Lock()
	defer s.mu.Unlock()

	counts, ok := s.buckets[key]
	if !ok {
		counts = make(Counts)
		s.buckets[key] = counts
	}
	counts.Add(service, method, 1)
	return nil
}

// Counts implements Store.
func (s *MemoryStore) Counts(_ context.Context, identity string, day time.Time) (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(Counts)
	for service, methods := range s.buckets[bucketKey{identity: identity, day: dayKey(day)}] {
		for method, n := range methods {
			out.Add(service, method, n)
		}
	}
	return out, nil
}

// Prune implements Store.
func (s *MemoryStore) Prune(_ context.Context, before time.Time) (int64, error) {
	cutoff := dayKey(before)

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, counts := range s.buckets {
		if key.day < cutoff {
			removed += int64(len(counts))
			delete(s.buckets, key)
		}
	}
	return removed, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
