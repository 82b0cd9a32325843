package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/tiergate/internal/observability"
)

const backendMemory = "memory"

// MemoryCache is an in-process LRU cache with per-entry expiry.
type MemoryCache struct {
	logger     observability.Logger
	maxEntries int
	defaultTTL time.Duration
	now        func() time.Time

	mu       sync.Mutex
	items    map[string]*list.Element
	eviction *list.List

	hits   int64
	misses int64

	stopCh    chan struct{}
	closeOnce sync.Once
}

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// MemoryOption configures a MemoryCache.
type MemoryOption func(*MemoryCache)

// WithMemoryLogger sets the logger.
func WithMemoryLogger(logger observability.Logger) MemoryOption {
	return func(c *MemoryCache) {
		c.logger = logger
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) {
		c.now = now
	}
}

// NewMemoryCache creates an LRU cache holding at most maxEntries items.
func NewMemoryCache(maxEntries int, defaultTTL time.Duration, opts ...MemoryOption) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 10000
	}

	c := &MemoryCache{
		logger:     observability.NopLogger(),
		maxEntries: maxEntries,
		defaultTTL: defaultTTL,
		now:        time.Now,
		items:      make(map[string]*list.Element),
		eviction:   list.New(),
		stopCh:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	go c.cleanupLoop()

	return c
}

// Get retrieves a value from the cache.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	start := time.Now()
	defer func() {
		GetMetrics().operationDuration.WithLabelValues(backendMemory, "get").Observe(time.Since(start).Seconds())
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.items[key]
	if !exists {
		c.recordMiss()
		return nil, ErrCacheMiss
	}

	entry := elem.Value.(*memoryEntry)
	if !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt) {
		c.removeElement(elem)
		c.recordMiss()
		return nil, ErrCacheMiss
	}

	c.eviction.MoveToFront(elem)
	atomic.AddInt64(&c.hits, 1)
	GetMetrics().hitsTotal.WithLabelValues(backendMemory).Inc()

	return entry.value, nil
}

// Set stores a value in the cache.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	defer func() {
		GetMetrics().operationDuration.WithLabelValues(backendMemory, "set").Observe(time.Since(start).Seconds())
	}()

	if ttl == 0 {
		ttl = c.defaultTTL
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}

	entry := &memoryEntry{key: key, value: value, expiresAt: expiresAt}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[key]; exists {
		c.eviction.MoveToFront(elem)
		elem.Value = entry
		return nil
	}

	c.items[key] = c.eviction.PushFront(entry)

	for c.eviction.Len() > c.maxEntries {
		c.evictOldest()
	}

	GetMetrics().sizeGauge.WithLabelValues(backendMemory).Set(float64(c.eviction.Len()))

	return nil
}

// Delete removes a value from the cache.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[key]; exists {
		c.removeElement(elem)
	}
	return nil
}

// Close stops the background cleanup goroutine.
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() { close(c.stopCh) })
	return nil
}

// Stats returns cache statistics.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	size := int64(c.eviction.Len())
	c.mu.Unlock()

	return Stats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
		Size:   size,
	}
}

func (c *MemoryCache) recordMiss() {
	atomic.AddInt64(&c.misses, 1)
	GetMetrics().missesTotal.WithLabelValues(backendMemory).Inc()
}

// evictOldest must be called with the lock held.
func (c *MemoryCache) evictOldest() {
	if elem := c.eviction.Back(); elem != nil {
		c.removeElement(elem)
		GetMetrics().evictionsTotal.WithLabelValues(backendMemory).Inc()
	}
}

// removeElement must be called with the lock held.
func (c *MemoryCache) removeElement(elem *list.Element) {
	c.eviction.Remove(elem)
	delete(c.items, elem.Value.(*memoryEntry).key)
}

func (c *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCh:
			return
		}
	}
}

func (c *MemoryCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var removed int
	for elem := c.eviction.Back(); elem != nil; {
		prev := elem.Prev()
		entry := elem.Value.(*memoryEntry)
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			c.removeElement(elem)
			removed++
		}
		elem = prev
	}

	if removed > 0 {
		GetMetrics().sizeGauge.WithLabelValues(backendMemory).Set(float64(c.eviction.Len()))
		c.logger.Debug("cache cleanup completed", observability.Int("removed", removed))
	}
}
