package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/tiergate/internal/observability"
)

const backendRedis = "redis"

// RedisCache stores entries in Redis so every gateway instance shares them.
// The client is owned by the caller.
type RedisCache struct {
	client     redis.UniversalClient
	keyPrefix  string
	defaultTTL time.Duration
	logger     observability.Logger
}

// NewRedisCache creates a cache over an existing client. Keys are stored as
// keyPrefix + key.
func NewRedisCache(
	client redis.UniversalClient,
	keyPrefix string,
	defaultTTL time.Duration,
	logger observability.Logger,
) *RedisCache {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RedisCache{
		client:     client,
		keyPrefix:  keyPrefix,
		defaultTTL: defaultTTL,
		logger:     logger,
	}
}

// Get retrieves a value from the cache.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	defer c.observe("get", start)

	val, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		GetMetrics().missesTotal.WithLabelValues(backendRedis).Inc()
		return nil, ErrCacheMiss
	}
	if err != nil {
		GetMetrics().errorsTotal.WithLabelValues(backendRedis, "get").Inc()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	GetMetrics().hitsTotal.WithLabelValues(backendRedis).Inc()
	return val, nil
}

// Set stores a value in the cache.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	defer c.observe("set", start)

	if ttl == 0 {
		ttl = c.defaultTTL
	}

	if err := c.client.Set(ctx, c.keyPrefix+key, value, ttl).Err(); err != nil {
		GetMetrics().errorsTotal.WithLabelValues(backendRedis, "set").Inc()
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

// Delete removes a value from the cache.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.keyPrefix+key).Err(); err != nil {
		GetMetrics().errorsTotal.WithLabelValues(backendRedis, "delete").Inc()
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

// Close is a no-op; the shared client is closed by its owner.
func (c *RedisCache) Close() error {
	return nil
}

func (c *RedisCache) observe(op string, start time.Time) {
	GetMetrics().operationDuration.WithLabelValues(backendRedis, op).Observe(time.Since(start).Seconds())
}
