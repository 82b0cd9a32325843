package store

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	redisStoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiergate",
			Subsystem: "ratelimit_store",
			Name:      "redis_operations_total",
			Help:      "Total number of Redis counter store operations",
		},
		[]string{"status"},
	)

	redisStoreOperationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tiergate",
			Subsystem: "ratelimit_store",
			Name:      "redis_operation_duration_seconds",
			Help:      "Duration of Redis counter store operations in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
	)
)

// takeScript atomically checks and increments a fixed-window counter.
// KEYS[1] = counter key
// ARGV[1] = limit
// ARGV[2] = window in milliseconds
// Returns {allowed, count, pttl}.
var takeScript = redis.NewScript(`
	local limit = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local count = tonumber(redis.call('GET', KEYS[1]) or '0')
	if count >= limit then
		return {0, count, redis.call('PTTL', KEYS[1])}
	end
	count = redis.call('INCR', KEYS[1])
	local ttl = redis.call('PTTL', KEYS[1])
	if ttl < 0 then
		redis.call('PEXPIRE', KEYS[1], window)
		ttl = window
	end
	return {1, count, ttl}
`)

// RedisStore keeps counters in Redis so every gateway instance shares the
// same windows. The window starts at the key's first increment and ends when
// the key expires.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
}

// NewRedisStore creates a store over an existing client. Each round trip is
// bounded by timeout when positive.
func NewRedisStore(client redis.UniversalClient, prefix string, timeout time.Duration) *RedisStore {
	return &RedisStore{
		client:  client,
		prefix:  prefix + "rl:",
		timeout: timeout,
	}
}

// Take implements Store.
func (s *RedisStore) Take(ctx context.Context, key string, limit int64, window time.Duration) (Decision, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := takeScript.Run(ctx, s.client, []string{s.prefix + key}, limit, window.Milliseconds()).Int64Slice()
	redisStoreOperationDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		redisStoreOperationsTotal.WithLabelValues("error").Inc()
		return Decision{}, fmt.Errorf("redis take: %w", err)
	}
	if len(res) != 3 {
		redisStoreOperationsTotal.WithLabelValues("error").Inc()
		return Decision{}, fmt.Errorf("redis take: unexpected reply length %d", len(res))
	}

	redisStoreOperationsTotal.WithLabelValues("success").Inc()

	resetAfter := time.Duration(res[2]) * time.Millisecond
	if resetAfter < 0 {
		resetAfter = 0
	}
	return Decision{
		Allowed:    res[0] == 1,
		Count:      res[1],
		ResetAfter: resetAfter,
	}, nil
}

// Ping checks connectivity to Redis.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the shared client is closed by its owner.
func (s *RedisStore) Close() error {
	return nil
}
