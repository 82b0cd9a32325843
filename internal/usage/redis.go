package usage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one hash per (identity, day) with a field per
// service and method. Every write refreshes the key's expiry, so buckets
// vanish on their own once retention has passed.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisStore creates a store over an existing client.
func NewRedisStore(client redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	return &RedisStore{
		client:    client,
		prefix:    prefix + "usage:",
		retention: retention,
	}
}

func (s *RedisStore) key(identity string, day time.Time) string {
	return s.prefix + dayKey(day) + ":" + identity
}

// Increment implements Store.
func (s *RedisStore) Increment(ctx context.Context, identity, service, method string, day time.Time) error {
	key := s.key(identity, day)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, service+"|"+method, 1)
		if s.retention > 0 {
			pipe.Expire(ctx, key, s.retention)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis usage increment: %w", err)
	}
	return nil
}

// Counts implements Store.
func (s *RedisStore) Counts(ctx context.Context, identity string, day time.Time) (Counts, error) {
	fields, err := s.client.HGetAll(ctx, s.key(identity, day)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis usage read: %w", err)
	}

	out := make(Counts)
	for field, raw := range fields {
		sep := strings.LastIndexByte(field, '|')
		if sep < 0 {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		out.Add(field[:sep], field[sep+1:], n)
	}
	return out, nil
}

// Prune implements Store. Redis expires buckets itself.
func (s *RedisStore) Prune(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// Close is a no-op; the shared client is closed by its owner.
func (s *RedisStore) Close() error {
	return nil
}
