package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisCache(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, NewRedisCache(client, "test:tier:", time.Minute, nil)
}

func TestRedisCache_GetSet(t *testing.T) {
	mr, c := setupRedisCache(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	assert.True(t, mr.Exists("test:tier:k"))
	assert.Equal(t, time.Minute, mr.TTL("test:tier:k"))

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.Delete(ctx, "k"))
	assert.False(t, mr.Exists("test:tier:k"))
}

func TestRedisCache_TTLExpiry(t *testing.T) {
	mr, c := setupRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 5*time.Second))
	mr.FastForward(6 * time.Second)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCache_Unreachable(t *testing.T) {
	mr, c := setupRedisCache(t)
	mr.Close()

	_, err := c.Get(context.Background(), "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.NotErrorIs(t, err, ErrCacheMiss)

	assert.ErrorIs(t, c.Set(context.Background(), "k", []byte("v"), 0), ErrConnectionFailed)
}
