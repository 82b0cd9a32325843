package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails while down is set.
type flakyStore struct {
	down  atomic.Bool
	calls atomic.Int32
	inner Store
}

func (f *flakyStore) Take(ctx context.Context, key string, limit int64, window time.Duration) (Decision, error) {
	f.calls.Add(1)
	if f.down.Load() {
		return Decision{}, errors.New("connection refused")
	}
	return f.inner.Take(ctx, key, limit, window)
}

func (f *flakyStore) Close() error { return nil }

func TestFallbackStore_TransparentFallbackAndRecovery(t *testing.T) {
	primary := &flakyStore{inner: NewMemoryStore(0)}
	local := NewMemoryStore(0)
	f := NewFallbackStore(primary, local,
		WithFailureThreshold(2),
		WithProbeInterval(50*time.Millisecond),
	)
	defer f.Close()
	ctx := context.Background()

	d, err := f.Take(ctx, "k", 5, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.False(t, f.UsingFallback())

	primary.down.Store(true)
	for i := 0; i < 3; i++ {
		d, err = f.Take(ctx, "k", 5, time.Minute)
		require.NoError(t, err, "callers never see the primary failure")
		assert.True(t, d.Allowed)
	}
	assert.True(t, f.UsingFallback())

	callsWhileOpen := primary.calls.Load()
	_, _ = f.Take(ctx, "k", 5, time.Minute)
	assert.Equal(t, callsWhileOpen, primary.calls.Load(), "open breaker skips the primary")

	primary.down.Store(false)
	time.Sleep(60 * time.Millisecond)

	d, err = f.Take(ctx, "k", 5, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), d.Count, "primary counts resume after recovery")
	assert.False(t, f.UsingFallback())
}

func TestFallbackStore_LocalEnforcesLimit(t *testing.T) {
	primary := &flakyStore{inner: NewMemoryStore(0)}
	primary.down.Store(true)
	f := NewFallbackStore(primary, NewMemoryStore(0))
	defer f.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		d, err := f.Take(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := f.Take(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}
