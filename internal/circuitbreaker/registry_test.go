package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_GuardIsolatesServices(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(&Config{Threshold: 2, Cooldown: time.Minute, Now: clock.Now}, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = r.Guard(ctx, "ai", fail)
	}

	assert.ErrorIs(t, r.Guard(ctx, "ai", succeed), ErrCircuitOpen)
	assert.NoError(t, r.Guard(ctx, "quantum", succeed))

	assert.False(t, r.Stats("ai").Available())
	assert.True(t, r.Stats("quantum").Available())
	assert.Equal(t, []string{"ai", "quantum"}, r.Names())
}

func TestRegistry_StatsUnknown(t *testing.T) {
	r := NewRegistry(nil, nil)

	stats := r.Stats("never-called")
	assert.Equal(t, StateClosed, stats.State)
	assert.Nil(t, r.Get("never-called"))
}

func TestRegistry_GetOrCreateReturnsSame(t *testing.T) {
	r := NewRegistry(nil, nil)

	a := r.GetOrCreate("svc")
	b := r.GetOrCreate("svc")
	assert.Same(t, a, b)

	r.Remove("svc")
	assert.Nil(t, r.Get("svc"))
}

func TestRegistry_Reset(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(&Config{Threshold: 1, Cooldown: time.Minute, Now: clock.Now}, nil)

	_ = r.Guard(context.Background(), "svc", fail)
	assert.Equal(t, StateOpen, r.Stats("svc").State)

	r.Reset()
	assert.Equal(t, StateClosed, r.Stats("svc").State)
}
