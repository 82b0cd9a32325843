package ratelimit

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/tiergate/internal/ratelimit/store"
	"github.com/vyrodovalexey/tiergate/internal/registry"
	"github.com/vyrodovalexey/tiergate/internal/tier"
)

func service(name string, maxRequests int, window time.Duration) *registry.ServiceDescriptor {
	return &registry.ServiceDescriptor{
		Name:       name,
		Upstream:   &url.URL{Scheme: "http", Host: name},
		PathPrefix: "/gateway/" + name,
		Policy:     registry.Policy{Window: window, MaxRequests: maxRequests},
	}
}

func identity(subject string, p tier.Policy) tier.Identity {
	return tier.Identity{Subject: subject, Tier: p}
}

var (
	starter   = tier.Policy{Name: "starter", RequestsPerMinute: 100}
	free      = tier.Policy{Name: "free", RequestsPerMinute: 10}
	unlimited = tier.Policy{Name: "unlimited", Unlimited: true}
)

type errStore struct{}

func (errStore) Take(context.Context, string, int64, time.Duration) (store.Decision, error) {
	return store.Decision{}, errors.New("boom")
}

func (errStore) Close() error { return nil }

func TestTieredLimiter_EffectiveCap(t *testing.T) {
	tests := []struct {
		name          string
		policy        tier.Policy
		serviceMax    int
		enforce       bool
		wantLimit     int
		wantUnlimited bool
	}{
		{name: "service tighter", policy: starter, serviceMax: 50, wantLimit: 50},
		{name: "tier tighter", policy: free, serviceMax: 50, wantLimit: 10},
		{name: "unlimited bypasses", policy: unlimited, serviceMax: 50, wantUnlimited: true},
		{name: "unlimited bounded by service", policy: unlimited, serviceMax: 50, enforce: true, wantLimit: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewTieredLimiter(store.NewMemoryStore(0), WithServiceCapForUnlimited(tt.enforce))
			limit, unl := l.EffectiveCap(identity("a", tt.policy), service("svc", tt.serviceMax, time.Minute))
			assert.Equal(t, tt.wantLimit, limit)
			assert.Equal(t, tt.wantUnlimited, unl)
		})
	}
}

// Service "quantum" caps at 50/min, the tier allows 100/min: the 51st
// request in the window is denied with a positive retry hint.
func TestTieredLimiter_QuantumScenario(t *testing.T) {
	l := NewTieredLimiter(store.NewMemoryStore(0))
	svc := service("quantum", 50, time.Minute)
	id := identity("alice", starter)
	ctx := context.Background()

	for i := 1; i <= 50; i++ {
		d, err := l.Admit(ctx, id, svc)
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 50-i, d.Remaining)
	}

	d, err := l.Admit(ctx, id, svc)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 50, d.Limit)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfter, time.Minute)

	var exceeded *ExceededError
	require.True(t, errors.As(d.Err("quantum"), &exceeded))
	assert.Equal(t, d.RetryAfter, exceeded.RetryAfter)
}

func TestTieredLimiter_UnlimitedNeverDenied(t *testing.T) {
	l := NewTieredLimiter(errStore{})
	svc := service("quantum", 1, time.Minute)
	id := identity("root", unlimited)

	for i := 0; i < 100; i++ {
		d, err := l.Admit(context.Background(), id, svc)
		require.NoError(t, err, "unlimited callers never touch the store")
		assert.True(t, d.Allowed)
		assert.True(t, d.Unlimited)
	}
}

func TestTieredLimiter_KeysArePerIdentityAndService(t *testing.T) {
	l := NewTieredLimiter(store.NewMemoryStore(0))
	a := service("a", 1, time.Minute)
	b := service("b", 1, time.Minute)
	ctx := context.Background()

	d, _ := l.Admit(ctx, identity("u1", free), a)
	assert.True(t, d.Allowed)
	d, _ = l.Admit(ctx, identity("u1", free), a)
	assert.False(t, d.Allowed)

	d, _ = l.Admit(ctx, identity("u1", free), b)
	assert.True(t, d.Allowed, "other service has its own counter")
	d, _ = l.Admit(ctx, identity("u2", free), a)
	assert.True(t, d.Allowed, "other identity has its own counter")

	anon := tier.Identity{Subject: "u1", Anonymous: true, Tier: free}
	d, _ = l.Admit(ctx, anon, a)
	assert.True(t, d.Allowed, "anonymous address never shares a subject's counter")
}

func TestTieredLimiter_ConcurrentAdmissionsBounded(t *testing.T) {
	l := NewTieredLimiter(store.NewMemoryStore(0))
	svc := service("ai", 25, time.Minute)
	id := identity("bob", starter)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d, err := l.Admit(context.Background(), id, svc); err == nil && d.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(25), admitted.Load())
}

func TestTieredLimiter_StoreError(t *testing.T) {
	l := NewTieredLimiter(errStore{})

	_, err := l.Admit(context.Background(), identity("a", free), service("svc", 5, time.Minute))
	assert.Error(t, err)
}
