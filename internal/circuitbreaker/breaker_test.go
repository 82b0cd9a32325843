package circuitbreaker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend unavailable")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testBreaker(name string, clock *fakeClock, halfOpen bool) *CircuitBreaker {
	return NewCircuitBreaker(name, &Config{
		Threshold: 5,
		Cooldown:  60 * time.Second,
		HalfOpen:  halfOpen,
		Now:       clock.Now,
	}, nil)
}

func fail(context.Context) error    { return errBackend }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	cb := testBreaker("ai", clock, false)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	}
	assert.Equal(t, StateOpen, cb.State())

	var called bool
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called, "open circuit must not reach the backend")

	var openErr *OpenError
	require.True(t, errors.As(err, &openErr))
	assert.Equal(t, "ai", openErr.Name)
	assert.Equal(t, 60*time.Second, openErr.RetryAfter)

	clock.Advance(59 * time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)

	clock.Advance(2 * time.Second)
	called = false
	err = cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called, "call after cooldown is attempted")
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	clock := newFakeClock()
	cb := testBreaker("svc", clock, false)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_ = cb.Execute(ctx, fail)
	}
	assert.Equal(t, 4, cb.Stats().ConsecutiveFails)

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, 0, cb.Stats().ConsecutiveFails)

	for i := 0; i < 4; i++ {
		_ = cb.Execute(ctx, fail)
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_StateReflectsCooldown(t *testing.T) {
	clock := newFakeClock()
	cb := testBreaker("svc", clock, false)

	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
	stats := cb.Stats()
	assert.Equal(t, StateOpen, stats.State)
	assert.False(t, stats.Available())

	clock.Advance(60 * time.Second)
	stats = cb.Stats()
	assert.Equal(t, StateClosed, stats.State)
	assert.True(t, stats.Available())
}

func TestCircuitBreaker_FailureAfterCooldownNeedsFullThreshold(t *testing.T) {
	clock := newFakeClock()
	cb := testBreaker("svc", clock, false)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, fail)
	}
	clock.Advance(61 * time.Second)

	assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 1, cb.Stats().ConsecutiveFails)
}

func TestCircuitBreaker_HalfOpenTrialCall(t *testing.T) {
	clock := newFakeClock()
	cb := testBreaker("svc", clock, true)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, fail)
	}
	clock.Advance(61 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	trialStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(trialStarted)
			<-release
			return nil
		})
	}()

	<-trialStarted
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen, "concurrent callers fail fast during the trial call")

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenTrialFailureReopens(t *testing.T) {
	clock := newFakeClock()
	cb := testBreaker("svc", clock, true)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, fail)
	}
	clock.Advance(61 * time.Second)

	assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)
}

func TestCircuitBreaker_IsSuccessful(t *testing.T) {
	clock := newFakeClock()
	errNotFound := errors.New("not found")
	cb := NewCircuitBreaker("svc", &Config{
		Threshold: 1,
		Cooldown:  time.Minute,
		Now:       clock.Now,
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errNotFound)
		},
	}, nil)

	err := cb.Execute(context.Background(), func(context.Context) error { return errNotFound })
	assert.ErrorIs(t, err, errNotFound)
	assert.Equal(t, StateClosed, cb.State())
}

func abandoned(context.Context) error { return context.Canceled }

func ignoringBreaker(clock *fakeClock, halfOpen bool) *CircuitBreaker {
	return NewCircuitBreaker("svc", &Config{
		Threshold: 5,
		Cooldown:  60 * time.Second,
		HalfOpen:  halfOpen,
		Now:       clock.Now,
		IsIgnored: func(err error) bool { return errors.Is(err, context.Canceled) },
	}, nil)
}

func TestCircuitBreaker_IgnoredOutcomeKeepsFailureCount(t *testing.T) {
	clock := newFakeClock()
	cb := ignoringBreaker(clock, false)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_ = cb.Execute(ctx, fail)
	}
	assert.ErrorIs(t, cb.Execute(ctx, abandoned), context.Canceled)
	assert.Equal(t, 4, cb.Stats().ConsecutiveFails)

	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_IgnoredTrialReleasesSlot(t *testing.T) {
	clock := newFakeClock()
	cb := ignoringBreaker(clock, true)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, fail)
	}
	clock.Advance(61 * time.Second)

	assert.ErrorIs(t, cb.Execute(ctx, abandoned), context.Canceled)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_PanicReleasesSlot(t *testing.T) {
	clock := newFakeClock()
	cb := ignoringBreaker(clock, true)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, fail)
	}
	clock.Advance(61 * time.Second)

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		_ = cb.Execute(ctx, func(context.Context) error {
			panic(http.ErrAbortHandler)
		})
	})
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.Equal(t, 5, cb.Stats().ConsecutiveFails)

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_StaleOutcomesIgnored(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("svc", &Config{Threshold: 1, Cooldown: time.Minute, Now: clock.Now}, nil)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return errBackend
		})
	}()
	<-started

	// Another call opens the circuit while the first is still in flight.
	_ = cb.Execute(ctx, fail)
	require.Equal(t, StateOpen, cb.State())
	lastFailure := cb.Stats().LastFailure

	clock.Advance(10 * time.Second)
	close(release)
	<-done

	assert.Equal(t, lastFailure, cb.Stats().LastFailure)
}

func TestCircuitBreaker_ConcurrentFailuresCountedOnce(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("svc", &Config{Threshold: 1000, Cooldown: time.Minute, Now: clock.Now}, nil)

	var calls atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(context.Background(), func(context.Context) error {
				calls.Add(1)
				return errBackend
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), calls.Load())
	assert.Equal(t, 50, cb.Stats().ConsecutiveFails)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	clock := newFakeClock()
	cb := testBreaker("svc", clock, false)

	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
	cb.Reset()

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Stats().ConsecutiveFails)
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	cb := NewCircuitBreaker("svc", &Config{
		Threshold: 1,
		Cooldown:  time.Second,
		Now:       clock.Now,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	}, nil)

	_ = cb.Execute(context.Background(), fail)
	clock.Advance(time.Second)
	_ = cb.Execute(context.Background(), succeed)

	assert.Equal(t, []string{"closed->open", "open->closed"}, transitions)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
