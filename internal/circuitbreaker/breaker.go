package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vyrodovalexey/tiergate/internal/observability"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and requests are allowed.
	StateClosed State = iota

	// StateOpen indicates the circuit is open and requests are rejected.
	StateOpen

	// StateHalfOpen indicates a single recovery probe is in flight.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is the sentinel matched by *OpenError.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// OpenError is returned when a call is short-circuited.
type OpenError struct {
	Name string
	// RetryAfter is the time left until the cooldown ends.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker for %s is open", e.Name)
}

// Is reports whether target is ErrCircuitOpen.
func (e *OpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// CircuitBreaker tracks consecutive failures of one backend.
type CircuitBreaker struct {
	name   string
	config Config
	logger observability.Logger

	mu               sync.Mutex
	state            State
	generation       uint64
	consecutiveFails int
	lastFailure      time.Time
	lastStateChange  time.Time
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(name string, config *Config, logger observability.Logger) *CircuitBreaker {
	cfg := DefaultConfig()
	if config != nil {
		cfg = config
	}
	c := *cfg
	c.normalize()

	if logger == nil {
		logger = observability.NopLogger()
	}

	RecordState(name, StateClosed)

	return &CircuitBreaker{
		name:            name,
		config:          c,
		logger:          logger,
		state:           StateClosed,
		lastStateChange: c.Now(),
	}
}

// Execute runs fn unless the circuit is open. The outcome of fn is
// reported exactly once. Outcomes of calls admitted before the latest
// state change are ignored.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	generation, err := cb.beforeCall()
	if err != nil {
		return err
	}

	defer func() {
		if e := recover(); e != nil {
			cb.releaseCall(generation)
			panic(e)
		}
	}()

	err = fn(ctx)
	if cb.config.IsIgnored != nil && cb.config.IsIgnored(err) {
		cb.releaseCall(generation)
		return err
	}
	cb.afterCall(generation, cb.isSuccessful(err))
	return err
}

func (cb *CircuitBreaker) beforeCall() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.config.Now()

	switch cb.state {
	case StateOpen:
		remaining := cb.config.Cooldown - now.Sub(cb.lastFailure)
		if remaining > 0 {
			RecordRequest(cb.name, false)
			return 0, &OpenError{Name: cb.name, RetryAfter: remaining}
		}
		if cb.config.HalfOpen {
			cb.transitionTo(StateHalfOpen, now)
		} else {
			cb.transitionTo(StateClosed, now)
		}

	case StateHalfOpen:
		RecordRequest(cb.name, false)
		return 0, &OpenError{Name: cb.name}
	}

	RecordRequest(cb.name, true)
	return cb.generation, nil
}

func (cb *CircuitBreaker) afterCall(generation uint64, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if generation != cb.generation {
		return
	}

	now := cb.config.Now()

	if success {
		RecordSuccess(cb.name)
		cb.consecutiveFails = 0
		if cb.state == StateHalfOpen {
			cb.transitionTo(StateClosed, now)
		}
		return
	}

	RecordFailure(cb.name)
	cb.consecutiveFails++
	cb.lastFailure = now

	switch cb.state {
	case StateClosed:
		if cb.consecutiveFails >= cb.config.Threshold {
			cb.transitionTo(StateOpen, now)
		}
	case StateHalfOpen:
		cb.transitionTo(StateOpen, now)
	}
}

// releaseCall drops an ignored outcome. An abandoned half-open trial call
// hands its slot back: the circuit returns to open with its cooldown
// already elapsed, so the next call is admitted as the new trial.
func (cb *CircuitBreaker) releaseCall(generation uint64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if generation != cb.generation || cb.state != StateHalfOpen {
		return
	}
	cb.state = StateOpen
	cb.generation++
	RecordState(cb.name, StateOpen)
}

// transitionTo must be called with the lock held.
func (cb *CircuitBreaker) transitionTo(newState State, now time.Time) {
	oldState := cb.state
	cb.state = newState
	cb.generation++
	cb.lastStateChange = now
	if newState == StateClosed {
		cb.consecutiveFails = 0
	}

	RecordStateChange(cb.name, oldState, newState)

	cb.logger.Info("circuit breaker state changed",
		observability.String("name", cb.name),
		observability.String("from", oldState.String()),
		observability.String("to", newState.String()),
	)

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, oldState, newState)
	}
}

func (cb *CircuitBreaker) isSuccessful(err error) bool {
	if cb.config.IsSuccessful != nil {
		return cb.config.IsSuccessful(err)
	}
	return err == nil
}

// State returns the effective state. An open circuit whose cooldown has
// elapsed is reported as the state the next call will find.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.effectiveState(cb.config.Now())
}

func (cb *CircuitBreaker) effectiveState(now time.Time) State {
	if cb.state == StateOpen && now.Sub(cb.lastFailure) >= cb.config.Cooldown {
		if cb.config.HalfOpen {
			return StateHalfOpen
		}
		return StateClosed
	}
	return cb.state
}

// Reset forces the circuit closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateClosed {
		cb.transitionTo(StateClosed, cb.config.Now())
	}
	cb.consecutiveFails = 0
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Stats returns a snapshot of the breaker.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		State:            cb.effectiveState(cb.config.Now()),
		ConsecutiveFails: cb.consecutiveFails,
		LastFailure:      cb.lastFailure,
		LastStateChange:  cb.lastStateChange,
	}
}

// Stats holds circuit breaker statistics.
type Stats struct {
	State            State     `json:"-"`
	ConsecutiveFails int       `json:"consecutiveFailures"`
	LastFailure      time.Time `json:"lastFailure,omitempty"`
	LastStateChange  time.Time `json:"lastStateChange"`
}

// Available reports whether calls are currently let through.
func (s Stats) Available() bool {
	return s.State != StateOpen
}
