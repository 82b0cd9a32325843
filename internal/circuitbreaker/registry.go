package circuitbreaker

import (
	"context"
	"sort"
	"sync"

	"github.com/vyrodovalexey/tiergate/internal/observability"
)

// Registry manages one circuit breaker per service. Breakers are created
// on first use.
type Registry struct {
	breakers sync.Map
	config   *Config
	logger   observability.Logger
}

// NewRegistry creates a new circuit breaker registry.
func NewRegistry(config *Config, logger observability.Logger) *Registry {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &Registry{
		config: config,
		logger: logger,
	}
}

// Get returns a circuit breaker by name, or nil if not found.
func (r *Registry) Get(name string) *CircuitBreaker {
	value, ok := r.breakers.Load(name)
	if !ok {
		return nil
	}
	return value.(*CircuitBreaker)
}

// GetOrCreate returns an existing circuit breaker or creates a new one.
func (r *Registry) GetOrCreate(name string) *CircuitBreaker {
	if value, ok := r.breakers.Load(name); ok {
		return value.(*CircuitBreaker)
	}

	cb := NewCircuitBreaker(name, r.config, r.logger)

	actual, loaded := r.breakers.LoadOrStore(name, cb)
	if loaded {
		return actual.(*CircuitBreaker)
	}

	r.logger.Debug("created circuit breaker", observability.String("name", name))

	return cb
}

// Guard runs fn through the named service's breaker. It returns an
// *OpenError without calling fn while the circuit is open.
func (r *Registry) Guard(ctx context.Context, name string, fn func(context.Context) error) error {
	return r.GetOrCreate(name).Execute(ctx, fn)
}

// Stats returns the stats of a breaker. A service that has never been
// called reports a closed circuit.
func (r *Registry) Stats(name string) Stats {
	if cb := r.Get(name); cb != nil {
		return cb.Stats()
	}
	return Stats{State: StateClosed}
}

// Remove removes a circuit breaker from the registry.
func (r *Registry) Remove(name string) {
	r.breakers.Delete(name)
}

// Names returns the names of all breakers, sorted.
func (r *Registry) Names() []string {
	var names []string
	r.breakers.Range(func(key, _ any) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// Reset resets all circuit breakers to closed state.
func (r *Registry) Reset() {
	r.breakers.Range(func(_, value any) bool {
		value.(*CircuitBreaker).Reset()
		return true
	})
}
