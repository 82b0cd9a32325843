package store

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/tiergate/internal/observability"
)

var (
	fallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiergate",
			Subsystem: "ratelimit_store",
			Name:      "fallback_total",
			Help:      "Total number of decisions served by the local store, by reason",
		},
		[]string{"reason"},
	)

	sharedStoreUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tiergate",
			Subsystem: "ratelimit_store",
			Name:      "shared_available",
			Help:      "1 when the shared counter store is in use, 0 while the local fallback serves",
		},
	)
)

// FallbackStore serves decisions from a shared primary store and switches
// to a local store when the primary fails. A gobreaker guards the primary
// so that, once it has failed repeatedly, requests stop paying its timeout
// until a probe succeeds. While the local store serves, limits apply per
// gateway instance.
type FallbackStore struct {
	primary Store
	local   Store
	cb      *gobreaker.CircuitBreaker
	logger  observability.Logger
}

// FallbackOption configures a FallbackStore.
type FallbackOption func(*fallbackSettings)

type fallbackSettings struct {
	failures uint32
	probe    time.Duration
	logger   observability.Logger
}

// WithFailureThreshold sets how many consecutive primary failures switch
// traffic to the local store.
func WithFailureThreshold(n uint32) FallbackOption {
	return func(s *fallbackSettings) {
		s.failures = n
	}
}

// WithProbeInterval sets how long the local store serves before the
// primary is tried again.
func WithProbeInterval(d time.Duration) FallbackOption {
	return func(s *fallbackSettings) {
		s.probe = d
	}
}

// WithFallbackLogger sets the logger.
func WithFallbackLogger(logger observability.Logger) FallbackOption {
	return func(s *fallbackSettings) {
		s.logger = logger
	}
}

// NewFallbackStore wraps primary with local as its fallback.
func NewFallbackStore(primary, local Store, opts ...FallbackOption) *FallbackStore {
	settings := &fallbackSettings{
		failures: 3,
		probe:    10 * time.Second,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(settings)
	}

	f := &FallbackStore{
		primary: primary,
		local:   local,
		logger:  settings.logger,
	}

	f.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ratelimit-shared-store",
		MaxRequests: 1,
		Timeout:     settings.probe,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.failures
		},
		// A caller hanging up says nothing about the primary's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			f.logger.Warn("shared counter store state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
			if to == gobreaker.StateOpen {
				sharedStoreUp.Set(0)
			} else {
				sharedStoreUp.Set(1)
			}
		},
	})
	sharedStoreUp.Set(1)

	return f
}

// Take implements Store. It fails only if the local store fails too.
func (f *FallbackStore) Take(ctx context.Context, key string, limit int64, window time.Duration) (Decision, error) {
	res, err := f.cb.Execute(func() (interface{}, error) {
		return f.primary.Take(ctx, key, limit, window)
	})
	if err == nil {
		return res.(Decision), nil
	}

	reason := "error"
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		reason = "open"
	} else {
		f.logger.Debug("shared counter store failed, using local store", observability.Error(err))
	}
	fallbackTotal.WithLabelValues(reason).Inc()

	return f.local.Take(ctx, key, limit, window)
}

// UsingFallback reports whether the primary is currently bypassed.
func (f *FallbackStore) UsingFallback() bool {
	return f.cb.State() == gobreaker.StateOpen
}

// Close closes both stores.
func (f *FallbackStore) Close() error {
	return errors.Join(f.primary.Close(), f.local.Close())
}
