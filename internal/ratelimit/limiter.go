// Package ratelimit provides the tiered fixed-window admission control for
// the gateway.
//
// Counters are keyed per (identity, service). The effective cap for a key
// is the lower of the service baseline and the caller's tier quota;
// unlimited tiers are not counted at all unless configured otherwise.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/vyrodovalexey/tiergate/internal/observability"
	"github.com/vyrodovalexey/tiergate/internal/ratelimit/store"
	"github.com/vyrodovalexey/tiergate/internal/registry"
	"github.com/vyrodovalexey/tiergate/internal/tier"
)

// ExceededError reports a denied admission.
type ExceededError struct {
	Service    string
	Limit      int
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit of %d requests exceeded for service %s, retry after %s",
		e.Limit, e.Service, e.RetryAfter)
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	// Unlimited is true when the caller was admitted without counting.
	Unlimited bool
	// Limit is the effective cap for the key; zero when Unlimited.
	Limit     int
	Remaining int
	// ResetAfter is the time until the current window ends.
	ResetAfter time.Duration
	// RetryAfter is set on denial.
	RetryAfter time.Duration
}

// Err returns an *ExceededError for a denied decision and nil otherwise.
func (d Decision) Err(service string) error {
	if d.Allowed {
		return nil
	}
	return &ExceededError{Service: service, Limit: d.Limit, RetryAfter: d.RetryAfter}
}

// TieredLimiter admits requests against per-(identity, service) counters.
type TieredLimiter struct {
	store                  store.Store
	enforceCapForUnlimited bool
	logger                 observability.Logger
}

// Option configures a TieredLimiter.
type Option func(*TieredLimiter)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(l *TieredLimiter) {
		l.logger = logger
	}
}

// WithServiceCapForUnlimited bounds unlimited tiers by the service baseline
// instead of letting them bypass counting.
func WithServiceCapForUnlimited(enforce bool) Option {
	return func(l *TieredLimiter) {
		l.enforceCapForUnlimited = enforce
	}
}

// NewTieredLimiter creates a limiter over a counter store.
func NewTieredLimiter(s store.Store, opts ...Option) *TieredLimiter {
	l := &TieredLimiter{
		store:  s,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// EffectiveCap returns the admission cap for an identity on a service and
// whether the identity is uncapped.
func (l *TieredLimiter) EffectiveCap(id tier.Identity, svc *registry.ServiceDescriptor) (limit int, unlimited bool) {
	if id.Tier.Unlimited {
		if !l.enforceCapForUnlimited {
			return 0, true
		}
		return svc.Policy.MaxRequests, false
	}
	return min(svc.Policy.MaxRequests, id.Tier.RequestsPerMinute), false
}

// Admit counts one request from id to svc. A denial does not change any
// counter. The returned error is non-nil only when no counter store could
// answer.
func (l *TieredLimiter) Admit(ctx context.Context, id tier.Identity, svc *registry.ServiceDescriptor) (Decision, error) {
	limit, unlimited := l.EffectiveCap(id, svc)
	if unlimited {
		recordDecision(svc.Name, id.Tier.Name, decisionUnlimited)
		return Decision{Allowed: true, Unlimited: true}, nil
	}

	res, err := l.store.Take(ctx, counterKey(id, svc), int64(limit), svc.Policy.Window)
	if err != nil {
		recordDecision(svc.Name, id.Tier.Name, decisionError)
		return Decision{}, fmt.Errorf("rate limit store: %w", err)
	}

	d := Decision{
		Allowed:    res.Allowed,
		Limit:      limit,
		Remaining:  max(limit-int(res.Count), 0),
		ResetAfter: res.ResetAfter,
	}

	if !d.Allowed {
		d.RetryAfter = res.ResetAfter
		if d.RetryAfter <= 0 {
			d.RetryAfter = time.Second
		}
		recordDecision(svc.Name, id.Tier.Name, decisionDenied)
		l.logger.Debug("rate limit exceeded",
			observability.String("service", svc.Name),
			observability.String("identity", id.Key()),
			observability.Int("limit", limit),
			observability.Duration("retry_after", d.RetryAfter),
		)
		return d, nil
	}

	recordDecision(svc.Name, id.Tier.Name, decisionAllowed)
	return d, nil
}

func counterKey(id tier.Identity, svc *registry.ServiceDescriptor) string {
	return id.Key() + "|" + svc.Name
}
