package tier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/tiergate/internal/cache"
	"github.com/vyrodovalexey/tiergate/internal/observability"
)

const tracerName = "tiergate/tier"

// ResolutionError wraps a failed provider lookup. It is logged and never
// surfaced to the caller.
type ResolutionError struct {
	Cause error
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	return fmt.Sprintf("tier resolution failed: %v", e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ResolutionError) Unwrap() error {
	return e.Cause
}

// cachedSubscription is the cache representation of a provider answer.
type cachedSubscription struct {
	Subject string `json:"s,omitempty"`
	Tier    string `json:"t,omitempty"`
	Unknown bool   `json:"u,omitempty"`
}

// Resolver maps credentials to identities and tiers.
type Resolver struct {
	table       *Table
	provider    Provider
	cache       cache.Cache
	cacheTTL    time.Duration
	negativeTTL time.Duration
	logger      observability.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCache enables caching of provider answers. Unknown credentials are
// cached for negativeTTL so a stream of bad keys does not hammer the
// provider; provider failures are never cached.
func WithCache(c cache.Cache, ttl, negativeTTL time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.cache = c
		r.cacheTTL = ttl
		r.negativeTTL = negativeTTL
	}
}

// WithResolverLogger sets the logger.
func WithResolverLogger(logger observability.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a resolver over a tier table and provider.
func NewResolver(table *Table, provider Provider, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		table:    table,
		provider: provider,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Table returns the tier table.
func (r *Resolver) Table() *Table {
	return r.table
}

// Resolve returns the caller's identity. It never fails: callers without a
// usable credential are anonymous, keyed by clientAddr, on the default tier.
func (r *Resolver) Resolve(ctx context.Context, cred Credential, clientAddr string) Identity {
	if cred.Empty() {
		recordResolution(outcomeAnonymous, r.table.Default().Name)
		return r.anonymous(clientAddr)
	}

	key := cache.HashKey(string(cred.Kind) + ":" + cred.Value)

	if entry, ok := r.fromCache(ctx, key); ok {
		if entry.Unknown {
			recordResolution(outcomeCached, r.table.Default().Name)
			return r.anonymous(clientAddr)
		}
		id := r.identityFor(Subscription{Subject: entry.Subject, Tier: entry.Tier})
		recordResolution(outcomeCached, id.Tier.Name)
		return id
	}

	sub, err := r.lookup(ctx, cred)
	switch {
	case errors.Is(err, ErrUnknownCredential):
		r.store(ctx, key, cachedSubscription{Unknown: true}, r.negativeTTL)
		recordResolution(outcomeUnknown, r.table.Default().Name)
		r.logger.Debug("credential not recognised, serving as anonymous",
			observability.String("client", clientAddr))
		return r.anonymous(clientAddr)

	case err != nil:
		recordResolution(outcomeFailed, r.table.Default().Name)
		r.logger.Warn("tier provider unavailable, serving default tier",
			observability.Error(&ResolutionError{Cause: err}),
			observability.String("tier", r.table.Default().Name))
		return r.anonymous(clientAddr)
	}

	r.store(ctx, key, cachedSubscription{Subject: sub.Subject, Tier: sub.Tier}, r.cacheTTL)
	id := r.identityFor(sub)
	recordResolution(outcomeResolved, id.Tier.Name)
	return id
}

func (r *Resolver) lookup(ctx context.Context, cred Credential) (Subscription, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "tier.Lookup",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("tier.credential_kind", string(cred.Kind))),
	)
	defer span.End()

	start := time.Now()
	sub, err := r.provider.Lookup(ctx, cred)
	lookupDuration.Observe(time.Since(start).Seconds())

	if err != nil && !errors.Is(err, ErrUnknownCredential) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return sub, err
}

func (r *Resolver) identityFor(sub Subscription) Identity {
	policy, ok := r.table.Get(sub.Tier)
	if !ok {
		r.logger.Warn("subscription names an unknown tier, using default",
			observability.String("subject", sub.Subject),
			observability.String("tier", sub.Tier))
		policy = r.table.Default()
	}
	return Identity{Subject: sub.Subject, Tier: policy}
}

func (r *Resolver) anonymous(clientAddr string) Identity {
	return Identity{Subject: clientAddr, Anonymous: true, Tier: r.table.Default()}
}

func (r *Resolver) fromCache(ctx context.Context, key string) (cachedSubscription, bool) {
	var entry cachedSubscription
	if r.cache == nil {
		return entry, false
	}

	data, err := r.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			r.logger.Debug("tier cache read failed", observability.Error(err))
		}
		return entry, false
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		return entry, false
	}
	return entry, true
}

func (r *Resolver) store(ctx context.Context, key string, entry cachedSubscription, ttl time.Duration) {
	if r.cache == nil || ttl <= 0 {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, data, ttl); err != nil {
		r.logger.Debug("tier cache write failed", observability.Error(err))
	}
}
