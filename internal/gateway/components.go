package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/tiergate/internal/cache"
	"github.com/vyrodovalexey/tiergate/internal/circuitbreaker"
	"github.com/vyrodovalexey/tiergate/internal/config"
	"github.com/vyrodovalexey/tiergate/internal/observability"
	"github.com/vyrodovalexey/tiergate/internal/ratelimit"
	"github.com/vyrodovalexey/tiergate/internal/ratelimit/store"
	"github.com/vyrodovalexey/tiergate/internal/tier"
	"github.com/vyrodovalexey/tiergate/internal/usage"
)

// counterSweepInterval is how often the local counter store drops expired
// windows.
const counterSweepInterval = time.Minute

// components are the collaborators built once from the startup
// configuration. Only the service registry changes on reload.
type components struct {
	redis      redis.UniversalClient
	ownsRedis  bool
	counters   store.Store
	tierCache  cache.Cache
	resolver   *tier.Resolver
	limiter    *ratelimit.TieredLimiter
	breakers   *circuitbreaker.Registry
	usageStore usage.Store
	meter      *usage.Meter
	retention  *usage.RetentionScheduler
}

// buildComponents wires the admission stack. client may be nil, in which
// case a Redis client is created when the configuration names an address.
func buildComponents(
	cfg *config.GatewayConfig,
	client redis.UniversalClient,
	httpClient *http.Client,
	logger observability.Logger,
) (_ *components, err error) {
	c := &components{redis: client}
	defer func() {
		if err != nil {
			_ = c.close()
		}
	}()

	if c.redis == nil && cfg.Redis.Enabled() {
		c.redis = newRedisClient(cfg.Redis)
		c.ownsRedis = true
	}

	c.counters = newCounterStore(cfg, c.redis, logger)
	c.limiter = ratelimit.NewTieredLimiter(c.counters,
		ratelimit.WithLogger(logger),
		ratelimit.WithServiceCapForUnlimited(cfg.RateLimit.EnforceServiceCapForUnlimited),
	)

	if c.resolver, c.tierCache, err = newResolver(cfg, c.redis, httpClient, logger); err != nil {
		return nil, err
	}

	c.breakers = circuitbreaker.NewRegistry(&circuitbreaker.Config{
		Threshold: cfg.CircuitBreaker.Threshold,
		Cooldown:  cfg.CircuitBreaker.Cooldown.Duration(),
		HalfOpen:  cfg.CircuitBreaker.HalfOpen,
		IsIgnored: backendCallAbandoned,
	}, logger)

	if c.usageStore, err = newUsageStore(cfg, c.redis); err != nil {
		return nil, err
	}
	c.meter = usage.NewMeter(c.usageStore,
		usage.WithQueueSize(cfg.Usage.QueueSize),
		usage.WithWorkers(cfg.Usage.Workers),
		usage.WithLogger(logger),
	)

	schedule := cfg.Usage.PruneSchedule
	if cfg.Usage.Store == config.StoreRedis {
		// Redis buckets expire on their own.
		schedule = ""
	}
	c.retention = usage.NewRetentionScheduler(c.usageStore, cfg.Usage.Retention.Duration(), schedule, logger)

	return c, nil
}

// backendCallAbandoned reports calls the client hung up on. They neither
// reset nor extend the failure streak; a per-service timeout still counts
// as a failure.
func backendCallAbandoned(err error) bool {
	return errors.Is(err, context.Canceled)
}

func newRedisClient(cfg config.RedisConfig) redis.UniversalClient {
	timeout := cfg.Timeout.Duration()
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        []string{cfg.Address},
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
}

func newCounterStore(cfg *config.GatewayConfig, client redis.UniversalClient, logger observability.Logger) store.Store {
	local := store.NewMemoryStore(counterSweepInterval)
	if cfg.RateLimit.Store != config.StoreRedis || client == nil {
		return local
	}
	shared := store.NewRedisStore(client, cfg.Redis.Prefix, cfg.Redis.Timeout.Duration())
	return store.NewFallbackStore(shared, local, store.WithFallbackLogger(logger))
}

func newResolver(
	cfg *config.GatewayConfig,
	client redis.UniversalClient,
	httpClient *http.Client,
	logger observability.Logger,
) (*tier.Resolver, cache.Cache, error) {
	table, err := tier.NewTable(cfg.Tiers, cfg.DefaultTier)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	p := cfg.TierProvider
	var provider tier.Provider
	switch p.Type {
	case config.ProviderHTTP:
		provider = tier.NewHTTPProvider(p.URL, p.Timeout.Duration(), p.APIKeyHeader, httpClient)
	default:
		provider = tier.NewStaticProvider(p.APIKeys)
	}

	var c cache.Cache
	if client != nil {
		c = cache.NewRedisCache(client, cfg.Redis.Prefix+"tier:", p.CacheTTL.Duration(), logger)
	} else {
		c = cache.NewMemoryCache(p.CacheSize, p.CacheTTL.Duration(), cache.WithMemoryLogger(logger))
	}

	resolver := tier.NewResolver(table, provider,
		tier.WithCache(c, p.CacheTTL.Duration(), p.NegativeCacheTTL.Duration()),
		tier.WithResolverLogger(logger),
	)
	return resolver, c, nil
}

func newUsageStore(cfg *config.GatewayConfig, client redis.UniversalClient) (usage.Store, error) {
	switch cfg.Usage.Store {
	case config.StoreRedis:
		if client == nil {
			return nil, fmt.Errorf("%w: usage store redis needs a redis client", ErrInvalidConfig)
		}
		return usage.NewRedisStore(client, cfg.Redis.Prefix, cfg.Usage.Retention.Duration()), nil
	case config.StoreSQLite:
		s, err := usage.NewSQLiteStore(cfg.Usage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open usage database: %w", err)
		}
		return s, nil
	default:
		return usage.NewMemoryStore(), nil
	}
}

// close releases stores and the owned Redis client. The meter must already
// be drained.
func (c *components) close() error {
	var errs []error
	if c.retention != nil {
		c.retention.Stop()
	}
	if c.usageStore != nil {
		errs = append(errs, c.usageStore.Close())
	}
	if c.counters != nil {
		errs = append(errs, c.counters.Close())
	}
	if c.tierCache != nil {
		errs = append(errs, c.tierCache.Close())
	}
	if c.redis != nil && c.ownsRedis {
		errs = append(errs, c.redis.Close())
	}
	return errors.Join(errs...)
}
