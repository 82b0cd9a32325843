// Package config provides configuration types, loading, validation and
// file watching for the gateway.
package config

import (
	"strings"
	"time"
)

// Store backend names shared by the rate limit and usage sections.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

// Tier provider types.
const (
	ProviderStatic = "static"
	ProviderHTTP   = "http"
)

// Default values applied by SetDefaults.
const (
	DefaultListen            = ":8080"
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultTier              = "free"
	DefaultServicePrefix     = "/gateway/"
	DefaultHealthPath        = "/health"
	DefaultServiceWindow     = time.Minute
	DefaultServiceMax        = 100
	DefaultServiceTimeout    = 30 * time.Second
	DefaultBreakerThreshold  = 5
	DefaultBreakerCooldown   = 60 * time.Second
	DefaultProbeTimeout      = 2 * time.Second
	DefaultProviderTimeout   = 500 * time.Millisecond
	DefaultTierCacheTTL      = 5 * time.Minute
	DefaultNegativeCacheTTL  = 30 * time.Second
	DefaultUsageRetention    = 30 * 24 * time.Hour
	DefaultUsageQueueSize    = 1024
	DefaultUsageWorkers      = 2
	DefaultPruneSchedule     = "0 3 * * *"
	DefaultRedisPrefix       = "tiergate:"
	DefaultRedisTimeout      = 100 * time.Millisecond
	DefaultMetricsPath       = "/metrics"
	DefaultTracingSampleRate = 1.0
)

// GatewayConfig is the root configuration document.
type GatewayConfig struct {
	Listen          string               `yaml:"listen" json:"listen"`
	ShutdownTimeout Duration             `yaml:"shutdownTimeout" json:"shutdownTimeout"`
	TrustedProxies  []string             `yaml:"trustedProxies,omitempty" json:"trustedProxies,omitempty"`
	Logging         LoggingConfig        `yaml:"logging" json:"logging"`
	Tracing         TracingConfig        `yaml:"tracing" json:"tracing"`
	Metrics         MetricsConfig        `yaml:"metrics" json:"metrics"`
	Redis           RedisConfig          `yaml:"redis" json:"redis"`
	DefaultTier     string               `yaml:"defaultTier" json:"defaultTier"`
	Tiers           []TierConfig         `yaml:"tiers" json:"tiers"`
	TierProvider    TierProviderConfig   `yaml:"tierProvider" json:"tierProvider"`
	RateLimit       RateLimitConfig      `yaml:"rateLimit" json:"rateLimit"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuitBreaker" json:"circuitBreaker"`
	Usage           UsageConfig          `yaml:"usage" json:"usage"`
	Health          HealthConfig         `yaml:"health" json:"health"`
	Services        []ServiceConfig      `yaml:"services" json:"services"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint" json:"otlpEndpoint"`
	SamplingRate float64 `yaml:"samplingRate" json:"samplingRate"`
	ServiceName  string  `yaml:"serviceName" json:"serviceName"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Path    string `yaml:"path" json:"path"`
}

// IsEnabled reports whether metrics are served. Defaults to true.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// RedisConfig configures the shared Redis instance used by the counter
// store, the usage store and the tier cache.
type RedisConfig struct {
	Address  string   `yaml:"address" json:"address"`
	Password string   `yaml:"password" json:"-"`
	DB       int      `yaml:"db" json:"db"`
	Prefix   string   `yaml:"prefix" json:"prefix"`
	Timeout  Duration `yaml:"timeout" json:"timeout"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool {
	return r.Address != ""
}

// TierConfig describes one subscription tier.
type TierConfig struct {
	Name              string `yaml:"name" json:"name"`
	RequestsPerMinute int    `yaml:"requestsPerMinute" json:"requestsPerMinute"`
	RequestsPerHour   int    `yaml:"requestsPerHour" json:"requestsPerHour"`
	RequestsPerDay    int    `yaml:"requestsPerDay" json:"requestsPerDay"`
	Unlimited         bool   `yaml:"unlimited" json:"unlimited"`
}

// APIKeyEntry maps a static API key to a subject and tier.
type APIKeyEntry struct {
	Subject string `yaml:"subject" json:"subject"`
	Tier    string `yaml:"tier" json:"tier"`
}

// TierProviderConfig configures the external identity/tier provider.
type TierProviderConfig struct {
	Type             string                 `yaml:"type" json:"type"`
	URL              string                 `yaml:"url" json:"url"`
	Timeout          Duration               `yaml:"timeout" json:"timeout"`
	CacheTTL         Duration               `yaml:"cacheTTL" json:"cacheTTL"`
	NegativeCacheTTL Duration               `yaml:"negativeCacheTTL" json:"negativeCacheTTL"`
	CacheSize        int                    `yaml:"cacheSize" json:"cacheSize"`
	APIKeyHeader     string                 `yaml:"apiKeyHeader" json:"apiKeyHeader"`
	APIKeys          map[string]APIKeyEntry `yaml:"apiKeys,omitempty" json:"-"`
}

// RateLimitConfig configures the tiered rate limiter.
type RateLimitConfig struct {
	Store                         string `yaml:"store" json:"store"`
	EnforceServiceCapForUnlimited bool   `yaml:"enforceServiceCapForUnlimited" json:"enforceServiceCapForUnlimited"`
}

// CircuitBreakerConfig configures the per-service breakers.
type CircuitBreakerConfig struct {
	Threshold int      `yaml:"threshold" json:"threshold"`
	Cooldown  Duration `yaml:"cooldown" json:"cooldown"`
	HalfOpen  bool     `yaml:"halfOpen" json:"halfOpen"`
}

// UsageConfig configures the usage meter.
type UsageConfig struct {
	Store         string   `yaml:"store" json:"store"`
	SQLitePath    string   `yaml:"sqlitePath" json:"sqlitePath"`
	Retention     Duration `yaml:"retention" json:"retention"`
	QueueSize     int      `yaml:"queueSize" json:"queueSize"`
	Workers       int      `yaml:"workers" json:"workers"`
	PruneSchedule string   `yaml:"pruneSchedule" json:"pruneSchedule"`
}

// HealthConfig configures the health aggregator.
type HealthConfig struct {
	Timeout Duration `yaml:"timeout" json:"timeout"`
}

// ServiceRateLimit is the baseline per-service admission policy.
type ServiceRateLimit struct {
	Window      Duration `yaml:"window" json:"window"`
	MaxRequests int      `yaml:"maxRequests" json:"maxRequests"`
}

// ServiceConfig describes one backend service.
type ServiceConfig struct {
	Name         string           `yaml:"name" json:"name"`
	Upstream     string           `yaml:"upstream" json:"upstream"`
	PathPrefix   string           `yaml:"pathPrefix" json:"pathPrefix"`
	InternalPath string           `yaml:"internalPath" json:"internalPath"`
	HealthPath   string           `yaml:"healthPath" json:"healthPath"`
	Timeout      Duration         `yaml:"timeout" json:"timeout"`
	Description  string           `yaml:"description" json:"description"`
	RateLimit    ServiceRateLimit `yaml:"rateLimit" json:"rateLimit"`
}

// SetDefaults fills zero values with defaults. It is idempotent.
func (c *GatewayConfig) SetDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = DefaultTracingSampleRate
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "tiergate"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = DefaultRedisPrefix
	}
	if c.Redis.Timeout == 0 {
		c.Redis.Timeout = Duration(DefaultRedisTimeout)
	}
	if c.DefaultTier == "" {
		c.DefaultTier = DefaultTier
	}
	if len(c.Tiers) == 0 {
		c.Tiers = DefaultTiers()
	}

	c.setProviderDefaults()
	c.setStoreDefaults()

	if c.CircuitBreaker.Threshold <= 0 {
		c.CircuitBreaker.Threshold = DefaultBreakerThreshold
	}
	if c.CircuitBreaker.Cooldown <= 0 {
		c.CircuitBreaker.Cooldown = Duration(DefaultBreakerCooldown)
	}
	if c.Health.Timeout <= 0 {
		c.Health.Timeout = Duration(DefaultProbeTimeout)
	}

	for i := range c.Services {
		c.Services[i].setDefaults()
	}
}

func (c *GatewayConfig) setProviderDefaults() {
	p := &c.TierProvider
	if p.Type == "" {
		p.Type = ProviderStatic
	}
	if p.Timeout <= 0 {
		p.Timeout = Duration(DefaultProviderTimeout)
	}
	if p.CacheTTL <= 0 {
		p.CacheTTL = Duration(DefaultTierCacheTTL)
	}
	if p.NegativeCacheTTL <= 0 {
		p.NegativeCacheTTL = Duration(DefaultNegativeCacheTTL)
	}
	if p.CacheSize <= 0 {
		p.CacheSize = 10000
	}
	if p.APIKeyHeader == "" {
		p.APIKeyHeader = "X-API-Key"
	}
}

func (c *GatewayConfig) setStoreDefaults() {
	if c.RateLimit.Store == "" {
		c.RateLimit.Store = StoreMemory
		if c.Redis.Enabled() {
			c.RateLimit.Store = StoreRedis
		}
	}

	u := &c.Usage
	if u.Store == "" {
		u.Store = StoreMemory
		if c.Redis.Enabled() {
			u.Store = StoreRedis
		}
	}
	if u.SQLitePath == "" {
		u.SQLitePath = "usage.db"
	}
	if u.Retention <= 0 {
		u.Retention = Duration(DefaultUsageRetention)
	}
	if u.QueueSize <= 0 {
		u.QueueSize = DefaultUsageQueueSize
	}
	if u.Workers <= 0 {
		u.Workers = DefaultUsageWorkers
	}
	if u.PruneSchedule == "" {
		u.PruneSchedule = DefaultPruneSchedule
	}
}

func (s *ServiceConfig) setDefaults() {
	if s.PathPrefix == "" {
		s.PathPrefix = DefaultServicePrefix + s.Name
	}
	s.PathPrefix = "/" + strings.Trim(s.PathPrefix, "/")
	if s.InternalPath == "" {
		s.InternalPath = "/"
	}
	if s.HealthPath == "" {
		s.HealthPath = DefaultHealthPath
	}
	if s.Timeout <= 0 {
		s.Timeout = Duration(DefaultServiceTimeout)
	}
	if s.RateLimit.Window <= 0 {
		s.RateLimit.Window = Duration(DefaultServiceWindow)
	}
	if s.RateLimit.MaxRequests <= 0 {
		s.RateLimit.MaxRequests = DefaultServiceMax
	}
}

// DefaultTiers returns the built-in tier table used when none is configured.
func DefaultTiers() []TierConfig {
	return []TierConfig{
		{Name: "free", RequestsPerMinute: 10, RequestsPerHour: 100, RequestsPerDay: 1000},
		{Name: "starter", RequestsPerMinute: 60, RequestsPerHour: 1000, RequestsPerDay: 10000},
		{Name: "professional", RequestsPerMinute: 300, RequestsPerHour: 10000, RequestsPerDay: 100000},
		{Name: "enterprise", RequestsPerMinute: 1000, RequestsPerHour: 50000, RequestsPerDay: 1000000},
		{Name: "unlimited", Unlimited: true},
	}
}
