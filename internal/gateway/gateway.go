package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/tiergate/internal/circuitbreaker"
	"github.com/vyrodovalexey/tiergate/internal/config"
	"github.com/vyrodovalexey/tiergate/internal/health"
	"github.com/vyrodovalexey/tiergate/internal/observability"
	"github.com/vyrodovalexey/tiergate/internal/proxy"
	"github.com/vyrodovalexey/tiergate/internal/registry"
	"github.com/vyrodovalexey/tiergate/internal/tier"
	"github.com/vyrodovalexey/tiergate/internal/usage"
)

// State represents the gateway state.
type State int32

const (
	// StateStopped indicates the gateway is stopped.
	StateStopped State = iota
	// StateStarting indicates the gateway is starting.
	StateStarting
	// StateRunning indicates the gateway is running.
	StateRunning
	// StateStopping indicates the gateway is stopping.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Gateway is the gateway-context object. It owns the service registry and
// every stateful collaborator of the request path.
type Gateway struct {
	config   atomic.Pointer[config.GatewayConfig]
	registry atomic.Pointer[registry.Registry]

	logger     observability.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	version    string
	transport  http.RoundTripper
	httpClient *http.Client
	redis      redis.UniversalClient

	components *components
	aggregator *health.Aggregator
	proxy      *proxy.Handler
	engine     *gin.Engine
	handler    http.Handler
	listener   *Listener

	state     atomic.Int32
	startTime time.Time
	mu        sync.Mutex

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool

	shutdownTimeout time.Duration
}

// Option is a functional option for configuring the gateway.
type Option func(*Gateway)

// WithLogger sets the logger for the gateway.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithShutdownTimeout sets the shutdown timeout.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		g.shutdownTimeout = timeout
	}
}

// WithMetrics sets the HTTP metrics collector.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = metrics
	}
}

// WithTracer sets the tracer for server spans.
func WithTracer(tracer *observability.Tracer) Option {
	return func(g *Gateway) {
		g.tracer = tracer
	}
}

// WithVersion sets the version reported by the liveness endpoint.
func WithVersion(version string) Option {
	return func(g *Gateway) {
		g.version = version
	}
}

// WithTransport sets the transport used to reach backends.
func WithTransport(transport http.RoundTripper) Option {
	return func(g *Gateway) {
		g.transport = transport
	}
}

// WithHTTPClient sets the client used for health probes and the HTTP tier
// provider.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) {
		g.httpClient = client
	}
}

// WithRedisClient supplies the Redis client instead of dialing the
// configured address. The gateway does not close it.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(g *Gateway) {
		g.redis = client
	}
}

// New validates cfg and builds a gateway. Nothing listens until Start.
func New(cfg *config.GatewayConfig, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	cfg.SetDefaults()
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	reg, err := registry.FromConfig(cfg.Services)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	g := &Gateway{
		logger:          observability.NopLogger(),
		tracer:          observability.NopTracer(),
		version:         "dev",
		transport:       http.DefaultTransport,
		httpClient:      &http.Client{},
		shutdownTimeout: cfg.ShutdownTimeout.Duration(),
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.metrics == nil {
		g.metrics = observability.NewMetrics("tiergate")
	}

	g.config.Store(cfg)
	g.registry.Store(reg)
	g.state.Store(int32(StateStopped))

	g.components, err = buildComponents(cfg, g.redis, g.httpClient, g.logger)
	if err != nil {
		return nil, err
	}

	aggOpts := []health.AggregatorOption{
		health.WithTimeout(cfg.Health.Timeout.Duration()),
		health.WithHTTPClient(g.httpClient),
		health.WithLogger(g.logger),
	}
	if g.components.redis != nil {
		aggOpts = append(aggOpts, health.WithDependency(health.RedisHealthCheck("redis", g.components.redis)))
	}
	g.aggregator = health.NewAggregator(g, aggOpts...)

	g.proxy = proxy.NewHandler(g,
		g.components.resolver,
		g.components.limiter,
		g.components.breakers,
		proxy.WithUsage(g.components.meter),
		proxy.WithTransport(g.transport),
		proxy.WithAPIKeyHeader(cfg.TierProvider.APIKeyHeader),
		proxy.WithLogger(g.logger),
		proxy.WithTracer(g.tracer),
	)

	g.engine = g.newEngine()
	g.handler = g.wrap(g.engine)

	return g, nil
}

// Start starts the gateway.
func (g *Gateway) Start(ctx context.Context) error {
	if g.closed.Load() {
		return ErrGatewayClosed
	}
	if !g.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrGatewayNotStopped
	}

	cfg := g.Config()

	g.logger.Info("starting gateway",
		observability.String("listen", cfg.Listen),
		observability.Int("services", g.Registry().Len()),
	)

	if err := g.components.retention.Start(ctx); err != nil {
		g.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to start usage retention: %w", err)
	}

	g.listener = NewListener(cfg.Listen, g.handler, WithListenerLogger(g.logger))
	if err := g.listener.Start(ctx); err != nil {
		g.components.retention.Stop()
		g.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to start listener: %w", err)
	}

	g.startTime = time.Now()
	g.state.Store(int32(StateRunning))

	g.logger.Info("gateway started",
		observability.String("address", g.listener.Address()),
	)

	return nil
}

// Stop drains the listener and releases every resource. A stopped gateway
// cannot be started again.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return ErrGatewayNotRunning
	}

	g.logger.Info("stopping gateway")

	if _, ok := ctx.Deadline(); !ok && g.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.shutdownTimeout)
		defer cancel()
	}

	var listenerErr error
	if g.listener != nil {
		listenerErr = g.listener.Stop(ctx)
		if listenerErr != nil {
			g.logger.Error("failed to stop listener", observability.Error(listenerErr))
		}
	}

	closeErr := g.Close(ctx)

	g.state.Store(int32(StateStopped))

	g.logger.Info("gateway stopped")

	if listenerErr != nil {
		return listenerErr
	}
	return closeErr
}

// Close drains the usage queue and closes the stores. Stop calls it; use
// it directly for a gateway that was never started.
func (g *Gateway) Close(ctx context.Context) error {
	g.closeOnce.Do(func() {
		g.closed.Store(true)

		if err := g.components.meter.Close(ctx); err != nil {
			g.logger.Warn("usage queue not fully drained", observability.Error(err))
		}
		g.closeErr = g.components.close()
	})
	return g.closeErr
}

// Reload validates cfg and atomically replaces the service registry.
// Rate counters, circuit states and usage buckets are kept; breakers of
// services that disappeared are dropped. Other sections take effect on
// restart.
func (g *Gateway) Reload(cfg *config.GatewayConfig) error {
	if cfg == nil {
		return ErrNilConfig
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	cfg.SetDefaults()
	if err := config.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	reg, err := registry.FromConfig(cfg.Services)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	g.registry.Store(reg)
	g.config.Store(cfg)

	for _, name := range g.components.breakers.Names() {
		if _, err := reg.Lookup(name); err != nil {
			g.components.breakers.Remove(name)
		}
	}

	g.logger.Info("gateway configuration reloaded",
		observability.Int("services", reg.Len()),
	)

	return nil
}

// Match implements proxy.RouteMatcher against the current registry.
func (g *Gateway) Match(path string) (*registry.ServiceDescriptor, error) {
	return g.Registry().Match(path)
}

// Services implements health.ServiceLister against the current registry.
func (g *Gateway) Services() []*registry.ServiceDescriptor {
	return g.Registry().Services()
}

// Registry returns the current service registry.
func (g *Gateway) Registry() *registry.Registry {
	return g.registry.Load()
}

// Config returns the current configuration.
func (g *Gateway) Config() *config.GatewayConfig {
	return g.config.Load()
}

// Breakers returns the per-service circuit breakers.
func (g *Gateway) Breakers() *circuitbreaker.Registry {
	return g.components.breakers
}

// Resolver returns the tier resolver.
func (g *Gateway) Resolver() *tier.Resolver {
	return g.components.resolver
}

// Meter returns the usage meter.
func (g *Gateway) Meter() *usage.Meter {
	return g.components.meter
}

// Aggregator returns the health aggregator.
func (g *Gateway) Aggregator() *health.Aggregator {
	return g.aggregator
}

// Handler returns the full HTTP handler, middleware included.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Engine returns the gin engine.
func (g *Gateway) Engine() *gin.Engine {
	return g.engine
}

// Address returns the listener address, or the configured one before
// Start.
func (g *Gateway) Address() string {
	if g.listener == nil {
		return g.Config().Listen
	}
	return g.listener.Address()
}

// State returns the current gateway state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// IsRunning returns true if the gateway is running.
func (g *Gateway) IsRunning() bool {
	return g.State() == StateRunning
}

// Uptime returns the gateway uptime.
func (g *Gateway) Uptime() time.Duration {
	if g.startTime.IsZero() {
		return 0
	}
	return time.Since(g.startTime)
}
