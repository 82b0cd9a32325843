package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/vyrodovalexey/tiergate/internal/observability"
	"github.com/vyrodovalexey/tiergate/internal/registry"
)

// DefaultProbeTimeout bounds each probe when no timeout is configured.
const DefaultProbeTimeout = 2 * time.Second

// Status represents the health status.
type Status string

const (
	// StatusHealthy indicates every probe succeeded.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy marks a single failed probe.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates at least one service probe failed.
	StatusDegraded Status = "degraded"
)

// ServiceLister supplies the services to probe. *registry.Registry
// implements it.
type ServiceLister interface {
	Services() []*registry.ServiceDescriptor
}

// ServiceListerFunc adapts a function to ServiceLister.
type ServiceListerFunc func() []*registry.ServiceDescriptor

// Services implements ServiceLister.
func (f ServiceListerFunc) Services() []*registry.ServiceDescriptor {
	return f()
}

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Status    Status  `json:"status"`
	Detail    string  `json:"detail,omitempty"`
	LatencyMS float64 `json:"latencyMs"`
}

// Report is the aggregated health of all services.
type Report struct {
	Status       Status                  `json:"status"`
	Timestamp    time.Time               `json:"timestamp"`
	Services     map[string]*CheckResult `json:"services"`
	Dependencies map[string]*CheckResult `json:"dependencies,omitempty"`
}

// Aggregator probes every registered service concurrently.
type Aggregator struct {
	services     ServiceLister
	timeout      time.Duration
	client       *http.Client
	dependencies []HealthCheck
	logger       observability.Logger
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithTimeout sets the per-probe timeout.
func WithTimeout(d time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithHTTPClient sets the client used for service probes.
func WithHTTPClient(client *http.Client) AggregatorOption {
	return func(a *Aggregator) {
		a.client = client
	}
}

// WithDependency adds a check reported under "dependencies". Dependency
// failures do not change the overall status.
func WithDependency(check HealthCheck) AggregatorOption {
	return func(a *Aggregator) {
		a.dependencies = append(a.dependencies, check)
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) AggregatorOption {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// NewAggregator creates an aggregator over services.
func NewAggregator(services ServiceLister, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		services: services,
		timeout:  DefaultProbeTimeout,
		client:   &http.Client{},
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Timeout returns the per-probe timeout.
func (a *Aggregator) Timeout() time.Duration {
	return a.timeout
}

// Aggregate probes all services and dependencies in parallel and waits for
// every probe to finish or time out.
func (a *Aggregator) Aggregate(ctx context.Context) *Report {
	services := a.services.Services()

	report := &Report{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Services:  make(map[string]*CheckResult, len(services)),
	}
	if len(a.dependencies) > 0 {
		report.Dependencies = make(map[string]*CheckResult, len(a.dependencies))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	run := func(check HealthCheck, into map[string]*CheckResult) {
		defer wg.Done()
		result := a.probe(ctx, check)

		mu.Lock()
		into[check.Name()] = result
		mu.Unlock()
	}

	for _, svc := range services {
		wg.Add(1)
		go run(HTTPHealthCheck(svc.Name, svc.HealthURL(), a.client), report.Services)
	}
	for _, dep := range a.dependencies {
		wg.Add(1)
		go run(dep, report.Dependencies)
	}

	wg.Wait()

	for _, result := range report.Services {
		if result.Status != StatusHealthy {
			report.Status = StatusDegraded
			break
		}
	}

	return report
}

func (a *Aggregator) probe(ctx context.Context, check HealthCheck) *CheckResult {
	start := time.Now()
	err := checkWithTimeout(ctx, check, a.timeout)
	duration := time.Since(start)

	recordProbe(check.Name(), err == nil, duration.Seconds())

	result := &CheckResult{
		Status:    StatusHealthy,
		LatencyMS: float64(duration.Microseconds()) / 1000,
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Detail = err.Error()

		a.logger.Warn("health probe failed",
			observability.String("target", check.Name()),
			observability.Error(err),
			observability.Duration("duration", duration),
		)
	}
	return result
}
