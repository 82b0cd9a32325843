package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// unmatchedService is the label value used for requests that do not
// target a registered service, keeping label cardinality bounded.
const unmatchedService = "unmatched"

// Metrics holds the HTTP-level Prometheus metrics for the gateway.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	activeRequests  prometheus.Gauge
	buildInfo       *prometheus.GaugeVec
	registry        *prometheus.Registry
}

// NewMetrics creates a new Metrics instance on a private registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "service", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "service"},
	)

	m.activeRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of in-flight HTTP requests",
		},
	)

	m.buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit"},
	)

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.activeRequests,
		m.buildInfo,
	)

	return m
}

// SetBuildInfo records the running build.
func (m *Metrics) SetBuildInfo(version, commit string) {
	m.buildInfo.WithLabelValues(version, commit).Set(1)
}

// RecordRequest records a finished request.
func (m *Metrics) RecordRequest(method, service string, status int, duration time.Duration) {
	if service == "" {
		service = unmatchedService
	}
	m.requestsTotal.WithLabelValues(method, service, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, service).Observe(duration.Seconds())
}

// Handler serves the private registry merged with the default registry,
// where the per-package promauto collectors live.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(
		prometheus.Gatherers{m.registry, prometheus.DefaultGatherer},
		promhttp.HandlerOpts{},
	)
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// serviceLabelKey carries a mutable service label holder through the request.
type serviceLabelKey struct{}

type serviceLabel struct {
	name string
}

// SetServiceLabel tags the in-flight request with the target service name.
// It is a no-op when the request did not pass through MetricsMiddleware.
func SetServiceLabel(ctx context.Context, service string) {
	if l, ok := ctx.Value(serviceLabelKey{}).(*serviceLabel); ok {
		l.name = service
	}
}

// MetricsMiddleware returns a middleware that records request metrics.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			label := &serviceLabel{}
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			metrics.activeRequests.Inc()
			defer metrics.activeRequests.Dec()

			next.ServeHTTP(rw, r.WithContext(context.WithValue(r.Context(), serviceLabelKey{}, label)))

			metrics.RecordRequest(r.Method, label.name, rw.status, time.Since(start))
		})
	}
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

// WriteHeader captures the status code.
func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher interface for streaming support.
func (rw *statusRecorder) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
