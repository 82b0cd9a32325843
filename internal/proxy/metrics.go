package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	outcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiergate",
			Subsystem: "proxy",
			Name:      "outcomes_total",
			Help:      "Total number of proxied requests by outcome",
		},
		[]string{"service", "outcome"},
	)

	backendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tiergate",
			Subsystem: "proxy",
			Name:      "backend_duration_seconds",
			Help:      "Duration of backend calls in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"service"},
	)
)

// Request outcomes.
const (
	outcomeForwarded   = "forwarded"
	outcomeRateLimited = "rate_limited"
	outcomeCircuitOpen = "circuit_open"
	outcomeUpstream    = "upstream_error"
	outcomeCanceled    = "canceled"
	outcomeInternal    = "internal_error"
	outcomeNotFound    = "not_found"
)
