package tier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Resolution outcomes.
const (
	outcomeAnonymous = "anonymous"
	outcomeCached    = "cached"
	outcomeResolved  = "resolved"
	outcomeUnknown   = "unknown"
	outcomeFailed    = "failed"
)

var resolutionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tiergate",
		Subsystem: "tier",
		Name:      "resolutions_total",
		Help:      "Total number of tier resolutions by outcome",
	},
	[]string{"outcome", "tier"},
)

var lookupDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "tiergate",
		Subsystem: "tier",
		Name:      "provider_lookup_duration_seconds",
		Help:      "Duration of tier provider lookups",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	},
)

func recordResolution(outcome, tierName string) {
	resolutionsTotal.WithLabelValues(outcome, tierName).Inc()
}
