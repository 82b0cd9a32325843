package usage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiergate",
			Subsystem: "usage",
			Name:      "events_total",
			Help:      "Total number of usage events by outcome",
		},
		[]string{"outcome"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tiergate",
			Subsystem: "usage",
			Name:      "queue_depth",
			Help:      "Number of usage events waiting to be persisted",
		},
	)

	prunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tiergate",
			Subsystem: "usage",
			Name:      "pruned_buckets_total",
			Help:      "Total number of usage bucket cells removed by retention",
		},
	)
)

// Event outcomes.
const (
	outcomeRecorded = "recorded"
	outcomeDropped  = "dropped"
	outcomeFailed   = "failed"
)
