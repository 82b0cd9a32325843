package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	probesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiergate",
			Subsystem: "health",
			Name:      "probes_total",
			Help:      "Total number of health probes performed",
		},
		[]string{"target", "status"},
	)

	probeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tiergate",
			Subsystem: "health",
			Name:      "probe_duration_seconds",
			Help:      "Duration of health probes in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"target"},
	)

	targetStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tiergate",
			Subsystem: "health",
			Name:      "target_status",
			Help:      "Current health probe status (1=healthy, 0=unhealthy)",
		},
		[]string{"target"},
	)
)

func recordProbe(target string, healthy bool, seconds float64) {
	status := string(StatusHealthy)
	value := 1.0
	if !healthy {
		status = string(StatusUnhealthy)
		value = 0
	}
	probesTotal.WithLabelValues(target, status).Inc()
	probeDuration.WithLabelValues(target).Observe(seconds)
	targetStatus.WithLabelValues(target).Set(value)
}
