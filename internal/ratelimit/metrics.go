package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Admission decision labels.
const (
	decisionAllowed   = "allowed"
	decisionDenied    = "denied"
	decisionUnlimited = "unlimited"
	decisionError     = "error"
)

var decisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tiergate",
		Subsystem: "ratelimit",
		Name:      "decisions_total",
		Help:      "Total number of admission decisions",
	},
	[]string{"service", "tier", "decision"},
)

func recordDecision(service, tierName, decision string) {
	decisionsTotal.WithLabelValues(service, tierName, decision).Inc()
}
