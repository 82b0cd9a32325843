package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var panicsRecovered = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tiergate",
		Subsystem: "middleware",
		Name:      "panics_recovered_total",
		Help:      "Total number of panics recovered",
	},
)
