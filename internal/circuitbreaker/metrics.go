package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CircuitBreakerState shows the current state of circuit breakers.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tiergate",
			Name:      "circuit_breaker_state",
			Help:      "Current state of the circuit breaker (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	// CircuitBreakerRequestsTotal counts calls offered to circuit breakers.
	CircuitBreakerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiergate",
			Name:      "circuit_breaker_requests_total",
			Help:      "Total number of requests through circuit breakers",
		},
		[]string{"name", "result"},
	)

	// CircuitBreakerOutcomesTotal counts reported call outcomes.
	CircuitBreakerOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiergate",
			Name:      "circuit_breaker_outcomes_total",
			Help:      "Total number of call outcomes recorded by circuit breakers",
		},
		[]string{"name", "outcome"},
	)

	// CircuitBreakerStateChangesTotal counts state changes.
	CircuitBreakerStateChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiergate",
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker state changes",
		},
		[]string{"name", "from", "to"},
	)
)

// RecordState records the current state of a circuit breaker.
func RecordState(name string, state State) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordRequest records a call offered to a circuit breaker.
func RecordRequest(name string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	CircuitBreakerRequestsTotal.WithLabelValues(name, result).Inc()
}

// RecordFailure records a failure.
func RecordFailure(name string) {
	CircuitBreakerOutcomesTotal.WithLabelValues(name, "failure").Inc()
}

// RecordSuccess records a success.
func RecordSuccess(name string) {
	CircuitBreakerOutcomesTotal.WithLabelValues(name, "success").Inc()
}

// RecordStateChange records a state change.
func RecordStateChange(name string, from, to State) {
	CircuitBreakerStateChangesTotal.WithLabelValues(name, from.String(), to.String()).Inc()
	RecordState(name, to)
}
