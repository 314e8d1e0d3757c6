// Package metrics exposes the Prometheus instruments of the resilience subsystem.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vietddude/resilience/internal/core/domain"
)

var (
	// ClassifiedErrorsTotal counts classified failures per dependency
	ClassifiedErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_classified_errors_total",
			Help: "Total number of classified downstream failures",
		},
		[]string{"dependency", "category", "severity"},
	)

	// AttemptsTotal counts operation attempts by outcome
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_attempts_total",
			Help: "Total number of operation attempts",
		},
		[]string{"dependency", "policy", "outcome"},
	)

	// RetriesTotal counts scheduled retries
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_retries_total",
			Help: "Total number of scheduled retries",
		},
		[]string{"dependency", "policy", "category"},
	)

	// RetryDelay tracks the backoff delays that were slept
	RetryDelay = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resilience_retry_delay_seconds",
			Help:    "Backoff delay before a retry in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"dependency", "policy"},
	)

	// BreakerRejectionsTotal counts calls rejected at the gate
	BreakerRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_breaker_rejections_total",
			Help: "Total number of calls rejected by an open circuit breaker",
		},
		[]string{"dependency", "state"},
	)

	// BreakerState is 0 for CLOSED, 1 for OPEN, 2 for HALF_OPEN
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resilience_breaker_state",
			Help: "Current circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"dependency"},
	)

	// BreakerTransitionsTotal counts breaker state changes
	BreakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"dependency", "from", "to"},
	)

	// SweptSamplesTotal counts samples removed by the retention sweep
	SweptSamplesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resilience_swept_samples_total",
			Help: "Total number of error samples removed by the retention sweep",
		},
	)

	// SnapshotDBPoolUsage tracks the snapshot store connection pool usage in percent
	SnapshotDBPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resilience_snapshot_db_pool_usage_percent",
			Help: "Snapshot database connection pool usage percentage",
		},
	)
)

// ObserveTransition updates the breaker gauges for a state change.
func ObserveTransition(dependency string, from, to domain.BreakerState) {
	BreakerState.WithLabelValues(dependency).Set(float64(to))
	BreakerTransitionsTotal.WithLabelValues(dependency, from.String(), to.String()).Inc()
}
