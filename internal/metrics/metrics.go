// Package metrics provides Prometheus metrics for the continuity service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus instruments for the service.
type Metrics struct {
	// Turn metrics
	TurnsTotal           *prometheus.CounterVec
	ResumeFallbacksTotal prometheus.Counter
	InvocationDuration   *prometheus.HistogramVec

	// Event store metrics
	StoreOperationsTotal *prometheus.CounterVec
}

// New creates all instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{}

	m.TurnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rejoinder_turns_total",
			Help: "Total number of conversation turns handled",
		},
		[]string{"outcome"},
	)

	m.ResumeFallbacksTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "rejoinder_resume_fallbacks_total",
			Help: "Total number of resume attempts that fell back to a fresh session",
		},
	)

	m.InvocationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rejoinder_invocation_duration_seconds",
			Help:    "Duration of agent invocations in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"runtime"},
	)

	m.StoreOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rejoinder_store_operations_total",
			Help: "Total number of event store operations",
		},
		[]string{"operation", "status"},
	)

	return m
}

// RecordTurn records a completed turn with its outcome.
func (m *Metrics) RecordTurn(outcome string) {
	m.TurnsTotal.WithLabelValues(outcome).Inc()
}

// RecordFallback records a resume attempt that fell back to a fresh session.
func (m *Metrics) RecordFallback() {
	m.ResumeFallbacksTotal.Inc()
}

// ObserveInvocation records the duration of a single agent invocation.
func (m *Metrics) ObserveInvocation(runtime string, duration time.Duration) {
	m.InvocationDuration.WithLabelValues(runtime).Observe(duration.Seconds())
}

// RecordStoreOperation records an event store operation and its status.
func (m *Metrics) RecordStoreOperation(operation, status string) {
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
}
