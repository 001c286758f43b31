// Package prometheus provides Prometheus-backed implementations of the
// metrics interfaces in pkg/metrics.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittofab/pkg/metrics"
)

// targetMetrics is the Prometheus implementation of metrics.TargetMetrics.
type targetMetrics struct {
	transitionsTotal   *prometheus.CounterVec
	transitionDuration *prometheus.HistogramVec
	transportsAdded    *prometheus.CounterVec
	subsystemsCreated  *prometheus.CounterVec
	subsystemsRemoved  prometheus.Counter
}

// NewTargetMetrics creates a new Prometheus-backed TargetMetrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry
// not called).
func NewTargetMetrics() metrics.TargetMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopTargetMetrics()
	}

	reg := metrics.GetRegistry()

	return &targetMetrics{
		transitionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittofab_subsystem_transitions_total",
				Help: "Total number of subsystem lifecycle transitions by operation and outcome",
			},
			[]string{"op", "status"},
		),
		transitionDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dittofab_subsystem_transition_duration_seconds",
				Help:    "Duration of subsystem lifecycle transitions from submission to completion",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		transportsAdded: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittofab_transports_added_total",
				Help: "Total number of transport registrations by outcome",
			},
			[]string{"status"},
		),
		subsystemsCreated: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittofab_subsystems_created_total",
				Help: "Total number of subsystems created by type",
			},
			[]string{"subtype"},
		),
		subsystemsRemoved: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittofab_subsystems_removed_total",
				Help: "Total number of subsystems removed",
			},
		),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *targetMetrics) RecordTransition(op string, duration time.Duration, err error) {
	m.transitionsTotal.WithLabelValues(op, outcome(err)).Inc()
	m.transitionDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *targetMetrics) RecordTransportAdded(err error) {
	m.transportsAdded.WithLabelValues(outcome(err)).Inc()
}

func (m *targetMetrics) RecordSubsystemCreated(subtype string) {
	m.subsystemsCreated.WithLabelValues(subtype).Inc()
}

func (m *targetMetrics) RecordSubsystemRemoved() {
	m.subsystemsRemoved.Inc()
}
