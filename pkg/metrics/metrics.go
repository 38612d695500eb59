// Package metrics exposes the controller's Prometheus collectors. Emission
// is gated by the monitoring config; when disabled the collectors still
// exist but nothing registers or scrapes them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LifecycleEventsTotal   *prometheus.CounterVec
	ReconciliationsTotal   *prometheus.CounterVec
	ReconciliationDuration prometheus.Histogram
	ProviderWritesTotal    *prometheus.CounterVec
	ProbeDuration          *prometheus.HistogramVec
	TasksDeadLettered      prometheus.Counter
)

func init() {
	build("flocksync")
}

func build(namespace string) {
	LifecycleEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_events_total",
			Help:      "Lifecycle events handled, by transition and acknowledged result",
		},
		[]string{"transition", "result"},
	)

	ReconciliationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Reconciliation runs, by outcome",
		},
		[]string{"outcome"},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconciliation_duration_seconds",
			Help:      "Time taken by one reconciliation run in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	ProviderWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_writes_total",
			Help:      "DNS provider mutations, by provider and operation",
		},
		[]string{"provider", "op"},
	)

	ProbeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Readiness and health probe duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	TasksDeadLettered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_dead_lettered_total",
			Help:      "Reconciliation tasks moved to the dead-letter destination",
		},
	)
}

// Init rebuilds the collectors under the configured namespace and registers
// them with the default registry. Call once at startup, before serving the
// metrics endpoint; when metrics are disabled the unregistered defaults
// still absorb observations.
func Init(namespace string) {
	build(namespace)
	prometheus.MustRegister(
		LifecycleEventsTotal,
		ReconciliationsTotal,
		ReconciliationDuration,
		ProviderWritesTotal,
		ProbeDuration,
		TasksDeadLettered,
	)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
