// Package telemetry exposes the engine's own health metrics (spec §5
// Backpressure: "Workers report a 'too slow' metric when drops occur")
// via a Prometheus registry, consumed by cmd/branchwatch's /metrics
// endpoint. Grounded on the teacher's cmd/netscan/health.go HTTP
// server shape, generalized from a single liveness handler to a
// registered-collector metrics surface.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every gauge/counter the engine publishes.
type Metrics struct {
	BatchesDropped    prometheus.Counter
	WorkerTooSlow     *prometheus.GaugeVec
	QueueDepth        *prometheus.GaugeVec
	AlertsRaised      *prometheus.CounterVec
	AlertsResolved    *prometheus.CounterVec
	DiscoveryDuration *prometheus.HistogramVec
	ChangeStreamDrops prometheus.Counter
	AnomaliesDetected *prometheus.CounterVec
}

// New registers and returns every metric against reg. Pass
// prometheus.NewRegistry() for tests and prometheus.DefaultRegisterer
// (wrapped in a registry) in production.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BatchesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "branchwatch",
			Name:      "batches_dropped_total",
			Help:      "Batches dropped because a priority queue was full.",
		}),
		WorkerTooSlow: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "branchwatch",
			Name:      "worker_too_slow",
			Help:      "1 when a worker pool's queue depth indicates it cannot keep up with its cadence.",
		}, []string{"pool"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "branchwatch",
			Name:      "dispatcher_queue_depth",
			Help:      "Current number of batches waiting in a priority lane.",
		}, []string{"priority"}),
		AlertsRaised: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "branchwatch",
			Name:      "alerts_raised_total",
			Help:      "Alerts raised, labelled by group (the worker pool reports all groups under \"all\").",
		}, []string{"group"}),
		AlertsResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "branchwatch",
			Name:      "alerts_resolved_total",
			Help:      "Alerts auto-resolved, labelled by group (the worker pool reports all groups under \"all\").",
		}, []string{"group"}),
		DiscoveryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "branchwatch",
			Name:      "discovery_duration_seconds",
			Help:      "Wall time of an interface/topology discovery pass.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		ChangeStreamDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "branchwatch",
			Name:      "changestream_drops_total",
			Help:      "Status-change frames dropped to a full subscriber buffer.",
		}),
		AnomaliesDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "branchwatch",
			Name:      "anomalies_detected_total",
			Help:      "Baseline anomalies detected, by severity.",
		}, []string{"severity"}),
	}
}

// ObserveQueueDepths copies a dispatcher's current per-lane depths into
// the QueueDepth gauge vec.
func (m *Metrics) ObserveQueueDepths(depths map[string]int) {
	for priority, depth := range depths {
		m.QueueDepth.WithLabelValues(priority).Set(float64(depth))
	}
}

// RecordRaised adds n to the alerts-raised counter for the given
// dedup group.
func (m *Metrics) RecordRaised(group string, n int) {
	m.AlertsRaised.WithLabelValues(group).Add(float64(n))
}

// RecordResolved adds n to the alerts-resolved counter for the given
// dedup group.
func (m *Metrics) RecordResolved(group string, n int) {
	m.AlertsResolved.WithLabelValues(group).Add(float64(n))
}
