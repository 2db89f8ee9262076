package journey

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects engine execution metrics.
//
// All methods are safe to call on a nil receiver, so the engine can
// thread a single pointer through without nil checks at every site.
//
// Example:
//
//	metrics := journey.NewPrometheusMetrics(prometheus.DefaultRegisterer)
//	engine, err := journey.New(factory, repo, journey.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.Handler())
type PrometheusMetrics struct {
	inflightPaths  prometheus.Gauge
	queueDepth     prometheus.Gauge
	stepLatency    *prometheus.HistogramVec
	pendsTotal     *prometheus.CounterVec
	ticketsTotal   prometheus.Counter
	snapshotsTotal prometheus.Counter
	saturation     prometheus.Counter
	casesCompleted prometheus.Counter
}

// NewPrometheusMetrics registers the engine's collectors with reg.
// Registering twice on the same registerer panics, per the usual
// Prometheus contract; construct once per process.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		inflightPaths: factory.NewGauge(prometheus.GaugeOpts{
			Name: "journey_inflight_paths",
			Help: "Number of execution path workers currently running.",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "journey_pool_queue_depth",
			Help: "Number of path workers queued in the shared pool.",
		}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "journey_step_duration_seconds",
			Help:    "User component execution time per step.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"node_type", "status"}),
		pendsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "journey_pends_total",
			Help: "Pend events by work basket.",
		}, []string{"work_basket"}),
		ticketsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "journey_tickets_total",
			Help: "Tickets raised.",
		}),
		snapshotsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "journey_snapshots_total",
			Help: "Case snapshots written to the document repository.",
		}),
		saturation: factory.NewCounter(prometheus.CounterOpts{
			Name: "journey_pool_saturation_total",
			Help: "Pool submissions rejected after the backpressure window.",
		}),
		casesCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "journey_cases_completed_total",
			Help: "Cases run to completion.",
		}),
	}
}

func (m *PrometheusMetrics) pathStarted() {
	if m == nil {
		return
	}
	m.inflightPaths.Inc()
}

func (m *PrometheusMetrics) pathFinished() {
	if m == nil {
		return
	}
	m.inflightPaths.Dec()
}

func (m *PrometheusMetrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *PrometheusMetrics) observeStep(nodeType NodeType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepLatency.WithLabelValues(string(nodeType), status).Observe(d.Seconds())
}

func (m *PrometheusMetrics) pendRecorded(workBasket string) {
	if m == nil {
		return
	}
	m.pendsTotal.WithLabelValues(workBasket).Inc()
}

func (m *PrometheusMetrics) ticketRaised() {
	if m == nil {
		return
	}
	m.ticketsTotal.Inc()
}

func (m *PrometheusMetrics) snapshotWritten() {
	if m == nil {
		return
	}
	m.snapshotsTotal.Inc()
}

func (m *PrometheusMetrics) saturated() {
	if m == nil {
		return
	}
	m.saturation.Inc()
}

func (m *PrometheusMetrics) caseCompleted() {
	if m == nil {
		return
	}
	m.casesCompleted.Inc()
}
