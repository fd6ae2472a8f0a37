// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "topictree"

// Metrics groups the service's collectors. A nil *Metrics is valid and
// records nothing, so library code can take one unconditionally.
type Metrics struct {
	JobsTotal      *prometheus.CounterVec
	QueueDepth     prometheus.Gauge
	ServiceLatency *prometheus.HistogramVec
	ServiceErrors  *prometheus.CounterVec
	BatchSize      *prometheus.HistogramVec
	TreeNodes      *prometheus.CounterVec
	EmbedCacheHits *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		JobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Ingestion jobs by terminal status.",
		}, []string{"status"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Jobs waiting for a worker.",
		}),
		ServiceLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "service_request_seconds",
			Help:      "Latency of calls to downstream model services.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"service"}),
		ServiceErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "service_errors_total",
			Help:      "Failed calls to downstream model services.",
		}, []string{"service", "kind"}),
		BatchSize: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of texts per outbound batch.",
			Buckets:   prometheus.LinearBuckets(1, 8, 8),
		}, []string{"service"}),
		TreeNodes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tree_nodes_total",
			Help:      "Nodes produced by tree builds, by level.",
		}, []string{"level"}),
		EmbedCacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embed_cache_lookups_total",
			Help:      "Embedding cache lookups by result.",
		}, []string{"result"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_seconds",
			Help:      "Duration of engine stages.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
	}
}

func (m *Metrics) ObserveService(service string, d time.Duration, batch int) {
	if m == nil {
		return
	}
	m.ServiceLatency.WithLabelValues(service).Observe(d.Seconds())
	if batch > 0 {
		m.BatchSize.WithLabelValues(service).Observe(float64(batch))
	}
}

func (m *Metrics) ServiceError(service, kind string) {
	if m == nil {
		return
	}
	m.ServiceErrors.WithLabelValues(service, kind).Inc()
}

func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) AddNodes(level string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.TreeNodes.WithLabelValues(level).Add(float64(n))
}

func (m *Metrics) CacheLookups(hits, misses int) {
	if m == nil {
		return
	}
	m.EmbedCacheHits.WithLabelValues("hit").Add(float64(hits))
	m.EmbedCacheHits.WithLabelValues("miss").Add(float64(misses))
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}
