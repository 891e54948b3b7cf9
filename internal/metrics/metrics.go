package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the Prometheus collectors of the indexing pipeline.
type Metrics struct {
	// Liveness
	LastProcessedBlock prometheus.Gauge
	BlocksProcessed    prometheus.Counter
	ErrorsTotal        *prometheus.CounterVec

	// Throughput
	EventsProcessed    *prometheus.CounterVec
	BlockProcessingDur prometheus.Histogram
	PoolsInRegistry    prometheus.Gauge

	// Side channels
	OracleFallbacks prometheus.Counter
	Verifications   *prometheus.CounterVec
	PublishFailures prometheus.Counter
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		LastProcessedBlock: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_processed_block",
			Help:      "Height of the last block committed by the pipeline.",
		}),
		BlocksProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_processed_total",
			Help:      "Blocks committed by the pipeline.",
		}),
		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors encountered, labeled by type.",
		}, []string{"type"}),
		EventsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_events_total",
			Help:      "Pool events persisted, labeled by event type.",
		}, []string{"type"}),
		BlockProcessingDur: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "block_processing_duration_seconds",
			Help:      "Time to apply and commit one block.",
			Buckets:   prometheus.DefBuckets,
		}),
		PoolsInRegistry: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pools_in_registry",
			Help:      "Pools known to the registry.",
		}),
		OracleFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_fallbacks_total",
			Help:      "Blocks that reused the previous reference price after an oracle failure.",
		}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Contract verification submissions, labeled by result.",
		}, []string{"result"}),
		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Block summaries that could not be published.",
		}),
	}
}

// Nop returns collectors registered on a private registry.
func Nop() *Metrics {
	return New(prometheus.NewRegistry(), "")
}

// Handler serves the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}
