package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics describing the reporter itself.
// It uses a custom registry to avoid polluting the global default.
type Metrics struct {
	Registry *prometheus.Registry

	// Collection metrics
	CollectionDuration        prometheus.Histogram
	CollectionsTotal          *prometheus.CounterVec
	CollectionErrorsTotal     *prometheus.CounterVec
	ProcessResolutionFailures prometheus.Counter
	LastSuccessTimestamp      prometheus.Gauge

	// Push metrics
	PushDuration  prometheus.Histogram
	PushTotal     *prometheus.CounterVec
	PushRetries   prometheus.Counter
	PushSizeBytes *prometheus.HistogramVec

	// Compression metrics
	CompressionRatio prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all Prometheus metrics
// registered on a custom registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	sizeBuckets := prometheus.ExponentialBuckets(256, 4, 8)

	m := &Metrics{
		Registry: reg,

		CollectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gpuinfo_collection_duration_seconds",
			Help:    "Duration of inventory collections in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		CollectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpuinfo_collections_total",
			Help: "Total number of inventory collections.",
		}, []string{"status"}),
		CollectionErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpuinfo_collection_errors_total",
			Help: "Total number of failed inventory collections by error code.",
		}, []string{"code"}),
		ProcessResolutionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpuinfo_process_resolution_failures_total",
			Help: "Total number of process name or owner lookups that fell back to sentinel values.",
		}),
		LastSuccessTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gpuinfo_last_collection_success_timestamp_seconds",
			Help: "Unix time of the last successful inventory collection.",
		}),

		PushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gpuinfo_push_duration_seconds",
			Help:    "Duration of report push operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		PushTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpuinfo_push_total",
			Help: "Total number of report push attempts.",
		}, []string{"status"}),
		PushRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gpuinfo_push_retries_total",
			Help: "Total number of report push retry attempts.",
		}),
		PushSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gpuinfo_push_size_bytes",
			Help:    "Size of pushed reports in bytes.",
			Buckets: sizeBuckets,
		}, []string{"type"}),

		CompressionRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gpuinfo_compression_ratio",
			Help: "Compression ratio of the last pushed report (original/compressed).",
		}),
	}

	reg.MustRegister(
		m.CollectionDuration,
		m.CollectionsTotal,
		m.CollectionErrorsTotal,
		m.ProcessResolutionFailures,
		m.LastSuccessTimestamp,
		m.PushDuration,
		m.PushTotal,
		m.PushRetries,
		m.PushSizeBytes,
		m.CompressionRatio,
	)

	return m
}
