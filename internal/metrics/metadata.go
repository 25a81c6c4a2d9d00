package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/chunklog/chunklog/internal/metadata"
)

// MetadataMetrics holds metrics for scavenge state operations against the
// metadata store.
type MetadataMetrics struct {
	// LatencyHistogram tracks metadata operation latencies broken down by operation type and status.
	// Labels: operation (get, put, delete, list, delete_range, put_ephemeral), status (success, failure)
	LatencyHistogram *prometheus.HistogramVec

	// RequestsTotal tracks total metadata operations by operation type and status.
	RequestsTotal *prometheus.CounterVec
}

// DefaultMetadataLatencyBuckets are latency buckets for metadata operations.
// Optimized for metadata operations which are typically fast (sub-ms to tens of ms).
var DefaultMetadataLatencyBuckets = []float64{
	0.0001, // 0.1ms
	0.0005, // 0.5ms
	0.001,  // 1ms
	0.002,  // 2ms
	0.005,  // 5ms
	0.01,   // 10ms
	0.025,  // 25ms
	0.05,   // 50ms
	0.1,    // 100ms
	0.25,   // 250ms
	0.5,    // 500ms
	1.0,    // 1s
	2.5,    // 2.5s
	5.0,    // 5s
}

// NewMetadataMetrics creates metadata metrics registered with the default registry.
func NewMetadataMetrics() *MetadataMetrics {
	return NewMetadataMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetadataMetricsWithRegistry creates metadata metrics registered with a custom registry.
func NewMetadataMetricsWithRegistry(reg prometheus.Registerer) *MetadataMetrics {
	factory := promauto.With(reg)
	return &MetadataMetrics{
		LatencyHistogram: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "metadata",
				Name:      "operation_latency_seconds",
				Help:      "Metadata operation latency in seconds, broken down by operation type and status.",
				Buckets:   DefaultMetadataLatencyBuckets,
			},
			[]string{"operation", "status"},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "metadata",
				Name:      "operations_total",
				Help:      "Total number of metadata operations, broken down by operation type and status.",
			},
			[]string{"operation", "status"},
		),
	}
}

// RecordOperation records a metadata operation latency and increments the request counter.
func (m *MetadataMetrics) RecordOperation(op string, durationSeconds float64, success bool) {
	status := statusLabel(success)
	m.LatencyHistogram.WithLabelValues(op, status).Observe(durationSeconds)
	m.RequestsTotal.WithLabelValues(op, status).Inc()
}

var _ metadata.MetricsRecorder = (*MetadataMetrics)(nil)
