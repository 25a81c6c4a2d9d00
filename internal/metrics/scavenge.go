package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/chunklog/chunklog/internal/scavenge"
)

// Namespace prefixes every metric exported by chunklogd.
const Namespace = "chunklog"

// ScavengeMetrics holds metrics describing scavenge runs.
type ScavengeMetrics struct {
	// ChunksTotal counts chunks by outcome.
	// Labels: outcome (skipped, left_to_archiver, removal_started, rewritten, failed)
	ChunksTotal *prometheus.CounterVec

	// ChunkDuration tracks time spent rewriting a single chunk.
	ChunkDuration prometheus.Histogram

	BytesSavedTotal prometheus.Counter

	// RecordsTotal counts records seen during rewrites.
	// Labels: disposition (kept, discarded)
	RecordsTotal *prometheus.CounterVec

	// CheckpointChunk is the first chunk number of the last checkpoint written.
	CheckpointChunk prometheus.Gauge

	// Status is 1 for the current run status and 0 for every other status.
	Status *prometheus.GaugeVec

	// StageDuration tracks stage latencies.
	// Labels: stage (executingChunks, cleaning), status (success, failure)
	StageDuration *prometheus.HistogramVec
}

// DefaultChunkDurationBuckets are latency buckets for chunk rewrites.
var DefaultChunkDurationBuckets = []float64{
	0.01, // 10ms
	0.05, // 50ms
	0.1,  // 100ms
	0.5,  // 500ms
	1,    // 1s
	5,    // 5s
	10,   // 10s
	30,   // 30s
	60,   // 1m
	300,  // 5m
}

// DefaultStageDurationBuckets are latency buckets for whole stages.
var DefaultStageDurationBuckets = []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 21600}

var runStatuses = []string{
	scavenge.StatusIdle,
	scavenge.StatusRunning,
	scavenge.StatusCompleted,
	scavenge.StatusFaulted,
	scavenge.StatusStopped,
}

// NewScavengeMetrics creates scavenge metrics registered with the default registry.
func NewScavengeMetrics() *ScavengeMetrics {
	return NewScavengeMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewScavengeMetricsWithRegistry creates scavenge metrics registered with a custom registry.
func NewScavengeMetricsWithRegistry(reg prometheus.Registerer) *ScavengeMetrics {
	factory := promauto.With(reg)
	m := &ScavengeMetrics{
		ChunksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "scavenge",
				Name:      "chunks_total",
				Help:      "Total number of chunks processed, broken down by outcome.",
			},
			[]string{"outcome"},
		),
		ChunkDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "scavenge",
				Name:      "chunk_duration_seconds",
				Help:      "Time spent rewriting a chunk in seconds.",
				Buckets:   DefaultChunkDurationBuckets,
			},
		),
		BytesSavedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "scavenge",
				Name:      "bytes_saved_total",
				Help:      "Total bytes reclaimed by chunk rewrites.",
			},
		),
		RecordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "scavenge",
				Name:      "records_total",
				Help:      "Total records processed by chunk rewrites, broken down by disposition.",
			},
			[]string{"disposition"},
		),
		CheckpointChunk: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "scavenge",
				Name:      "checkpoint_chunk",
				Help:      "First chunk number recorded in the most recent checkpoint.",
			},
		),
		Status: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "scavenge",
				Name:      "status",
				Help:      "Current scavenge run status (1 for the active status).",
			},
			[]string{"status"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "scavenge",
				Name:      "stage_duration_seconds",
				Help:      "Scavenge stage duration in seconds, broken down by stage and status.",
				Buckets:   DefaultStageDurationBuckets,
			},
			[]string{"stage", "status"},
		),
	}
	m.SetStatus(scavenge.StatusIdle)
	return m
}

// RecordChunk counts a chunk outcome. Rewrites also observe their duration.
func (m *ScavengeMetrics) RecordChunk(outcome string, durationSeconds float64) {
	m.ChunksTotal.WithLabelValues(outcome).Inc()
	if outcome == scavenge.OutcomeRewritten {
		m.ChunkDuration.Observe(durationSeconds)
	}
}

// RecordRewrite records the effect of one completed chunk rewrite.
func (m *ScavengeMetrics) RecordRewrite(bytesSaved int64, kept, discarded int) {
	if bytesSaved > 0 {
		m.BytesSavedTotal.Add(float64(bytesSaved))
	}
	m.RecordsTotal.WithLabelValues("kept").Add(float64(kept))
	m.RecordsTotal.WithLabelValues("discarded").Add(float64(discarded))
}

func (m *ScavengeMetrics) SetCheckpointChunk(chunk int) {
	m.CheckpointChunk.Set(float64(chunk))
}

// SetStatus marks status as the only active run status.
func (m *ScavengeMetrics) SetStatus(status string) {
	for _, s := range runStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		m.Status.WithLabelValues(s).Set(v)
	}
}

func (m *ScavengeMetrics) RecordStage(stage string, durationSeconds float64, success bool) {
	m.StageDuration.WithLabelValues(stage, statusLabel(success)).Observe(durationSeconds)
}

var _ scavenge.MetricsRecorder = (*ScavengeMetrics)(nil)
