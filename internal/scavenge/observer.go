package scavenge

import (
	"time"

	"github.com/dustin/go-humanize"

	"github.com/chunklog/chunklog/internal/logging"
)

// Chunk outcomes reported to a MetricsRecorder.
const (
	OutcomeSkipped        = "skipped"
	OutcomeLeftToArchiver = "left_to_archiver"
	OutcomeRemovalStarted = "removal_started"
	OutcomeRewritten      = "rewritten"
	OutcomeFailed         = "failed"
	OutcomeStopped        = "stopped"
)

// Run statuses reported to a MetricsRecorder.
const (
	StatusIdle      = "idle"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFaulted   = "faulted"
	StatusStopped   = "stopped"
)

// MetricsRecorder is the interface for recording scavenge metrics.
type MetricsRecorder interface {
	RecordChunk(outcome string, durationSeconds float64)
	RecordRewrite(bytesSaved int64, kept, discarded int)
	SetCheckpointChunk(chunk int)
	SetStatus(status string)
	RecordStage(stage string, durationSeconds float64, success bool)
}

// Reporter is an Observer that logs chunk and stage progress and feeds a
// MetricsRecorder. Run start and end are logged by the Scavenger, so the
// run events only move the status gauge.
type Reporter struct {
	logger  *logging.Logger
	metrics MetricsRecorder
}

// NewReporter creates a reporter. metrics may be nil.
func NewReporter(logger *logging.Logger, metrics MetricsRecorder) *Reporter {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Reporter{logger: logger, metrics: metrics}
}

var _ Observer = (*Reporter)(nil)

func (r *Reporter) ScavengeStarted(ScavengePoint) {
	r.setStatus(StatusRunning)
}

func (r *Reporter) ScavengeCompleted(ScavengePoint, time.Duration) {
	r.setStatus(StatusCompleted)
}

func (r *Reporter) ScavengeFailed(_ ScavengePoint, err error) {
	if isStopped(err) {
		r.setStatus(StatusStopped)
		return
	}
	r.setStatus(StatusFaulted)
}

func (r *Reporter) StageStarted(sp ScavengePoint, stage Stage) {
	r.logger.Debugf("stage started", map[string]any{"scavengePoint": sp.Number, "stage": string(stage)})
}

func (r *Reporter) StageCompleted(sp ScavengePoint, stage Stage, elapsed time.Duration) {
	r.logger.Infof("stage completed", map[string]any{
		"scavengePoint": sp.Number,
		"stage":         string(stage),
		"elapsed":       elapsed.String(),
	})
	if r.metrics != nil {
		r.metrics.RecordStage(string(stage), elapsed.Seconds(), true)
	}
}

func (r *Reporter) StageFailed(sp ScavengePoint, stage Stage, err error) {
	r.logger.Warnf("stage failed", map[string]any{
		"scavengePoint": sp.Number,
		"stage":         string(stage),
		"error":         err.Error(),
	})
	if r.metrics != nil {
		r.metrics.RecordStage(string(stage), 0, false)
	}
}

func (r *Reporter) ChunkSkipped(c PhysicalChunkRange, weight float64) {
	r.logger.Debugf("chunk skipped", map[string]any{"chunk": c.String(), "weight": weight})
	r.recordChunk(OutcomeSkipped, 0)
}

func (r *Reporter) ChunkLeftToArchiver(c PhysicalChunkRange, weight float64) {
	r.logger.Debugf("remote chunk left to archiver", map[string]any{"chunk": c.String(), "weight": weight})
	r.recordChunk(OutcomeLeftToArchiver, 0)
}

func (r *Reporter) ChunkRemovalStarted(c PhysicalChunkRange, weight float64) {
	r.logger.Infof("chunk removal started", map[string]any{"chunk": c.String(), "weight": weight})
	r.recordChunk(OutcomeRemovalStarted, 0)
}

func (r *Reporter) ChunksScavenged(c PhysicalChunkRange, stats RewriteStats) {
	saved := "0 B"
	if stats.BytesSaved > 0 {
		saved = humanize.Bytes(uint64(stats.BytesSaved))
	}
	r.logger.Infof("chunk scavenged", map[string]any{
		"chunk":     c.String(),
		"elapsed":   stats.Elapsed.String(),
		"saved":     saved,
		"kept":      stats.Kept,
		"discarded": stats.Discarded,
		"file":      stats.NewFileName,
	})
	r.recordChunk(OutcomeRewritten, stats.Elapsed.Seconds())
	if r.metrics != nil {
		r.metrics.RecordRewrite(stats.BytesSaved, stats.Kept, stats.Discarded)
	}
}

func (r *Reporter) ChunkScavengeFailed(c PhysicalChunkRange, weight float64, err error) {
	r.logger.Warnf("chunk scavenge failed", map[string]any{
		"chunk":  c.String(),
		"weight": weight,
		"error":  err.Error(),
	})
	r.recordChunk(OutcomeFailed, 0)
}

func (r *Reporter) ChunkScavengeStopped(c PhysicalChunkRange, err error) {
	r.logger.Infof("chunk scavenge stopped", map[string]any{
		"chunk":  c.String(),
		"reason": err.Error(),
	})
	r.recordChunk(OutcomeStopped, 0)
}

func (r *Reporter) CheckpointAdvanced(cp Checkpoint) {
	ec, ok := cp.(ExecutingChunks)
	if !ok || ec.DoneChunk == nil {
		return
	}
	if r.metrics != nil {
		r.metrics.SetCheckpointChunk(*ec.DoneChunk)
	}
}

func (r *Reporter) recordChunk(outcome string, seconds float64) {
	if r.metrics != nil {
		r.metrics.RecordChunk(outcome, seconds)
	}
}

func (r *Reporter) setStatus(status string) {
	if r.metrics != nil {
		r.metrics.SetStatus(status)
	}
}
