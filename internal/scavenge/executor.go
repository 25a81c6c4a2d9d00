package scavenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chunklog/chunklog/internal/logging"
	"github.com/chunklog/chunklog/internal/parallel"
	"github.com/chunklog/chunklog/internal/record"
)

// ExecutorConfig configures chunk execution.
type ExecutorConfig struct {
	// Threads is the requested degree of parallelism. It is clamped into
	// [MinThreads, MaxThreads].
	Threads    int
	MinThreads int
	MaxThreads int

	// ChunkSize is the size of one logical chunk in log positions.
	ChunkSize int64

	// UnsafeIgnoreHardDeletes rewrites every chunk and discards tombstoned
	// streams completely.
	UnsafeIgnoreHardDeletes bool

	// CancellationCheckPeriod is the number of records between cancellation
	// checks during a rewrite.
	// Default: 1024
	CancellationCheckPeriod int

	// IsArchiver marks the node that owns remote chunks.
	IsArchiver bool

	// ThrottlePercent limits a single threaded run to this share of wall
	// time. 100 disables throttling.
	// Default: 100
	ThrottlePercent int
}

// DefaultExecutorConfig returns default configuration.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Threads:                 1,
		MinThreads:              1,
		MaxThreads:              4,
		ChunkSize:               256 * 1024 * 1024,
		CancellationCheckPeriod: 1024,
		ThrottlePercent:         100,
	}
}

// ChunkExecutor runs the chunk execution stage: it visits every physical
// chunk below the scavenge point and skips, leaves, removes or rewrites it.
type ChunkExecutor struct {
	config   ExecutorConfig
	chunks   ChunkManager
	archive  ArchiveStorage
	remover  ChunkRemover
	policy   DiscardPolicy
	throttle *Throttle
	observer Observer
	logger   *logging.Logger
	now      func() time.Time
}

// NewChunkExecutor creates a chunk executor. A nil observer or logger is
// replaced by a no-op one.
func NewChunkExecutor(
	config ExecutorConfig,
	chunks ChunkManager,
	archive ArchiveStorage,
	remover ChunkRemover,
	observer Observer,
	logger *logging.Logger,
) *ChunkExecutor {
	if config.MinThreads <= 0 {
		config.MinThreads = 1
	}
	if config.MaxThreads < config.MinThreads {
		config.MaxThreads = config.MinThreads
	}
	if config.CancellationCheckPeriod <= 0 {
		config.CancellationCheckPeriod = 1024
	}
	if config.ThrottlePercent <= 0 {
		config.ThrottlePercent = 100
	}
	if observer == nil {
		observer = NopObserver{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &ChunkExecutor{
		config:   config,
		chunks:   chunks,
		archive:  archive,
		remover:  remover,
		policy:   DiscardPolicy{UnsafeIgnoreHardDeletes: config.UnsafeIgnoreHardDeletes},
		throttle: NewThrottle(config.ThrottlePercent),
		observer: observer,
		logger:   logger.With(map[string]any{"component": "chunk-executor"}),
		now:      time.Now,
	}
}

// Execute starts chunk execution for sp from the first chunk.
func (e *ChunkExecutor) Execute(ctx context.Context, sp ScavengePoint, state StateStore) error {
	cp := ExecutingChunks{Point: sp}
	if err := state.SetCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("scavenge: set checkpoint: %w", err)
	}
	return e.Resume(ctx, cp, state)
}

// Resume continues chunk execution after the chunk recorded in cp.
func (e *ChunkExecutor) Resume(ctx context.Context, cp ExecutingChunks, state StateStore) error {
	sp := cp.Point
	threads := e.clampThreads()

	workers := make([]WorkerState, 0, threads)
	defer func() {
		for _, w := range workers {
			w.Release()
		}
	}()
	for range threads {
		w, err := state.BorrowWorker(ctx)
		if err != nil {
			return fmt.Errorf("scavenge: borrow worker: %w", err)
		}
		workers = append(workers, w)
	}

	// One stopwatch per slot so throttling sees only the last chunk's work.
	started := make([]time.Time, threads)
	var lastWorked time.Duration

	loop := parallel.Loop[ChunkReader, int]{
		Degree: threads,
		Process: func(ctx context.Context, slot int, chunk ChunkReader) error {
			defer chunk.Close()
			started[slot] = e.now()
			err := e.executeChunk(ctx, sp, workers[slot], chunk)
			if threads == 1 {
				lastWorked = e.now().Sub(started[slot])
			}
			return err
		},
		CheckpointInclusive: func(chunk ChunkReader) int {
			return chunk.Range().EndNumber
		},
		CheckpointExclusive: func(chunk ChunkReader) (int, bool) {
			n := chunk.Range().StartNumber - 1
			return n, n >= 0
		},
		OnCheckpoint: func(ctx context.Context, done int) error {
			next := ExecutingChunks{Point: sp, DoneChunk: ChunkDone(done)}
			if err := state.SetCheckpoint(ctx, next); err != nil {
				return fmt.Errorf("scavenge: set checkpoint: %w", err)
			}
			e.observer.CheckpointAdvanced(next)
			if threads == 1 {
				return e.throttle.Rest(ctx, lastWorked)
			}
			return nil
		},
	}

	e.logger.Ctx(ctx).Infof("executing chunks", map[string]any{
		"scavengePoint": sp.Number,
		"startFrom":     cp.StartFrom(),
		"threads":       threads,
	})
	return loop.Run(ctx, PhysicalChunks(ctx, e.chunks, e.config.ChunkSize, cp.StartFrom(), sp.Position))
}

func (e *ChunkExecutor) clampThreads() int {
	threads := min(max(e.config.Threads, e.config.MinThreads), e.config.MaxThreads)
	if threads != e.config.Threads {
		e.logger.Warnf("thread count out of range, clamped", map[string]any{
			"requested": e.config.Threads,
			"min":       e.config.MinThreads,
			"max":       e.config.MaxThreads,
			"threads":   threads,
		})
	}
	return threads
}

// executeChunk applies the disposition table to one physical chunk.
func (e *ChunkExecutor) executeChunk(ctx context.Context, sp ScavengePoint, w WorkerState, chunk ChunkReader) error {
	r := chunk.Range()

	weight, err := w.SumChunkWeights(ctx, r.StartNumber, r.EndNumber)
	if err != nil {
		return e.chunkFailed(ctx, r, 0, fmt.Errorf("sum weights: %w", err))
	}

	cond := ChunkConditions{
		Remote:        r.IsRemote,
		Archiver:      e.config.IsArchiver,
		OverThreshold: weight > sp.Threshold || e.config.UnsafeIgnoreHardDeletes,
	}
	if RemovalCheckRequired(cond.Remote, cond.Archiver) {
		cond.Removable, err = e.remover.StartRemovingIfNotRetained(ctx, sp, w, chunk)
		if err != nil {
			return e.chunkFailed(ctx, r, weight, fmt.Errorf("start removal: %w", err))
		}
	}

	disposition := Decide(cond)
	switch disposition {
	case Skip:
		e.observer.ChunkSkipped(r, weight)
	case LeaveToArchiver:
		e.observer.ChunkLeftToArchiver(r, weight)
	case Remove:
		e.observer.ChunkRemovalStarted(r, weight)
	case Rewrite:
		stats, err := e.rewrite(ctx, sp, w, chunk)
		if err != nil {
			return e.chunkFailed(ctx, r, weight, err)
		}
		e.observer.ChunksScavenged(r, stats)
	}

	if disposition.ResetsWeight(weight) {
		if err := w.ResetChunkWeights(ctx, r.StartNumber, r.EndNumber); err != nil {
			return e.chunkFailed(ctx, r, weight, fmt.Errorf("reset weights: %w", err))
		}
	}
	return nil
}

// chunkFailed wraps err for chunk r. A cancelled run is reported as
// stopped rather than failed.
func (e *ChunkExecutor) chunkFailed(ctx context.Context, r PhysicalChunkRange, weight float64, err error) error {
	chunkErr := &ChunkError{
		StartNumber: r.StartNumber,
		EndNumber:   r.EndNumber,
		Weight:      weight,
		Err:         err,
	}
	if isCancellation(ctx, err) {
		e.observer.ChunkScavengeStopped(r, chunkErr)
		return chunkErr
	}
	e.observer.ChunkScavengeFailed(r, weight, chunkErr)
	return chunkErr
}

// rewrite copies chunk into a new file without its discarded records and
// puts the result in place.
func (e *ChunkExecutor) rewrite(ctx context.Context, sp ScavengePoint, w WorkerState, chunk ChunkReader) (RewriteStats, error) {
	start := e.now()
	src := chunk.Range()

	writer, err := e.chunks.CreateWriter(ctx, chunk)
	if err != nil {
		return RewriteStats{}, fmt.Errorf("%w: %w", ErrCreateWriter, err)
	}

	stats, err := e.copyRecords(ctx, sp, w, chunk, writer)
	if err == nil {
		err = e.complete(ctx, writer, src, &stats)
	}
	if err != nil {
		deleteImmediately := !isCancellation(ctx, err)
		if abortErr := writer.Abort(deleteImmediately); abortErr != nil {
			e.logger.Ctx(ctx).Warnf("abort rewrite", map[string]any{
				"chunk": src.String(),
				"file":  writer.LocalFileName(),
				"error": abortErr.Error(),
			})
		}
		if errors.Is(err, ErrChunkDeleted) {
			e.logger.Ctx(ctx).Infof("source chunk deleted during rewrite", map[string]any{
				"chunk": src.String(),
			})
		}
		return RewriteStats{}, err
	}

	stats.Elapsed = e.now().Sub(start)
	return stats, nil
}

func (e *ChunkExecutor) copyRecords(ctx context.Context, sp ScavengePoint, w WorkerState, chunk ChunkReader, writer ChunkWriter) (RewriteStats, error) {
	var stats RewriteStats
	n := 0
	for rec, err := range chunk.Records(ctx) {
		if err != nil {
			return stats, fmt.Errorf("read records: %w", err)
		}
		n++
		if n%e.config.CancellationCheckPeriod == 0 {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
		}

		if p, ok := rec.(*record.Prepare); ok {
			discard, err := e.policy.ShouldDiscard(ctx, sp, w, p)
			if err != nil {
				return stats, err
			}
			if discard {
				stats.Discarded++
				continue
			}
		}
		if err := writer.WriteRecord(rec); err != nil {
			return stats, fmt.Errorf("write record at %d: %w", rec.Position(), err)
		}
		stats.Kept++
	}
	return stats, nil
}

func (e *ChunkExecutor) complete(ctx context.Context, writer ChunkWriter, src PhysicalChunkRange, stats *RewriteStats) error {
	completed, err := writer.Complete(ctx)
	if err != nil {
		return fmt.Errorf("complete: %w", err)
	}

	if src.IsRemote {
		if err := e.archive.StoreSegment(ctx, completed); err != nil {
			return fmt.Errorf("store in archive: %w", err)
		}
		if err := completed.MarkForDeletion(); err != nil {
			e.logger.Ctx(ctx).Warnf("discard local copy of archived chunk", map[string]any{
				"file":  completed.FileName(),
				"error": err.Error(),
			})
		}
		stats.NewFileName = completed.FileName()
	} else {
		name, err := e.chunks.SwitchInTemp(ctx, completed)
		if err != nil {
			return fmt.Errorf("switch in: %w", err)
		}
		stats.NewFileName = name
	}

	stats.BytesSaved = src.FileSize - completed.FileSize()
	return nil
}
