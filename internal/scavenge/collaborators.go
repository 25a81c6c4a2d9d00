package scavenge

import (
	"context"
	"io"
	"iter"
	"time"

	"github.com/chunklog/chunklog/internal/record"
)

// ChunkManager resolves, rewrites and replaces chunk files.
type ChunkManager interface {
	// GetReaderFor returns a reader for the physical chunk containing position.
	GetReaderFor(ctx context.Context, position int64) (ChunkReader, error)
	// CreateWriter opens an output scoped to the range of source.
	CreateWriter(ctx context.Context, source ChunkReader) (ChunkWriter, error)
	// SwitchInTemp atomically replaces the source chunk with the completed
	// segment and returns the new file name.
	SwitchInTemp(ctx context.Context, completed CompletedSegment) (string, error)
}

// ChunkReader reads one physical chunk.
type ChunkReader interface {
	Range() PhysicalChunkRange
	// Records yields every record in log order. The sequence can be
	// iterated once.
	Records(ctx context.Context) iter.Seq2[record.Record, error]
	Close() error
}

// ChunkWriter builds the rewritten copy of a chunk in a temporary file.
type ChunkWriter interface {
	LocalFileName() string
	WriteRecord(rec record.Record) error
	// Complete writes the index and footer and returns the finished segment.
	Complete(ctx context.Context) (CompletedSegment, error)
	// Abort discards the output. With deleteImmediately unset the temporary
	// file is left behind for the temp sweeper.
	Abort(deleteImmediately bool) error
}

// CompletedSegment is the finished output of a rewrite.
type CompletedSegment interface {
	Range() PhysicalChunkRange
	FileName() string
	FileSize() int64
	Open() (io.ReadCloser, error)
	// MarkForDeletion discards the local copy once it is no longer needed.
	MarkForDeletion() error
}

// ArchiveStorage stores rewritten remote chunks.
type ArchiveStorage interface {
	StoreSegment(ctx context.Context, segment CompletedSegment) error
}

// ChunkRemover removes chunks that are no longer retained locally.
type ChunkRemover interface {
	// StartRemovingIfNotRetained initiates removal of chunk when no retention
	// rule keeps it and reports whether it did. Removal may complete later.
	StartRemovingIfNotRetained(ctx context.Context, sp ScavengePoint, w WorkerState, chunk ChunkReader) (bool, error)
}

// StateStore persists scavenge progress and bookkeeping.
type StateStore interface {
	// Checkpoint returns the stored checkpoint, if any.
	Checkpoint(ctx context.Context) (Checkpoint, bool, error)
	SetCheckpoint(ctx context.Context, checkpoint Checkpoint) error
	// BorrowWorker returns an exclusive handle. The caller must Release it.
	BorrowWorker(ctx context.Context) (WorkerState, error)
	BeginTransaction(ctx context.Context) (Transaction, error)
	// AllChunksExecuted reports whether no chunk weight remains.
	AllChunksExecuted(ctx context.Context) (bool, error)
}

// WorkerState is the per-slot view of the state store.
type WorkerState interface {
	SumChunkWeights(ctx context.Context, startChunk, endChunk int) (float64, error)
	ResetChunkWeights(ctx context.Context, startChunk, endChunk int) error
	TryGetExecutionInfo(ctx context.Context, streamID string) (ChunkExecutionInfo, bool, error)
	TryGetMetastreamData(ctx context.Context, streamID string) (MetastreamData, bool, error)
	Release()
}

// Transaction batches cleanup deletes.
type Transaction interface {
	DeleteMetastreamData(ctx context.Context) error
	// DeleteOriginalStreamData deletes spent entries, and archived entries
	// when deleteArchived is set.
	DeleteOriginalStreamData(ctx context.Context, deleteArchived bool) error
	Commit(ctx context.Context, checkpoint Checkpoint) error
	Rollback() error
}

// Observer receives progress events.
type Observer interface {
	ScavengeStarted(sp ScavengePoint)
	ScavengeCompleted(sp ScavengePoint, elapsed time.Duration)
	ScavengeFailed(sp ScavengePoint, err error)

	StageStarted(sp ScavengePoint, stage Stage)
	StageCompleted(sp ScavengePoint, stage Stage, elapsed time.Duration)
	StageFailed(sp ScavengePoint, stage Stage, err error)

	ChunkSkipped(r PhysicalChunkRange, weight float64)
	ChunkLeftToArchiver(r PhysicalChunkRange, weight float64)
	ChunkRemovalStarted(r PhysicalChunkRange, weight float64)
	ChunksScavenged(r PhysicalChunkRange, stats RewriteStats)
	ChunkScavengeFailed(r PhysicalChunkRange, weight float64, err error)
	// ChunkScavengeStopped reports a chunk abandoned because the run was
	// cancelled. It is not a failure.
	ChunkScavengeStopped(r PhysicalChunkRange, err error)
	CheckpointAdvanced(checkpoint Checkpoint)
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) ScavengeStarted(ScavengePoint)                          {}
func (NopObserver) ScavengeCompleted(ScavengePoint, time.Duration)         {}
func (NopObserver) ScavengeFailed(ScavengePoint, error)                    {}
func (NopObserver) StageStarted(ScavengePoint, Stage)                      {}
func (NopObserver) StageCompleted(ScavengePoint, Stage, time.Duration)     {}
func (NopObserver) StageFailed(ScavengePoint, Stage, error)                {}
func (NopObserver) ChunkSkipped(PhysicalChunkRange, float64)               {}
func (NopObserver) ChunkLeftToArchiver(PhysicalChunkRange, float64)        {}
func (NopObserver) ChunkRemovalStarted(PhysicalChunkRange, float64)        {}
func (NopObserver) ChunksScavenged(PhysicalChunkRange, RewriteStats)       {}
func (NopObserver) ChunkScavengeFailed(PhysicalChunkRange, float64, error) {}
func (NopObserver) ChunkScavengeStopped(PhysicalChunkRange, error)         {}
func (NopObserver) CheckpointAdvanced(Checkpoint)                          {}

var _ Observer = NopObserver{}
