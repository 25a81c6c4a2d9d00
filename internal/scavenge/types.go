package scavenge

import (
	"fmt"
	"math"
	"time"
)

// ScavengePoint is the immutable target of one scavenge run.
type ScavengePoint struct {
	Number int `json:"number"`
	// Position is the exclusive log horizon. Nothing at or after it is touched.
	Position int64 `json:"position"`
	// Threshold is the chunk weight above which a chunk is rewritten.
	Threshold float64 `json:"threshold"`
	// EffectiveNow is the reference time for max-age comparisons.
	EffectiveNow time.Time `json:"effectiveNow"`
	Name         string    `json:"name"`
}

func (sp ScavengePoint) String() string {
	return fmt.Sprintf("%s (#%d, position %d)", sp.Name, sp.Number, sp.Position)
}

// PhysicalChunkRange describes the file backing one or more logical chunks.
type PhysicalChunkRange struct {
	StartNumber   int
	EndNumber     int
	StartPosition int64
	EndPosition   int64
	IsRemote      bool
	IsReadOnly    bool
	Name          string
	FileSize      int64
}

func (r PhysicalChunkRange) String() string {
	return fmt.Sprintf("chunk %d-%d", r.StartNumber, r.EndNumber)
}

// DiscardPoint is the first event number to keep. Every event with a
// smaller number may be discarded.
type DiscardPoint int64

// KeepAll discards nothing.
const KeepAll DiscardPoint = 0

// DiscardBefore keeps eventNumber and everything after it.
func DiscardBefore(eventNumber int64) DiscardPoint {
	return DiscardPoint(eventNumber)
}

// DiscardIncluding discards eventNumber and everything before it.
func DiscardIncluding(eventNumber int64) DiscardPoint {
	if eventNumber == math.MaxInt64 {
		return DiscardPoint(math.MaxInt64)
	}
	return DiscardPoint(eventNumber + 1)
}

// ShouldDiscard reports whether eventNumber falls before the discard point.
func (d DiscardPoint) ShouldDiscard(eventNumber int64) bool {
	return eventNumber < int64(d)
}

// IsKeepAll reports whether the point discards nothing.
func (d DiscardPoint) IsKeepAll() bool {
	return d <= KeepAll
}

// Or returns the point that discards more.
func (d DiscardPoint) Or(other DiscardPoint) DiscardPoint {
	return max(d, other)
}

func (d DiscardPoint) String() string {
	if d.IsKeepAll() {
		return "keep all"
	}
	return fmt.Sprintf("discard before %d", int64(d))
}

// ChunkExecutionInfo is the per-stream view used to decide whether a record
// of that stream is discarded.
type ChunkExecutionInfo struct {
	IsTombstoned      bool
	DiscardPoint      DiscardPoint
	MaybeDiscardPoint DiscardPoint
	// MaxAge of zero means the stream has no max age.
	MaxAge time.Duration
}

// DefaultChunkExecutionInfo keeps everything.
var DefaultChunkExecutionInfo = ChunkExecutionInfo{
	DiscardPoint:      KeepAll,
	MaybeDiscardPoint: KeepAll,
}

// MetastreamData is the bookkeeping kept for a metastream.
type MetastreamData struct {
	IsTombstoned bool         `json:"isTombstoned"`
	DiscardPoint DiscardPoint `json:"discardPoint"`
}

// StreamStatus tracks whether original stream bookkeeping is still needed.
type StreamStatus string

const (
	// StatusActive entries are still used by upcoming scavenges.
	StatusActive StreamStatus = "active"
	// StatusArchived entries describe streams whose data may live in the
	// archive only.
	StatusArchived StreamStatus = "archived"
	// StatusSpent entries have been fully applied and can be deleted.
	StatusSpent StreamStatus = "spent"
)

// OriginalStreamData is the bookkeeping kept for an original stream.
type OriginalStreamData struct {
	IsTombstoned      bool          `json:"isTombstoned"`
	DiscardPoint      DiscardPoint  `json:"discardPoint"`
	MaybeDiscardPoint DiscardPoint  `json:"maybeDiscardPoint"`
	MaxAge            time.Duration `json:"maxAge,omitempty"`
	Status            StreamStatus  `json:"status"`
}

// ExecutionInfo converts the bookkeeping into the view used by the policy.
func (d OriginalStreamData) ExecutionInfo() ChunkExecutionInfo {
	return ChunkExecutionInfo{
		IsTombstoned:      d.IsTombstoned,
		DiscardPoint:      d.DiscardPoint,
		MaybeDiscardPoint: d.MaybeDiscardPoint,
		MaxAge:            d.MaxAge,
	}
}

// RewriteStats summarises one chunk rewrite.
type RewriteStats struct {
	Elapsed     time.Duration
	BytesSaved  int64
	Kept        int
	Discarded   int
	NewFileName string
}
