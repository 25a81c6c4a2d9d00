package scavenge

import (
	"encoding/json"
	"fmt"
)

// Stage names a phase of a scavenge run.
type Stage string

const (
	StageExecutingChunks Stage = "executingChunks"
	StageCleaning        Stage = "cleaning"
	StageDone            Stage = "done"
)

// Checkpoint is the durable progress marker of a run. It is one of
// ExecutingChunks, Cleaning or Done.
type Checkpoint interface {
	Stage() Stage
	ScavengePoint() ScavengePoint
	isCheckpoint()
}

// ExecutingChunks records progress through the chunk execution stage.
// DoneChunk is the last logical chunk whose execution is complete, or nil
// when no chunk has completed yet.
type ExecutingChunks struct {
	Point     ScavengePoint
	DoneChunk *int
}

func (c ExecutingChunks) Stage() Stage                 { return StageExecutingChunks }
func (c ExecutingChunks) ScavengePoint() ScavengePoint { return c.Point }
func (ExecutingChunks) isCheckpoint()                  {}

// StartFrom returns the first logical chunk still to be executed.
func (c ExecutingChunks) StartFrom() int {
	if c.DoneChunk == nil {
		return 0
	}
	return *c.DoneChunk + 1
}

func (c ExecutingChunks) String() string {
	if c.DoneChunk == nil {
		return fmt.Sprintf("executing chunks for %s, none done", c.Point.Name)
	}
	return fmt.Sprintf("executing chunks for %s, done through chunk %d", c.Point.Name, *c.DoneChunk)
}

// Cleaning records that the run reached the cleanup stage.
type Cleaning struct {
	Point ScavengePoint
}

func (c Cleaning) Stage() Stage                 { return StageCleaning }
func (c Cleaning) ScavengePoint() ScavengePoint { return c.Point }
func (Cleaning) isCheckpoint()                  {}

func (c Cleaning) String() string {
	return fmt.Sprintf("cleaning for %s", c.Point.Name)
}

// Done records a completed run.
type Done struct {
	Point ScavengePoint
}

func (c Done) Stage() Stage                 { return StageDone }
func (c Done) ScavengePoint() ScavengePoint { return c.Point }
func (Done) isCheckpoint()                  {}

func (c Done) String() string {
	return fmt.Sprintf("done with %s", c.Point.Name)
}

// ChunkDone returns a pointer to n for building ExecutingChunks values.
func ChunkDone(n int) *int {
	return &n
}

type checkpointRecord struct {
	Stage         Stage         `json:"stage"`
	ScavengePoint ScavengePoint `json:"scavengePoint"`
	DoneChunk     *int          `json:"doneChunk,omitempty"`
}

// MarshalCheckpoint encodes a checkpoint for durable storage.
func MarshalCheckpoint(c Checkpoint) ([]byte, error) {
	rec := checkpointRecord{Stage: c.Stage(), ScavengePoint: c.ScavengePoint()}
	if ec, ok := c.(ExecutingChunks); ok {
		rec.DoneChunk = ec.DoneChunk
	}
	return json.Marshal(rec)
}

// UnmarshalCheckpoint decodes a checkpoint written by MarshalCheckpoint.
func UnmarshalCheckpoint(data []byte) (Checkpoint, error) {
	var rec checkpointRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCheckpoint, err)
	}
	switch rec.Stage {
	case StageExecutingChunks:
		return ExecutingChunks{Point: rec.ScavengePoint, DoneChunk: rec.DoneChunk}, nil
	case StageCleaning:
		return Cleaning{Point: rec.ScavengePoint}, nil
	case StageDone:
		return Done{Point: rec.ScavengePoint}, nil
	default:
		return nil, fmt.Errorf("%w: unknown stage %q", ErrInvalidCheckpoint, rec.Stage)
	}
}
