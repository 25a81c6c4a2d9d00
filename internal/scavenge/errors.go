package scavenge

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrChunkNotReadOnly is returned when an open chunk is found before the
	// scavenge point. It indicates a structural inconsistency and is never retried.
	ErrChunkNotReadOnly = errors.New("scavenge: chunk before the scavenge point is not read-only")

	// ErrChunkDeleted is returned by chunk readers whose file was removed
	// while being scavenged.
	ErrChunkDeleted = errors.New("scavenge: source chunk was deleted")

	// ErrCreateWriter wraps failures to create the output of a rewrite.
	ErrCreateWriter = errors.New("scavenge: could not create chunk writer")

	// ErrCleanupPrecondition is returned when cleanup runs with
	// UnsafeIgnoreHardDeletes set before every weighted chunk was executed.
	ErrCleanupPrecondition = errors.New("scavenge: cleanup requires every weighted chunk to be executed")

	// ErrInvalidCheckpoint is returned for a checkpoint that cannot be decoded.
	ErrInvalidCheckpoint = errors.New("scavenge: invalid checkpoint")
)

// ChunkError reports a failure while executing one physical chunk.
type ChunkError struct {
	StartNumber int
	EndNumber   int
	Weight      float64
	Err         error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("scavenge: chunk %d-%d (weight %.2f): %v", e.StartNumber, e.EndNumber, e.Weight, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// isCancellation reports whether err stems from ctx being cancelled.
func isCancellation(ctx context.Context, err error) bool {
	if ctx.Err() == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// isStopped reports whether err is a cancellation rather than a fault.
func isStopped(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
