package scavenge

import (
	"context"
	"fmt"
	"iter"
)

// PhysicalChunks yields the physical chunks from logical chunk startFrom up
// to horizon. Each reader is owned by the consumer, which must close it.
//
// The sequence stops with ErrChunkNotReadOnly at the first chunk that is
// still open.
func PhysicalChunks(ctx context.Context, chunks ChunkManager, chunkSize int64, startFrom int, horizon int64) iter.Seq2[ChunkReader, error] {
	return func(yield func(ChunkReader, error) bool) {
		pos := chunkSize * int64(startFrom)
		for pos < horizon {
			reader, err := chunks.GetReaderFor(ctx, pos)
			if err != nil {
				yield(nil, fmt.Errorf("scavenge: resolve chunk at position %d: %w", pos, err))
				return
			}

			r := reader.Range()
			if !r.IsReadOnly {
				_ = reader.Close()
				yield(nil, fmt.Errorf("%w: %s at position %d, horizon %d", ErrChunkNotReadOnly, r, pos, horizon))
				return
			}
			if r.EndPosition <= pos {
				_ = reader.Close()
				yield(nil, fmt.Errorf("scavenge: %s ends at %d, not after position %d", r, r.EndPosition, pos))
				return
			}

			pos = r.EndPosition
			if !yield(reader, nil) {
				return
			}
		}
	}
}
