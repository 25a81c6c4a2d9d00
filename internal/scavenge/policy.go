package scavenge

import (
	"context"
	"fmt"

	"github.com/chunklog/chunklog/internal/record"
)

// DiscardPolicy decides which prepares a rewrite drops.
type DiscardPolicy struct {
	// UnsafeIgnoreHardDeletes discards every record of a tombstoned stream,
	// tombstones included.
	UnsafeIgnoreHardDeletes bool
}

// ShouldDiscard resolves the stream's execution info through w and decides
// whether p is discarded.
func (d DiscardPolicy) ShouldDiscard(ctx context.Context, sp ScavengePoint, w WorkerState, p *record.Prepare) (bool, error) {
	if p.LogPosition >= sp.Position {
		return false, nil
	}
	info, err := ResolveExecutionInfo(ctx, w, p.StreamID)
	if err != nil {
		return false, err
	}
	return d.Decide(sp, info, p), nil
}

// Decide applies the discard rules to p given its stream's execution info.
func (d DiscardPolicy) Decide(sp ScavengePoint, info ChunkExecutionInfo, p *record.Prepare) bool {
	if p.LogPosition >= sp.Position {
		return false
	}
	if !p.SelfCommitted() {
		return d.decideTransactional(info, p)
	}
	return d.decideSelfCommitted(sp, info, p)
}

func (d DiscardPolicy) decideTransactional(info ChunkExecutionInfo, p *record.Prepare) bool {
	if !info.IsTombstoned {
		return false
	}
	if d.UnsafeIgnoreHardDeletes {
		return true
	}
	return !p.IsTombstone() && p.Role != record.TxnBegin
}

func (d DiscardPolicy) decideSelfCommitted(sp ScavengePoint, info ChunkExecutionInfo, p *record.Prepare) bool {
	discardPoint := info.DiscardPoint
	if info.IsTombstoned {
		if d.UnsafeIgnoreHardDeletes {
			return true
		}
		if record.IsMetastream(p.StreamID) {
			return true
		}
		if p.IsTombstone() {
			return false
		}
		// Everything before the tombstone goes.
		discardPoint = discardPoint.Or(DiscardBefore(record.TombstoneEventNumber))
	}

	if discardPoint.ShouldDiscard(p.EventNumber) {
		return true
	}
	if !info.MaybeDiscardPoint.ShouldDiscard(p.EventNumber) {
		return false
	}
	if info.MaxAge <= 0 {
		return false
	}
	return p.TimeStamp.Before(sp.EffectiveNow.Add(-info.MaxAge))
}

// ResolveExecutionInfo returns the execution info of streamID. Metastreams
// never have a maybe-discard point or max age. Streams without bookkeeping
// keep everything.
func ResolveExecutionInfo(ctx context.Context, w WorkerState, streamID string) (ChunkExecutionInfo, error) {
	if record.IsMetastream(streamID) {
		data, ok, err := w.TryGetMetastreamData(ctx, streamID)
		if err != nil {
			return ChunkExecutionInfo{}, fmt.Errorf("scavenge: metastream data for %q: %w", streamID, err)
		}
		if !ok {
			return DefaultChunkExecutionInfo, nil
		}
		return ChunkExecutionInfo{
			IsTombstoned:      data.IsTombstoned,
			DiscardPoint:      data.DiscardPoint,
			MaybeDiscardPoint: KeepAll,
		}, nil
	}

	info, ok, err := w.TryGetExecutionInfo(ctx, streamID)
	if err != nil {
		return ChunkExecutionInfo{}, fmt.Errorf("scavenge: execution info for %q: %w", streamID, err)
	}
	if !ok {
		return DefaultChunkExecutionInfo, nil
	}
	return info, nil
}
