package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chunklog/chunklog/internal/metadata/keys"
	"github.com/chunklog/chunklog/internal/scavenge"
)

// worker is a borrowed handle. Its stream cache is private to the slot
// holding it and is dropped on release.
type worker struct {
	id        int
	store     *Store
	cacheSize int
	infos     map[string]scavenge.ChunkExecutionInfo
	metas     map[string]scavenge.MetastreamData
	released  bool
}

var _ scavenge.WorkerState = (*worker)(nil)

func (w *worker) SumChunkWeights(ctx context.Context, startChunk, endChunk int) (float64, error) {
	start, end, err := keys.ChunkWeightRange(startChunk, endChunk)
	if err != nil {
		return 0, err
	}
	kvs, err := w.store.meta.List(ctx, start, end, 0)
	if err != nil {
		return 0, fmt.Errorf("state: list weights %d-%d: %w", startChunk, endChunk, err)
	}
	var sum float64
	for _, kv := range kvs {
		weight, err := decodeWeight(kv.Value)
		if err != nil {
			return 0, fmt.Errorf("state: weight %s: %w", kv.Key, err)
		}
		sum += weight
	}
	return sum, nil
}

func (w *worker) ResetChunkWeights(ctx context.Context, startChunk, endChunk int) error {
	start, end, err := keys.ChunkWeightRange(startChunk, endChunk)
	if err != nil {
		return err
	}
	if err := w.store.meta.DeleteRange(ctx, start, end); err != nil {
		return fmt.Errorf("state: reset weights %d-%d: %w", startChunk, endChunk, err)
	}
	return nil
}

func (w *worker) TryGetExecutionInfo(ctx context.Context, streamID string) (scavenge.ChunkExecutionInfo, bool, error) {
	if info, ok := w.infos[streamID]; ok {
		return info, true, nil
	}
	key, err := keys.OriginalStreamKey(streamID)
	if err != nil {
		return scavenge.ChunkExecutionInfo{}, false, err
	}
	var data scavenge.OriginalStreamData
	ok, err := w.store.getJSON(ctx, key, &data)
	if err != nil || !ok {
		return scavenge.ChunkExecutionInfo{}, false, err
	}
	info := data.ExecutionInfo()
	if w.infos == nil || len(w.infos) >= w.cacheSize {
		w.infos = make(map[string]scavenge.ChunkExecutionInfo)
	}
	w.infos[streamID] = info
	return info, true, nil
}

func (w *worker) TryGetMetastreamData(ctx context.Context, streamID string) (scavenge.MetastreamData, bool, error) {
	if data, ok := w.metas[streamID]; ok {
		return data, true, nil
	}
	key, err := keys.MetastreamKey(streamID)
	if err != nil {
		return scavenge.MetastreamData{}, false, err
	}
	var data scavenge.MetastreamData
	ok, err := w.store.getJSON(ctx, key, &data)
	if err != nil || !ok {
		return scavenge.MetastreamData{}, false, err
	}
	if w.metas == nil || len(w.metas) >= w.cacheSize {
		w.metas = make(map[string]scavenge.MetastreamData)
	}
	w.metas[streamID] = data
	return data, true, nil
}

// Release returns the handle to the pool. Releasing twice is a no-op.
func (w *worker) Release() {
	if w.released {
		return
	}
	w.released = true
	w.infos = nil
	w.metas = nil
	w.store.workers <- w
}

func (s *Store) getJSON(ctx context.Context, key string, v any) (bool, error) {
	res, err := s.meta.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("state: get %s: %w", key, err)
	}
	if !res.Exists {
		return false, nil
	}
	if err := json.Unmarshal(res.Value, v); err != nil {
		return false, fmt.Errorf("state: decode %s: %w", key, err)
	}
	return true, nil
}
