// Package state persists scavenge progress and bookkeeping in the metadata
// store.
//
// Chunk weights are stored one key per logical chunk, and only while they
// are non-zero, so "every weighted chunk has been executed" is a single
// bounded list. Stream bookkeeping is keyed by stream id. The checkpoint
// and the history of scavenge points live under fixed keys.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chunklog/chunklog/internal/logging"
	"github.com/chunklog/chunklog/internal/metadata"
	"github.com/chunklog/chunklog/internal/metadata/keys"
	"github.com/chunklog/chunklog/internal/scavenge"
)

// ErrTransactionClosed is returned by a transaction after Commit or Rollback.
var ErrTransactionClosed = errors.New("state: transaction already closed")

// Config configures the state store.
type Config struct {
	// Workers is the number of worker handles that can be borrowed at once.
	// It bounds the executor's thread count.
	// Default: 4
	Workers int

	// CacheSize is the number of stream lookups cached per worker.
	// Default: 4096
	CacheSize int
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{Workers: 4, CacheSize: 4096}
}

// Store implements scavenge.StateStore over a metadata.MetadataStore.
type Store struct {
	meta    metadata.MetadataStore
	workers chan *worker
	logger  *logging.Logger
}

var _ scavenge.StateStore = (*Store)(nil)

// New creates a state store.
func New(meta metadata.MetadataStore, cfg Config, logger *logging.Logger) *Store {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 4096
	}
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Store{
		meta:    meta,
		workers: make(chan *worker, cfg.Workers),
		logger:  logger.With(map[string]any{"component": "scavenge-state"}),
	}
	for id := range cfg.Workers {
		s.workers <- &worker{id: id, store: s, cacheSize: cfg.CacheSize}
	}
	return s
}

// Checkpoint returns the stored checkpoint.
func (s *Store) Checkpoint(ctx context.Context) (scavenge.Checkpoint, bool, error) {
	res, err := s.meta.Get(ctx, keys.CheckpointKey)
	if err != nil {
		return nil, false, fmt.Errorf("state: get checkpoint: %w", err)
	}
	if !res.Exists {
		return nil, false, nil
	}
	cp, err := scavenge.UnmarshalCheckpoint(res.Value)
	if err != nil {
		return nil, false, err
	}
	return cp, true, nil
}

// SetCheckpoint stores cp. The first checkpoint of a scavenge point also
// records the point in the history.
func (s *Store) SetCheckpoint(ctx context.Context, cp scavenge.Checkpoint) error {
	if ec, ok := cp.(scavenge.ExecutingChunks); ok && ec.DoneChunk == nil {
		if err := s.recordScavengePoint(ctx, ec.Point); err != nil {
			return err
		}
	}
	return s.putCheckpoint(ctx, cp)
}

func (s *Store) putCheckpoint(ctx context.Context, cp scavenge.Checkpoint) error {
	data, err := scavenge.MarshalCheckpoint(cp)
	if err != nil {
		return fmt.Errorf("state: encode checkpoint: %w", err)
	}
	if _, err := s.meta.Put(ctx, keys.CheckpointKey, data); err != nil {
		return fmt.Errorf("state: put checkpoint: %w", err)
	}
	return nil
}

func (s *Store) recordScavengePoint(ctx context.Context, sp scavenge.ScavengePoint) error {
	key, err := keys.ScavengePointKey(sp.Number)
	if err != nil {
		return err
	}
	data, err := json.Marshal(sp)
	if err != nil {
		return fmt.Errorf("state: encode scavenge point: %w", err)
	}
	if _, err := s.meta.Put(ctx, key, data); err != nil {
		return fmt.Errorf("state: put scavenge point: %w", err)
	}
	return nil
}

// ScavengePoints returns every recorded scavenge point, oldest first.
func (s *Store) ScavengePoints(ctx context.Context) ([]scavenge.ScavengePoint, error) {
	kvs, err := s.meta.List(ctx, keys.ScavengePointsPrefix, "", 0)
	if err != nil {
		return nil, fmt.Errorf("state: list scavenge points: %w", err)
	}
	points := make([]scavenge.ScavengePoint, 0, len(kvs))
	for _, kv := range kvs {
		var sp scavenge.ScavengePoint
		if err := json.Unmarshal(kv.Value, &sp); err != nil {
			s.logger.Warnf("skipping unreadable scavenge point", map[string]any{"key": kv.Key, "error": err.Error()})
			continue
		}
		points = append(points, sp)
	}
	return points, nil
}

// AllChunksExecuted reports whether no chunk carries weight.
func (s *Store) AllChunksExecuted(ctx context.Context) (bool, error) {
	kvs, err := s.meta.List(ctx, keys.ChunkWeightsPrefix, "", 1)
	if err != nil {
		return false, fmt.Errorf("state: list chunk weights: %w", err)
	}
	return len(kvs) == 0, nil
}

// BorrowWorker takes a worker handle from the pool, waiting until one is
// free or ctx is done.
func (s *Store) BorrowWorker(ctx context.Context) (scavenge.WorkerState, error) {
	select {
	case w := <-s.workers:
		w.released = false
		return w, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// BeginTransaction starts a cleanup transaction.
func (s *Store) BeginTransaction(ctx context.Context) (scavenge.Transaction, error) {
	return &transaction{store: s}, nil
}
