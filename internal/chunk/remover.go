package chunk

import (
	"context"
	"fmt"
	"time"

	"github.com/chunklog/chunklog/internal/logging"
	"github.com/chunklog/chunklog/internal/scavenge"
)

// RetentionConfig controls how long sealed chunks stay on local disk.
type RetentionConfig struct {
	// RetainPeriod keeps a chunk locally while its newest record is younger
	// than this.
	RetainPeriod time.Duration

	// RetainBytes keeps chunks that end within this many log positions of
	// the scavenge point.
	RetainBytes int64
}

// Enabled reports whether any local chunk may be removed.
func (c RetentionConfig) Enabled() bool {
	return c.RetainPeriod > 0 || c.RetainBytes > 0
}

// ArchiveIndex reports whether the archive holds a chunk.
type ArchiveIndex interface {
	HasChunk(ctx context.Context, name string) (bool, error)
}

// RetentionRemover removes local copies of archived chunks that fall outside
// the local retention window. A chunk is only removed once the archive holds
// it, so every removed chunk stays readable remotely.
type RetentionRemover struct {
	config  RetentionConfig
	manager *FileManager
	archive ArchiveIndex
	logger  *logging.Logger
}

var _ scavenge.ChunkRemover = (*RetentionRemover)(nil)

// NewRetentionRemover creates a remover.
func NewRetentionRemover(config RetentionConfig, manager *FileManager, archive ArchiveIndex, logger *logging.Logger) *RetentionRemover {
	if logger == nil {
		logger = logging.Nop()
	}
	return &RetentionRemover{
		config:  config,
		manager: manager,
		archive: archive,
		logger:  logger.With(map[string]any{"component": "chunk-remover"}),
	}
}

// StartRemovingIfNotRetained removes the local file of chunk when neither
// retention rule keeps it. Readers holding the file keep reading it.
func (r *RetentionRemover) StartRemovingIfNotRetained(ctx context.Context, sp scavenge.ScavengePoint, w scavenge.WorkerState, chunk scavenge.ChunkReader) (bool, error) {
	if !r.config.Enabled() || r.archive == nil {
		return false, nil
	}
	rng := chunk.Range()
	if rng.IsRemote || !rng.IsReadOnly {
		return false, nil
	}
	if rng.EndPosition > sp.Position-r.config.RetainBytes {
		return false, nil
	}

	newest, ok := r.manager.MaxTimestamp(rng.StartNumber)
	if r.config.RetainPeriod > 0 {
		if !ok || !newest.Before(sp.EffectiveNow.Add(-r.config.RetainPeriod)) {
			return false, nil
		}
	}

	archived, err := r.archive.HasChunk(ctx, rng.Name)
	if err != nil {
		return false, fmt.Errorf("chunk: check archive for %s: %w", rng.Name, err)
	}
	if !archived {
		return false, nil
	}

	if err := r.manager.RemoveLocal(rng.StartNumber); err != nil {
		return false, err
	}
	r.logger.Infof("removed local chunk outside retention", map[string]any{
		"chunk":  rng.Name,
		"newest": newest,
	})
	return true, nil
}
