package scavenge

import (
	"context"
	"fmt"

	"github.com/chunklog/chunklog/internal/logging"
)

// Cleaner runs the cleanup stage: once every weighted chunk has been
// executed it drops the stream bookkeeping that chunk execution consumed.
type Cleaner struct {
	unsafeIgnoreHardDeletes bool
	logger                  *logging.Logger
}

// NewCleaner creates a cleaner.
func NewCleaner(unsafeIgnoreHardDeletes bool, logger *logging.Logger) *Cleaner {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Cleaner{
		unsafeIgnoreHardDeletes: unsafeIgnoreHardDeletes,
		logger:                  logger.With(map[string]any{"component": "cleaner"}),
	}
}

// Clean records the cleaning checkpoint for sp and runs cleanup.
func (c *Cleaner) Clean(ctx context.Context, sp ScavengePoint, state StateStore) error {
	cp := Cleaning{Point: sp}
	if err := state.SetCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("scavenge: set checkpoint: %w", err)
	}
	return c.Resume(ctx, cp, state)
}

// Resume runs cleanup for a stored cleaning checkpoint. It is idempotent.
func (c *Cleaner) Resume(ctx context.Context, cp Cleaning, state StateStore) (err error) {
	txn, err := state.BeginTransaction(ctx)
	if err != nil {
		return fmt.Errorf("scavenge: begin cleanup transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := txn.Rollback(); rbErr != nil {
				c.logger.Ctx(ctx).Warnf("rollback cleanup transaction", map[string]any{"error": rbErr.Error()})
			}
		}
	}()

	allExecuted, err := state.AllChunksExecuted(ctx)
	if err != nil {
		return fmt.Errorf("scavenge: check chunk weights: %w", err)
	}

	switch {
	case allExecuted:
		if err := txn.DeleteMetastreamData(ctx); err != nil {
			return fmt.Errorf("scavenge: delete metastream data: %w", err)
		}
		if err := txn.DeleteOriginalStreamData(ctx, c.unsafeIgnoreHardDeletes); err != nil {
			return fmt.Errorf("scavenge: delete original stream data: %w", err)
		}
	case c.unsafeIgnoreHardDeletes:
		return ErrCleanupPrecondition
	default:
		c.logger.Ctx(ctx).Infof("chunks with weight remain, skipping cleanup", map[string]any{
			"scavengePoint": cp.Point.Number,
		})
	}

	if err := txn.Commit(ctx, cp); err != nil {
		return fmt.Errorf("scavenge: commit cleanup: %w", err)
	}
	return nil
}
