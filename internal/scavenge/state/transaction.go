package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chunklog/chunklog/internal/metadata/keys"
	"github.com/chunklog/chunklog/internal/scavenge"
)

// transaction buffers cleanup deletes until Commit. Commit applies the
// deletes before writing the checkpoint, and every delete is idempotent, so
// a commit interrupted half way is completed by running cleanup again.
type transaction struct {
	store           *Store
	dropMetastreams bool
	originals       []string
	closed          bool
}

var _ scavenge.Transaction = (*transaction)(nil)

func (t *transaction) DeleteMetastreamData(ctx context.Context) error {
	if t.closed {
		return ErrTransactionClosed
	}
	t.dropMetastreams = true
	return nil
}

func (t *transaction) DeleteOriginalStreamData(ctx context.Context, deleteArchived bool) error {
	if t.closed {
		return ErrTransactionClosed
	}
	kvs, err := t.store.meta.List(ctx, keys.OriginalsPrefix, "", 0)
	if err != nil {
		return fmt.Errorf("state: list original streams: %w", err)
	}
	for _, kv := range kvs {
		var data scavenge.OriginalStreamData
		if err := json.Unmarshal(kv.Value, &data); err != nil {
			return fmt.Errorf("state: decode %s: %w", kv.Key, err)
		}
		switch data.Status {
		case scavenge.StatusSpent:
			t.originals = append(t.originals, kv.Key)
		case scavenge.StatusArchived:
			if deleteArchived {
				t.originals = append(t.originals, kv.Key)
			}
		}
	}
	return nil
}

func (t *transaction) Commit(ctx context.Context, cp scavenge.Checkpoint) error {
	if t.closed {
		return ErrTransactionClosed
	}
	t.closed = true

	meta := t.store.meta
	if t.dropMetastreams {
		if err := meta.DeleteRange(ctx, keys.MetastreamsPrefix, ""); err != nil {
			return fmt.Errorf("state: delete metastream data: %w", err)
		}
	}
	for _, key := range t.originals {
		if err := meta.Delete(ctx, key); err != nil {
			return fmt.Errorf("state: delete %s: %w", key, err)
		}
	}
	t.store.logger.Infof("cleanup committed", map[string]any{
		"metastreams": t.dropMetastreams,
		"originals":   len(t.originals),
	})
	return t.store.putCheckpoint(ctx, cp)
}

// Rollback discards buffered deletes. Rolling back a closed transaction is a
// no-op.
func (t *transaction) Rollback() error {
	t.closed = true
	t.dropMetastreams = false
	t.originals = nil
	return nil
}
