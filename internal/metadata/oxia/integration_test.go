package oxia

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/chunklog/chunklog/internal/metadata"
)

// Set OXIA_SERVICE_ADDRESS to run these against an external server instead
// of an embedded standalone one.

func TestIntegration_PutGetDelete(t *testing.T) {
	store := NewTestStore(t)
	ctx := context.Background()

	key := "/chunklog/v1/scavenge/checkpoint"
	version, err := store.Put(ctx, key, []byte(`{"stage":"cleaning"}`))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if version < 1 {
		t.Errorf("expected version >= 1, got %d", version)
	}

	result, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !result.Exists || result.Version != version {
		t.Errorf("Get = %+v, want version %d", result, version)
	}

	if _, err := store.Put(ctx, key, []byte("stale"), metadata.IfVersion(version+10)); !errors.Is(err, metadata.ErrVersionMismatch) {
		t.Errorf("stale CAS = %v, want ErrVersionMismatch", err)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Errorf("second Delete should be idempotent, got: %v", err)
	}
}

func TestIntegration_ListAndDeleteRange(t *testing.T) {
	store := NewTestStore(t)
	ctx := context.Background()

	prefix := "/chunklog/v1/scavenge/weights/"
	for i := 0; i < 6; i++ {
		key := fmt.Sprintf("%s%010d", prefix, i)
		if _, err := store.Put(ctx, key, []byte("1.5")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	all, err := store.List(ctx, prefix, "", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 6 {
		t.Fatalf("expected 6 results, got %d", len(all))
	}

	limited, err := store.List(ctx, prefix, "", 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("List with limit = %d results, %v", len(limited), err)
	}

	start := fmt.Sprintf("%s%010d", prefix, 1)
	end := fmt.Sprintf("%s%010d", prefix, 4)
	if err := store.DeleteRange(ctx, start, end); err != nil {
		t.Fatalf("DeleteRange failed: %v", err)
	}

	rest, err := store.List(ctx, prefix, "", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(rest) != 3 {
		t.Errorf("expected 3 keys after range delete, got %d", len(rest))
	}
}

func TestIntegration_EphemeralLock(t *testing.T) {
	store := NewTestStore(t)
	ctx := context.Background()

	key := "/chunklog/v1/scavenge/lock"
	if _, err := store.Put(ctx, key, []byte("node-a"), metadata.Ephemeral(), metadata.IfAbsent()); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	_, err := store.Put(ctx, key, []byte("node-b"), metadata.Ephemeral(), metadata.IfAbsent())
	if !errors.Is(err, metadata.ErrVersionMismatch) {
		t.Errorf("second acquire = %v, want ErrVersionMismatch", err)
	}
}

func TestIntegration_ClosedStore(t *testing.T) {
	store := NewTestStore(t)
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := store.Get(context.Background(), "/k"); !errors.Is(err, metadata.ErrStoreClosed) {
		t.Errorf("Get after close = %v, want ErrStoreClosed", err)
	}
}
