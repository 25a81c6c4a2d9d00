package health

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/chunklog/chunklog/internal/metadata"
	"github.com/chunklog/chunklog/internal/objectstore"
)

func TestMetadataStoreChecker(t *testing.T) {
	if err := NewMetadataStoreChecker(nil).CheckReady(context.Background()); err == nil {
		t.Error("expected error for nil store")
	}

	store := metadata.NewMockStore()
	checker := NewMetadataStoreChecker(store)
	if checker.Name() != "metadata_store" {
		t.Errorf("unexpected name %q", checker.Name())
	}
	if err := checker.CheckReady(context.Background()); err != nil {
		t.Errorf("expected healthy store, got %v", err)
	}

	store.FailOn(metadata.OpGet, errors.New("session expired"))
	if err := checker.CheckReady(context.Background()); err == nil {
		t.Error("expected error from failing store")
	}
}

func TestMetadataStoreChecker_ClosedStore(t *testing.T) {
	store := metadata.NewMockStore()
	store.Close()

	err := NewMetadataStoreChecker(store).CheckReady(context.Background())
	if !errors.Is(err, metadata.ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
}

func TestObjectStoreChecker(t *testing.T) {
	if err := NewObjectStoreChecker(nil, "").CheckReady(context.Background()); err == nil {
		t.Error("expected error for nil store")
	}

	store := objectstore.NewMockStore()
	checker := NewObjectStoreChecker(store, "chunks/")
	if err := checker.CheckReady(context.Background()); err != nil {
		t.Errorf("expected healthy store, got %v", err)
	}
	if store.CallCount(objectstore.OpList) != 1 {
		t.Errorf("expected one List call, got %d", store.CallCount(objectstore.OpList))
	}

	store.FailOn(objectstore.OpList, objectstore.ErrBucketNotFound)
	if err := checker.CheckReady(context.Background()); !errors.Is(err, objectstore.ErrBucketNotFound) {
		t.Errorf("expected ErrBucketNotFound, got %v", err)
	}

	store.FailOn(objectstore.OpList, objectstore.ErrNotFound)
	if err := checker.CheckReady(context.Background()); err != nil {
		t.Errorf("a missing prefix should count as reachable, got %v", err)
	}
}

func TestDirChecker(t *testing.T) {
	dir := t.TempDir()
	if err := NewDirChecker("chunk_dir", dir).CheckReady(context.Background()); err != nil {
		t.Errorf("expected existing dir to be ready, got %v", err)
	}

	if err := NewDirChecker("chunk_dir", filepath.Join(dir, "missing")).CheckReady(context.Background()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}

	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := NewDirChecker("chunk_dir", file).CheckReady(context.Background()); err == nil {
		t.Error("expected error for a regular file")
	}
}

func TestFuncChecker_NilFunc(t *testing.T) {
	c := NewFuncChecker("noop", nil)
	if c.Name() != "noop" {
		t.Errorf("unexpected name %q", c.Name())
	}
	if err := c.CheckReady(context.Background()); err != nil {
		t.Errorf("nil func should be ready, got %v", err)
	}
}
