package health

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/chunklog/chunklog/internal/metadata"
	"github.com/chunklog/chunklog/internal/metadata/keys"
	"github.com/chunklog/chunklog/internal/objectstore"
)

// DefaultObjectStorePrefix is listed when no archive prefix is configured.
// Nothing is written under it.
const DefaultObjectStorePrefix = "chunklog-health-check/"

// probeKey is read but never written.
const probeKey = keys.Prefix + "/health-check"

// FuncChecker is a named readiness check. The other checkers in this
// package are built on it.
type FuncChecker struct {
	name  string
	check func(context.Context) error
}

// NewFuncChecker names check. A nil check is always ready.
func NewFuncChecker(name string, check func(context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, check: check}
}

func (c *FuncChecker) Name() string { return c.name }

func (c *FuncChecker) CheckReady(ctx context.Context) error {
	if c.check == nil {
		return nil
	}
	return c.check(ctx)
}

// NewMetadataStoreChecker is ready while store answers a Get.
func NewMetadataStoreChecker(store metadata.MetadataStore) *FuncChecker {
	return NewFuncChecker("metadata_store", func(ctx context.Context) error {
		if store == nil {
			return errors.New("metadata store not configured")
		}
		if _, err := store.Get(ctx, probeKey); err != nil && !errors.Is(err, metadata.ErrKeyNotFound) {
			return err
		}
		return nil
	})
}

// NewObjectStoreChecker is ready while prefix can be listed. A missing
// prefix still proves the bucket is reachable.
func NewObjectStoreChecker(store objectstore.Store, prefix string) *FuncChecker {
	if prefix == "" {
		prefix = DefaultObjectStorePrefix
	}
	return NewFuncChecker("object_store", func(ctx context.Context) error {
		if store == nil {
			return errors.New("object store not configured")
		}
		if _, err := store.List(ctx, prefix); err != nil && !errors.Is(err, objectstore.ErrNotFound) {
			return err
		}
		return nil
	})
}

// NewDirChecker is ready while dir exists and is a directory.
func NewDirChecker(name, dir string) *FuncChecker {
	return NewFuncChecker(name, func(context.Context) error {
		info, err := os.Stat(dir)
		switch {
		case err != nil:
			return err
		case !info.IsDir():
			return fmt.Errorf("%s is not a directory", dir)
		}
		return nil
	})
}
