package oxia

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	oxiaclient "github.com/oxia-db/oxia/oxia"

	"github.com/chunklog/chunklog/internal/metadata"
)

// Config configures the Oxia metadata store.
type Config struct {
	// ServiceAddress is the Oxia service endpoint, e.g. "localhost:6648".
	ServiceAddress string

	// Namespace scopes every key of this store.
	Namespace string

	// RequestTimeout bounds each request. Zero keeps the client default.
	RequestTimeout time.Duration

	// SessionTimeout is how long ephemeral keys, and with them the run
	// lock, outlive a silent client. Zero keeps the client default.
	SessionTimeout time.Duration
}

// Store implements metadata.MetadataStore on an Oxia sync client.
type Store struct {
	client oxiaclient.SyncClient
	closed atomic.Bool
}

// New connects to Oxia.
func New(_ context.Context, cfg Config) (*Store, error) {
	if cfg.ServiceAddress == "" {
		return nil, errors.New("oxia: service address is required")
	}
	if cfg.Namespace == "" {
		return nil, errors.New("oxia: namespace is required")
	}

	opts := []oxiaclient.ClientOption{oxiaclient.WithNamespace(cfg.Namespace)}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, oxiaclient.WithRequestTimeout(cfg.RequestTimeout))
	}
	if cfg.SessionTimeout > 0 {
		opts = append(opts, oxiaclient.WithSessionTimeout(cfg.SessionTimeout))
	}

	client, err := oxiaclient.NewSyncClient(cfg.ServiceAddress, opts...)
	if err != nil {
		return nil, fmt.Errorf("oxia: failed to create client: %w", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return metadata.ErrStoreClosed
	}
	return nil
}

// Oxia numbers the first version of a record 0. metadata reserves 0 for
// "absent", so versions are shifted by one in both directions.
func oxiaToMetadataVersion(oxiaVersion int64) metadata.Version {
	return metadata.Version(oxiaVersion + 1)
}

func metadataToOxiaVersion(metaVersion metadata.Version) int64 {
	return int64(metaVersion - 1)
}

// putOptions translates write options into Oxia put options.
func putOptions(o metadata.WriteOptions) []oxiaclient.PutOption {
	var opts []oxiaclient.PutOption
	if o.Ephemeral {
		opts = append(opts, oxiaclient.Ephemeral())
	}
	switch {
	case o.ExpectedVersion == nil:
	case *o.ExpectedVersion == 0:
		opts = append(opts, oxiaclient.ExpectedRecordNotExists())
	default:
		opts = append(opts, oxiaclient.ExpectedVersionId(metadataToOxiaVersion(*o.ExpectedVersion)))
	}
	return opts
}

// wrapErr maps Oxia's condition failure onto metadata.ErrVersionMismatch.
func wrapErr(op string, err error) error {
	if errors.Is(err, oxiaclient.ErrUnexpectedVersionId) {
		return metadata.ErrVersionMismatch
	}
	return fmt.Errorf("oxia: %s failed: %w", op, err)
}

func (s *Store) Get(ctx context.Context, key string) (metadata.GetResult, error) {
	if err := s.checkOpen(); err != nil {
		return metadata.GetResult{}, err
	}

	_, value, version, err := s.client.Get(ctx, key)
	if errors.Is(err, oxiaclient.ErrKeyNotFound) {
		return metadata.GetResult{}, nil
	}
	if err != nil {
		return metadata.GetResult{}, wrapErr("get", err)
	}
	return metadata.GetResult{
		Value:   value,
		Version: oxiaToMetadataVersion(version.VersionId),
		Exists:  true,
	}, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, opts ...metadata.WriteOption) (metadata.Version, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	_, version, err := s.client.Put(ctx, key, value, putOptions(metadata.ResolveWriteOptions(opts))...)
	if err != nil {
		return 0, wrapErr("put", err)
	}
	return oxiaToMetadataVersion(version.VersionId), nil
}

func (s *Store) Delete(ctx context.Context, key string, opts ...metadata.WriteOption) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	var oxiaOpts []oxiaclient.DeleteOption
	if o := metadata.ResolveWriteOptions(opts); o.ExpectedVersion != nil && *o.ExpectedVersion > 0 {
		oxiaOpts = append(oxiaOpts, oxiaclient.ExpectedVersionId(metadataToOxiaVersion(*o.ExpectedVersion)))
	}

	err := s.client.Delete(ctx, key, oxiaOpts...)
	if err == nil || errors.Is(err, oxiaclient.ErrKeyNotFound) {
		return nil
	}
	return wrapErr("delete", err)
}

func (s *Store) List(ctx context.Context, startKey, endKey string, limit int) ([]metadata.KV, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	results := s.client.RangeScan(ctx, startKey, scanEnd(startKey, endKey))

	var kvs []metadata.KV
	for result := range results {
		if result.Err != nil {
			go drainRangeScan(results)
			return nil, wrapErr("list", result.Err)
		}
		kvs = append(kvs, metadata.KV{
			Key:     result.Key,
			Value:   result.Value,
			Version: oxiaToMetadataVersion(result.Version.VersionId),
		})
		if limit > 0 && len(kvs) >= limit {
			go drainRangeScan(results)
			break
		}
	}
	return kvs, nil
}

func (s *Store) DeleteRange(ctx context.Context, startKey, endKey string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if err := s.client.DeleteRange(ctx, startKey, scanEnd(startKey, endKey)); err != nil {
		return wrapErr("delete range", err)
	}
	return nil
}

// Close closes the client. Its session ends with it, which drops the run
// lock if this node still holds it.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.client.Close()
}

// scanEnd resolves the exclusive end key of a scan. An empty endKey selects
// every key under startKey. Oxia sorts keys by '/' depth first, so a prefix
// ending in '/' uses the hierarchical end marker prefix+"/" to cover its
// direct children.
func scanEnd(startKey, endKey string) string {
	if endKey != "" {
		return endKey
	}
	if len(startKey) > 0 && startKey[len(startKey)-1] == '/' {
		return startKey + "/"
	}
	return prefixEnd(startKey)
}

// prefixEnd returns the smallest key greater than every key with prefix, or
// "" when none exists.
func prefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xFF {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}

func drainRangeScan(results <-chan oxiaclient.GetResult) {
	for range results {
	}
}

var _ metadata.MetadataStore = (*Store)(nil)
