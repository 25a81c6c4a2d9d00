package metadata

import (
	"context"
	"time"
)

// MetricsRecorder receives one observation per store call. It keeps this
// package independent of the metrics package.
type MetricsRecorder interface {
	RecordOperation(op string, durationSeconds float64, success bool)
}

// Operation names reported to the MetricsRecorder and accepted by
// MockStore.FailOn.
const (
	OpGet          = "get"
	OpPut          = "put"
	OpPutEphemeral = "put_ephemeral"
	OpDelete       = "delete"
	OpList         = "list"
	OpDeleteRange  = "delete_range"
)

// putOp labels a put by its options so lock traffic is counted apart from
// state writes.
func putOp(o WriteOptions) string {
	if o.Ephemeral {
		return OpPutEphemeral
	}
	return OpPut
}

// InstrumentedStore times every call of the wrapped store.
type InstrumentedStore struct {
	store   MetadataStore
	metrics MetricsRecorder
}

// NewInstrumentedStore wraps store. A nil metrics passes calls through.
func NewInstrumentedStore(store MetadataStore, metrics MetricsRecorder) *InstrumentedStore {
	return &InstrumentedStore{store: store, metrics: metrics}
}

func (s *InstrumentedStore) observe(op string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordOperation(op, time.Since(start).Seconds(), err == nil)
	}
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) (GetResult, error) {
	start := time.Now()
	result, err := s.store.Get(ctx, key)
	s.observe(OpGet, start, err)
	return result, err
}

func (s *InstrumentedStore) Put(ctx context.Context, key string, value []byte, opts ...WriteOption) (Version, error) {
	start := time.Now()
	v, err := s.store.Put(ctx, key, value, opts...)
	s.observe(putOp(ResolveWriteOptions(opts)), start, err)
	return v, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, key string, opts ...WriteOption) error {
	start := time.Now()
	err := s.store.Delete(ctx, key, opts...)
	s.observe(OpDelete, start, err)
	return err
}

func (s *InstrumentedStore) List(ctx context.Context, startKey, endKey string, limit int) ([]KV, error) {
	start := time.Now()
	result, err := s.store.List(ctx, startKey, endKey, limit)
	s.observe(OpList, start, err)
	return result, err
}

func (s *InstrumentedStore) DeleteRange(ctx context.Context, startKey, endKey string) error {
	start := time.Now()
	err := s.store.DeleteRange(ctx, startKey, endKey)
	s.observe(OpDeleteRange, start, err)
	return err
}

func (s *InstrumentedStore) Close() error {
	return s.store.Close()
}

var _ MetadataStore = (*InstrumentedStore)(nil)
