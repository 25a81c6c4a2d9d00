package objectstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// MetricsRecorder receives one call per store operation. Reads are
// reported when the returned reader is closed, with the bytes consumed.
type MetricsRecorder interface {
	RecordOperation(op string, durationSeconds float64, success bool, bytes int64)
}

// Operation names reported to the MetricsRecorder.
const (
	OpPut               = "put"
	OpGet               = "get"
	OpGetRange          = "get_range"
	OpHead              = "head"
	OpDelete            = "delete"
	OpList              = "list"
	OpCreateMultipart   = "create_multipart"
	OpUploadPart        = "upload_part"
	OpCompleteMultipart = "complete_multipart"
	OpAbortMultipart    = "abort_multipart"
)

// InstrumentedStore wraps a Store and reports each operation. It supports
// multipart uploads when the wrapped store does.
type InstrumentedStore struct {
	store   Store
	metrics MetricsRecorder
}

// NewInstrumentedStore wraps store. With nil metrics every call passes
// straight through.
func NewInstrumentedStore(store Store, metrics MetricsRecorder) *InstrumentedStore {
	return &InstrumentedStore{store: store, metrics: metrics}
}

func (s *InstrumentedStore) record(op string, start time.Time, err error, bytes int64) {
	if s.metrics != nil {
		s.metrics.RecordOperation(op, time.Since(start).Seconds(), err == nil, bytes)
	}
}

func (s *InstrumentedStore) Put(ctx context.Context, key string, reader io.Reader, size int64, opts ...PutOption) error {
	start := time.Now()
	err := s.store.Put(ctx, key, reader, size, opts...)
	s.record(OpPut, start, err, size)
	return err
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := s.store.Get(ctx, key)
	return s.wrapReader(OpGet, start, rc, err)
}

func (s *InstrumentedStore) GetRange(ctx context.Context, key string, startByte, end int64) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := s.store.GetRange(ctx, key, startByte, end)
	return s.wrapReader(OpGetRange, start, rc, err)
}

func (s *InstrumentedStore) wrapReader(op string, start time.Time, rc io.ReadCloser, err error) (io.ReadCloser, error) {
	if s.metrics == nil {
		return rc, err
	}
	if err != nil {
		s.record(op, start, err, 0)
		return nil, err
	}
	return &instrumentedReadCloser{ReadCloser: rc, op: op, start: start, metrics: s.metrics}, nil
}

func (s *InstrumentedStore) Head(ctx context.Context, key string) (ObjectMeta, error) {
	start := time.Now()
	meta, err := s.store.Head(ctx, key)
	// A missing object is an answer, not a failure.
	if errors.Is(err, ErrNotFound) {
		s.record(OpHead, start, nil, 0)
	} else {
		s.record(OpHead, start, err, 0)
	}
	return meta, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.store.Delete(ctx, key)
	s.record(OpDelete, start, err, 0)
	return err
}

func (s *InstrumentedStore) List(ctx context.Context, prefix string) ([]ObjectMeta, error) {
	start := time.Now()
	result, err := s.store.List(ctx, prefix)
	s.record(OpList, start, err, 0)
	return result, err
}

func (s *InstrumentedStore) Close() error {
	return s.store.Close()
}

func (s *InstrumentedStore) CreateMultipartUpload(ctx context.Context, key string, opts ...PutOption) (MultipartUpload, error) {
	mp, ok := s.store.(MultipartStore)
	if !ok {
		return nil, &ObjectError{Op: OpCreateMultipart, Key: key, Err: ErrMultipartUnsupported}
	}
	start := time.Now()
	u, err := mp.CreateMultipartUpload(ctx, key, opts...)
	s.record(OpCreateMultipart, start, err, 0)
	if err != nil {
		return nil, err
	}
	return &instrumentedUpload{upload: u, store: s}, nil
}

type instrumentedUpload struct {
	upload MultipartUpload
	store  *InstrumentedStore
}

func (u *instrumentedUpload) UploadID() string { return u.upload.UploadID() }

func (u *instrumentedUpload) UploadPart(ctx context.Context, partNum int, reader io.Reader, size int64) (string, error) {
	start := time.Now()
	etag, err := u.upload.UploadPart(ctx, partNum, reader, size)
	u.store.record(OpUploadPart, start, err, size)
	return etag, err
}

func (u *instrumentedUpload) Complete(ctx context.Context, etags []string) error {
	start := time.Now()
	err := u.upload.Complete(ctx, etags)
	u.store.record(OpCompleteMultipart, start, err, 0)
	return err
}

func (u *instrumentedUpload) Abort(ctx context.Context) error {
	start := time.Now()
	err := u.upload.Abort(ctx)
	u.store.record(OpAbortMultipart, start, err, 0)
	return err
}

// instrumentedReadCloser reports a read once it is closed.
type instrumentedReadCloser struct {
	io.ReadCloser
	op        string
	start     time.Time
	metrics   MetricsRecorder
	bytesRead int64
	readErr   bool
	closed    bool
}

func (r *instrumentedReadCloser) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	r.bytesRead += int64(n)
	if err != nil && err != io.EOF {
		r.readErr = true
	}
	return n, err
}

func (r *instrumentedReadCloser) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.ReadCloser.Close()
	r.metrics.RecordOperation(r.op, time.Since(r.start).Seconds(), err == nil && !r.readErr, r.bytesRead)
	return err
}

var (
	_ MultipartStore  = (*InstrumentedStore)(nil)
	_ MultipartUpload = (*instrumentedUpload)(nil)
)
