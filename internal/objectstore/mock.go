package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory MultipartStore for tests in any package.
type MockStore struct {
	mu       sync.RWMutex
	objects  map[string]mockObject
	uploads  map[string]*mockUpload
	closed   bool
	failures map[string]error
	calls    map[string]int
}

type mockObject struct {
	data []byte
	meta ObjectMeta
}

// NewMockStore creates an empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		objects:  make(map[string]mockObject),
		uploads:  make(map[string]*mockUpload),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

// FailOn makes every subsequent call of op return err. Ops are the
// Op* constants. A nil err clears the failure.
func (s *MockStore) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// CallCount returns how many times op was invoked.
func (s *MockStore) CallCount(op string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// PendingUploads returns the number of multipart uploads neither completed
// nor aborted.
func (s *MockStore) PendingUploads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.uploads)
}

// enter must be called with s.mu held.
func (s *MockStore) enter(op, key string) error {
	s.calls[op]++
	if s.closed {
		return &ObjectError{Op: op, Key: key, Err: ErrStoreClosed}
	}
	if err := s.failures[op]; err != nil {
		return &ObjectError{Op: op, Key: key, Err: err}
	}
	return nil
}

func (s *MockStore) Put(ctx context.Context, key string, reader io.Reader, size int64, opts ...PutOption) error {
	o := ResolvePutOptions(opts)
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpPut, key); err != nil {
		return err
	}
	if int64(len(data)) != size {
		return &ObjectError{Op: OpPut, Key: key, Err: fmt.Errorf("read %d bytes, declared %d", len(data), size)}
	}
	if _, exists := s.objects[key]; exists && o.IfAbsent {
		return &ObjectError{Op: OpPut, Key: key, Err: ErrPreconditionFailed}
	}
	s.store(key, data, o)
	return nil
}

// store must be called with s.mu held.
func (s *MockStore) store(key string, data []byte, o PutOptions) {
	s.objects[key] = mockObject{
		data: data,
		meta: ObjectMeta{
			Key:          key,
			Size:         int64(len(data)),
			ContentType:  o.ContentType,
			ETag:         uuid.NewString(),
			LastModified: time.Now().UnixMilli(),
			Metadata:     o.Metadata,
		},
	}
}

func (s *MockStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpGet, key); err != nil {
		return nil, err
	}
	obj, ok := s.objects[key]
	if !ok {
		return nil, &ObjectError{Op: OpGet, Key: key, Err: ErrNotFound}
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *MockStore) GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpGetRange, key); err != nil {
		return nil, err
	}
	obj, ok := s.objects[key]
	if !ok {
		return nil, &ObjectError{Op: OpGetRange, Key: key, Err: ErrNotFound}
	}

	size := int64(len(obj.data))
	if start < 0 {
		start = max(size+start, 0)
	}
	if end < 0 || end >= size {
		end = size - 1
	}
	if start >= size || end < start {
		return nil, &ObjectError{Op: OpGetRange, Key: key, Err: ErrInvalidRange}
	}
	return io.NopCloser(bytes.NewReader(obj.data[start : end+1])), nil
}

func (s *MockStore) Head(ctx context.Context, key string) (ObjectMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpHead, key); err != nil {
		return ObjectMeta{}, err
	}
	obj, ok := s.objects[key]
	if !ok {
		return ObjectMeta{}, &ObjectError{Op: OpHead, Key: key, Err: ErrNotFound}
	}
	return obj.meta, nil
}

func (s *MockStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpDelete, key); err != nil {
		return err
	}
	delete(s.objects, key)
	return nil
}

func (s *MockStore) List(ctx context.Context, prefix string) ([]ObjectMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpList, prefix); err != nil {
		return nil, err
	}
	var out []ObjectMeta
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, obj.meta)
		}
	}
	slices.SortFunc(out, func(a, b ObjectMeta) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

func (s *MockStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MockStore) CreateMultipartUpload(ctx context.Context, key string, opts ...PutOption) (MultipartUpload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCreateMultipart, key); err != nil {
		return nil, err
	}
	u := &mockUpload{
		store: s,
		id:    uuid.NewString(),
		key:   key,
		opts:  ResolvePutOptions(opts),
		parts: make(map[int]mockPart),
	}
	s.uploads[u.id] = u
	return u, nil
}

type mockPart struct {
	etag string
	data []byte
}

type mockUpload struct {
	store *MockStore
	id    string
	key   string
	opts  PutOptions
	parts map[int]mockPart
}

func (u *mockUpload) UploadID() string { return u.id }

func (u *mockUpload) UploadPart(ctx context.Context, partNum int, reader io.Reader, size int64) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}

	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpUploadPart, u.key); err != nil {
		return "", err
	}
	if _, ok := s.uploads[u.id]; !ok {
		return "", &ObjectError{Op: OpUploadPart, Key: u.key, Err: fmt.Errorf("upload %s is not in progress", u.id)}
	}
	if partNum < 1 || partNum > 10000 || int64(len(data)) != size {
		return "", &ObjectError{Op: OpUploadPart, Key: u.key, Err: fmt.Errorf("invalid part %d of %d bytes", partNum, size)}
	}
	etag := uuid.NewString()
	u.parts[partNum] = mockPart{etag: etag, data: data}
	return etag, nil
}

func (u *mockUpload) Complete(ctx context.Context, etags []string) error {
	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCompleteMultipart, u.key); err != nil {
		return err
	}
	if _, ok := s.uploads[u.id]; !ok {
		return &ObjectError{Op: OpCompleteMultipart, Key: u.key, Err: fmt.Errorf("upload %s is not in progress", u.id)}
	}
	if len(etags) != len(u.parts) {
		return &ObjectError{Op: OpCompleteMultipart, Key: u.key, Err: fmt.Errorf("%d etags for %d parts", len(etags), len(u.parts))}
	}

	var data []byte
	for i, etag := range etags {
		part, ok := u.parts[i+1]
		if !ok || part.etag != etag {
			return &ObjectError{Op: OpCompleteMultipart, Key: u.key, Err: fmt.Errorf("part %d etag mismatch", i+1)}
		}
		data = append(data, part.data...)
	}
	delete(s.uploads, u.id)
	s.store(u.key, data, u.opts)
	return nil
}

func (u *mockUpload) Abort(ctx context.Context) error {
	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpAbortMultipart, u.key); err != nil {
		return err
	}
	delete(s.uploads, u.id)
	return nil
}

var (
	_ MultipartStore  = (*MockStore)(nil)
	_ MultipartUpload = (*mockUpload)(nil)
)
