package metadata

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// MockStore is an in-memory MetadataStore. Besides tests it backs the
// "memory" metadata endpoint, so it must stay safe for concurrent use.
type MockStore struct {
	mu        sync.Mutex
	data      map[string]KV
	ephemeral map[string]struct{}
	version   Version
	closed    bool
	failures  map[string]error
	calls     map[string]int
}

// NewMockStore creates an empty store.
func NewMockStore() *MockStore {
	return &MockStore{
		data:      make(map[string]KV),
		ephemeral: make(map[string]struct{}),
		failures:  make(map[string]error),
		calls:     make(map[string]int),
	}
}

// FailOn makes every later call of op return err. Operation names match the
// Op constants. A nil err clears the failure.
func (m *MockStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// CallCount returns how many times op was invoked.
func (m *MockStore) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Len returns the number of stored keys.
func (m *MockStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// ExpireSession drops every ephemeral key, as Oxia does when the session
// of a crashed client times out.
func (m *MockStore) ExpireSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.ephemeral {
		delete(m.data, key)
	}
	clear(m.ephemeral)
}

// enter must be called with m.mu held.
func (m *MockStore) enter(op string) error {
	m.calls[op]++
	if m.closed {
		return ErrStoreClosed
	}
	return m.failures[op]
}

// current must be called with m.mu held.
func (m *MockStore) current(key string) Version {
	return m.data[key].Version
}

func (m *MockStore) Get(_ context.Context, key string) (GetResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter(OpGet); err != nil {
		return GetResult{}, err
	}
	kv, ok := m.data[key]
	if !ok {
		return GetResult{}, nil
	}
	return GetResult{Value: kv.Value, Version: kv.Version, Exists: true}, nil
}

func (m *MockStore) Put(_ context.Context, key string, value []byte, opts ...WriteOption) (Version, error) {
	o := ResolveWriteOptions(opts)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter(putOp(o)); err != nil {
		return 0, err
	}
	if err := o.Check(m.current(key)); err != nil {
		return 0, err
	}

	m.version++
	m.data[key] = KV{Key: key, Value: slices.Clone(value), Version: m.version}
	if o.Ephemeral {
		m.ephemeral[key] = struct{}{}
	} else {
		delete(m.ephemeral, key)
	}
	return m.version, nil
}

func (m *MockStore) Delete(_ context.Context, key string, opts ...WriteOption) error {
	o := ResolveWriteOptions(opts)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter(OpDelete); err != nil {
		return err
	}
	if _, ok := m.data[key]; !ok {
		return nil
	}
	if err := o.Check(m.current(key)); err != nil {
		return err
	}
	delete(m.data, key)
	delete(m.ephemeral, key)
	return nil
}

// matching must be called with m.mu held.
func (m *MockStore) matching(startKey, endKey string) []string {
	var keys []string
	for k := range m.data {
		if endKey == "" {
			if strings.HasPrefix(k, startKey) {
				keys = append(keys, k)
			}
		} else if k >= startKey && k < endKey {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

func (m *MockStore) List(_ context.Context, startKey, endKey string, limit int) ([]KV, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter(OpList); err != nil {
		return nil, err
	}

	keys := m.matching(startKey, endKey)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	result := make([]KV, len(keys))
	for i, k := range keys {
		result[i] = m.data[k]
	}
	return result, nil
}

func (m *MockStore) DeleteRange(_ context.Context, startKey, endKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.enter(OpDeleteRange); err != nil {
		return err
	}
	for _, k := range m.matching(startKey, endKey) {
		delete(m.data, k)
		delete(m.ephemeral, k)
	}
	return nil
}

func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ MetadataStore = (*MockStore)(nil)
