// Package metadata defines the key-value store that holds scavenge state:
// checkpoints, chunk weights, per-stream discard data and the run lock.
// Production runs use Oxia (package oxia); MockStore serves tests and
// single-shot runs.
//
// Keys are ordered lexicographically. Numeric key components are zero-padded
// by package keys so that range scans over chunk weights follow chunk order.
package metadata

import (
	"context"
	"errors"
)

var (
	// ErrKeyNotFound is returned when a key does not exist.
	ErrKeyNotFound = errors.New("metadata: key not found")

	// ErrVersionMismatch is returned when a write precondition fails.
	ErrVersionMismatch = errors.New("metadata: version mismatch")

	// ErrStoreClosed is returned by every operation after Close.
	ErrStoreClosed = errors.New("metadata: store closed")
)

// Version is assigned by the store on every write and grows monotonically.
// 0 means the key does not exist.
type Version int64

// KV is one entry returned by List.
type KV struct {
	Key     string
	Value   []byte
	Version Version
}

// GetResult is the result of a Get. A missing key is not an error.
type GetResult struct {
	Value   []byte
	Version Version
	Exists  bool
}

// WriteOption configures Put and Delete.
type WriteOption func(*WriteOptions)

// WriteOptions is the resolved form of a WriteOption list. Backends read it
// through ResolveWriteOptions.
type WriteOptions struct {
	// ExpectedVersion, when set, must equal the key's current version.
	ExpectedVersion *Version

	// Ephemeral binds the key to the client session. Delete ignores it.
	Ephemeral bool
}

// IfVersion makes the write conditional on the key being at version v.
func IfVersion(v Version) WriteOption {
	return func(o *WriteOptions) {
		o.ExpectedVersion = &v
	}
}

// IfAbsent makes the write conditional on the key not existing.
func IfAbsent() WriteOption {
	return IfVersion(0)
}

// Ephemeral stores the key for the lifetime of the client session only.
// Oxia deletes it when the session expires, which releases the run lock of
// a crashed node.
func Ephemeral() WriteOption {
	return func(o *WriteOptions) {
		o.Ephemeral = true
	}
}

// ResolveWriteOptions applies opts in order.
func ResolveWriteOptions(opts []WriteOption) WriteOptions {
	var o WriteOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Check returns ErrVersionMismatch when a key at version current does not
// satisfy the options.
func (o WriteOptions) Check(current Version) error {
	if o.ExpectedVersion != nil && *o.ExpectedVersion != current {
		return ErrVersionMismatch
	}
	return nil
}

// MetadataStore is the interface for metadata storage operations.
type MetadataStore interface {
	// Get retrieves a value by key.
	Get(ctx context.Context, key string) (GetResult, error)

	// Put stores a value and returns its new version.
	Put(ctx context.Context, key string, value []byte, opts ...WriteOption) (Version, error)

	// Delete removes a key. Deleting a missing key without a version
	// precondition succeeds.
	Delete(ctx context.Context, key string, opts ...WriteOption) error

	// List returns keys in [startKey, endKey) in order. An empty endKey
	// selects every key under the prefix startKey. A limit of 0 or less
	// returns every match.
	List(ctx context.Context, startKey, endKey string, limit int) ([]KV, error)

	// DeleteRange removes every key in [startKey, endKey), with the same
	// empty endKey rule as List.
	DeleteRange(ctx context.Context, startKey, endKey string) error

	// Close releases the client. Later calls return ErrStoreClosed.
	Close() error
}
