// Package objectstore is the blob storage abstraction behind the chunk
// archive. Sealed chunks are uploaded whole, or in parts once they exceed
// the archive's multipart threshold, and read back either completely or by
// byte range when only a footer is needed.
//
//	store, err := s3.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	rc, err := store.GetRange(ctx, "chunks/chunk-000000-000000.chunk", -40, -1)
//	if errors.Is(err, objectstore.ErrNotFound) {
//	    // not archived yet
//	}
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Errors returned by Store implementations, usually wrapped in ObjectError.
var (
	ErrNotFound           = errors.New("object not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrBucketNotFound     = errors.New("bucket not found")
	ErrAccessDenied       = errors.New("access denied")
	ErrInvalidRange       = errors.New("invalid range")
	ErrStoreClosed        = errors.New("store closed")

	// ErrMultipartUnsupported is returned by wrappers whose inner store has
	// no multipart support.
	ErrMultipartUnsupported = errors.New("multipart upload not supported")
)

// ObjectError adds the operation and key to a store error.
type ObjectError struct {
	Op  string
	Key string
	Err error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("objectstore: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// ObjectMeta describes a stored object.
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	ETag        string
	// LastModified is in Unix milliseconds.
	LastModified int64
	Metadata     map[string]string
}

// DefaultContentType is used when a Put carries no WithContentType option.
const DefaultContentType = "application/octet-stream"

// PutOption configures Put and CreateMultipartUpload.
type PutOption func(*PutOptions)

// PutOptions is the resolved form of a PutOption list.
type PutOptions struct {
	ContentType string

	// Metadata is stored with the object. Providers may lowercase keys.
	Metadata map[string]string

	// IfAbsent fails the write with ErrPreconditionFailed when the key
	// already exists.
	IfAbsent bool
}

// WithContentType sets the object's content type.
func WithContentType(contentType string) PutOption {
	return func(o *PutOptions) {
		o.ContentType = contentType
	}
}

// WithMetadata attaches user metadata to the object.
func WithMetadata(md map[string]string) PutOption {
	return func(o *PutOptions) {
		o.Metadata = md
	}
}

// IfAbsent makes the write conditional on the key not existing.
func IfAbsent() PutOption {
	return func(o *PutOptions) {
		o.IfAbsent = true
	}
}

// ResolvePutOptions applies opts over the defaults.
func ResolvePutOptions(opts []PutOption) PutOptions {
	o := PutOptions{ContentType: DefaultContentType}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Store is a bucket of objects. Implementations are safe for concurrent use.
type Store interface {
	// Put stores size bytes read from reader at key, replacing any object
	// already there unless IfAbsent is given.
	Put(ctx context.Context, key string, reader io.Reader, size int64, opts ...PutOption) error

	// Get returns the whole object. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// GetRange returns bytes [start, end] of the object. An end of -1 reads
	// to the end, and a negative start counts back from the end.
	GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error)

	Head(ctx context.Context, key string) (ObjectMeta, error)

	// Delete is idempotent.
	Delete(ctx context.Context, key string) error

	// List returns every object under prefix in key order.
	List(ctx context.Context, prefix string) ([]ObjectMeta, error)

	Close() error
}

// MultipartUpload is an in-progress upload of a large object. Call Complete
// with the part ETags in part order, or Abort.
type MultipartUpload interface {
	UploadID() string

	// UploadPart uploads part partNum, counting from 1. Every part except
	// the last must meet the provider's minimum size.
	UploadPart(ctx context.Context, partNum int, reader io.Reader, size int64) (etag string, err error)

	Complete(ctx context.Context, etags []string) error

	// Abort discards uploaded parts. It is idempotent.
	Abort(ctx context.Context) error
}

// MultipartStore is a Store that supports multipart uploads.
type MultipartStore interface {
	Store

	// CreateMultipartUpload starts an upload. IfAbsent is not supported for
	// multipart uploads and is ignored.
	CreateMultipartUpload(ctx context.Context, key string, opts ...PutOption) (MultipartUpload, error)
}
