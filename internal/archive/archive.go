// Package archive keeps sealed chunks in object storage. It serves the chunk
// manager's reads of remote chunks and receives the rewritten copies the
// archiver node produces during a scavenge.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"

	"github.com/chunklog/chunklog/internal/chunk"
	"github.com/chunklog/chunklog/internal/logging"
	"github.com/chunklog/chunklog/internal/objectstore"
	"github.com/chunklog/chunklog/internal/scavenge"
)

// Object metadata keys written with every chunk.
const (
	MetaChunkStart = "chunk-start"
	MetaChunkEnd   = "chunk-end"
)

// ErrVerifyFailed is returned when an uploaded chunk does not read back as
// the segment that was stored.
var ErrVerifyFailed = errors.New("archive: uploaded chunk failed verification")

// Config configures the archive.
type Config struct {
	// Prefix is the key prefix or s3:// location under which chunks live.
	Prefix string

	// MultipartThreshold is the segment size from which uploads use
	// multipart.
	// Default: 64MB
	MultipartThreshold int64

	// PartSize is the size of each multipart part except the last.
	// Default: 16MB
	PartSize int64

	// VerifyUploads reads the footer back after each upload.
	VerifyUploads bool
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Prefix:             "chunks/",
		MultipartThreshold: 64 << 20,
		PartSize:           16 << 20,
		VerifyUploads:      true,
	}
}

// Storage is the chunk archive over an object store.
type Storage struct {
	store  objectstore.Store
	config Config
	prefix string
	logger *logging.Logger
}

var (
	_ scavenge.ArchiveStorage = (*Storage)(nil)
	_ chunk.RemoteChunks      = (*Storage)(nil)
	_ chunk.ArchiveIndex      = (*Storage)(nil)
)

// New creates an archive on store.
func New(store objectstore.Store, config Config, logger *logging.Logger) *Storage {
	if config.MultipartThreshold <= 0 {
		config.MultipartThreshold = 64 << 20
	}
	if config.PartSize <= 0 {
		config.PartSize = 16 << 20
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Storage{
		store:  store,
		config: config,
		prefix: objectstore.NormalizePrefix(config.Prefix),
		logger: logger.With(map[string]any{"component": "archive"}),
	}
}

func (s *Storage) key(name string) string {
	return s.prefix + name
}

// StoreSegment uploads a rewritten chunk, replacing the archived copy.
func (s *Storage) StoreSegment(ctx context.Context, segment scavenge.CompletedSegment) error {
	r := segment.Range()
	name := r.Name
	if name == "" {
		name = chunk.FileName(r.StartNumber, r.EndNumber)
	}
	key := s.key(name)
	size := segment.FileSize()

	rc, err := segment.Open()
	if err != nil {
		return fmt.Errorf("archive: open segment %s: %w", segment.FileName(), err)
	}
	defer rc.Close()

	opts := []objectstore.PutOption{objectstore.WithMetadata(map[string]string{
		MetaChunkStart: strconv.Itoa(r.StartNumber),
		MetaChunkEnd:   strconv.Itoa(r.EndNumber),
	})}

	mp, multipart := s.store.(objectstore.MultipartStore)
	if multipart && size >= s.config.MultipartThreshold {
		err = s.uploadMultipart(ctx, mp, key, rc, size, opts)
	} else {
		err = s.store.Put(ctx, key, rc, size, opts...)
	}
	if err != nil {
		return fmt.Errorf("archive: upload %s: %w", name, err)
	}

	if s.config.VerifyUploads {
		if err := s.verify(ctx, key, size); err != nil {
			return err
		}
	}
	s.logger.Infof("stored chunk", map[string]any{
		"chunk":     name,
		"bytes":     size,
		"multipart": multipart && size >= s.config.MultipartThreshold,
	})
	return nil
}

func (s *Storage) uploadMultipart(ctx context.Context, mp objectstore.MultipartStore, key string, r io.Reader, size int64, opts []objectstore.PutOption) error {
	upload, err := mp.CreateMultipartUpload(ctx, key, opts...)
	if err != nil {
		return err
	}

	abort := func(cause error) error {
		// The caller's context may already be done.
		if err := upload.Abort(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warnf("abort multipart upload", map[string]any{
				"key":      key,
				"uploadId": upload.UploadID(),
				"error":    err.Error(),
			})
		}
		return cause
	}

	buf := make([]byte, s.config.PartSize)
	var (
		etags     []string
		remaining = size
	)
	for part := 1; remaining > 0; part++ {
		n := min(remaining, s.config.PartSize)
		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			return abort(fmt.Errorf("read part %d: %w", part, err))
		}
		etag, err := upload.UploadPart(ctx, part, bytes.NewReader(buf[:n]), n)
		if err != nil {
			return abort(err)
		}
		etags = append(etags, etag)
		remaining -= n
	}
	if err := upload.Complete(ctx, etags); err != nil {
		return abort(err)
	}
	return nil
}

// verify checks the archived object's size and that its footer parses.
func (s *Storage) verify(ctx context.Context, key string, size int64) error {
	meta, err := s.store.Head(ctx, key)
	if err != nil {
		return fmt.Errorf("archive: verify %s: %w", key, err)
	}
	if meta.Size != size {
		return fmt.Errorf("%w: %s is %d bytes, wrote %d", ErrVerifyFailed, key, meta.Size, size)
	}
	if _, err := s.footer(ctx, key); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrVerifyFailed, key, err)
	}
	return nil
}

// Footer reads the footer of an archived chunk.
func (s *Storage) Footer(ctx context.Context, name string) (chunk.Footer, error) {
	return s.footer(ctx, s.key(name))
}

func (s *Storage) footer(ctx context.Context, key string) (chunk.Footer, error) {
	rc, err := s.store.GetRange(ctx, key, -chunk.FooterSize, -1)
	if err != nil {
		return chunk.Footer{}, err
	}
	defer rc.Close()
	tail, err := io.ReadAll(rc)
	if err != nil {
		return chunk.Footer{}, err
	}
	return chunk.ParseFooter(tail)
}

// ListChunks lists every archived chunk. Objects that are not chunks are
// ignored.
func (s *Storage) ListChunks(ctx context.Context) ([]chunk.RemoteChunk, error) {
	objects, err := s.store.List(ctx, s.prefix)
	if err != nil {
		return nil, err
	}
	out := make([]chunk.RemoteChunk, 0, len(objects))
	for _, obj := range objects {
		name := path.Base(obj.Key)
		if obj.Key != s.key(name) {
			continue
		}
		if _, _, ok := chunk.ParseFileName(name); !ok {
			continue
		}
		out = append(out, chunk.RemoteChunk{Name: name, Size: obj.Size})
	}
	return out, nil
}

// OpenChunk opens an archived chunk for reading.
func (s *Storage) OpenChunk(ctx context.Context, name string) (io.ReadCloser, error) {
	rc, err := s.store.Get(ctx, s.key(name))
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: archived %s: %w", scavenge.ErrChunkDeleted, name, err)
		}
		return nil, err
	}
	return rc, nil
}

// HasChunk reports whether name is archived.
func (s *Storage) HasChunk(ctx context.Context, name string) (bool, error) {
	_, err := s.store.Head(ctx, s.key(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, objectstore.ErrNotFound) {
		return false, nil
	}
	return false, err
}
