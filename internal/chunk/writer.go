package chunk

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/chunklog/chunklog/internal/record"
	"github.com/chunklog/chunklog/internal/scavenge"
)

// ErrWriterClosed is returned by a writer after Complete or Abort.
var ErrWriterClosed = errors.New("chunk: writer closed")

// Writer appends records to a chunk file and seals it on Complete. Until
// Complete, the file reads as an open chunk.
type Writer struct {
	path   string
	target scavenge.PhysicalChunkRange
	header Header

	f   *os.File
	bw  *bufio.Writer
	crc hash.Hash32

	offset  uint64
	index   []IndexEntry
	minTime time.Time
	maxTime time.Time
	scratch []byte

	completed *Segment
	closed    bool
	// onComplete runs after the footer is durable.
	onComplete func(*Segment)
}

func newWriter(path string, target scavenge.PhysicalChunkRange, codec Codec) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		path:   path,
		target: target,
		header: Header{
			Version:     Version,
			Codec:       codec,
			StartNumber: target.StartNumber,
			EndNumber:   target.EndNumber,
			ChunkID:     uuid.New(),
			CreatedAt:   time.Now().UTC(),
		},
		f:   f,
		bw:  bufio.NewWriterSize(f, 256*1024),
		crc: crc32.New(crc32cTable),
	}

	buf := make([]byte, HeaderSize)
	encodeHeader(buf, w.header)
	if err := w.write(buf); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, err
	}
	return w, nil
}

func (w *Writer) write(b []byte) error {
	if _, err := w.bw.Write(b); err != nil {
		return err
	}
	_, _ = w.crc.Write(b)
	w.offset += uint64(len(b))
	return nil
}

// LocalFileName returns the path being written.
func (w *Writer) LocalFileName() string {
	return w.path
}

// WriteRecord appends rec.
func (w *Writer) WriteRecord(rec record.Record) error {
	if w.closed || w.completed != nil {
		return ErrWriterClosed
	}

	body, err := appendRecord(w.scratch[:0], rec, w.header.Codec)
	if err != nil {
		return err
	}
	w.scratch = body
	if len(body) > MaxRecordSize {
		return fmt.Errorf("%w: %d bytes at position %d", ErrRecordTooLarge, len(body), rec.Position())
	}

	w.index = append(w.index, IndexEntry{LogPosition: rec.Position(), Offset: w.offset})

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if err := w.write(lenBuf[:]); err != nil {
		return err
	}
	if err := w.write(body); err != nil {
		return err
	}

	if ts := recordTime(rec); !ts.IsZero() {
		if w.minTime.IsZero() || ts.Before(w.minTime) {
			w.minTime = ts
		}
		if ts.After(w.maxTime) {
			w.maxTime = ts
		}
	}
	return nil
}

// Flush makes appended records visible to readers of the open chunk.
func (w *Writer) Flush() error {
	if w.closed || w.completed != nil {
		return ErrWriterClosed
	}
	return w.bw.Flush()
}

// Complete writes the end marker, index and footer, syncs the file and
// returns the sealed segment.
func (w *Writer) Complete(ctx context.Context) (scavenge.CompletedSegment, error) {
	seg, err := w.complete(ctx)
	if err != nil {
		return nil, err
	}
	return seg, nil
}

func (w *Writer) complete(ctx context.Context) (*Segment, error) {
	if w.closed || w.completed != nil {
		return nil, ErrWriterClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := w.write(make([]byte, 4)); err != nil {
		return nil, err
	}
	indexOffset := w.offset
	entry := make([]byte, IndexEntrySize)
	for _, e := range w.index {
		binary.BigEndian.PutUint64(entry[0:], uint64(e.LogPosition))
		binary.BigEndian.PutUint64(entry[8:], e.Offset)
		if err := w.write(entry); err != nil {
			return nil, err
		}
	}

	footer := make([]byte, FooterSize)
	encodeFooter(footer, Footer{
		IndexOffset:  indexOffset,
		RecordCount:  uint32(len(w.index)),
		MinTimestamp: w.minTime,
		MaxTimestamp: w.maxTime,
	})
	_, _ = w.crc.Write(footer[:28])
	binary.BigEndian.PutUint32(footer[28:], w.crc.Sum32())
	if _, err := w.bw.Write(footer); err != nil {
		return nil, err
	}
	w.offset += FooterSize

	if err := w.bw.Flush(); err != nil {
		return nil, err
	}
	if err := w.f.Sync(); err != nil {
		return nil, err
	}
	if err := w.f.Close(); err != nil {
		return nil, err
	}
	w.f = nil

	w.completed = &Segment{
		path:         w.path,
		target:       w.target,
		size:         int64(w.offset),
		maxTimestamp: w.maxTime,
	}
	if w.onComplete != nil {
		w.onComplete(w.completed)
	}
	return w.completed, nil
}

// Abort closes the writer without sealing. With deleteImmediately the
// output file is removed, otherwise it is left for the temp sweeper. A
// completed but not yet switched-in output is treated the same way.
func (w *Writer) Abort(deleteImmediately bool) error {
	if w.closed {
		return nil
	}
	w.closed = true

	var closeErr error
	if w.f != nil {
		closeErr = w.f.Close()
		w.f = nil
	}
	if !deleteImmediately {
		return closeErr
	}
	if err := os.Remove(w.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return closeErr
}

// Segment is a sealed chunk file produced by a Writer.
type Segment struct {
	path         string
	target       scavenge.PhysicalChunkRange
	size         int64
	maxTimestamp time.Time
}

// Range describes the chunk the segment replaces.
func (s *Segment) Range() scavenge.PhysicalChunkRange {
	r := s.target
	r.IsReadOnly = true
	r.FileSize = s.size
	return r
}

// FileName returns the base name of the segment's file.
func (s *Segment) FileName() string { return filepath.Base(s.path) }

// Path returns the full path of the segment's file.
func (s *Segment) Path() string { return s.path }

// FileSize returns the segment's size in bytes.
func (s *Segment) FileSize() int64 { return s.size }

// Open opens the segment for reading.
func (s *Segment) Open() (io.ReadCloser, error) {
	return os.Open(s.path)
}

// MarkForDeletion removes the segment's local file.
func (s *Segment) MarkForDeletion() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
