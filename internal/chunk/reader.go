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
	"iter"

	"github.com/chunklog/chunklog/internal/record"
	"github.com/chunklog/chunklog/internal/scavenge"
)

// ErrAlreadyRead is returned when Records is iterated a second time.
var ErrAlreadyRead = errors.New("chunk: records already read")

// Reader streams the records of one physical chunk.
type Reader struct {
	r    scavenge.PhysicalChunkRange
	rc   io.ReadCloser
	used bool
}

// NewReader reads the chunk described by r from rc. Sealed chunks, those
// with IsReadOnly set, are verified against their footer CRC once the last
// record has been read.
func NewReader(r scavenge.PhysicalChunkRange, rc io.ReadCloser) *Reader {
	return &Reader{r: r, rc: rc}
}

// Range returns the chunk's range.
func (r *Reader) Range() scavenge.PhysicalChunkRange {
	return r.r
}

// Close releases the underlying file or object.
func (r *Reader) Close() error {
	return r.rc.Close()
}

// Records yields every record in file order.
func (r *Reader) Records(ctx context.Context) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		if r.used {
			yield(nil, ErrAlreadyRead)
			return
		}
		r.used = true

		br := bufio.NewReaderSize(r.rc, 256*1024)
		crc := crc32.New(crc32cTable)

		head := make([]byte, HeaderSize)
		if _, err := io.ReadFull(br, head); err != nil {
			yield(nil, fmt.Errorf("%w: %v", ErrTruncatedHeader, err))
			return
		}
		header, err := ParseHeader(head)
		if err != nil {
			yield(nil, err)
			return
		}
		if header.StartNumber != r.r.StartNumber || header.EndNumber != r.r.EndNumber {
			yield(nil, fmt.Errorf("%w: header covers %d-%d, expected %s",
				ErrCorruptRecord, header.StartNumber, header.EndNumber, r.r))
			return
		}
		_, _ = crc.Write(head)

		var (
			lenBuf [4]byte
			body   []byte
		)
		for {
			if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
				if !r.r.IsReadOnly && isEOF(err) {
					return
				}
				yield(nil, fmt.Errorf("%w: reading record length: %v", ErrCorruptRecord, err))
				return
			}
			_, _ = crc.Write(lenBuf[:])

			n := binary.BigEndian.Uint32(lenBuf[:])
			if n == 0 {
				break
			}
			if n > MaxRecordSize {
				yield(nil, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, n))
				return
			}
			if cap(body) < int(n) {
				body = make([]byte, n)
			}
			body = body[:n]
			if _, err := io.ReadFull(br, body); err != nil {
				if !r.r.IsReadOnly && isEOF(err) {
					return
				}
				yield(nil, fmt.Errorf("%w: reading record body: %v", ErrCorruptRecord, err))
				return
			}
			_, _ = crc.Write(body)

			rec, err := decodeRecord(body, header.Codec)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}

		if !r.r.IsReadOnly {
			return
		}
		tail, err := io.ReadAll(br)
		if err != nil {
			yield(nil, fmt.Errorf("%w: reading index: %v", ErrInvalidFooter, err))
			return
		}
		if err := verifyTail(tail, crc); err != nil {
			yield(nil, err)
		}
	}
}

// verifyTail checks the footer at the end of tail, the bytes following the
// end marker, against the running CRC.
func verifyTail(tail []byte, crc hash.Hash32) error {
	if len(tail) < FooterSize {
		return ErrInvalidFooter
	}
	footer, err := ParseFooter(tail[len(tail)-FooterSize:])
	if err != nil {
		return err
	}
	if want := int(footer.RecordCount) * IndexEntrySize; len(tail)-FooterSize != want {
		return fmt.Errorf("%w: index is %d bytes, want %d", ErrInvalidFooter, len(tail)-FooterSize, want)
	}
	_, _ = crc.Write(tail[:len(tail)-FooterSize+28])
	if got := crc.Sum32(); got != footer.CRC {
		return fmt.Errorf("%w: stored %08x, computed %08x", ErrInvalidCRC, footer.CRC, got)
	}
	return nil
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
