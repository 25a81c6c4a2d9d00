// Package chunk implements chunk files: the on-disk unit of the log.
//
// A chunk file backs one or more consecutive logical chunks. Layout:
//
//	header (50 bytes)
//	record* (u32 length, u8 kind, body)
//	end marker (u32 zero)
//	index (16 bytes per record: log position, file offset)
//	footer (40 bytes)
//
// All integers are big-endian. A file without a valid footer is still being
// written to; its records are read up to the last complete one.
package chunk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/google/uuid"
)

// MagicBytes identifies a chunk file.
const MagicBytes = "CLCHNK1"

// FooterMagic ends a sealed chunk file.
const FooterMagic = "CLCHKEND"

// Version is the current chunk format version.
const Version uint16 = 1

const (
	// HeaderSize is the fixed size of the chunk header.
	HeaderSize = 50
	// IndexEntrySize is the size of one position index entry.
	IndexEntrySize = 16
	// FooterSize is the fixed size of the chunk footer.
	FooterSize = 40
	// MaxRecordSize bounds a single record body.
	MaxRecordSize = 64 * 1024 * 1024
)

// Errors returned when decoding chunk files.
var (
	ErrInvalidMagic       = errors.New("chunk: invalid magic bytes")
	ErrUnsupportedVersion = errors.New("chunk: unsupported format version")
	ErrTruncatedHeader    = errors.New("chunk: truncated header")
	ErrInvalidFooter      = errors.New("chunk: invalid footer")
	ErrInvalidCRC         = errors.New("chunk: CRC mismatch")
	ErrCorruptRecord      = errors.New("chunk: corrupt record")
	ErrRecordTooLarge     = errors.New("chunk: record too large")
)

// crc32cTable is the Castagnoli polynomial table used for CRC32C.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Header is the fixed chunk file header.
type Header struct {
	Version     uint16
	Codec       Codec
	StartNumber int
	EndNumber   int
	ChunkID     uuid.UUID
	CreatedAt   time.Time
}

// Footer seals a chunk file.
type Footer struct {
	// IndexOffset is the byte offset of the position index.
	IndexOffset  uint64
	RecordCount  uint32
	MinTimestamp time.Time
	MaxTimestamp time.Time
	CRC          uint32
}

// IndexEntry maps a record's log position to its file offset.
type IndexEntry struct {
	LogPosition int64
	Offset      uint64
}

func encodeHeader(buf []byte, h Header) {
	offset := 0
	copy(buf[offset:], MagicBytes)
	offset += 7
	binary.BigEndian.PutUint16(buf[offset:], Version)
	offset += 2
	buf[offset] = byte(h.Codec)
	offset++
	binary.BigEndian.PutUint32(buf[offset:], uint32(h.StartNumber))
	offset += 4
	binary.BigEndian.PutUint32(buf[offset:], uint32(h.EndNumber))
	offset += 4
	copy(buf[offset:], h.ChunkID[:])
	offset += 16
	binary.BigEndian.PutUint64(buf[offset:], uint64(h.CreatedAt.UnixMilli()))
	// The remaining 8 bytes are reserved.
}

// ParseHeader parses the fixed chunk header.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, ErrTruncatedHeader
	}
	if string(data[:7]) != MagicBytes {
		return Header{}, fmt.Errorf("%w: got %q, want %q", ErrInvalidMagic, string(data[:7]), MagicBytes)
	}
	h := Header{Version: binary.BigEndian.Uint16(data[7:9])}
	if h.Version != Version {
		return Header{}, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, h.Version, Version)
	}
	h.Codec = Codec(data[9])
	if !h.Codec.valid() {
		return Header{}, fmt.Errorf("%w: %d", ErrUnknownCodec, data[9])
	}
	h.StartNumber = int(binary.BigEndian.Uint32(data[10:14]))
	h.EndNumber = int(binary.BigEndian.Uint32(data[14:18]))
	copy(h.ChunkID[:], data[18:34])
	h.CreatedAt = time.UnixMilli(int64(binary.BigEndian.Uint64(data[34:42]))).UTC()
	return h, nil
}

// encodeFooter writes every footer field except the CRC, which covers all
// bytes before it.
func encodeFooter(buf []byte, f Footer) {
	binary.BigEndian.PutUint64(buf[0:], f.IndexOffset)
	binary.BigEndian.PutUint32(buf[8:], f.RecordCount)
	binary.BigEndian.PutUint64(buf[12:], uint64(unixNano(f.MinTimestamp)))
	binary.BigEndian.PutUint64(buf[20:], uint64(unixNano(f.MaxTimestamp)))
	binary.BigEndian.PutUint32(buf[28:], f.CRC)
	copy(buf[32:], FooterMagic)
}

// ParseFooter parses the last FooterSize bytes of a sealed chunk. It does
// not verify the CRC.
func ParseFooter(data []byte) (Footer, error) {
	if len(data) < FooterSize || string(data[32:40]) != FooterMagic {
		return Footer{}, ErrInvalidFooter
	}
	return Footer{
		IndexOffset:  binary.BigEndian.Uint64(data[0:8]),
		RecordCount:  binary.BigEndian.Uint32(data[8:12]),
		MinTimestamp: fromUnixNano(int64(binary.BigEndian.Uint64(data[12:20]))),
		MaxTimestamp: fromUnixNano(int64(binary.BigEndian.Uint64(data[20:28]))),
		CRC:          binary.BigEndian.Uint32(data[28:32]),
	}, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
