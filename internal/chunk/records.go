package chunk

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/chunklog/chunklog/internal/record"
)

const flagTombstone = 1 << 0

// appendRecord appends the kind byte and body of rec to buf. Prepare
// payloads are compressed with codec.
func appendRecord(buf []byte, rec record.Record, codec Codec) ([]byte, error) {
	switch r := rec.(type) {
	case *record.Prepare:
		data, err := compress(codec, r.Data)
		if err != nil {
			return nil, err
		}
		if len(r.StreamID) > math.MaxUint16 || len(r.EventType) > math.MaxUint16 {
			return nil, fmt.Errorf("%w: stream id or event type too long", ErrCorruptRecord)
		}
		var flags byte
		if r.Tombstone {
			flags |= flagTombstone
		}
		buf = append(buf, byte(record.KindPrepare))
		buf = binary.BigEndian.AppendUint64(buf, uint64(r.LogPosition))
		buf = binary.BigEndian.AppendUint64(buf, uint64(r.TransactionPosition))
		buf = append(buf, byte(r.Role), flags)
		buf = binary.BigEndian.AppendUint64(buf, uint64(r.EventNumber))
		buf = binary.BigEndian.AppendUint64(buf, uint64(unixNano(r.TimeStamp)))
		buf = appendString16(buf, r.StreamID)
		buf = appendString16(buf, r.EventType)
		buf = appendBytes32(buf, data)
		buf = appendBytes32(buf, r.Metadata)
		return buf, nil

	case *record.Commit:
		buf = append(buf, byte(record.KindCommit))
		buf = binary.BigEndian.AppendUint64(buf, uint64(r.LogPosition))
		buf = binary.BigEndian.AppendUint64(buf, uint64(r.TransactionPosition))
		buf = binary.BigEndian.AppendUint64(buf, uint64(r.FirstEventNumber))
		buf = binary.BigEndian.AppendUint64(buf, uint64(unixNano(r.TimeStamp)))
		return buf, nil

	case *record.System:
		buf = append(buf, byte(record.KindSystem))
		buf = binary.BigEndian.AppendUint64(buf, uint64(r.LogPosition))
		buf = binary.BigEndian.AppendUint64(buf, uint64(unixNano(r.TimeStamp)))
		buf = appendBytes32(buf, r.Data)
		return buf, nil

	default:
		return nil, fmt.Errorf("%w: unsupported record type %T", ErrCorruptRecord, rec)
	}
}

func appendString16(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func appendBytes32(buf []byte, b []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// decodeRecord decodes a kind byte plus body.
func decodeRecord(data []byte, codec Codec) (record.Record, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty record", ErrCorruptRecord)
	}
	c := cursor{data: data[1:]}
	switch record.Kind(data[0]) {
	case record.KindPrepare:
		p := &record.Prepare{
			LogPosition:         c.i64(),
			TransactionPosition: c.i64(),
			Role:                record.TxnRole(c.u8()),
		}
		flags := c.u8()
		p.Tombstone = flags&flagTombstone != 0
		p.EventNumber = c.i64()
		p.TimeStamp = fromUnixNano(c.i64())
		p.StreamID = string(c.bytes16())
		p.EventType = string(c.bytes16())
		payload := c.bytes32()
		p.Metadata = c.bytes32()
		if err := c.done(); err != nil {
			return nil, err
		}
		plain, err := decompress(codec, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: payload at %d: %v", ErrCorruptRecord, p.LogPosition, err)
		}
		p.Data = plain
		return p, nil

	case record.KindCommit:
		r := &record.Commit{
			LogPosition:         c.i64(),
			TransactionPosition: c.i64(),
			FirstEventNumber:    c.i64(),
			TimeStamp:           fromUnixNano(c.i64()),
		}
		return r, c.done()

	case record.KindSystem:
		r := &record.System{
			LogPosition: c.i64(),
			TimeStamp:   fromUnixNano(c.i64()),
			Data:        c.bytes32(),
		}
		return r, c.done()

	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrCorruptRecord, data[0])
	}
}

// recordTime returns the timestamp used for the footer's time range.
func recordTime(rec record.Record) time.Time {
	switch r := rec.(type) {
	case *record.Prepare:
		return r.TimeStamp
	case *record.Commit:
		return r.TimeStamp
	case *record.System:
		return r.TimeStamp
	default:
		return time.Time{}
	}
}

// cursor reads big-endian fields and remembers the first short read.
type cursor struct {
	data []byte
	err  error
}

func (c *cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if n > len(c.data) {
		c.err = fmt.Errorf("%w: truncated body", ErrCorruptRecord)
		return nil
	}
	b := c.data[:n]
	c.data = c.data[n:]
	return b
}

func (c *cursor) u8() byte {
	if b := c.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (c *cursor) i64() int64 {
	if b := c.take(8); b != nil {
		return int64(binary.BigEndian.Uint64(b))
	}
	return 0
}

func (c *cursor) bytes16() []byte {
	b := c.take(2)
	if b == nil {
		return nil
	}
	return c.copyOf(int(binary.BigEndian.Uint16(b)))
}

func (c *cursor) bytes32() []byte {
	b := c.take(4)
	if b == nil {
		return nil
	}
	return c.copyOf(int(binary.BigEndian.Uint32(b)))
}

func (c *cursor) copyOf(n int) []byte {
	b := c.take(n)
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}

func (c *cursor) done() error {
	if c.err != nil {
		return c.err
	}
	if len(c.data) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrCorruptRecord, len(c.data))
	}
	return nil
}
