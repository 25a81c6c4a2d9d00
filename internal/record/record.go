// Package record defines the log records stored in chunks.
//
// A Record is one of *Prepare, *Commit or *System. Only prepares carry
// stream events and are therefore the only records a scavenge may discard.
package record

import (
	"math"
	"strings"
	"time"
)

// TombstoneEventNumber is the event number written by a hard delete.
const TombstoneEventNumber int64 = math.MaxInt64

// MetastreamPrefix marks a metastream. The metastream of stream "s" is "$$s".
const MetastreamPrefix = "$$"

// Kind identifies the concrete record type.
type Kind uint8

const (
	KindPrepare Kind = iota + 1
	KindCommit
	KindSystem
)

func (k Kind) String() string {
	switch k {
	case KindPrepare:
		return "prepare"
	case KindCommit:
		return "commit"
	case KindSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Record is a single entry of a chunk.
type Record interface {
	Kind() Kind
	// Position is the record's logical log position.
	Position() int64
}

// TxnRole describes how a prepare takes part in a transaction.
type TxnRole uint8

const (
	// SelfCommitted prepares are committed by themselves.
	SelfCommitted TxnRole = iota
	// TxnBegin opens an explicit transaction.
	TxnBegin
	// TxnData belongs to an explicit transaction without opening or closing it.
	TxnData
	// TxnEnd closes an explicit transaction.
	TxnEnd
)

func (r TxnRole) String() string {
	switch r {
	case SelfCommitted:
		return "self-committed"
	case TxnBegin:
		return "begin"
	case TxnData:
		return "data"
	case TxnEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Prepare is a stream event.
type Prepare struct {
	LogPosition         int64
	TransactionPosition int64
	Role                TxnRole
	// Tombstone is set on the record written by a hard delete.
	Tombstone   bool
	StreamID    string
	EventNumber int64
	EventType   string
	TimeStamp   time.Time
	Data        []byte
	Metadata    []byte
}

func (p *Prepare) Kind() Kind      { return KindPrepare }
func (p *Prepare) Position() int64 { return p.LogPosition }

// SelfCommitted reports whether the prepare is not part of an explicit transaction.
func (p *Prepare) SelfCommitted() bool { return p.Role == SelfCommitted }

// IsTombstone reports whether the prepare was written by a hard delete.
func (p *Prepare) IsTombstone() bool {
	return p.Tombstone || p.EventNumber == TombstoneEventNumber
}

// Commit completes an explicit transaction.
type Commit struct {
	LogPosition         int64
	TransactionPosition int64
	FirstEventNumber    int64
	TimeStamp           time.Time
}

func (c *Commit) Kind() Kind      { return KindCommit }
func (c *Commit) Position() int64 { return c.LogPosition }

// System records engine bookkeeping such as epochs.
type System struct {
	LogPosition int64
	TimeStamp   time.Time
	Data        []byte
}

func (s *System) Kind() Kind      { return KindSystem }
func (s *System) Position() int64 { return s.LogPosition }

// IsMetastream reports whether streamID names a metastream.
func IsMetastream(streamID string) bool {
	return strings.HasPrefix(streamID, MetastreamPrefix)
}

// MetastreamOf returns the metastream of an original stream.
func MetastreamOf(streamID string) string {
	return MetastreamPrefix + streamID
}

// OriginalStreamOf returns the original stream of a metastream.
func OriginalStreamOf(metastreamID string) string {
	return strings.TrimPrefix(metastreamID, MetastreamPrefix)
}

var (
	_ Record = (*Prepare)(nil)
	_ Record = (*Commit)(nil)
	_ Record = (*System)(nil)
)
