// Package keys provides key encoding/decoding for the scavenge keyspace.
// Keys use zero-padded numeric encoding for lexicographic ordering.
//
// Layout:
//
//	/chunklog/v1/scavenge/checkpoint
//	/chunklog/v1/scavenge/lock
//	/chunklog/v1/scavenge/points/<numberZ>
//	/chunklog/v1/scavenge/weights/<chunkZ>
//	/chunklog/v1/scavenge/metastreams/<escapedStreamId>
//	/chunklog/v1/scavenge/originals/<escapedStreamId>
//
// Stream ids are path-escaped so that a stream name containing '/' stays a
// single key component.
package keys

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Key component widths for zero-padded encoding.
const (
	// ChunkWidth is the number of digits for zero-padded chunk numbers.
	ChunkWidth = 10

	// PointWidth is the number of digits for zero-padded scavenge point numbers.
	PointWidth = 10
)

// Key prefixes.
const (
	// Prefix is the root prefix for all chunklog keys.
	Prefix = "/chunklog/v1"

	// ScavengePrefix is the prefix for scavenge state.
	ScavengePrefix = Prefix + "/scavenge"

	// CheckpointKey holds the current scavenge checkpoint.
	CheckpointKey = ScavengePrefix + "/checkpoint"

	// RunLockKey is the ephemeral key held by the node running a scavenge.
	RunLockKey = ScavengePrefix + "/lock"

	// ScavengePointsPrefix lists every scavenge point that has been started.
	ScavengePointsPrefix = ScavengePrefix + "/points/"

	// ChunkWeightsPrefix is the prefix for per-chunk weights. Only non-zero
	// weights are stored.
	ChunkWeightsPrefix = ScavengePrefix + "/weights/"

	// MetastreamsPrefix is the prefix for metastream discard data.
	MetastreamsPrefix = ScavengePrefix + "/metastreams/"

	// OriginalsPrefix is the prefix for original stream discard data.
	OriginalsPrefix = ScavengePrefix + "/originals/"
)

// Common errors.
var (
	// ErrInvalidKey is returned when a key cannot be parsed.
	ErrInvalidKey = errors.New("keys: invalid key format")

	// ErrInvalidNumber is returned when a numeric component is negative.
	ErrInvalidNumber = errors.New("keys: number must be non-negative")

	// ErrEmptyStreamID is returned for an empty stream id.
	ErrEmptyStreamID = errors.New("keys: empty stream id")
)

// EncodeInt encodes a non-negative integer as a zero-padded decimal string.
func EncodeInt(v int64, width int) (string, error) {
	if v < 0 {
		return "", fmt.Errorf("%w: %d", ErrInvalidNumber, v)
	}
	return fmt.Sprintf("%0*d", width, v), nil
}

// DecodeInt decodes a zero-padded decimal string.
func DecodeInt(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// ChunkWeightKey returns the weight key of a logical chunk.
func ChunkWeightKey(chunk int) (string, error) {
	z, err := EncodeInt(int64(chunk), ChunkWidth)
	if err != nil {
		return "", err
	}
	return ChunkWeightsPrefix + z, nil
}

// ChunkWeightRange returns the [start, end) key range that covers the
// logical chunks startChunk through endChunk inclusive.
func ChunkWeightRange(startChunk, endChunk int) (string, string, error) {
	if endChunk < startChunk {
		return "", "", fmt.Errorf("%w: chunk range %d-%d", ErrInvalidKey, startChunk, endChunk)
	}
	start, err := ChunkWeightKey(startChunk)
	if err != nil {
		return "", "", err
	}
	end, err := ChunkWeightKey(endChunk + 1)
	if err != nil {
		return "", "", err
	}
	return start, end, nil
}

// ParseChunkWeightKey extracts the chunk number from a weight key.
func ParseChunkWeightKey(key string) (int, error) {
	rest, ok := strings.CutPrefix(key, ChunkWeightsPrefix)
	if !ok || len(rest) != ChunkWidth {
		return 0, ErrInvalidKey
	}
	n, err := DecodeInt(rest)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return int(n), nil
}

// ScavengePointKey returns the key recording scavenge point number.
func ScavengePointKey(number int) (string, error) {
	z, err := EncodeInt(int64(number), PointWidth)
	if err != nil {
		return "", err
	}
	return ScavengePointsPrefix + z, nil
}

// MetastreamKey returns the key holding a metastream's discard data.
func MetastreamKey(streamID string) (string, error) {
	return streamKey(MetastreamsPrefix, streamID)
}

// OriginalStreamKey returns the key holding an original stream's discard data.
func OriginalStreamKey(streamID string) (string, error) {
	return streamKey(OriginalsPrefix, streamID)
}

func streamKey(prefix, streamID string) (string, error) {
	if streamID == "" {
		return "", ErrEmptyStreamID
	}
	return prefix + url.PathEscape(streamID), nil
}

// ParseStreamKey extracts the stream id from a metastream or original stream key.
func ParseStreamKey(prefix, key string) (string, error) {
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", ErrInvalidKey
	}
	id, err := url.PathUnescape(rest)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return id, nil
}
