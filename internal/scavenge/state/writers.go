package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/chunklog/chunklog/internal/metadata"
	"github.com/chunklog/chunklog/internal/metadata/keys"
	"github.com/chunklog/chunklog/internal/scavenge"
)

// maxWeightRetries bounds the compare-and-set loop of IncreaseChunkWeight.
const maxWeightRetries = 16

// ErrTooMuchContention is returned when a weight update keeps losing its
// compare-and-set race.
var ErrTooMuchContention = errors.New("state: too much contention updating chunk weight")

// IncreaseChunkWeight adds delta to the weight of a logical chunk. A weight
// that reaches zero is deleted.
func (s *Store) IncreaseChunkWeight(ctx context.Context, chunk int, delta float64) error {
	key, err := keys.ChunkWeightKey(chunk)
	if err != nil {
		return err
	}

	for range maxWeightRetries {
		res, err := s.meta.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("state: get weight of chunk %d: %w", chunk, err)
		}

		var current float64
		expected := metadata.Version(0)
		if res.Exists {
			if current, err = decodeWeight(res.Value); err != nil {
				return fmt.Errorf("state: weight of chunk %d: %w", chunk, err)
			}
			expected = res.Version
		}

		next := current + delta
		if next == 0 {
			if !res.Exists {
				return nil
			}
			err = s.meta.Delete(ctx, key, metadata.IfVersion(expected))
		} else {
			_, err = s.meta.Put(ctx, key, encodeWeight(next), metadata.IfVersion(expected))
		}
		if errors.Is(err, metadata.ErrVersionMismatch) {
			continue
		}
		if err != nil {
			return fmt.Errorf("state: update weight of chunk %d: %w", chunk, err)
		}
		return nil
	}
	return fmt.Errorf("%w: chunk %d", ErrTooMuchContention, chunk)
}

// SetMetastreamData stores the discard data of a metastream.
func (s *Store) SetMetastreamData(ctx context.Context, streamID string, data scavenge.MetastreamData) error {
	key, err := keys.MetastreamKey(streamID)
	if err != nil {
		return err
	}
	return s.putJSON(ctx, key, data)
}

// SetOriginalStreamData stores the discard data of an original stream.
func (s *Store) SetOriginalStreamData(ctx context.Context, streamID string, data scavenge.OriginalStreamData) error {
	key, err := keys.OriginalStreamKey(streamID)
	if err != nil {
		return err
	}
	if data.Status == "" {
		data.Status = scavenge.StatusActive
	}
	return s.putJSON(ctx, key, data)
}

func (s *Store) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", key, err)
	}
	if _, err := s.meta.Put(ctx, key, data); err != nil {
		return fmt.Errorf("state: put %s: %w", key, err)
	}
	return nil
}

func encodeWeight(w float64) []byte {
	return strconv.AppendFloat(nil, w, 'g', -1, 64)
}

func decodeWeight(b []byte) (float64, error) {
	return strconv.ParseFloat(string(b), 64)
}
