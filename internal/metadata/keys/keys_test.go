package keys

import (
	"errors"
	"sort"
	"testing"
)

func TestChunkWeightKeyOrdering(t *testing.T) {
	var keys []string
	for _, n := range []int{100, 2, 31, 0, 9} {
		k, err := ChunkWeightKey(n)
		if err != nil {
			t.Fatal(err)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	want := []int{0, 2, 9, 31, 100}
	for i, k := range keys {
		n, err := ParseChunkWeightKey(k)
		if err != nil {
			t.Fatalf("ParseChunkWeightKey(%q): %v", k, err)
		}
		if n != want[i] {
			t.Errorf("sorted[%d] = %d, want %d", i, n, want[i])
		}
	}
}

func TestChunkWeightKeyNegative(t *testing.T) {
	if _, err := ChunkWeightKey(-1); !errors.Is(err, ErrInvalidNumber) {
		t.Errorf("ChunkWeightKey(-1) = %v, want ErrInvalidNumber", err)
	}
}

func TestChunkWeightRange(t *testing.T) {
	start, end, err := ChunkWeightRange(4, 7)
	if err != nil {
		t.Fatal(err)
	}
	if start != ChunkWeightsPrefix+"0000000004" || end != ChunkWeightsPrefix+"0000000008" {
		t.Errorf("range = [%q, %q)", start, end)
	}

	inside, _ := ChunkWeightKey(7)
	outside, _ := ChunkWeightKey(8)
	if !(inside >= start && inside < end) {
		t.Error("chunk 7 should be inside the range")
	}
	if outside < end {
		t.Error("chunk 8 should be outside the range")
	}

	if _, _, err := ChunkWeightRange(5, 4); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("inverted range = %v, want ErrInvalidKey", err)
	}
}

func TestParseChunkWeightKeyInvalid(t *testing.T) {
	for _, k := range []string{
		"/other/0000000001",
		ChunkWeightsPrefix + "12",
		ChunkWeightsPrefix + "00000000zz",
	} {
		if _, err := ParseChunkWeightKey(k); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("ParseChunkWeightKey(%q) = %v, want ErrInvalidKey", k, err)
		}
	}
}

func TestStreamKeysEscapeSlashes(t *testing.T) {
	tests := []string{"orders", "tenant/orders", "$$orders", "with space"}
	for _, id := range tests {
		t.Run(id, func(t *testing.T) {
			key, err := OriginalStreamKey(id)
			if err != nil {
				t.Fatal(err)
			}
			got, err := ParseStreamKey(OriginalsPrefix, key)
			if err != nil {
				t.Fatalf("ParseStreamKey(%q): %v", key, err)
			}
			if got != id {
				t.Errorf("round trip = %q, want %q", got, id)
			}
		})
	}

	key, _ := MetastreamKey("a/b")
	if key != MetastreamsPrefix+"a%2Fb" {
		t.Errorf("MetastreamKey(a/b) = %q", key)
	}
}

func TestStreamKeyEmpty(t *testing.T) {
	if _, err := MetastreamKey(""); !errors.Is(err, ErrEmptyStreamID) {
		t.Errorf("MetastreamKey(\"\") = %v, want ErrEmptyStreamID", err)
	}
	if _, err := ParseStreamKey(OriginalsPrefix, OriginalsPrefix); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("ParseStreamKey(prefix only) = %v, want ErrInvalidKey", err)
	}
}

func TestScavengePointKey(t *testing.T) {
	k, err := ScavengePointKey(12)
	if err != nil {
		t.Fatal(err)
	}
	if k != ScavengePointsPrefix+"0000000012" {
		t.Errorf("ScavengePointKey(12) = %q", k)
	}
}
