package archive

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chunklog/chunklog/internal/chunk"
	"github.com/chunklog/chunklog/internal/metadata"
	"github.com/chunklog/chunklog/internal/objectstore"
	"github.com/chunklog/chunklog/internal/record"
	"github.com/chunklog/chunklog/internal/scavenge"
	"github.com/chunklog/chunklog/internal/scavenge/state"
)

// TestArchiverRewritesRemoteChunk scavenges a chunk that only exists in the
// archive and checks the archived copy is replaced.
func TestArchiverRewritesRemoteChunk(t *testing.T) {
	ctx := context.Background()
	store := objectstore.NewMockStore()
	a := New(store, DefaultConfig(), nil)

	// Seed the archive with chunk 0 from a throwaway node.
	seed := newManager(t, nil)
	require.NoError(t, a.StoreSegment(ctx, sealedSegment(t, seed, 0, 6)))

	m := newManager(t, a)
	require.True(t, m.Chunks()[0].IsRemote)

	st := state.New(metadata.NewMockStore(), state.DefaultConfig(), nil)
	require.NoError(t, st.IncreaseChunkWeight(ctx, 0, 5))
	require.NoError(t, st.SetOriginalStreamData(ctx, "orders", scavenge.OriginalStreamData{
		DiscardPoint:      scavenge.DiscardBefore(4),
		MaybeDiscardPoint: scavenge.KeepAll,
	}))

	cfg := scavenge.DefaultExecutorConfig()
	cfg.ChunkSize = testChunkSize
	cfg.IsArchiver = true
	remover := chunk.NewRetentionRemover(chunk.RetentionConfig{}, m, a, nil)
	executor := scavenge.NewChunkExecutor(cfg, m, a, remover, nil, nil)

	sp := scavenge.ScavengePoint{Number: 1, Position: testChunkSize, Threshold: 1, EffectiveNow: time.Now()}
	require.NoError(t, executor.Execute(ctx, sp, st))

	r, err := m.GetReaderFor(ctx, 0)
	require.NoError(t, err)
	defer r.Close()
	var events []int64
	for rec, err := range r.Records(ctx) {
		require.NoError(t, err)
		events = append(events, rec.(*record.Prepare).EventNumber)
	}
	assert.Equal(t, []int64{4, 5}, events)

	// The local rewrite output was discarded after upload.
	entries, err := os.ReadDir(m.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), chunk.TempSuffix), e.Name())
	}

	weight, err := sumWeights(ctx, st)
	require.NoError(t, err)
	assert.Zero(t, weight)
}

func sumWeights(ctx context.Context, st *state.Store) (float64, error) {
	w, err := st.BorrowWorker(ctx)
	if err != nil {
		return 0, err
	}
	defer w.Release()
	return w.SumChunkWeights(ctx, 0, 0)
}
