package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/chunklog/chunklog/internal/chunk"
	"github.com/chunklog/chunklog/internal/health"
	"github.com/chunklog/chunklog/internal/logging"
	"github.com/chunklog/chunklog/internal/objectstore"
	"github.com/chunklog/chunklog/internal/scavenge"
	"github.com/chunklog/chunklog/internal/scavenge/state"
)

func spendOrders(t *testing.T, node *Node) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, node.state.IncreaseChunkWeight(ctx, 0, 10))
	require.NoError(t, node.state.SetOriginalStreamData(ctx, "orders", scavenge.OriginalStreamData{
		DiscardPoint:      scavenge.DiscardBefore(2),
		MaybeDiscardPoint: scavenge.KeepAll,
	}))
}

func keptPositions(t *testing.T, node *Node, position int64) []int64 {
	t.Helper()
	r, err := node.chunks.GetReaderFor(context.Background(), position)
	require.NoError(t, err)
	defer r.Close()

	var out []int64
	for rec, err := range r.Records(context.Background()) {
		require.NoError(t, err)
		out = append(out, rec.Position())
	}
	return out
}

func TestOpenNode_UnknownCodec(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Codec = "brotli"

	_, err := OpenNode(context.Background(), NodeOptions{
		Config:   cfg,
		Logger:   logging.Nop(),
		Registry: prometheus.NewRegistry(),
	})
	require.ErrorIs(t, err, chunk.ErrUnknownCodec)
}

func TestRunner_RunOnce(t *testing.T) {
	cfg := testConfig(t)
	seedChunks(t, cfg.Storage.ChunkDir)
	node := openTestNode(t, cfg, nil)
	spendOrders(t, node)

	r := newRunner(node, cfg.Node.ID, 0, logging.Nop())
	sp, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, sp.Number)
	assert.Equal(t, int64(2*testChunkSize), sp.Position, "horizon stops at the open chunk")
	assert.NotEmpty(t, sp.Name)
	assert.Equal(t, []int64{200, 300, 400}, keptPositions(t, node, 0))

	holder, err := node.state.RunLockHolder(context.Background())
	require.NoError(t, err)
	assert.Nil(t, holder, "run lock released after the run")

	report, err := node.Status(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, string(scavenge.StageDone), report.Stage)
	assert.Equal(t, 3, report.Chunks)
	require.Len(t, report.History, 1)
	assert.Equal(t, sp.Name, report.History[0].Name)
}

func TestRunner_SecondRunAdvancesPointNumber(t *testing.T) {
	cfg := testConfig(t)
	seedChunks(t, cfg.Storage.ChunkDir)
	node := openTestNode(t, cfg, nil)

	r := newRunner(node, cfg.Node.ID, 0, logging.Nop())
	first, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	second, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Number+1, second.Number)
	assert.NotEqual(t, first.Name, second.Name)
}

func TestRunner_LockHeldElsewhere(t *testing.T) {
	cfg := testConfig(t)
	node := openTestNode(t, cfg, nil)

	_, err := node.state.AcquireRunLock(context.Background(), "other-node")
	require.NoError(t, err)

	r := newRunner(node, cfg.Node.ID, 0, logging.Nop())
	_, err = r.RunOnce(context.Background())
	require.ErrorIs(t, err, state.ErrRunLockHeld)

	report, err := node.Status(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "other-node", report.LockHolder)
	assert.Equal(t, "none", report.Stage)
}

func TestRunner_IntervalStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	seedChunks(t, cfg.Storage.ChunkDir)
	node := openTestNode(t, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	r := newRunner(node, cfg.Node.ID, 10*time.Millisecond, logging.Nop())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		points, err := node.state.ScavengePoints(context.Background())
		return err == nil && len(points) >= 2
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestNode_ArchiverRewritesRemoteChunk(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Node.IsArchiver = true
	cfg.ObjectStore.Prefix = "chunks/"
	seedChunks(t, cfg.Storage.ChunkDir)

	// Move chunk 0 into the archive so that it only exists remotely.
	store := objectstore.NewMockStore()
	name := chunk.FileName(0, 0)
	path := filepath.Join(cfg.Storage.ChunkDir, name)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "chunks/"+name, bytes.NewReader(data), int64(len(data))))
	require.NoError(t, os.Remove(path))

	node := openTestNode(t, cfg, store)
	spendOrders(t, node)

	report, err := node.Status(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.RemoteChunks)

	r := newRunner(node, cfg.Node.ID, 0, logging.Nop())
	_, err = r.RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, []int64{200, 300, 400}, keptPositions(t, node, 0))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "remote chunk is rewritten in the archive, not locally")
}

func TestNode_WithOxia(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Oxia test in short mode")
	}
	cfg := testConfigWithOxia(t)
	seedChunks(t, cfg.Storage.ChunkDir)
	node := openTestNode(t, cfg, nil)
	spendOrders(t, node)

	r := newRunner(node, cfg.Node.ID, 0, logging.Nop())
	_, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{200, 300, 400}, keptPositions(t, node, 0))
}

func TestNode_HealthServer(t *testing.T) {
	cfg := testConfig(t)
	seedChunks(t, cfg.Storage.ChunkDir)
	node := openTestNode(t, cfg, objectstore.NewMockStore())

	srv := node.NewHealthServer("127.0.0.1:0")
	require.NoError(t, srv.Start())
	defer srv.Close()

	ready := srv.CheckReadiness(context.Background())
	assert.Equal(t, health.StatusOK, ready.Status)
	assert.Contains(t, ready.Checks, "metadata_store")
	assert.Contains(t, ready.Checks, "object_store")
	assert.Contains(t, ready.Checks, "chunk_dir")

	resp, err := http.Get("http://" + srv.Addr() + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report StatusReport
	require.NoError(t, yaml.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, "none", report.Stage)
	assert.Equal(t, int64(2*testChunkSize), report.SealedEnd)
}
