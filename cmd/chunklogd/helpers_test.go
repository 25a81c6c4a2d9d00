package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/chunklog/chunklog/internal/chunk"
	"github.com/chunklog/chunklog/internal/config"
	"github.com/chunklog/chunklog/internal/logging"
	"github.com/chunklog/chunklog/internal/metadata/oxia"
	"github.com/chunklog/chunklog/internal/objectstore"
	"github.com/chunklog/chunklog/internal/record"
)

const testChunkSize = 1000

var testEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// testConfig returns a configuration over a temporary chunk directory and
// the in-process metadata store.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Node.ID = "node-test"
	cfg.Storage.ChunkDir = t.TempDir()
	cfg.Storage.ChunkSizeBytes = testChunkSize
	cfg.Metadata.OxiaEndpoint = MemoryMetadataEndpoint
	cfg.Observability.MetricsAddr = ""
	cfg.Observability.HealthAddr = ""
	cfg.Scavenge.Threshold = 1
	return cfg
}

// testConfigWithOxia creates a test configuration with an embedded Oxia server.
func testConfigWithOxia(t *testing.T) *config.Config {
	t.Helper()

	cfg := testConfig(t)
	cfg.Metadata.OxiaEndpoint = oxia.StartTestServer(t)
	cfg.Metadata.Namespace = oxia.TestNamespace
	return cfg
}

func openTestNode(t *testing.T, cfg *config.Config, store objectstore.Store) *Node {
	t.Helper()
	node, err := OpenNode(context.Background(), NodeOptions{
		Config:      cfg,
		Logger:      logging.Nop(),
		Registry:    prometheus.NewRegistry(),
		ObjectStore: store,
	})
	require.NoError(t, err)
	t.Cleanup(func() { node.Close() })
	return node
}

func prepareAt(pos int64, stream string, n int64) *record.Prepare {
	return &record.Prepare{
		LogPosition:         pos,
		TransactionPosition: pos,
		StreamID:            stream,
		EventNumber:         n,
		EventType:           "test-event",
		TimeStamp:           testEpoch.Add(time.Duration(pos) * time.Second),
		Data:                bytes.Repeat([]byte("payload "), 16),
	}
}

// seedChunks writes sealed chunk 0 with four "orders" events and one
// "users" event, sealed chunk 1 with one more "orders" event, and leaves
// chunk 2 open.
func seedChunks(t *testing.T, dir string) {
	t.Helper()
	m, err := chunk.NewFileManager(chunk.ManagerConfig{Dir: dir, ChunkSize: testChunkSize}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, m.Load(context.Background()))

	write := func(n int, recs ...record.Record) {
		w, err := m.CreateChunk(n, n)
		require.NoError(t, err)
		for _, rec := range recs {
			require.NoError(t, w.WriteRecord(rec))
		}
		_, err = w.Complete(context.Background())
		require.NoError(t, err)
	}
	write(0,
		prepareAt(0, "orders", 0),
		prepareAt(100, "orders", 1),
		prepareAt(200, "orders", 2),
		prepareAt(300, "orders", 3),
		prepareAt(400, "users", 0),
	)
	write(1, prepareAt(1000, "orders", 4))

	open, err := m.CreateChunk(2, 2)
	require.NoError(t, err)
	require.NoError(t, open.WriteRecord(prepareAt(2000, "orders", 5)))
	require.NoError(t, open.Flush())
	t.Cleanup(func() { open.Abort(false) })
}
