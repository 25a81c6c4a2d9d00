package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/chunklog/chunklog/internal/archive"
	"github.com/chunklog/chunklog/internal/chunk"
	"github.com/chunklog/chunklog/internal/config"
	"github.com/chunklog/chunklog/internal/health"
	"github.com/chunklog/chunklog/internal/logging"
	"github.com/chunklog/chunklog/internal/metadata"
	metaoxia "github.com/chunklog/chunklog/internal/metadata/oxia"
	"github.com/chunklog/chunklog/internal/metrics"
	"github.com/chunklog/chunklog/internal/objectstore"
	"github.com/chunklog/chunklog/internal/objectstore/s3"
	"github.com/chunklog/chunklog/internal/scavenge"
	"github.com/chunklog/chunklog/internal/scavenge/state"
)

// MemoryMetadataEndpoint selects the in-process metadata store instead of
// Oxia. State does not survive a restart.
const MemoryMetadataEndpoint = "memory"

// NodeOptions contains the configuration for opening a node.
type NodeOptions struct {
	Config *config.Config
	Logger *logging.Logger

	// Registry receives every metric the node exports. Nil means the
	// default Prometheus registry.
	Registry *prometheus.Registry

	// MetaStore and ObjectStore replace the configured backends when set.
	MetaStore   metadata.MetadataStore
	ObjectStore objectstore.Store
}

// Node holds the components a scavenge runs against.
type Node struct {
	cfg    *config.Config
	logger *logging.Logger

	registerer prometheus.Registerer

	metaStore   metadata.MetadataStore
	objectStore objectstore.Store
	archive     *archive.Storage
	chunks      *chunk.FileManager
	state       *state.Store

	scavengeMetrics *metrics.ScavengeMetrics
}

// OpenNode connects the metadata and object stores and loads the chunk
// directory.
func OpenNode(ctx context.Context, opts NodeOptions) (_ *Node, err error) {
	cfg := opts.Config
	if opts.Logger == nil {
		opts.Logger = logging.Global()
	}

	n := &Node{
		cfg:        cfg,
		logger:     opts.Logger,
		registerer: prometheus.DefaultRegisterer,
	}
	if opts.Registry != nil {
		n.registerer = opts.Registry
	}
	defer func() {
		if err != nil {
			n.Close()
		}
	}()

	meta := opts.MetaStore
	if meta == nil {
		meta, err = openMetadata(ctx, cfg.Metadata)
		if err != nil {
			return nil, err
		}
	}
	n.metaStore = metadata.NewInstrumentedStore(meta, metrics.NewMetadataMetricsWithRegistry(n.registerer))

	store := opts.ObjectStore
	if store == nil && cfg.ObjectStore.Bucket != "" {
		store, err = s3.New(ctx, s3.Config{
			Bucket:          cfg.ObjectStore.Bucket,
			Region:          cfg.ObjectStore.Region,
			Endpoint:        cfg.ObjectStore.Endpoint,
			AccessKeyID:     cfg.ObjectStore.AccessKey,
			SecretAccessKey: cfg.ObjectStore.SecretKey,
			UsePathStyle:    cfg.ObjectStore.Endpoint != "",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize object store: %w", err)
		}
	}

	var remote chunk.RemoteChunks
	if store != nil {
		n.objectStore = objectstore.NewInstrumentedStore(store, metrics.NewObjectStoreMetricsWithRegistry(n.registerer))
		archiveCfg := archive.DefaultConfig()
		archiveCfg.Prefix = cfg.ObjectStore.Prefix
		if cfg.ObjectStore.MultipartThresholdBytes > 0 {
			archiveCfg.MultipartThreshold = cfg.ObjectStore.MultipartThresholdBytes
		}
		n.archive = archive.New(n.objectStore, archiveCfg, n.logger)
		remote = n.archive
	} else {
		n.logger.Warn("object store bucket not configured; remote chunks disabled")
	}

	codec, err := chunk.ParseCodec(cfg.Storage.Codec)
	if err != nil {
		return nil, err
	}
	n.chunks, err = chunk.NewFileManager(chunk.ManagerConfig{
		Dir:       cfg.Storage.ChunkDir,
		ChunkSize: cfg.Storage.ChunkSizeBytes,
		Codec:     codec,
	}, remote, n.logger)
	if err != nil {
		return nil, err
	}
	if err := n.chunks.Load(ctx); err != nil {
		return nil, err
	}

	stateCfg := state.DefaultConfig()
	stateCfg.Workers = max(stateCfg.Workers, cfg.Scavenge.MaxThreads)
	n.state = state.New(n.metaStore, stateCfg, n.logger)
	n.scavengeMetrics = metrics.NewScavengeMetricsWithRegistry(n.registerer)

	return n, nil
}

func openMetadata(ctx context.Context, cfg config.MetadataConfig) (metadata.MetadataStore, error) {
	if cfg.OxiaEndpoint == MemoryMetadataEndpoint {
		return metadata.NewMockStore(), nil
	}
	store, err := metaoxia.New(ctx, metaoxia.Config{
		ServiceAddress: cfg.OxiaEndpoint,
		Namespace:      cfg.Namespace,
		RequestTimeout: 30 * time.Second,
		SessionTimeout: 15 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Oxia metadata store: %w", err)
	}
	return store, nil
}

// NewScavenger assembles the two stages over the node's components.
func (n *Node) NewScavenger() *scavenge.Scavenger {
	s := n.cfg.Scavenge
	execCfg := scavenge.ExecutorConfig{
		Threads:                 s.Threads,
		MinThreads:              s.MinThreads,
		MaxThreads:              s.MaxThreads,
		ChunkSize:               n.cfg.Storage.ChunkSizeBytes,
		UnsafeIgnoreHardDeletes: s.UnsafeIgnoreHardDeletes,
		CancellationCheckPeriod: s.CancellationCheckPeriod,
		IsArchiver:              n.cfg.Node.IsArchiver,
		ThrottlePercent:         s.ThrottlePercent,
	}

	var (
		archiveStorage scavenge.ArchiveStorage
		archiveIndex   chunk.ArchiveIndex
	)
	if n.archive != nil {
		archiveStorage = n.archive
		archiveIndex = n.archive
	}
	remover := chunk.NewRetentionRemover(chunk.RetentionConfig{
		RetainPeriod: n.cfg.Retention.RetainPeriod,
		RetainBytes:  n.cfg.Retention.RetainBytes,
	}, n.chunks, archiveIndex, n.logger)

	observer := scavenge.NewReporter(n.logger, n.scavengeMetrics)
	executor := scavenge.NewChunkExecutor(execCfg, n.chunks, archiveStorage, remover, observer, n.logger)
	cleaner := scavenge.NewCleaner(s.UnsafeIgnoreHardDeletes, n.logger)
	return scavenge.NewScavenger(n.state, executor, cleaner, observer, n.logger)
}

// NewPoint creates the scavenge point for a new run. The horizon is the end
// of the sealed prefix of the log as last loaded.
func (n *Node) NewPoint(_ context.Context, number int) (scavenge.ScavengePoint, error) {
	return scavenge.ScavengePoint{
		Number:       number,
		Position:     n.chunks.SealedEndPosition(),
		Threshold:    n.cfg.Scavenge.Threshold,
		EffectiveNow: time.Now().UTC(),
		Name:         uuid.NewString(),
	}, nil
}

// NewSweeper creates the temp file sweeper for the chunk directory.
func (n *Node) NewSweeper() *chunk.TempSweeper {
	cfg := chunk.DefaultSweeperConfig()
	if n.cfg.Retention.TempTTL > 0 {
		cfg.TTL = n.cfg.Retention.TempTTL
	}
	if n.cfg.Retention.SweepInterval > 0 {
		cfg.Interval = n.cfg.Retention.SweepInterval
	}
	return chunk.NewTempSweeper(n.chunks.Dir(), cfg, n.logger)
}

// Close releases the stores. It is safe to call on a partially opened node.
func (n *Node) Close() error {
	var errs []error
	if n.objectStore != nil {
		errs = append(errs, n.objectStore.Close())
	}
	if n.metaStore != nil {
		errs = append(errs, n.metaStore.Close())
	}
	return errors.Join(errs...)
}

// NewHealthServer creates the probe server with readiness checks for every
// dependency of the node and a /status endpoint.
func (n *Node) NewHealthServer(addr string) *health.Server {
	srv := health.NewServer(addr, n.logger)
	srv.RegisterReadinessCheck(health.NewMetadataStoreChecker(n.metaStore))
	srv.RegisterReadinessCheck(health.NewDirChecker("chunk_dir", n.chunks.Dir()))
	if n.objectStore != nil {
		srv.RegisterReadinessCheck(health.NewObjectStoreChecker(n.objectStore, n.cfg.ObjectStore.Prefix))
	}
	srv.RegisterHandler("/status", http.HandlerFunc(n.serveStatus))
	return srv
}

func (n *Node) serveStatus(w http.ResponseWriter, r *http.Request) {
	report, err := n.Status(r.Context(), statusHistoryDefault)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	out, err := yaml.Marshal(report)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(out)
}
