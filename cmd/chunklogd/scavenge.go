package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/chunklog/chunklog/internal/health"
	"github.com/chunklog/chunklog/internal/logging"
	"github.com/chunklog/chunklog/internal/metrics"
	"github.com/chunklog/chunklog/internal/scavenge"
)

var (
	scavengeOnce        bool
	scavengeThreads     int
	scavengeMetricsAddr string
	scavengeNodeID      string
)

var scavengeCmd = &cobra.Command{
	Use:   "scavenge",
	Short: "Run or resume a scavenge",
	Long: `Run a scavenge over the configured chunk directory. An interrupted run is
resumed from its checkpoint before a new scavenge point is created.

With scavenge.interval set the command keeps running and starts a scavenge
on every tick until it receives SIGINT or SIGTERM.`,
	RunE: runScavengeCmd,
}

func init() {
	f := scavengeCmd.Flags()
	f.BoolVar(&scavengeOnce, "once", false, "Run a single scavenge even when an interval is configured")
	f.IntVar(&scavengeThreads, "threads", 0, "Override scavenge.threads")
	f.StringVar(&scavengeMetricsAddr, "metrics-addr", "", "Override observability.metricsAddr (empty config value disables the endpoint)")
	f.StringVar(&scavengeNodeID, "node-id", "", "Override node.id")
}

func runScavengeCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if scavengeThreads > 0 {
		cfg.Scavenge.Threads = scavengeThreads
	}
	if scavengeMetricsAddr != "" {
		cfg.Observability.MetricsAddr = scavengeMetricsAddr
	}
	if scavengeNodeID != "" {
		cfg.Node.ID = scavengeNodeID
	}
	if scavengeOnce {
		cfg.Scavenge.Interval = 0
	}
	logger := newLogger(cfg)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Infof("received shutdown signal", map[string]any{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	node, err := OpenNode(ctx, NodeOptions{Config: cfg, Logger: logger, Registry: reg})
	if err != nil {
		return err
	}
	defer node.Close()

	metricsAddr, healthAddr := cfg.Observability.MetricsAddr, cfg.Observability.HealthAddr
	if metricsAddr != "" && metricsAddr != healthAddr {
		srv := metrics.NewServer(metricsAddr, reg, logger)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer srv.Close()
	}

	var probes *health.Server
	if healthAddr != "" {
		probes = node.NewHealthServer(healthAddr)
		if metricsAddr == healthAddr {
			probes.RegisterHandler("/metrics", metrics.Handler(reg, logger))
		}
		if err := probes.Start(); err != nil {
			return fmt.Errorf("failed to start health server: %w", err)
		}
		defer probes.Close()
		defer probes.SetShuttingDown()
	}

	sweeper := node.NewSweeper()
	sweeper.Start()
	defer sweeper.Stop()

	r := newRunner(node, cfg.Node.ID, cfg.Scavenge.Interval, logger)
	if probes != nil && cfg.Scavenge.Interval > 0 {
		probes.LoopStarted(runnerLoop)
		defer probes.LoopStopped(runnerLoop)
	}
	err = r.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("scavenge stopped")
		return nil
	}
	return err
}

const runnerLoop = "scavenge-runner"

// runner serializes scavenges on one node under the cluster-wide run lock.
type runner struct {
	node      *Node
	scavenger *scavenge.Scavenger
	nodeID    string
	interval  time.Duration
	logger    *logging.Logger
}

func newRunner(node *Node, nodeID string, interval time.Duration, logger *logging.Logger) *runner {
	return &runner{
		node:      node,
		scavenger: node.NewScavenger(),
		nodeID:    nodeID,
		interval:  interval,
		logger:    logger.With(map[string]any{"component": "runner"}),
	}
}

// Run performs one scavenge, or one per interval until ctx is cancelled.
// In interval mode a failed run is logged and resumed on the next tick.
func (r *runner) Run(ctx context.Context) error {
	if r.interval <= 0 {
		_, err := r.RunOnce(ctx)
		return err
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Errorf("scavenge failed; retrying on next tick", map[string]any{
				"error":    err.Error(),
				"interval": r.interval.String(),
			})
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce takes the run lock, reloads the chunk list and runs the scavenger.
func (r *runner) RunOnce(ctx context.Context) (scavenge.ScavengePoint, error) {
	if _, err := r.node.state.AcquireRunLock(ctx, r.nodeID); err != nil {
		return scavenge.ScavengePoint{}, err
	}
	defer func() {
		if err := r.node.state.ReleaseRunLock(context.WithoutCancel(ctx), r.nodeID); err != nil {
			r.logger.Warnf("failed to release run lock", map[string]any{"error": err.Error()})
		}
	}()

	if err := r.node.chunks.Load(ctx); err != nil {
		return scavenge.ScavengePoint{}, err
	}

	sp, err := r.scavenger.Run(ctx, r.node.NewPoint)
	if err != nil {
		return sp, err
	}
	r.logger.Infof("scavenge finished", map[string]any{
		"scavengePoint": sp.String(),
		"position":      sp.Position,
	})
	return sp, nil
}
