package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chunklog/chunklog/internal/chunk"
)

var sweepTTL time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove temporary rewrite files left behind by interrupted scavenges",
	Long: `Remove *` + chunk.TempSuffix + ` files older than the TTL from the chunk
directory. Run it only while no scavenge is rewriting on this node, or keep
the TTL well above the longest chunk rewrite.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		sweeperCfg := chunk.DefaultSweeperConfig()
		if cfg.Retention.TempTTL > 0 {
			sweeperCfg.TTL = cfg.Retention.TempTTL
		}
		if sweepTTL > 0 {
			sweeperCfg.TTL = sweepTTL
		}

		removed, err := chunk.NewTempSweeper(cfg.Storage.ChunkDir, sweeperCfg, logger).SweepOnce(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d temporary file(s)\n", removed)
		return err
	},
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepTTL, "ttl", 0, "Override retention.tempTTL, e.g. 30m")
}
