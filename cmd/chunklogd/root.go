package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chunklog/chunklog/internal/config"
	"github.com/chunklog/chunklog/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "chunklogd",
	Short: "Segment scavenger for chunked event logs",
	Long: `chunklogd reclaims space in a chunked event log. A scavenge visits every
sealed chunk below the scavenge point, rewrites the chunks whose weight
crossed the threshold and then deletes bookkeeping for spent streams.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (default: $"+config.ConfigPathEnv+" or built-in defaults)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(scavengeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sweepCmd)
}

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	return logging.Configure(cfg.Observability.LogLevel, cfg.Observability.LogFormat).
		WithNodeID(cfg.Node.ID)
}
