// Package config provides configuration loading and validation for chunklog.
// Supports YAML files with environment variable overrides.
package config

import "time"

// Config holds all configuration for a chunklog node.
type Config struct {
	Node          NodeConfig          `yaml:"node"`
	Storage       StorageConfig       `yaml:"storage"`
	Metadata      MetadataConfig      `yaml:"metadata"`
	ObjectStore   ObjectStoreConfig   `yaml:"objectStore"`
	Scavenge      ScavengeConfig      `yaml:"scavenge"`
	Retention     RetentionConfig     `yaml:"retention"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type NodeConfig struct {
	ID string `yaml:"id" env:"CHUNKLOG_NODE_ID"`
	// IsArchiver marks the node that owns remote chunks. Only the archiver
	// rewrites chunks that live in the archive.
	IsArchiver bool `yaml:"isArchiver" env:"CHUNKLOG_IS_ARCHIVER"`
}

type StorageConfig struct {
	ChunkDir       string `yaml:"chunkDir" env:"CHUNKLOG_CHUNK_DIR"`
	ChunkSizeBytes int64  `yaml:"chunkSizeBytes" env:"CHUNKLOG_CHUNK_SIZE"`
	// Codec compresses event payloads in rewritten chunks: none, snappy, lz4 or zstd.
	Codec string `yaml:"codec" env:"CHUNKLOG_CHUNK_CODEC"`
}

type MetadataConfig struct {
	// OxiaEndpoint is the Oxia service address. "memory" keeps scavenge
	// state in process, which only suits single-shot runs and tests.
	OxiaEndpoint string `yaml:"oxiaEndpoint" env:"CHUNKLOG_OXIA_ENDPOINT"`
	Namespace    string `yaml:"namespace" env:"CHUNKLOG_OXIA_NAMESPACE"`
}

type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint" env:"CHUNKLOG_S3_ENDPOINT"`
	Bucket    string `yaml:"bucket" env:"CHUNKLOG_S3_BUCKET"`
	Region    string `yaml:"region" env:"CHUNKLOG_S3_REGION"`
	AccessKey string `yaml:"accessKey" env:"CHUNKLOG_S3_ACCESS_KEY"`
	SecretKey string `yaml:"secretKey" env:"CHUNKLOG_S3_SECRET_KEY"`
	Prefix    string `yaml:"prefix" env:"CHUNKLOG_S3_PREFIX"`
	// MultipartThresholdBytes switches archive uploads to multipart above this size.
	MultipartThresholdBytes int64 `yaml:"multipartThresholdBytes" env:"CHUNKLOG_S3_MULTIPART_THRESHOLD"`
}

type ScavengeConfig struct {
	Threads    int `yaml:"threads" env:"CHUNKLOG_SCAVENGE_THREADS"`
	MinThreads int `yaml:"minThreads" env:"CHUNKLOG_SCAVENGE_MIN_THREADS"`
	MaxThreads int `yaml:"maxThreads" env:"CHUNKLOG_SCAVENGE_MAX_THREADS"`
	// Threshold is the chunk weight above which a chunk is rewritten.
	// A negative threshold rewrites every chunk.
	Threshold               float64 `yaml:"threshold" env:"CHUNKLOG_SCAVENGE_THRESHOLD"`
	UnsafeIgnoreHardDeletes bool    `yaml:"unsafeIgnoreHardDeletes" env:"CHUNKLOG_SCAVENGE_UNSAFE_IGNORE_HARD_DELETES"`
	CancellationCheckPeriod int     `yaml:"cancellationCheckPeriod" env:"CHUNKLOG_SCAVENGE_CANCELLATION_CHECK_PERIOD"`
	// ThrottlePercent is the share of wall time spent working when running
	// single threaded. 100 disables throttling.
	ThrottlePercent int `yaml:"throttlePercent" env:"CHUNKLOG_SCAVENGE_THROTTLE_PERCENT"`
	// Interval schedules recurring scavenges in daemon mode. Zero runs once.
	Interval time.Duration `yaml:"interval" env:"CHUNKLOG_SCAVENGE_INTERVAL"`
}

type RetentionConfig struct {
	RetainPeriod  time.Duration `yaml:"retainPeriod" env:"CHUNKLOG_RETAIN_PERIOD"`
	RetainBytes   int64         `yaml:"retainBytes" env:"CHUNKLOG_RETAIN_BYTES"`
	TempTTL       time.Duration `yaml:"tempTTL" env:"CHUNKLOG_TEMP_TTL"`
	SweepInterval time.Duration `yaml:"sweepInterval" env:"CHUNKLOG_SWEEP_INTERVAL"`
}

type ObservabilityConfig struct {
	// MetricsAddr serves /metrics. Set it to HealthAddr to share one
	// listener. Empty disables it.
	MetricsAddr string `yaml:"metricsAddr" env:"CHUNKLOG_METRICS_ADDR"`
	// HealthAddr serves /healthz, /readyz and /status. Empty disables it.
	HealthAddr string `yaml:"healthAddr" env:"CHUNKLOG_HEALTH_ADDR"`
	LogLevel   string `yaml:"logLevel" env:"CHUNKLOG_LOG_LEVEL"`
	LogFormat  string `yaml:"logFormat" env:"CHUNKLOG_LOG_FORMAT"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			ID: "chunklog-0",
		},
		Storage: StorageConfig{
			ChunkDir:       "./data/chunks",
			ChunkSizeBytes: 256 * 1024 * 1024, // 256MB
			Codec:          "none",
		},
		Metadata: MetadataConfig{
			OxiaEndpoint: "localhost:6648",
			Namespace:    "chunklog",
		},
		ObjectStore: ObjectStoreConfig{
			Region:                  "us-east-1",
			Prefix:                  "chunks",
			MultipartThresholdBytes: 64 * 1024 * 1024,
		},
		Scavenge: ScavengeConfig{
			Threads:                 1,
			MinThreads:              1,
			MaxThreads:              4,
			Threshold:               0,
			CancellationCheckPeriod: 1024,
			ThrottlePercent:         100,
		},
		Retention: RetentionConfig{
			TempTTL:       time.Hour,
			SweepInterval: 10 * time.Minute,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
			HealthAddr:  ":9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}
