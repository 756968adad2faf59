// Package config loads Flux's YAML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every Flux tunable: the data directory, the retention
// window, search flush/compaction thresholds, the archive cache ceiling,
// thread-pool sizing, and the gRPC bind address for the admin/health
// surface (the query/mutation wire protocol itself is treated as an
// external collaborator; the admin surface is the one gRPC touchpoint this
// repo owns).
type Config struct {
	DataDir string `yaml:"data_dir"`

	Retention RetentionConfig `yaml:"retention"`
	Search    SearchConfig    `yaml:"search"`
	Commit    CommitConfig    `yaml:"commit"`
	ThreadPool ThreadPoolConfig `yaml:"thread_pool"`

	AdminBindAddr string `yaml:"admin_bind_addr"`
	LogLevel      string `yaml:"log_level"`
	LogJSON       bool   `yaml:"log_json"`
}

// RetentionConfig controls how far back historical reads remain valid
// (C2).
type RetentionConfig struct {
	Window time.Duration `yaml:"window"`
}

// SearchConfig controls the text index memory/flush/compaction pipeline
// (C8/C9/C10).
type SearchConfig struct {
	MemoryFlushThresholdBytes int64         `yaml:"memory_flush_threshold_bytes"`
	FastForwardWindow         time.Duration `yaml:"fast_forward_window"`
	CompactionInterval        time.Duration `yaml:"compaction_interval"`
	ArchiveCacheSizeBytes     int64         `yaml:"archive_cache_size_bytes"`
	ArchiveCacheHighWatermark float64       `yaml:"archive_cache_high_watermark"`
	MaxCandidateRevisions     int           `yaml:"max_candidate_revisions"`
}

// CommitConfig controls the committer's OCC retry policy (C6 Failure
// model).
type CommitConfig struct {
	OCCInitialBackoff time.Duration `yaml:"occ_initial_backoff"`
	OCCMaxBackoff     time.Duration `yaml:"occ_max_backoff"`
	OCCMaxRetries     int           `yaml:"occ_max_retries"`
}

// ThreadPoolConfig bounds blocking work: a fixed worker count and a queue
// with CoDel-style depth and age limits.
type ThreadPoolConfig struct {
	Size      int           `yaml:"size"`
	QueueSize int           `yaml:"queue_size"`
	QueueTTL  time.Duration `yaml:"queue_ttl"`
}

// Default returns the configuration Flux ships with when no file is
// supplied, sized for a single-process development deployment.
func Default() Config {
	return Config{
		DataDir: "./data",
		Retention: RetentionConfig{
			Window: 1 * time.Hour,
		},
		Search: SearchConfig{
			MemoryFlushThresholdBytes: 16 << 20,
			FastForwardWindow:         5 * time.Minute,
			CompactionInterval:        10 * time.Minute,
			ArchiveCacheSizeBytes:     512 << 20,
			ArchiveCacheHighWatermark: 0.9,
			MaxCandidateRevisions:     32 * 1024,
		},
		Commit: CommitConfig{
			OCCInitialBackoff: 10 * time.Millisecond,
			OCCMaxBackoff:     30 * time.Second,
			OCCMaxRetries:     8,
		},
		ThreadPool: ThreadPoolConfig{
			Size:      16,
			QueueSize: 256,
			QueueTTL:  5 * time.Second,
		},
		AdminBindAddr: "127.0.0.1:9095",
		LogLevel:      "info",
		LogJSON:       false,
	}
}

// Load reads and parses a YAML config file, overlaying it onto Default().
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
