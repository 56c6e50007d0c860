package config

import (
	"strings"
	"time"
)

// ApplyDefaults fills in any unspecified configuration fields with
// sensible defaults. Explicit values are preserved; zero values are
// replaced.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applyDiskDefaults(&cfg.Disk)
	applyCacheDefaults(&cfg.Cache)
	applyVentiDefaults(&cfg.Venti)
	applySnapshotDefaults(&cfg.Snapshot)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = []string{
			"cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines",
		}
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyDiskDefaults(cfg *DiskConfig) {
	if cfg.BlockSize == 0 {
		cfg.BlockSize = 8192
	}
	if cfg.DataBlocks == 0 {
		cfg.DataBlocks = 1 << 20 // 8GiB at the default block size
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.Capacity == 0 {
		cfg.Capacity = 4096
	}
	if cfg.DirtyPercentage == 0 {
		cfg.DirtyPercentage = 50
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 1 * time.Second
	}
}

func applyVentiDefaults(cfg *VentiConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:9000"
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
}

func applySnapshotDefaults(cfg *SnapshotConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = 1 * time.Hour
	}
	if cfg.ArchiveInterval == 0 {
		cfg.ArchiveInterval = 5 * time.Minute
	}
	if cfg.KeepSnapshots == 0 {
		cfg.KeepSnapshots = 7
	}
}

// GetDefaultConfig returns a Config with all defaults applied, suitable
// for `fossilctl init` to write out as a starting point.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Disk: DiskConfig{
			Path: "/var/lib/fossil/fossil.img",
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
