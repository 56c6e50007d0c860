// Package config loads the file system's static configuration: disk
// location and geometry, cache sizing, the snapshot/archive timers, the
// venti (external content store) connection, and the ambient
// logging/telemetry stack.
//
// Configuration sources, highest precedence first:
//  1. Environment variables (FOSSIL_*), for keys present in the file
//  2. Configuration file (YAML or TOML, via viper)
//  3. Default values
//
// No command-line flag is bound to a configuration key; the CLIs only
// take the file's path. When no file is found, Load returns the defaults
// without consulting the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the full static configuration for a fossil instance.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry tracing and Pyroscope profiling.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout bounds how long fsClose waits for in-flight
	// operations and a final flush before giving up.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Metrics configures the Prometheus metrics HTTP server.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Disk describes the partitioned block device (or disk image file)
	// fossil mounts as its local store.
	Disk DiskConfig `mapstructure:"disk" yaml:"disk"`

	// Cache configures the in-memory block cache sitting in front of Disk.
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`

	// Venti configures the external content-addressed archive, if any.
	Venti VentiConfig `mapstructure:"venti" yaml:"venti"`

	// Snapshot configures the periodic snapshot protocol.
	Snapshot SnapshotConfig `mapstructure:"snapshot" yaml:"snapshot"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	Enabled    bool            `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string          `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure   bool            `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64         `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
	Profiling  ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled"`
	Endpoint     string   `mapstructure:"endpoint" yaml:"endpoint"`
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// DiskConfig describes the local partitioned store.
type DiskConfig struct {
	// Path is the disk image file or block device path.
	Path string `mapstructure:"path" validate:"required" yaml:"path"`

	// BlockSize is the fixed block size in bytes, set at Format time.
	// Default: 8192.
	BlockSize uint16 `mapstructure:"block_size" validate:"omitempty,min=512" yaml:"block_size"`

	// DataBlocks is the number of data blocks to allocate when
	// formatting a new disk image; ignored when opening an existing one.
	DataBlocks uint32 `mapstructure:"data_blocks" yaml:"data_blocks"`
}

// CacheConfig configures the block cache.
type CacheConfig struct {
	// Capacity is the maximum number of resident blocks.
	Capacity int `mapstructure:"capacity" validate:"omitempty,gt=0" yaml:"capacity"`

	// DirtyPercentage is the flush(level=0) target: the periodic flush
	// timer keeps dirty bytes under this percentage of capacity.
	DirtyPercentage int `mapstructure:"dirty_percentage" validate:"omitempty,min=1,max=100" yaml:"dirty_percentage"`

	// FlushInterval is how often the background flush timer runs.
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
}

// VentiConfig configures the external content-addressed archive store.
type VentiConfig struct {
	// Enabled controls whether archived blocks are pushed to an
	// external store at all; if false, fsSnapshot runs without the
	// archiver phase.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	Region          string `mapstructure:"region" yaml:"region"`
	Bucket          string `mapstructure:"bucket" validate:"required_if=Enabled true" yaml:"bucket"`
	KeyPrefix       string `mapstructure:"key_prefix" yaml:"key_prefix,omitempty"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
	ForcePathStyle  bool   `mapstructure:"force_path_style" yaml:"force_path_style"`
	Compress        bool   `mapstructure:"compress" yaml:"compress"`
	MaxRetries      int    `mapstructure:"max_retries" yaml:"max_retries"`
}

// SnapshotConfig configures the periodic snapshot/archive protocol.
type SnapshotConfig struct {
	// Interval is how often fsSnapshot runs automatically. Zero on a
	// Config disables the timer, but Load and ApplyDefaults replace a
	// zero value with the one-hour default; snapshots can still be
	// triggered manually.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`

	// ArchiveInterval is loaded and defaulted but not read by any
	// component: the archiver walks a snapshot when fsSnapshot hands it
	// one, not on a timer.
	ArchiveInterval time.Duration `mapstructure:"archive_interval" yaml:"archive_interval"`

	// KeepSnapshots is loaded, defaulted and validated but not read by
	// any component; epochLow advances only through an explicit
	// EpochLowSet call.
	KeepSnapshots int `mapstructure:"keep_snapshots" validate:"omitempty,gt=0" yaml:"keep_snapshots"`
}

// Load loads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration, producing a user-friendly error that
// points at `fossilctl init` if no config file exists.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  fossilctl init\n\n"+
				"Or specify a custom config file:\n"+
				"  fossilctl <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  fossilctl init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path in YAML format.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks cfg against its struct tags using go-playground/validator.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("FOSSIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "fossil")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "fossil")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
