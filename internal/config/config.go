// Package config provides configuration loading and validation for snapguard.
// Supports YAML files with environment variable overrides and live reload.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Disabled is the sentinel quota value that turns a limit off.
const Disabled = -1

// Config holds all configuration for the snapguard daemon.
type Config struct {
	Snapshots     SnapshotsConfig     `yaml:"snapshots"`
	Monitor       MonitorConfig       `yaml:"monitor"`
	Postgres      PostgresConfig      `yaml:"postgres"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// SnapshotsConfig describes the snapshot directory and its retention quotas.
type SnapshotsConfig struct {
	// Dir is the logical decoding snapshot directory, usually
	// <data_directory>/pg_logical/snapshots.
	Dir string `yaml:"dir" env:"SNAPGUARD_SNAPSHOT_DIR"`

	// MaxSnapFiles is the maximum allowed number of .snap files.
	// -1 disables the limit.
	MaxSnapFiles int `yaml:"maxSnapFiles" env:"SNAPGUARD_MAX_SNAP_FILES"`

	// MaxDirSizeKB is the maximum allowed aggregate size of the snapshot
	// directory in KB (1000 bytes). -1 disables the limit.
	MaxDirSizeKB int `yaml:"maxDirSizeKB" env:"SNAPGUARD_MAX_DIR_SIZE_KB"`
}

// MonitorConfig configures the monitor loop and the reclaimer.
type MonitorConfig struct {
	// CheckIntervalMs is the sleep between cycles in milliseconds.
	CheckIntervalMs int64 `yaml:"checkIntervalMs" env:"SNAPGUARD_CHECK_INTERVAL_MS"`

	// EvictWaitMs bounds a single wait for a slot owner to release the
	// slot after being signaled, in milliseconds.
	EvictWaitMs int64 `yaml:"evictWaitMs" env:"SNAPGUARD_EVICT_WAIT_MS"`

	// DryRun computes cutoffs and logs would-be victims without dropping.
	DryRun bool `yaml:"dryRun" env:"SNAPGUARD_DRY_RUN"`
}

// PostgresConfig configures the connection to the monitored server.
type PostgresConfig struct {
	// DSN is a libpq-style connection string or URL.
	DSN string `yaml:"dsn" env:"SNAPGUARD_PG_DSN"`
}

// ObservabilityConfig configures logging and metrics.
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metricsAddr" env:"SNAPGUARD_METRICS_ADDR"`
	LogLevel    string `yaml:"logLevel" env:"SNAPGUARD_LOG_LEVEL"`
	LogFormat   string `yaml:"logFormat" env:"SNAPGUARD_LOG_FORMAT"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Snapshots: SnapshotsConfig{
			Dir:          "pg_logical/snapshots",
			MaxSnapFiles: 300,
			MaxDirSizeKB: 128,
		},
		Monitor: MonitorConfig{
			CheckIntervalMs: 10000,
			EvictWaitMs:     1000,
		},
		Postgres: PostgresConfig{
			DSN: "postgres://localhost:5432/postgres",
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load returns the default config with environment overrides applied.
func Load() (*Config, error) {
	cfg := Default()
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads config from a YAML file, then applies environment
// overrides on top.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Snapshots.Dir == "" {
		return fmt.Errorf("snapshots.dir must not be empty")
	}
	if c.Snapshots.MaxSnapFiles < Disabled {
		return fmt.Errorf("snapshots.maxSnapFiles must be >= -1, got %d", c.Snapshots.MaxSnapFiles)
	}
	if c.Snapshots.MaxDirSizeKB < Disabled {
		return fmt.Errorf("snapshots.maxDirSizeKB must be >= -1, got %d", c.Snapshots.MaxDirSizeKB)
	}
	if c.Monitor.CheckIntervalMs <= 0 {
		return fmt.Errorf("monitor.checkIntervalMs must be positive, got %d", c.Monitor.CheckIntervalMs)
	}
	if c.Monitor.EvictWaitMs <= 0 {
		return fmt.Errorf("monitor.evictWaitMs must be positive, got %d", c.Monitor.EvictWaitMs)
	}
	return nil
}

// applyEnv applies environment variable overrides to the config.
func applyEnv(cfg *Config) {
	setString(&cfg.Snapshots.Dir, "SNAPGUARD_SNAPSHOT_DIR")
	setInt(&cfg.Snapshots.MaxSnapFiles, "SNAPGUARD_MAX_SNAP_FILES")
	setInt(&cfg.Snapshots.MaxDirSizeKB, "SNAPGUARD_MAX_DIR_SIZE_KB")
	setInt64(&cfg.Monitor.CheckIntervalMs, "SNAPGUARD_CHECK_INTERVAL_MS")
	setInt64(&cfg.Monitor.EvictWaitMs, "SNAPGUARD_EVICT_WAIT_MS")
	setBool(&cfg.Monitor.DryRun, "SNAPGUARD_DRY_RUN")
	setString(&cfg.Postgres.DSN, "SNAPGUARD_PG_DSN")
	setString(&cfg.Observability.MetricsAddr, "SNAPGUARD_METRICS_ADDR")
	setString(&cfg.Observability.LogLevel, "SNAPGUARD_LOG_LEVEL")
	setString(&cfg.Observability.LogFormat, "SNAPGUARD_LOG_FORMAT")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
