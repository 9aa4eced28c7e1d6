// Package config handles configuration loading and validation.
//
// Configuration comes from a YAML file with environment variable expansion;
// the CLI overrides individual fields with flags.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/sensorlake/internal/errors"
)

// Config is the complete sensorlake configuration.
type Config struct {
	// Targets are the files or directories to scan for export files.
	Targets []string `yaml:"targets"`

	// Patterns filter export file names by substring. Empty means all.
	Patterns []string `yaml:"patterns"`

	// DatasetRoot is the root directory of the partitioned parquet store.
	DatasetRoot string `yaml:"dataset_root"`

	// Scheme is the partition layout: "directory" or "hive". It must match
	// how the dataset was (or will be) written.
	Scheme string `yaml:"scheme"`

	// DBPath is the catalog/ledger database file.
	DBPath string `yaml:"db_path"`

	// Plant and Machine identify the equipment the exports belong to.
	Plant   string `yaml:"plant_name"`
	Machine string `yaml:"machine_no"`

	// DataSource selects the export reader, e.g. "pi".
	DataSource string `yaml:"data_source"`

	// Encoding names the export character encoding ("", "utf-8", "cp932").
	Encoding string `yaml:"encoding"`

	// Force re-ingests files the ledger already holds.
	Force bool `yaml:"force"`

	// Workers bounds batch ingestion parallelism.
	Workers int `yaml:"workers"`

	// Compression is the parquet codec: zstd, snappy, lz4, gzip, none.
	Compression string `yaml:"compression"`

	// Log configures logging output.
	Log LogConfig `yaml:"log"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// JSON switches output from text to JSON.
	JSON bool `yaml:"json"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DatasetRoot: "dataset",
		Scheme:      "directory",
		DBPath:      "history.db",
		DataSource:  "pi",
		Workers:     4,
		Compression: "zstd",
		Log:         LogConfig{Level: "info"},
	}
}

// Load loads configuration from a YAML file, expanding environment
// variables, on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// Validate checks the fields every ingestion run needs.
func (c *Config) Validate() error {
	if c.Plant == "" {
		return fmt.Errorf("%w: plant_name", errors.ErrMissingField)
	}
	if c.Machine == "" {
		return fmt.Errorf("%w: machine_no", errors.ErrMissingField)
	}
	if c.DataSource == "" {
		return fmt.Errorf("%w: data_source", errors.ErrMissingField)
	}
	if c.DatasetRoot == "" {
		return fmt.Errorf("%w: dataset_root", errors.ErrMissingField)
	}
	if c.DBPath == "" {
		return fmt.Errorf("%w: db_path", errors.ErrMissingField)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0", errors.ErrInvalidConfig)
	}
	return nil
}

// LogLevel parses the configured log level.
func (c *Config) LogLevel() (slog.Level, error) {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: unknown log level %q", errors.ErrInvalidConfig, c.Log.Level)
	}
}
