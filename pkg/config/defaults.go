package config

import (
	"strings"
	"time"

	"github.com/marmos91/breakwater/pkg/collector"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//
// ConcurrentSaves is deliberately not defaulted here: its default is
// applied at the viper layer so an explicit 0 reaches validation and
// fails instead of being silently rewritten.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyShutdownTimeoutDefaults(cfg)
	applyMetricsDefaults(&cfg.Metrics)
	applyCollectorDefaults(&cfg.Collector)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyShutdownTimeoutDefaults sets shutdown timeout defaults.
func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.StatsdNamespace == "" {
		cfg.StatsdNamespace = "breakwater."
	}
}

// applyCollectorDefaults sets submission pipeline defaults.
func applyCollectorDefaults(cfg *CollectorConfig) {
	if cfg.DumpField == "" {
		cfg.DumpField = "upload_file_minidump"
	}
	if cfg.DumpIDPrefix == "" {
		cfg.DumpIDPrefix = "bp-"
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "noop"
	}
	if cfg.Storage.Type == "filesystem" {
		fs := &cfg.Storage.Filesystem
		if fs.DirMode == 0 {
			fs.DirMode = 0755
		}
		if fs.FileMode == 0 {
			fs.FileMode = 0644
		}
	}
}

// GetDefaultConfig returns a Config struct with all default values
// applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Logging: LoggingConfig{},
		Collector: CollectorConfig{
			ConcurrentSaves: collector.DefaultConcurrentSaves,
			Storage: StorageConfig{
				Type: "noop",
			},
		},
	}
	cfg.Server.Port = 8000

	ApplyDefaults(cfg)
	return cfg
}
