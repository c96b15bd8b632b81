// Package config loads, validates and persists the breakwater
// configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/breakwater/pkg/api"
	"github.com/marmos91/breakwater/pkg/collector"
)

// Config represents the breakwater collector configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (BREAKWATER_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown,
	// including draining the save queue.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Server contains the HTTP server configuration
	Server api.APIConfig `mapstructure:"server" yaml:"server"`

	// Metrics contains statsd and Prometheus metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Collector contains the submission pipeline configuration
	Collector CollectorConfig `mapstructure:"collector" yaml:"collector"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures metric emission.
//
// Pipeline metrics (throttle results, crash sizes, save counts) go to
// statsd when an address is configured. The Prometheus endpoint exposes
// operational gauges for scrape-based setups.
type MetricsConfig struct {
	// StatsdAddr is the statsd daemon address (host:port).
	// Empty disables statsd emission.
	StatsdAddr string `mapstructure:"statsd_addr" yaml:"statsd_addr"`

	// StatsdNamespace is prepended to every statsd metric name.
	// Default: "breakwater."
	StatsdNamespace string `mapstructure:"statsd_namespace" yaml:"statsd_namespace"`

	// PrometheusEnabled exposes GET /metrics on the main server.
	PrometheusEnabled bool `mapstructure:"prometheus_enabled" yaml:"prometheus_enabled"`
}

// CollectorConfig contains the submission pipeline configuration.
type CollectorConfig struct {
	// DumpField is the conventional name of the primary dump field in
	// the POST data.
	// Default: "upload_file_minidump"
	DumpField string `mapstructure:"dump_field" yaml:"dump_field"`

	// DumpIDPrefix is prepended to the crash ID in the response body.
	// Default: "bp-"
	DumpIDPrefix string `mapstructure:"dump_id_prefix" yaml:"dump_id_prefix"`

	// ConcurrentSaves bounds the number of background save workers.
	// Must be at least 1; explicit 0 is a configuration error.
	// Default: 10
	ConcurrentSaves int `mapstructure:"concurrent_saves" validate:"min=1" yaml:"concurrent_saves"`

	// QueueMaxDepth optionally caps the save queue. 0 means unbounded.
	QueueMaxDepth int `mapstructure:"queue_max_depth" validate:"min=0" yaml:"queue_max_depth"`

	// Storage selects and configures the crash storage backend
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Throttle configures the sampling rules
	Throttle ThrottleConfig `mapstructure:"throttle" yaml:"throttle"`
}

// StorageConfig selects the crash storage backend.
type StorageConfig struct {
	// Type selects the backend.
	// Valid values: noop, memory, filesystem, s3
	// Default: "noop" (accepts and discards, for load testing)
	Type string `mapstructure:"type" validate:"omitempty,oneof=noop memory filesystem s3" yaml:"type"`

	// Filesystem configures the filesystem backend
	Filesystem FilesystemStorageConfig `mapstructure:"filesystem" yaml:"filesystem,omitempty"`

	// S3 configures the S3 backend
	S3 S3StorageConfig `mapstructure:"s3" yaml:"s3,omitempty"`
}

// FilesystemStorageConfig configures the filesystem crash storage backend.
type FilesystemStorageConfig struct {
	// BasePath is the root directory for crash storage (required for
	// the filesystem backend)
	BasePath string `mapstructure:"base_path" yaml:"base_path"`

	// CreateDir creates the base directory if it doesn't exist.
	// Default: true
	CreateDir bool `mapstructure:"create_dir" yaml:"create_dir"`

	// DirMode is the permission mode for created directories (octal).
	// Default: 0755
	DirMode uint32 `mapstructure:"dir_mode" yaml:"dir_mode,omitempty"`

	// FileMode is the permission mode for created files (octal).
	// Default: 0644
	FileMode uint32 `mapstructure:"file_mode" yaml:"file_mode,omitempty"`
}

// S3StorageConfig configures the S3 crash storage backend.
type S3StorageConfig struct {
	// Bucket is the S3 bucket name (required for the s3 backend)
	Bucket string `mapstructure:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `mapstructure:"region" yaml:"region,omitempty"`

	// Endpoint overrides the S3 endpoint for S3-compatible services
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// KeyPrefix is prepended to every object key
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix,omitempty"`

	// AccessKeyID and SecretAccessKey configure static credentials.
	// When empty, the default AWS credential chain applies.
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`

	// ForcePathStyle uses path-style addressing (MinIO, Ceph RGW)
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`

	// MaxRetries is the per-object retry count on transient errors
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries,omitempty"`
}

// ThrottleConfig configures the sampling rules.
type ThrottleConfig struct {
	// Rules is the ordered rule list. The first matching rule decides
	// each report. Empty means accept everything.
	Rules []ThrottleRuleConfig `mapstructure:"rules" yaml:"rules,omitempty"`
}

// ThrottleRuleConfig is one sampling rule.
type ThrottleRuleConfig struct {
	// Name identifies the rule in logs
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// Key and Value select reports by a metadata field. Both empty
	// matches every report.
	Key   string `mapstructure:"key" yaml:"key,omitempty"`
	Value string `mapstructure:"value" yaml:"value,omitempty"`

	// Percentage is the sampling rate, 0-100. 0 rejects outright.
	Percentage int `mapstructure:"percentage" validate:"min=0,max=100" yaml:"percentage"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (BREAKWATER_*)
//  2. Configuration file
//  3. Default values
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// If no config file was found, use defaults
	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
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

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly
// instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  breakwater init\n\n"+
				"Or specify a custom config file:\n"+
				"  breakwater <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  breakwater init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path.
// The configuration is saved in YAML format using proper yaml tags.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Restricted permissions: the config may carry S3 credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config
// file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use BREAKWATER_ prefix and underscores.
	// Example: BREAKWATER_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("BREAKWATER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Viper-level default so a file that omits concurrent_saves gets the
	// default while an explicit 0 survives to validation and fails there.
	v.SetDefault("collector.concurrent_saves", collector.DefaultConcurrentSaves)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Use default location: $XDG_CONFIG_HOME/breakwater/config.yaml
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file
// was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return false, nil
		}
		// Also check for os.PathError when explicit config file doesn't exist
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook returns a mapstructure decode hook that converts
// strings to time.Duration. This enables config files to use
// human-readable durations like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to
// current directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "breakwater")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "breakwater")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for
// the init command).
func GetConfigDir() string {
	return getConfigDir()
}
