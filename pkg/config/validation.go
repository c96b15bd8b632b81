package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for errors.
//
// Struct tags cover ranges and enumerations; cross-field rules that
// tags cannot express (backend-specific required fields) are checked
// explicitly.
func Validate(cfg *Config) error {
	v := validator.New()

	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	switch cfg.Collector.Storage.Type {
	case "filesystem":
		if cfg.Collector.Storage.Filesystem.BasePath == "" {
			return fmt.Errorf("filesystem crash storage requires collector.storage.filesystem.base_path to be set")
		}
	case "s3":
		if cfg.Collector.Storage.S3.Bucket == "" {
			return fmt.Errorf("s3 crash storage requires collector.storage.s3.bucket to be set")
		}
	}

	for _, rule := range cfg.Collector.Throttle.Rules {
		if rule.Key == "" && rule.Value != "" {
			return fmt.Errorf("throttle rule %q sets value without key", rule.Name)
		}
	}

	return nil
}
