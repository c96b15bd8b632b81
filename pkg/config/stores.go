package config

import (
	"context"
	"fmt"
	"os"

	"github.com/marmos91/breakwater/pkg/metrics"
	"github.com/marmos91/breakwater/pkg/storage"
	storagefs "github.com/marmos91/breakwater/pkg/storage/fs"
	storagememory "github.com/marmos91/breakwater/pkg/storage/memory"
	storagenoop "github.com/marmos91/breakwater/pkg/storage/noop"
	storages3 "github.com/marmos91/breakwater/pkg/storage/s3"
	"github.com/marmos91/breakwater/pkg/throttle"
)

// CreateCrashStorage creates a crash storage backend from configuration.
func CreateCrashStorage(ctx context.Context, cfg StorageConfig) (storage.CrashStorage, error) {
	switch cfg.Type {
	case "noop", "":
		return storagenoop.New(), nil
	case "memory":
		return storagememory.New(), nil
	case "filesystem":
		return createFSStorage(cfg.Filesystem)
	case "s3":
		return createS3Storage(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown crash storage type: %q", cfg.Type)
	}
}

// createFSStorage creates a filesystem-backed crash storage.
func createFSStorage(cfg FilesystemStorageConfig) (storage.CrashStorage, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("filesystem crash storage requires base_path to be set")
	}

	// Build config - fs.New() applies defaults for zero values
	fsCfg := storagefs.Config{
		BasePath:  cfg.BasePath,
		CreateDir: cfg.CreateDir,
		DirMode:   os.FileMode(cfg.DirMode),
		FileMode:  os.FileMode(cfg.FileMode),
	}

	return storagefs.New(fsCfg)
}

// createS3Storage creates an S3-backed crash storage.
func createS3Storage(ctx context.Context, cfg S3StorageConfig) (storage.CrashStorage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 crash storage requires bucket to be set")
	}

	s3Cfg := storages3.Config{
		Bucket:          cfg.Bucket,
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		KeyPrefix:       cfg.KeyPrefix,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		ForcePathStyle:  cfg.ForcePathStyle,
		MaxRetries:      cfg.MaxRetries,
	}

	return storages3.NewFromConfig(ctx, s3Cfg)
}

// CreateThrottler creates the sampling throttler from configuration.
// An empty rule list falls back to accepting everything.
func CreateThrottler(cfg ThrottleConfig) throttle.Throttler {
	if len(cfg.Rules) == 0 {
		return throttle.NewRuleThrottler(throttle.DefaultRules())
	}

	rules := make([]throttle.Rule, 0, len(cfg.Rules))
	for _, rc := range cfg.Rules {
		match := throttle.MatchAll
		if rc.Key != "" {
			match = throttle.MatchKeyValue(rc.Key, rc.Value)
		}
		rules = append(rules, throttle.Rule{
			Name:       rc.Name,
			Match:      match,
			Percentage: rc.Percentage,
		})
	}

	return throttle.NewRuleThrottler(rules)
}

// CreateMetricsSink creates the pipeline metrics sink from
// configuration. Without a statsd address, metrics are discarded.
func CreateMetricsSink(cfg MetricsConfig) (metrics.Sink, error) {
	if cfg.StatsdAddr == "" {
		return metrics.Nop{}, nil
	}

	sink, err := metrics.NewStatsd(cfg.StatsdAddr, cfg.StatsdNamespace)
	if err != nil {
		return nil, fmt.Errorf("failed to create statsd client: %w", err)
	}
	return sink, nil
}
