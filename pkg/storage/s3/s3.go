// Package s3 provides an S3-backed crash storage backend.
//
// Object keys follow the collector ecosystem layout:
//
//	{prefix}v1/raw_crash/{crash_id}
//	{prefix}v1/dump/{dump_name}/{crash_id}
//
// PutObject with a fixed key is naturally idempotent, which the retry
// loop in the save workers depends on.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/marmos91/breakwater/pkg/crash"
	"github.com/marmos91/breakwater/pkg/storage"
)

// Config holds configuration for the S3 backend.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string

	// Region is the AWS region.
	Region string

	// Endpoint overrides the S3 endpoint for S3-compatible services
	// (MinIO, Ceph RGW).
	Endpoint string

	// KeyPrefix is prepended to every object key.
	// Example: "breakwater/" results in keys like "breakwater/v1/raw_crash/<id>".
	KeyPrefix string

	// AccessKeyID and SecretAccessKey configure static credentials.
	// When empty, the default AWS credential chain applies.
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle uses path-style addressing, required by most
	// S3-compatible services.
	ForcePathStyle bool

	// MaxRetries is the number of retry attempts per object on
	// transient errors (default: 3).
	MaxRetries int

	// InitialBackoff is the backoff before the first retry
	// (default: 100ms). Each retry doubles it, capped at 2s.
	InitialBackoff time.Duration
}

// Storage is an S3-backed implementation of storage.CrashStorage.
type Storage struct {
	client    *awss3.Client
	bucket    string
	keyPrefix string

	maxRetries     int
	initialBackoff time.Duration

	mu     sync.RWMutex
	closed bool
}

const maxBackoff = 2 * time.Second

// NewFromConfig builds the S3 client and storage backend from
// configuration.
func NewFromConfig(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 crash storage requires bucket to be set")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return New(client, cfg), nil
}

// New creates an S3 storage backend over an existing client. Used by
// tests that point the client at a fake.
func New(client *awss3.Client, cfg Config) *Storage {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}

	return &Storage{
		client:         client,
		bucket:         cfg.Bucket,
		keyPrefix:      cfg.KeyPrefix,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
	}
}

func (s *Storage) rawCrashKey(crashID string) string {
	return fmt.Sprintf("%sv1/raw_crash/%s", s.keyPrefix, crashID)
}

func (s *Storage) dumpKey(crashID, dumpName string) string {
	return fmt.Sprintf("%sv1/dump/%s/%s", s.keyPrefix, storage.SanitizeDumpName(dumpName), crashID)
}

// putObject uploads one object with bounded exponential backoff.
func (s *Storage) putObject(ctx context.Context, key string, data []byte) error {
	backoff := s.initialBackoff

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
		}

		_, err := s.client.PutObject(ctx, &awss3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		})
		if err == nil {
			return nil
		}
		lastErr = err
	}

	return fmt.Errorf("put object %s: %w", key, lastErr)
}

func (s *Storage) SaveDumps(ctx context.Context, crashID string, dumps crash.Dumps) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return storage.ErrStorageClosed
	}

	for name, data := range dumps {
		if err := s.putObject(ctx, s.dumpKey(crashID, name), data); err != nil {
			return fmt.Errorf("save dump %q for %s: %w", name, crashID, err)
		}
	}
	return nil
}

func (s *Storage) SaveRawCrash(ctx context.Context, crashID string, md crash.Metadata) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("marshal raw crash %s: %w", crashID, err)
	}
	if err := s.putObject(ctx, s.rawCrashKey(crashID), data); err != nil {
		return fmt.Errorf("save raw crash %s: %w", crashID, err)
	}
	return nil
}

func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// CheckHealth verifies the bucket is reachable.
func (s *Storage) CheckHealth(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return storage.ErrStorageClosed
	}

	_, err := s.client.HeadBucket(ctx, &awss3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("head bucket %s: %w", s.bucket, err)
	}
	return nil
}

var (
	_ storage.CrashStorage  = (*Storage)(nil)
	_ storage.HealthChecker = (*Storage)(nil)
)
