// Package fs provides a filesystem-backed crash storage backend.
//
// Layout under the base path, bucketed by the crash ID's date suffix:
//
//	{base}/{yyyymmdd}/raw_crash/{crash_id}.json
//	{base}/{yyyymmdd}/dump/{dump_name}/{crash_id}
//
// Writes go to a temporary file and are renamed into place, so a crash
// ID is either fully present or absent and re-saving the same report is
// idempotent.
package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/marmos91/breakwater/pkg/crash"
	"github.com/marmos91/breakwater/pkg/crashid"
	"github.com/marmos91/breakwater/pkg/storage"
)

// Config holds configuration for the filesystem backend.
type Config struct {
	// BasePath is the root directory for crash storage.
	BasePath string

	// CreateDir creates the base directory if it doesn't exist.
	// Default: true when constructed via DefaultConfig.
	CreateDir bool

	// DirMode is the permission mode for created directories.
	// Default: 0755
	DirMode os.FileMode

	// FileMode is the permission mode for created files.
	// Default: 0644
	FileMode os.FileMode
}

// DefaultConfig returns the default configuration for a base path.
func DefaultConfig(basePath string) Config {
	return Config{
		BasePath:  basePath,
		CreateDir: true,
		DirMode:   0755,
		FileMode:  0644,
	}
}

// Storage is a filesystem-backed implementation of storage.CrashStorage.
type Storage struct {
	mu       sync.RWMutex
	basePath string
	fileMode os.FileMode
	dirMode  os.FileMode
	closed   bool
}

// New creates a filesystem crash storage with the given configuration.
func New(cfg Config) (*Storage, error) {
	if cfg.BasePath == "" {
		return nil, errors.New("base path is required")
	}

	if cfg.DirMode == 0 {
		cfg.DirMode = 0755
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0644
	}

	if cfg.CreateDir {
		if err := os.MkdirAll(cfg.BasePath, cfg.DirMode); err != nil {
			return nil, err
		}
	}

	info, err := os.Stat(cfg.BasePath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("base path is not a directory")
	}

	return &Storage{
		basePath: cfg.BasePath,
		fileMode: cfg.FileMode,
		dirMode:  cfg.DirMode,
	}, nil
}

// dateBucket derives the yyyymmdd directory for a crash ID from its date
// suffix. IDs without a decodable suffix (client-supplied uuids) land in
// a catch-all bucket.
func dateBucket(crashID string) string {
	t, err := crashid.Date(crashID)
	if err != nil {
		return "undated"
	}
	return t.Format("20060102")
}

func (s *Storage) rawCrashPath(crashID string) string {
	return filepath.Join(s.basePath, dateBucket(crashID), "raw_crash", crashID+".json")
}

func (s *Storage) dumpPath(crashID, dumpName string) string {
	return filepath.Join(s.basePath, dateBucket(crashID), "dump", storage.SanitizeDumpName(dumpName), crashID)
}

// writeAtomic writes data to path via a temporary file and rename.
func (s *Storage) writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), s.dirMode); err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, s.fileMode); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *Storage) SaveDumps(ctx context.Context, crashID string, dumps crash.Dumps) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return storage.ErrStorageClosed
	}

	for name, data := range dumps {
		if err := s.writeAtomic(s.dumpPath(crashID, name), data); err != nil {
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
	if err := s.writeAtomic(s.rawCrashPath(crashID), data); err != nil {
		return fmt.Errorf("save raw crash %s: %w", crashID, err)
	}
	return nil
}

// RawCrash loads a stored raw crash. Used by operational tooling and
// tests; the submission path never reads.
func (s *Storage) RawCrash(ctx context.Context, crashID string) (crash.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrStorageClosed
	}

	data, err := os.ReadFile(s.rawCrashPath(crashID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	var md crash.Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("unmarshal raw crash %s: %w", crashID, err)
	}
	return md, nil
}

// Dump loads a single stored dump blob.
func (s *Storage) Dump(ctx context.Context, crashID, dumpName string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrStorageClosed
	}

	data, err := os.ReadFile(s.dumpPath(crashID, dumpName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// CheckHealth verifies the base path is still accessible.
func (s *Storage) CheckHealth(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return storage.ErrStorageClosed
	}

	_, err := os.Stat(s.basePath)
	return err
}

var (
	_ storage.CrashStorage  = (*Storage)(nil)
	_ storage.HealthChecker = (*Storage)(nil)
)
