// Package memory provides an in-memory crash storage backend. It backs
// the test suite and local smoke runs; nothing survives the process.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/marmos91/breakwater/pkg/crash"
	"github.com/marmos91/breakwater/pkg/storage"
)

// Storage keeps raw crashes and dumps in maps keyed by crash ID.
type Storage struct {
	mu        sync.RWMutex
	rawCrash  map[string]crash.Metadata
	dumps     map[string]crash.Dumps
	saveCount int
	closed    bool
}

// New creates an empty in-memory storage backend.
func New() *Storage {
	return &Storage{
		rawCrash: make(map[string]crash.Metadata),
		dumps:    make(map[string]crash.Dumps),
	}
}

func (s *Storage) SaveDumps(ctx context.Context, crashID string, dumps crash.Dumps) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrStorageClosed
	}

	copied := make(crash.Dumps, len(dumps))
	for name, data := range dumps {
		copied[name] = append([]byte(nil), data...)
	}
	s.dumps[crashID] = copied
	return nil
}

func (s *Storage) SaveRawCrash(ctx context.Context, crashID string, md crash.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrStorageClosed
	}

	copied := make(crash.Metadata, len(md))
	maps.Copy(copied, md)
	s.rawCrash[crashID] = copied
	s.saveCount++
	return nil
}

func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// CheckHealth always succeeds while the backend is open.
func (s *Storage) CheckHealth(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrStorageClosed
	}
	return nil
}

// RawCrash returns the stored metadata for a crash ID.
func (s *Storage) RawCrash(crashID string) (crash.Metadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	md, ok := s.rawCrash[crashID]
	return md, ok
}

// Dumps returns the stored dumps for a crash ID.
func (s *Storage) Dumps(crashID string) (crash.Dumps, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dumps[crashID]
	return d, ok
}

// SaveCount returns how many raw crashes were saved successfully.
func (s *Storage) SaveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveCount
}

// CrashIDs returns the IDs of all fully saved crashes.
func (s *Storage) CrashIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.rawCrash))
	for id := range s.rawCrash {
		ids = append(ids, id)
	}
	return ids
}

var (
	_ storage.CrashStorage  = (*Storage)(nil)
	_ storage.HealthChecker = (*Storage)(nil)
)
