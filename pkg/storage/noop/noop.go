// Package noop provides the default crash storage backend: it accepts
// every save and discards the data. Useful for load testing the intake
// path and as the out-of-the-box configuration before an operator picks
// a real backend.
package noop

import (
	"context"

	"github.com/marmos91/breakwater/internal/logger"
	"github.com/marmos91/breakwater/pkg/crash"
	"github.com/marmos91/breakwater/pkg/storage"
)

// Storage discards everything it is asked to save.
type Storage struct{}

// New creates a discarding storage backend.
func New() *Storage {
	return &Storage{}
}

func (s *Storage) SaveDumps(ctx context.Context, crashID string, dumps crash.Dumps) error {
	logger.Debug("noop storage discarded dumps", "crash_id", crashID, "dumps", len(dumps))
	return nil
}

func (s *Storage) SaveRawCrash(ctx context.Context, crashID string, md crash.Metadata) error {
	logger.Debug("noop storage discarded raw crash", "crash_id", crashID)
	return nil
}

func (s *Storage) Close() error {
	return nil
}

var _ storage.CrashStorage = (*Storage)(nil)
