// Package storage defines the crash storage contract implemented by the
// pluggable backends.
//
// Backends are addressed by crash ID and must be idempotent: the save
// workers retry failed reports indefinitely, and a retry after a partial
// failure re-saves dumps that may already be present. Re-saving identical
// content under the same crash ID must be a no-op.
package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/marmos91/breakwater/pkg/crash"
)

var (
	// ErrStorageClosed is returned by operations on a closed backend.
	ErrStorageClosed = errors.New("crash storage is closed")

	// ErrNotFound is returned when a crash ID has no stored data.
	ErrNotFound = errors.New("crash not found")
)

// CrashStorage persists crash reports durably.
//
// Both saves may fail transiently; callers retry. SaveDumps is always
// invoked before SaveRawCrash for a given report, so the presence of a
// raw crash implies its dumps landed at least once.
type CrashStorage interface {
	// SaveDumps persists every dump blob of a report under its crash ID.
	SaveDumps(ctx context.Context, crashID string, dumps crash.Dumps) error

	// SaveRawCrash persists the report metadata under its crash ID.
	SaveRawCrash(ctx context.Context, crashID string, md crash.Metadata) error

	// Close releases backend resources. Saves after Close return
	// ErrStorageClosed.
	Close() error
}

// HealthChecker is optionally implemented by backends that can probe
// their own availability. The collector's readiness endpoint delegates
// to it when present.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// SanitizeDumpName restricts a client-supplied dump name to a safe
// character class before it is used as a storage key. Anything outside
// [A-Za-z0-9_-] becomes an underscore; an empty result falls back to
// "dump".
func SanitizeDumpName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "dump"
	}
	return b.String()
}
