// Package crash defines the crash-report data model shared by the
// submission pipeline and the storage backends.
//
// A crash report is the combination of free-form metadata (the "raw crash")
// and one or more named binary dumps. A handful of metadata keys are
// reserved: they are written by the collector itself and downstream
// consumers depend on them.
package crash

import "strings"

// Reserved metadata keys. Everything else in the metadata map is
// client-supplied and passes through untouched.
const (
	// KeyUUID holds the crash ID. Written by the collector unless the
	// client pre-supplied one.
	KeyUUID = "uuid"

	// KeySubmittedTimestamp is the ISO-8601 UTC time of receipt.
	KeySubmittedTimestamp = "submitted_timestamp"

	// KeyTimestamp is the receipt time as float seconds since the epoch.
	KeyTimestamp = "timestamp"

	// KeyLegacyProcessing carries the throttle decision as an integer
	// (0 = accept, 1 = defer).
	KeyLegacyProcessing = "legacy_processing"

	// KeyThrottleRate is the throttle percentage, 0-100.
	KeyThrottleRate = "throttle_rate"

	// KeyTypeTag is the configured dump ID prefix with '-' stripped.
	KeyTypeTag = "type_tag"

	// KeyDumpChecksums maps dump names to lowercase hex MD5 checksums.
	// Client-supplied values under this key are always discarded; the
	// parser recomputes checksums from the dump bytes it received.
	KeyDumpChecksums = "dump_checksums"

	// KeyThrottleable is a client hint; the literal value "0" forces the
	// report to be accepted without consulting the throttler.
	KeyThrottleable = "Throttleable"
)

// Metadata is the raw crash annotation map. Values are text fields from
// the multipart payload plus the integers the collector writes back
// (throttle decision and rate) and the nested checksum map.
type Metadata map[string]any

// Dumps maps client-chosen dump names to opaque dump bytes.
type Dumps map[string][]byte

// Report is an accepted or deferred crash report queued for storage.
// It is immutable once constructed: a report is owned by the save queue
// until a worker dequeues it, and by that worker until storage succeeds
// or the report is requeued.
type Report struct {
	Metadata Metadata
	Dumps    Dumps
	CrashID  string
}

// Checksums returns the dump checksum map inside the metadata, creating
// it if absent.
func (m Metadata) Checksums() map[string]string {
	if cs, ok := m[KeyDumpChecksums].(map[string]string); ok {
		return cs
	}
	cs := make(map[string]string)
	m[KeyDumpChecksums] = cs
	return cs
}

// StripNulls removes every U+0000 code point from a text field value.
// Crash annotations occasionally arrive with embedded NULs from clients
// that serialize C strings carelessly.
func StripNulls(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}
