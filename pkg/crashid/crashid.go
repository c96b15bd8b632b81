// Package crashid generates and inspects crash identifiers.
//
// A crash ID looks like a random version-4 UUID string, but its last
// seven characters are repurposed: one digit encodes the throttle
// decision and the final six encode the submission date as yymmdd.
// Downstream tools key their storage layout and expiry policies on this
// layout, so it must not change: position 29 is the throttle marker, the
// final six characters are the date suffix.
package crashid

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Length is the fixed length of a crash ID.
const Length = 36

// markerIndex is the position of the throttle marker digit.
const markerIndex = Length - 7

// New returns a fresh crash ID for the given submission time and
// throttle marker digit (the integer value of the throttle decision).
func New(ts time.Time, throttle int) string {
	id := uuid.New().String()
	return fmt.Sprintf("%s%d%02d%02d%02d",
		id[:markerIndex], throttle, ts.Year()%100, int(ts.Month()), ts.Day())
}

// Throttle returns the throttle marker digit encoded in a crash ID.
func Throttle(id string) (int, error) {
	if len(id) != Length {
		return 0, fmt.Errorf("crash id has length %d, want %d", len(id), Length)
	}
	n, err := strconv.Atoi(id[markerIndex : markerIndex+1])
	if err != nil {
		return 0, fmt.Errorf("bad throttle marker in crash id %q: %w", id, err)
	}
	return n, nil
}

// Date returns the submission date encoded in a crash ID's yymmdd
// suffix. The year is assumed to be in the 2000s.
func Date(id string) (time.Time, error) {
	if len(id) != Length {
		return time.Time{}, fmt.Errorf("crash id has length %d, want %d", len(id), Length)
	}
	t, err := time.Parse("060102", id[Length-6:])
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date suffix in crash id %q: %w", id, err)
	}
	return t, nil
}
