// Package throttle decides whether an incoming crash report is kept,
// kept at a lower priority, or discarded.
package throttle

import (
	"github.com/marmos91/breakwater/pkg/crash"
)

// Decision is the outcome of throttling a crash report. The integer
// values are a wire contract: they are written into the report metadata
// under legacy_processing and into the crash ID's throttle marker.
type Decision int

const (
	// Accept keeps the report for normal processing.
	Accept Decision = 0

	// Defer keeps the report but flags it for lower-priority handling
	// downstream.
	Defer Decision = 1

	// Reject discards the report without storing it.
	Reject Decision = 2
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "ACCEPT"
	case Defer:
		return "DEFER"
	case Reject:
		return "REJECT"
	default:
		return "UNKNOWN"
	}
}

// ParseDecision converts a raw integer (typically from client-supplied
// legacy_processing metadata) into a Decision. Only Accept and Defer are
// valid on input: a client cannot pre-declare its own rejection.
func ParseDecision(v int) (Decision, bool) {
	switch Decision(v) {
	case Accept, Defer:
		return Decision(v), true
	default:
		return 0, false
	}
}

// Throttler evaluates a crash report's metadata and returns a decision,
// the name of the rule that produced it, and the sampling percentage
// that applied.
type Throttler interface {
	Throttle(md crash.Metadata) (Decision, string, int)
}
