// Package metrics defines the statsd-flavored metric sink used by the
// submission pipeline.
//
// Metric names are dotted statsd names and are a contract with existing
// dashboards and alerting; components emit through the Sink interface so
// the wire transport stays swappable (statsd daemon in production, an
// in-memory recorder in tests).
package metrics

import "time"

// Sink receives metric emissions from the collector.
//
// Implementations must be safe for concurrent use. Emission is
// fire-and-forget: a sink never returns errors to the caller because
// losing a metric sample must never affect crash handling.
type Sink interface {
	// Incr increments a counter by one.
	Incr(name string)

	// Gauge records the current value of a gauge.
	Gauge(name string, value float64)

	// Histogram records a sample in a distribution (e.g. payload sizes
	// in bytes).
	Histogram(name string, value float64)

	// Timing records an elapsed duration.
	Timing(name string, d time.Duration)
}

// Nop is a Sink that discards everything.
type Nop struct{}

func (Nop) Incr(string)                  {}
func (Nop) Gauge(string, float64)        {}
func (Nop) Histogram(string, float64)    {}
func (Nop) Timing(string, time.Duration) {}

var _ Sink = Nop{}
