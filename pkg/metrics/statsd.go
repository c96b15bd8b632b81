package metrics

import (
	"fmt"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
)

// StatsdSink forwards metrics to a statsd daemon over UDP.
type StatsdSink struct {
	client statsd.ClientInterface
}

// NewStatsd creates a statsd-backed sink. addr is the daemon's host:port;
// namespace is prepended to every metric name (a trailing dot is added by
// the client).
func NewStatsd(addr, namespace string) (*StatsdSink, error) {
	opts := []statsd.Option{}
	if namespace != "" {
		opts = append(opts, statsd.WithNamespace(namespace))
	}
	client, err := statsd.New(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create statsd client for %q: %w", addr, err)
	}
	return &StatsdSink{client: client}, nil
}

func (s *StatsdSink) Incr(name string) {
	_ = s.client.Incr(name, nil, 1)
}

func (s *StatsdSink) Gauge(name string, value float64) {
	_ = s.client.Gauge(name, value, nil, 1)
}

func (s *StatsdSink) Histogram(name string, value float64) {
	_ = s.client.Histogram(name, value, nil, 1)
}

func (s *StatsdSink) Timing(name string, d time.Duration) {
	_ = s.client.Timing(name, d, nil, 1)
}

// Close flushes buffered metrics and closes the client.
func (s *StatsdSink) Close() error {
	return s.client.Close()
}

var _ Sink = (*StatsdSink)(nil)
