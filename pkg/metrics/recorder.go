package metrics

import (
	"sync"
	"time"
)

// Recorder is an in-memory Sink that captures every emission. It exists
// for tests that assert on which metrics the pipeline produced.
type Recorder struct {
	mu         sync.Mutex
	counters   map[string]int
	gauges     map[string]float64
	histograms map[string][]float64
	timings    map[string][]time.Duration
}

// NewRecorder creates an empty recording sink.
func NewRecorder() *Recorder {
	return &Recorder{
		counters:   make(map[string]int),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
		timings:    make(map[string][]time.Duration),
	}
}

func (r *Recorder) Incr(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name]++
}

func (r *Recorder) Gauge(name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges[name] = value
}

func (r *Recorder) Histogram(name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.histograms[name] = append(r.histograms[name], value)
}

func (r *Recorder) Timing(name string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timings[name] = append(r.timings[name], d)
}

// Count returns the current value of a counter.
func (r *Recorder) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}

// GaugeValue returns the last recorded value of a gauge and whether it
// was ever set.
func (r *Recorder) GaugeValue(name string) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.gauges[name]
	return v, ok
}

// HistogramSamples returns all samples recorded for a histogram.
func (r *Recorder) HistogramSamples(name string) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.histograms[name]...)
}

// TimingSamples returns all samples recorded for a timer.
func (r *Recorder) TimingSamples(name string) []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.timings[name]...)
}

var _ Sink = (*Recorder)(nil)
