package api

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/breakwater/pkg/collector"
)

// RegisterPipelineMetrics exposes the submission pipeline's queue and
// worker gauges on the default Prometheus registry, mirroring the
// statsd heartbeat gauges for scrape-based setups.
func RegisterPipelineMetrics(s *collector.Submitter) error {
	queueDepth := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "breakwater",
		Name:      "save_queue_size",
		Help:      "Number of crash reports waiting for a save worker.",
	}, func() float64 {
		return float64(s.QueueLen())
	})

	activeWorkers := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "breakwater",
		Name:      "active_save_workers",
		Help:      "Number of currently running save workers.",
	}, func() float64 {
		return float64(s.ActiveWorkers())
	})

	for _, c := range []prometheus.Collector{queueDepth, activeWorkers} {
		if err := prometheus.Register(c); err != nil {
			return err
		}
	}
	return nil
}
