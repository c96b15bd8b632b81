package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/breakwater/internal/logger"
	"github.com/marmos91/breakwater/pkg/api"
	"github.com/marmos91/breakwater/pkg/api/handlers"
	"github.com/marmos91/breakwater/pkg/collector"
	"github.com/marmos91/breakwater/pkg/config"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the crash collector",
	Long: `Start the breakwater crash collector with the specified configuration.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/breakwater/config.yaml.

Examples:
  # Start with default config location
  breakwater start

  # Start with custom config file
  breakwater start --config /etc/breakwater/config.yaml

  # Start with environment variable overrides
  BREAKWATER_LOGGING_LEVEL=DEBUG breakwater start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("configuration loaded", "source", configSource())
	logger.Info("log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink, err := config.CreateMetricsSink(cfg.Metrics)
	if err != nil {
		return err
	}
	if cfg.Metrics.StatsdAddr != "" {
		logger.Info("statsd metrics enabled", "addr", cfg.Metrics.StatsdAddr, "namespace", cfg.Metrics.StatsdNamespace)
	} else {
		logger.Info("statsd metrics disabled")
	}

	store, err := config.CreateCrashStorage(ctx, cfg.Collector.Storage)
	if err != nil {
		return fmt.Errorf("failed to create crash storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("crash storage close error", "error", err)
		}
	}()
	logger.Info("crash storage initialized", "type", cfg.Collector.Storage.Type)

	throttler := config.CreateThrottler(cfg.Collector.Throttle)
	logger.Info("throttler initialized", "rules", len(cfg.Collector.Throttle.Rules))

	submitter, err := collector.NewSubmitter(collector.Config{
		DumpField:       cfg.Collector.DumpField,
		DumpIDPrefix:    cfg.Collector.DumpIDPrefix,
		ConcurrentSaves: cfg.Collector.ConcurrentSaves,
		QueueMaxDepth:   cfg.Collector.QueueMaxDepth,
	}, store, throttler, sink)
	if err != nil {
		return fmt.Errorf("failed to create submitter: %w", err)
	}
	submitter.StartHeartbeat(ctx)
	defer submitter.StopHeartbeat()

	if cfg.Metrics.PrometheusEnabled {
		if err := api.RegisterPipelineMetrics(submitter); err != nil {
			return fmt.Errorf("failed to register prometheus metrics: %w", err)
		}
		logger.Info("prometheus metrics enabled", "path", "/metrics")
	}

	server := api.NewServer(cfg.Server, api.RouterOptions{
		Submitter: submitter,
		Version: handlers.VersionInfo{
			Version: Version,
			Commit:  Commit,
			Date:    Date,
		},
		PrometheusEnabled: cfg.Metrics.PrometheusEnabled,
	})

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("collector is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("server shutdown error", "error", err)
		}

		// Drain the save queue before exiting so accepted crashes are
		// not lost. Bounded by the configured shutdown timeout.
		if err := drainQueue(submitter, cfg.ShutdownTimeout); err != nil {
			logger.Error("save queue drain incomplete", "error", err, "remaining", submitter.QueueLen())
			return err
		}
		logger.Info("collector stopped gracefully")
		return nil

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("collector stopped")
		return nil
	}
}

// drainQueue waits for the save workers to finish, up to the timeout.
func drainQueue(s *collector.Submitter, timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		s.JoinPool()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timed out after %v waiting for save queue to drain", timeout)
	}
}

// configSource returns a description of where the config was loaded from.
func configSource() string {
	if cfgFile != "" {
		return cfgFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
