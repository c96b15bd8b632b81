package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// sampleConfig is the commented configuration template written by
// 'breakwater init'.
const sampleConfig = `# Breakwater Configuration File
#
# All options can be overridden with environment variables using the
# BREAKWATER_ prefix, e.g. BREAKWATER_LOGGING_LEVEL=DEBUG.

logging:
  # Minimum log level: DEBUG, INFO, WARN, ERROR
  level: INFO
  # Output format: text, json
  format: text
  # Destination: stdout, stderr, or a file path
  output: stdout

# Maximum time to wait for graceful shutdown, including draining the
# save queue.
shutdown_timeout: 30s

server:
  # HTTP port for the submission and health endpoints
  port: 8000
  # Reading large crash uploads from slow clients can take a while
  read_timeout: 30s
  write_timeout: 10s
  idle_timeout: 60s
  # Maximum accepted request body in bytes (0 = unlimited)
  max_body_size: 20971520

metrics:
  # statsd daemon address; empty disables statsd emission
  # statsd_addr: localhost:8125
  statsd_namespace: "breakwater."
  # Expose operational Prometheus metrics at GET /metrics
  prometheus_enabled: false

collector:
  # Name of the primary dump field in the POST data
  dump_field: upload_file_minidump
  # Prefix prepended to the crash ID in the response body
  dump_id_prefix: "bp-"
  # Number of concurrent background save workers (must be >= 1)
  concurrent_saves: 10
  # Optional cap on the save queue; 0 = unbounded
  queue_max_depth: 0

  storage:
    # Backend: noop, memory, filesystem, s3
    type: noop
    # filesystem:
    #   base_path: /var/lib/breakwater/crashes
    #   create_dir: true
    # s3:
    #   bucket: my-crash-bucket
    #   region: us-west-2
    #   # endpoint: http://localhost:9000
    #   # force_path_style: true

  throttle:
    # Ordered sampling rules; the first match decides each report.
    # Empty accepts everything.
    rules: []
    # rules:
    #   - name: accept_nightly
    #     key: ReleaseChannel
    #     value: nightly
    #     percentage: 100
    #   - name: sample_rest
    #     percentage: 10
`

// InitConfig creates a sample configuration file at the default
// location. Returns the path of the created file.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath creates a sample configuration file at the given
// path.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
