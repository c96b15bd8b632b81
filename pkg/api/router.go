// Package api provides the collector's HTTP server: the crash
// submission endpoint plus health, version and metrics endpoints.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/breakwater/internal/logger"
	"github.com/marmos91/breakwater/pkg/api/handlers"
	"github.com/marmos91/breakwater/pkg/collector"
)

// RouterOptions bundles the collaborators the router wires up.
type RouterOptions struct {
	// Submitter handles POST /submit. Required.
	Submitter *collector.Submitter

	// Version is the build info served at /__version__.
	Version handlers.VersionInfo

	// MaxBodySize caps request bodies. Zero means no limit.
	MaxBodySize int64

	// PrometheusEnabled exposes the operational /metrics endpoint.
	PrometheusEnabled bool
}

// NewRouter creates and configures the chi router with all middleware
// and routes.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Real IP extraction for proper client identification
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent server crashes
//
// Routes:
//   - POST /submit - Crash report submission
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe
//   - GET /__version__ - Build information
//   - GET /__broken__ - Deliberate failure for alert testing
//   - GET /metrics - Prometheus metrics (when enabled)
//
// No request timeout middleware wraps /submit; slow uploads are bounded
// by the server's ReadTimeout instead.
func NewRouter(opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	submit := http.HandlerFunc(opts.Submitter.HandlePost)
	if opts.MaxBodySize > 0 {
		r.With(bodyLimit(opts.MaxBodySize)).Post("/submit", submit)
	} else {
		r.Post("/submit", submit)
	}

	healthHandler := handlers.NewHealthHandler(opts.Submitter)
	r.Route("/health", func(r chi.Router) {
		r.Use(middleware.Timeout(10 * time.Second))
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	versionHandler := handlers.NewVersionHandler(opts.Version)
	r.Get("/__version__", versionHandler.Version)
	r.Get("/__broken__", healthHandler.Broken)

	if opts.PrometheusEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// bodyLimit caps the request body size. Oversized uploads fail inside
// the multipart reader, which the submission handler absorbs into an
// empty report rather than an error response.
func bodyLimit(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger is a custom middleware that logs requests using the
// internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		)
	})
}
