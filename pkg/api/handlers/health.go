package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pipeline is the view of the submission pipeline the health endpoints
// need: queue and worker gauges plus a storage health probe.
type Pipeline interface {
	QueueLen() int
	ActiveWorkers() int
	CheckHealth(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
//
// Health endpoints are unauthenticated and provide:
//   - Liveness probe: Is the server process running?
//   - Readiness probe: Is the pipeline wired up and storage reachable?
//   - Broken probe: Deliberate failure for alerting pipeline tests
type HealthHandler struct {
	pipeline Pipeline
}

// NewHealthHandler creates a new health handler.
//
// The pipeline parameter may be nil, in which case readiness checks
// return unhealthy status.
func NewHealthHandler(pipeline Pipeline) *HealthHandler {
	return &HealthHandler{pipeline: pipeline}
}

// Liveness handles GET /health - simple liveness probe.
//
// Returns 200 OK as long as the HTTP server is responsive. Designed for
// Kubernetes liveness probes.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "breakwater",
	}))
}

// Readiness handles GET /health/ready - readiness probe.
//
// Returns 200 OK when the pipeline is wired up and crash storage answers
// its health probe, together with the current queue depth and worker
// count. Returns 503 Service Unavailable otherwise.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.pipeline == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("pipeline not initialized"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.pipeline.CheckHealth(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, healthyResponse(map[string]any{
		"save_queue_size":     h.pipeline.QueueLen(),
		"active_save_workers": h.pipeline.ActiveWorkers(),
	}))
}

// Broken handles GET /__broken__ - deliberate failure endpoint.
//
// Always returns 500 so operators can verify their error alerting
// end to end against a known-bad endpoint.
func (h *HealthHandler) Broken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusInternalServerError, Response{
		Status:    "error",
		Timestamp: time.Now().UTC(),
		Error:     "intentional failure for alert testing",
	})
}
