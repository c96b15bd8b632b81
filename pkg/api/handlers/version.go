package handlers

import "net/http"

// VersionInfo describes the running build.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	Date    string `json:"build_date,omitempty"`
}

// VersionHandler handles GET /__version__.
type VersionHandler struct {
	info VersionInfo
}

// NewVersionHandler creates a version handler for the given build info.
func NewVersionHandler(info VersionInfo) *VersionHandler {
	return &VersionHandler{info: info}
}

// Version returns the build information as JSON.
func (h *VersionHandler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, okResponse(h.info))
}
