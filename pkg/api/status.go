// Package api provides the HTTP status endpoint for the colsync applier.
// It exposes liveness and progress counters; it is not part of the data path.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/colsync/colsync/pkg/replication"
)

// Version is the applier version, can be set at build time.
var Version = "dev"

// Applier is the view of the poller the status endpoint needs.
type Applier interface {
	// Healthy reports whether at least one poll iteration has completed.
	Healthy() bool

	// Stats returns a snapshot of the applier counters.
	Stats() replication.StatsSnapshot
}

// Router serves the status endpoints.
type Router struct {
	mux     *http.ServeMux
	applier Applier
}

// NewRouter creates the status router for the given applier.
func NewRouter(applier Applier) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		applier: applier,
	}
	r.mux.HandleFunc("/health", r.handleHealth)
	r.mux.HandleFunc("/status", r.handleStatus)
	return r
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// handleHealth returns 200 once the applier has completed an iteration,
// 503 while it is still starting.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := http.StatusOK
	body := map[string]string{"status": "ok"}
	if !r.applier.Healthy() {
		status = http.StatusServiceUnavailable
		body["status"] = "starting"
	}

	writeJSON(w, status, body)
}

// handleStatus returns the applier progress counters.
func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Version string `json:"version"`
		replication.StatsSnapshot
	}{
		Version:       Version,
		StatsSnapshot: r.applier.Stats(),
	})
}

// writeJSON serializes a JSON response body.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.WithError(err).Warn("writing status response")
	}
}
