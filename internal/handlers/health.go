package handlers

import (
	"net/http"
	"runtime"
	"time"
)

const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
)

// HealthResponse contains the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Devices int    `json:"devices"`

	TotalPatients  int64 `json:"totalPatients"`
	TotalInstances int64 `json:"totalInstances"`

	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`
}

// HealthCheck returns the health status of the service. The store is
// the only hard dependency; devices being unreachable degrades
// indexing but not serving.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:       statusHealthy,
		Uptime:       time.Since(h.startTime).Round(time.Second).String(),
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
	}

	stats, err := h.store.Stats(r.Context())
	if err != nil {
		response.Status = statusDegraded
		w.WriteHeader(http.StatusServiceUnavailable)
		writeJSON(w, response)
		return
	}

	response.Devices = len(stats.Devices)
	response.TotalPatients = stats.Totals.Patients
	response.TotalInstances = stats.Totals.Instances

	writeJSON(w, response)
}

// Liveness answers the kubelet liveness probe: the process is up.
func (h *Handlers) Liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		return
	}
}

// Readiness answers the readiness probe: ready once the store answers
// queries. An empty index is still ready; search simply returns
// nothing.
func (h *Handlers) Readiness(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.CountRows(r.Context(), "devices"); err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ready")); err != nil {
		return
	}
}
