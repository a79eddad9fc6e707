// Package handlers provides the HTTP API for the index: patient
// search, image locations, device stats, and indexing control.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pacs-index/internal/indexer"
	"pacs-index/internal/logging"
	"pacs-index/internal/middleware"
	"pacs-index/internal/store"
)

type Handlers struct {
	store     *store.Store
	engine    *indexer.Engine
	startTime time.Time
}

func New(st *store.Store, engine *indexer.Engine) *Handlers {
	return &Handlers{
		store:     st,
		engine:    engine,
		startTime: time.Now(),
	}
}

// Router builds the full route table with logging and metrics
// middleware applied.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Metrics)

	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.Liveness).Methods("GET")
	r.HandleFunc("/readyz", h.Readiness).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/search/patients", h.SearchPatients).Methods("GET")
	api.HandleFunc("/patients/{id}/locations", h.PatientLocations).Methods("GET")
	api.HandleFunc("/devices", h.Devices).Methods("GET")
	api.HandleFunc("/index/run", h.TriggerIndex).Methods("POST")
	api.HandleFunc("/index/status", h.IndexStatus).Methods("GET")

	return r
}

// writeJSON encodes v as JSON and writes it to the response writer.
// Encoding errors are logged since the handler cannot recover from
// them mid-response.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes an error response as JSON with the given
// status code.
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		logging.Error("failed to encode JSON error response: %v", err)
	}
}
