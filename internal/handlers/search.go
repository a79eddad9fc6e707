package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"pacs-index/internal/store"
)

// SearchPatients answers GET /api/search/patients. All filters are
// optional; an unfiltered query returns the first page of patients
// alphabetically.
func (h *Handlers) SearchPatients(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	opts := store.SearchOptions{
		Query:     q.Get("q"),
		Modality:  q.Get("modality"),
		StudyDate: q.Get("study_date"),
		DeviceID:  q.Get("device"),
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		opts.Limit = limit
	}

	results, err := h.store.SearchPatients(r.Context(), opts)
	if err != nil {
		writeJSONError(w, "search failed", http.StatusInternalServerError)
		return
	}

	if results == nil {
		results = []store.PatientSummary{}
	}

	writeJSON(w, map[string]interface{}{
		"patients": results,
		"count":    len(results),
	})
}

// PatientLocations answers GET /api/patients/{id}/locations: every
// indexed file for one patient, optionally restricted to one device.
func (h *Handlers) PatientLocations(w http.ResponseWriter, r *http.Request) {
	patientID := mux.Vars(r)["id"]
	deviceID := r.URL.Query().Get("device")

	locations, err := h.store.ImageLocations(r.Context(), patientID, deviceID)
	if err != nil {
		writeJSONError(w, "location lookup failed", http.StatusInternalServerError)
		return
	}

	if len(locations) == 0 {
		writeJSONError(w, "no images indexed for patient", http.StatusNotFound)
		return
	}

	writeJSON(w, map[string]interface{}{
		"patientId": patientID,
		"locations": locations,
		"count":     len(locations),
	})
}

// Devices answers GET /api/devices with the device registry and
// index-wide totals.
func (h *Handlers) Devices(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		writeJSONError(w, "device stats failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}
