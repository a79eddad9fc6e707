package handlers

import (
	"context"
	"errors"
	"net/http"

	"pacs-index/internal/indexer"
	"pacs-index/internal/logging"
	"pacs-index/internal/store"
)

// TriggerIndex answers POST /api/index/run. With a device parameter it
// starts a run for that device; without one it starts runs for all
// devices. The run proceeds in the background and the response is 202
// Accepted. A device already mid-run yields 409 Conflict.
func (h *Handlers) TriggerIndex(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	deviceID := q.Get("device")

	mode := store.RunIncremental
	switch q.Get("mode") {
	case "", "incremental":
	case "full":
		mode = store.RunFull
	default:
		writeJSONError(w, "mode must be full or incremental", http.StatusBadRequest)
		return
	}

	if deviceID == "" {
		go func() {
			if err := h.engine.RunAll(context.Background(), mode); err != nil {
				logging.Error("Triggered all-device %s run failed: %v", mode, err)
			}
		}()
		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, map[string]string{"status": "accepted", "mode": string(mode)})
		return
	}

	// Reject busy or unknown devices synchronously so the caller gets
	// a meaningful status, then run in the background.
	if _, _, err := h.engine.Status(r.Context(), deviceID); err != nil {
		writeJSONError(w, "unknown device", http.StatusNotFound)
		return
	}
	if h.engine.IsRunning(deviceID) {
		writeJSONError(w, "indexing already in progress", http.StatusConflict)
		return
	}

	go func() {
		var err error
		if mode == store.RunFull {
			_, err = h.engine.RunFull(context.Background(), deviceID)
		} else {
			_, err = h.engine.RunIncremental(context.Background(), deviceID)
		}
		if err != nil && !errors.Is(err, indexer.ErrConcurrentRun) {
			logging.Error("Triggered %s run for %s failed: %v", mode, deviceID, err)
		}
	}()

	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]string{
		"status": "accepted",
		"device": deviceID,
		"mode":   string(mode),
	})
}

// IndexStatus answers GET /api/index/status for one device: the latest
// recorded run and whether one is active right now.
func (h *Handlers) IndexStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device")
	if deviceID == "" {
		writeJSONError(w, "device parameter required", http.StatusBadRequest)
		return
	}

	latest, running, err := h.engine.Status(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, indexer.ErrUnknownDevice) {
			writeJSONError(w, "unknown device", http.StatusNotFound)
			return
		}
		writeJSONError(w, "status lookup failed", http.StatusInternalServerError)
		return
	}

	resp := map[string]interface{}{
		"device":  deviceID,
		"running": running,
	}
	if latest != nil {
		resp["lastRun"] = latest
	}
	writeJSON(w, resp)
}
