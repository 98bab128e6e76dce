package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-leshan/internal/leshan"
)

// handleListDevices returns all known devices.
//
// Query parameters:
//   - object: only devices exposing at least one instance of this object id
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.devices.Devices()

	if raw := r.URL.Query().Get("object"); raw != "" {
		objectID, err := strconv.Atoi(raw)
		if err != nil || objectID < 0 {
			writeError(w, http.StatusBadRequest, "object must be a non-negative integer")
			return
		}
		filtered := make([]leshan.Device, 0, len(devices))
		for _, d := range devices {
			if len(d.InstancesOf(objectID)) > 0 {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns one device by endpoint.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	endpoint := chi.URLParam(r, "endpoint")
	dev, ok := s.devices.Lookup(endpoint)
	if !ok {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleDeviceHistory returns recent readings for one device.
//
// Query parameters:
//   - limit: maximum readings to return (default 50, capped at 500)
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "reading log not configured")
		return
	}

	endpoint := chi.URLParam(r, "endpoint")
	if _, ok := s.devices.Lookup(endpoint); !ok {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	readings, err := s.history.ListRecent(r.Context(), endpoint, limit)
	if err != nil {
		s.logger.Error("failed to list readings", "endpoint", endpoint, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list readings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"endpoint": endpoint,
		"readings": readings,
		"count":    len(readings),
	})
}
