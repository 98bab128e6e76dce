package api

import (
	"net/http"

	"github.com/nerrad567/gray-logic-leshan/internal/bridges/lwm2m"
)

// handleHealth returns bridge health. Degraded health answers 503.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"version": s.version,
		})
		return
	}

	msg := s.health.Health()
	status := http.StatusOK
	if msg.Status == lwm2m.HealthDegraded {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, msg)
}

// handleSnapshot returns the latest poll snapshot.
func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	snap := s.snapshots.Latest()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "no poll cycle has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// subscriptionView is the JSON form of one observation.
type subscriptionView struct {
	Endpoint    string `json:"endpoint"`
	Path        string `json:"path"`
	StreamState string `json:"stream_state"`
}

// handleListSubscriptions returns the active observations with the state
// of each endpoint's event stream.
func (s *Server) handleListSubscriptions(w http.ResponseWriter, _ *http.Request) {
	subs := s.subscriptions.Subscriptions()
	views := make([]subscriptionView, 0, len(subs))
	for _, sub := range subs {
		state, _ := s.subscriptions.ListenerState(sub.Device.Endpoint)
		views = append(views, subscriptionView{
			Endpoint:    sub.Device.Endpoint,
			Path:        sub.Instance.ResourcePath(sub.ResourceID),
			StreamState: state.String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": views, "count": len(views)})
}
