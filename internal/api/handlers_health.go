package api

import (
	"net/http"

	"github.com/nexus-vanguard/vanguard/internal/service"
	"github.com/nexus-vanguard/vanguard/internal/stream"
)

// HandleHealthz returns a handler for GET /healthz. Process liveness
// only; no dependency probes, no auth.
func HandleHealthz(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cp.Healthz())
	}
}

// HandleReadyz returns a handler for GET /readyz. Fails until the core
// stores answer.
func HandleReadyz(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cp.Readiness(r.Context()); err != nil {
			writeServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// HandleHealth returns a handler for GET /health: the aggregate verdict
// with per-dependency detail.
func HandleHealth(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cp.Health())
	}
}

// HandleHealthDeps returns a handler for GET /health/deps.
func HandleHealthDeps(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cp.Dependencies())
	}
}

// HandleHealthStream returns a handler for GET /health/stream: an SSE
// feed of aggregate health snapshots. The heartbeat interval tracks the
// runtime config.
func HandleHealthStream(cp *service.ControlPlane, hub *stream.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serveStream(hub, cp.Config().PulseHeartbeatInterval.Std(), w, r)
	}
}
