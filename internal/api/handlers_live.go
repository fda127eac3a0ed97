package api

import (
	"net/http"

	"github.com/nexus-vanguard/vanguard/internal/service"
	"github.com/nexus-vanguard/vanguard/internal/stream"
)

// HandleLiveGames returns a handler for GET /live/games.
func HandleLiveGames(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := cp.LiveGames(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, doc)
	}
}

// HandleLiveLeaders returns a handler for GET /live/leaders.
func HandleLiveLeaders(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := cp.LiveLeaders(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, doc)
	}
}

// HandleLiveStatus returns a handler for GET /live/status: producer
// counters for the polling loop.
func HandleLiveStatus(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cp.LiveStatus())
	}
}

// HandleLiveStream returns a handler for GET /live/stream: an SSE feed
// of pulse snapshots and late race arrivals.
func HandleLiveStream(cp *service.ControlPlane, hub *stream.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		serveStream(hub, cp.Config().PulseHeartbeatInterval.Std(), w, r)
	}
}

// HandleLateArrival returns a handler for GET /live/late/{request_id}.
// Each late race result can be collected exactly once.
func HandleLateArrival(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		arrival, err := cp.LateArrival(PathParam(r, "request_id"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, arrival)
	}
}
