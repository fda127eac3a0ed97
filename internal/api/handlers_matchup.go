package api

import (
	"net/http"

	"github.com/nexus-vanguard/vanguard/internal/service"
)

// HandleMatchupAnalyze returns a handler for GET /matchup/analyze. The
// analysis runs through the routing advisor: cached pair documents race
// a fresh recompute under the endpoint's patience budget.
func HandleMatchupAnalyze(cp *service.ControlPlane) http.HandlerFunc {
	const endpoint = "/matchup/analyze"
	return func(w http.ResponseWriter, r *http.Request) {
		forceFresh, ok := parseForceFreshOrWriteInvalid(w, r, endpoint)
		if !ok {
			return
		}
		q := r.URL.Query()
		live, cache, err := cp.MatchupRace(q.Get("team_a"), q.Get("team_b"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		raceAndServe(cp, w, r, endpoint, "nba_api", forceFresh, live, cache)
	}
}

// HandleH2HGet returns a handler for GET /matchup/h2h.
func HandleH2HGet(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		doc, err := cp.H2HGet(r.Context(), q.Get("team_a"), q.Get("team_b"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, doc)
	}
}

type h2hPopulateRequest struct {
	TeamA      string `json:"team_a"`
	TeamB      string `json:"team_b"`
	MaxPlayers int    `json:"max_players"`
}

// HandleH2HPopulate returns a handler for POST /api/h2h/populate. The
// build is queued on the priority scheduler; callers should send an
// Idempotency-Key so retries replay instead of enqueueing twice.
func HandleH2HPopulate(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req h2hPopulateRequest
		if !decodeBodyOrWriteError(w, r, &req) {
			return
		}
		doc, err := cp.H2HPopulate(r.Context(), req.TeamA, req.TeamB, req.MaxPlayers)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, doc)
	}
}

// HandleGameOdds returns a handler for GET /external/odds: win
// probabilities and spreads derived from the simulation engine.
func HandleGameOdds(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := cp.GameOdds(r.Context(), r.URL.Query().Get("game_id"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, doc)
	}
}
