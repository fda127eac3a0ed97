package api

import (
	"net/http"

	"github.com/nexus-vanguard/vanguard/internal/model"
	"github.com/nexus-vanguard/vanguard/internal/service"
)

type playersSearchResponse struct {
	Query   string              `json:"query"`
	Count   int                 `json:"count"`
	Players []model.PlayerPulse `json:"players"`
}

// HandlePlayersSearch returns a handler for GET /players/search.
func HandlePlayersSearch(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := parseIntQueryOrWriteInvalid(w, r, "/players/search", "limit", 0)
		if !ok {
			return
		}
		q := r.URL.Query().Get("q")
		players, err := cp.PlayersSearch(r.Context(), q, limit)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, playersSearchResponse{
			Query:   q,
			Count:   len(players),
			Players: players,
		})
	}
}

// HandlePlayerProfile returns a handler for GET /players/profile.
func HandlePlayerProfile(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := cp.PlayerProfile(r.Context(), r.URL.Query().Get("player_id"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, doc)
	}
}

// HandleTeamRoster returns a handler for GET /teams/roster.
func HandleTeamRoster(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := cp.TeamRoster(r.Context(), r.URL.Query().Get("team"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, doc)
	}
}
