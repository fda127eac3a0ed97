package api

import (
	"net/http"

	"github.com/nexus-vanguard/vanguard/internal/service"
)

// HandleSimulationMontecarlo returns a handler for GET
// /simulation/montecarlo. The draw runs through the routing advisor; the
// cache lane re-simulates from the persisted game state with a reduced
// draw count, so a slow live lane still answers inside patience.
func HandleSimulationMontecarlo(cp *service.ControlPlane) http.HandlerFunc {
	const endpoint = "/simulation/montecarlo"
	return func(w http.ResponseWriter, r *http.Request) {
		forceFresh, ok := parseForceFreshOrWriteInvalid(w, r, endpoint)
		if !ok {
			return
		}
		iterations, ok := parseIntQueryOrWriteInvalid(w, r, endpoint, "iterations", 0)
		if !ok {
			return
		}
		seed, ok := parseSeedOrWriteInvalid(w, r, endpoint)
		if !ok {
			return
		}
		live, cache, err := cp.SimulationRace(r.URL.Query().Get("game_id"), iterations, seed)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		raceAndServe(cp, w, r, endpoint, "simulation", forceFresh, live, cache)
	}
}

// HandleSimulationEnsemble returns a handler for GET /simulation/ensemble.
func HandleSimulationEnsemble(cp *service.ControlPlane) http.HandlerFunc {
	const endpoint = "/simulation/ensemble"
	return func(w http.ResponseWriter, r *http.Request) {
		seed, ok := parseSeedOrWriteInvalid(w, r, endpoint)
		if !ok {
			return
		}
		res, err := cp.SimulateEnsemble(r.Context(), r.URL.Query().Get("game_id"), seed)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

// HandleArchetypes returns a handler for GET /enrichment/archetypes.
func HandleArchetypes(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		team := r.URL.Query().Get("team")
		archetypes, err := cp.Archetypes(r.Context(), team)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"team":       team,
			"archetypes": archetypes,
		})
	}
}
