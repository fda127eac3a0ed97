package api

import (
	"net/http"

	"github.com/nexus-vanguard/vanguard/internal/service"
)

// ------------------------------------------------------------------
// Incidents
// ------------------------------------------------------------------

// HandleListIncidents returns a handler for GET /vanguard/admin/incidents.
func HandleListIncidents(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := parseLimitOrWriteInvalid(w, r, 0)
		if !ok {
			return
		}
		incidents, err := cp.ListIncidents(r.Context(), r.URL.Query().Get("status"), limit)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"count":     len(incidents),
			"incidents": incidents,
		})
	}
}

// HandleGetIncident returns a handler for GET /vanguard/admin/incidents/{fp}.
func HandleGetIncident(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		detail, err := cp.GetIncident(r.Context(), PathParam(r, "fp"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, detail)
	}
}

type resolveIncidentRequest struct {
	Approved        bool   `json:"approved"`
	ResolutionNotes string `json:"resolution_notes"`
}

// HandleResolveIncident returns a handler for
// POST /vanguard/admin/incidents/{fp}/resolve.
func HandleResolveIncident(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resolveIncidentRequest
		if !decodeBodyOrWriteError(w, r, &req) {
			return
		}
		inc, err := cp.ResolveIncident(r.Context(), PathParam(r, "fp"), req.Approved, req.ResolutionNotes)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"incident": inc})
	}
}

type unresolveIncidentRequest struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

// HandleUnresolveIncident returns a handler for
// POST /vanguard/admin/incidents/{fp}/unresolve.
func HandleUnresolveIncident(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req unresolveIncidentRequest
		if !decodeBodyOrWriteError(w, r, &req) {
			return
		}
		inc, err := cp.UnresolveIncident(r.Context(), PathParam(r, "fp"), req.Approved, req.Reason)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"incident": inc})
	}
}

type bulkResolveRequest struct {
	Fingerprints []string `json:"fingerprints"`
	Notes        string   `json:"notes"`
}

// HandleBulkResolve returns a handler for
// POST /vanguard/admin/incidents/bulk-resolve.
func HandleBulkResolve(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bulkResolveRequest
		if !decodeBodyOrWriteError(w, r, &req) {
			return
		}
		report, err := cp.BulkResolve(r.Context(), req.Fingerprints, req.Notes)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, report)
	}
}

type resolveAllRequest struct {
	Confirm bool   `json:"confirm"`
	Notes   string `json:"notes"`
}

// HandleResolveAll returns a handler for
// POST /vanguard/admin/incidents/resolve-all. Requires confirm:true.
func HandleResolveAll(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resolveAllRequest
		if !decodeBodyOrWriteError(w, r, &req) {
			return
		}
		n, err := cp.ResolveAll(r.Context(), req.Confirm, req.Notes)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"resolved": n})
	}
}

// HandleAnalyzeAll returns a handler for
// POST /vanguard/admin/incidents/analyze-all. force=true re-triages
// incidents that already carry an analysis.
func HandleAnalyzeAll(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		force, ok := parseBoolQueryOrWriteInvalid(w, r, "force")
		if !ok {
			return
		}
		report, err := cp.AnalyzeAll(r.Context(), force != nil && *force)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, report)
	}
}

// ------------------------------------------------------------------
// Mode, stats, promotion
// ------------------------------------------------------------------

type setModeRequest struct {
	Mode   string `json:"mode"`
	Reason string `json:"reason"`
}

// HandleSetMode returns a handler for POST /vanguard/admin/mode.
func HandleSetMode(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req setModeRequest
		if !decodeBodyOrWriteError(w, r, &req) {
			return
		}
		doc, err := cp.SetMode(r.Context(), req.Mode, req.Reason)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, doc)
	}
}

// HandleAdminStats returns a handler for GET /vanguard/admin/stats.
func HandleAdminStats(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := cp.Stats(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, stats)
	}
}

// HandlePromotionReadiness returns a handler for
// GET /vanguard/admin/promotion-readiness.
func HandlePromotionReadiness(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cp.PromotionReadiness(r.Context()))
	}
}

// ------------------------------------------------------------------
// Registry, routing, vaccines, config, learning
// ------------------------------------------------------------------

// HandleRegistrySummary returns a handler for GET /vanguard/admin/registry.
func HandleRegistrySummary(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cp.RegistrySummary())
	}
}

// HandleRoutingSnapshot returns a handler for GET /vanguard/admin/routing.
func HandleRoutingSnapshot(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		routes := cp.RoutingSnapshot()
		WriteJSON(w, http.StatusOK, map[string]any{
			"count":  len(routes),
			"routes": routes,
		})
	}
}

// HandleListVaccines returns a handler for GET /vanguard/admin/vaccines.
func HandleListVaccines(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := parseLimitOrWriteInvalid(w, r, 0)
		if !ok {
			return
		}
		plans, err := cp.VaccinePlans(r.Context(), limit)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"count":    len(plans),
			"vaccines": plans,
		})
	}
}

// HandleGetVaccine returns a handler for GET /vanguard/admin/vaccines/{fp}.
func HandleGetVaccine(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plan, err := cp.VaccinePlanFor(r.Context(), PathParam(r, "fp"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, plan)
	}
}

// HandleGetRuntimeConfig returns a handler for GET /vanguard/admin/config.
func HandleGetRuntimeConfig(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, cp.GetRuntimeConfig(r.Context()))
	}
}

// HandlePatchRuntimeConfig returns a handler for
// PATCH /vanguard/admin/config. The body is a partial RuntimeConfig;
// present fields are validated and applied, absent fields are untouched.
func HandlePatchRuntimeConfig(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := readRawBodyOrWriteInvalid(w, r)
		if !ok {
			return
		}
		cfg, err := cp.PatchRuntimeConfig(r.Context(), body)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"config": cfg})
	}
}

// HandleLearningExport returns a handler for
// GET /vanguard/admin/learning/export.
func HandleLearningExport(cp *service.ControlPlane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, ok := parseLimitOrWriteInvalid(w, r, 0)
		if !ok {
			return
		}
		doc, err := cp.LearningExport(r.Context(), limit)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, doc)
	}
}
