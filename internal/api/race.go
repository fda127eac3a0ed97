package api

import (
	"context"
	"net/http"
	"time"

	"github.com/nexus-vanguard/vanguard/internal/model"
	"github.com/nexus-vanguard/vanguard/internal/router"
	"github.com/nexus-vanguard/vanguard/internal/service"
)

// raceAndServe resolves the routing decision for path and serves the
// outcome: cache-only while the endpoint cools down, a patience-bounded
// shadow race by default, and live-only when the caller forces fresh data.
// dependency names the upstream used for error classification.
func raceAndServe(
	cp *service.ControlPlane,
	w http.ResponseWriter,
	r *http.Request,
	path string,
	dependency string,
	forceFresh bool,
	live, cache router.TaskFunc,
) {
	decision := cp.Advisor.Recommend(path, router.Options{ForceFresh: forceFresh})

	switch decision.Strategy {
	case model.StrategyCacheOnly:
		data, err := cache(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, router.Result{Data: data, Source: router.SourceCache})

	case model.StrategyLiveOnly:
		ctx, cancel := context.WithTimeout(r.Context(), time.Duration(decision.TargetMs)*time.Millisecond)
		defer cancel()
		data, err := live(ctx)
		if err != nil {
			writeServiceError(w, r, service.Classify(err, path, dependency))
			return
		}
		WriteJSON(w, http.StatusOK, router.Result{Data: data, Source: router.SourceLive})

	default:
		patience := time.Duration(decision.PatienceMs) * time.Millisecond
		result := cp.Racer.Execute(r.Context(), path, RequestIDFromContext(r.Context()), live, cache, patience)
		if result.Err != nil {
			writeServiceError(w, r, service.Classify(result.Err, path, dependency))
			return
		}
		WriteJSON(w, http.StatusOK, result)
	}
}
