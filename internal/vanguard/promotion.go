package vanguard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nexus-vanguard/vanguard/internal/config"
	"github.com/nexus-vanguard/vanguard/internal/model"
)

// GateResult is one promotion gate's verdict.
type GateResult struct {
	Gate     int    `json:"gate"`
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Advisory bool   `json:"advisory,omitempty"`
	Detail   string `json:"detail"`
}

// PromotionReport is the full pre-promotion readiness check.
type PromotionReport struct {
	Ready       bool         `json:"ready"`
	Gates       []GateResult `json:"gates"`
	CheckedAtNs int64        `json:"checked_at_ns"`
}

// ErrNotPromotable is returned when promotion is attempted with failing
// gates.
var ErrNotPromotable = errors.New("promotion gates not satisfied")

// PromotionReadiness runs the eight gates guarding FULL_SOVEREIGN. The
// key-value gate is advisory: a dead cache degrades presence features
// but does not make autonomous action unsafe, so it is reported without
// blocking.
func (e *Engine) PromotionReadiness(ctx context.Context) PromotionReport {
	report := PromotionReport{CheckedAtNs: time.Now().UnixNano()}

	add := func(n int, name string, passed bool, advisory bool, detail string) {
		report.Gates = append(report.Gates, GateResult{
			Gate: n, Name: name, Passed: passed, Advisory: advisory, Detail: detail,
		})
	}

	route, ok := e.routing.Route(RouteTriage)
	routeOK := ok && route.Fallback != ""
	add(1, "routing_defaults", routeOK, false,
		fmt.Sprintf("triage route present=%v fallback=%q", ok, route.Fallback))

	probeOK, probeDetail := heuristicProbe()
	add(2, "heuristic_probe", probeOK, false, probeDetail)

	failures, successes := e.hysteresis.Counters()
	add(3, "hysteresis_evaluator", e.hysteresis != nil, false,
		fmt.Sprintf("counters failures=%d successes=%d", failures, successes))

	src := e.triage.LastTriageSource()
	if src == "" {
		src = "none yet"
	}
	add(4, "triage_source_emitted", e.triage != nil && e.routing != nil, false,
		"last triage source: "+src)

	mode := e.modes.Mode()
	add(5, "mode_is_circuit_breaker", mode == config.ModeCircuitBreaker, false,
		"current mode "+string(mode))

	kvDetail := "key-value store not configured"
	kvOK := true
	if e.kvPing != nil {
		if err := e.kvPing(ctx); err != nil {
			kvOK = false
			kvDetail = "ping failed: " + err.Error()
		} else {
			kvDetail = "reachable"
		}
	}
	add(6, "kv_reachable", kvOK, true, kvDetail)

	storeErr := e.store.Ping(ctx)
	add(7, "docstore_reachable", storeErr == nil, false, pingDetail(storeErr))

	add(8, "live_routes_mounted", e.liveRoutesMounted.Load(), false,
		fmt.Sprintf("mounted=%v", e.liveRoutesMounted.Load()))

	report.Ready = true
	for _, g := range report.Gates {
		if !g.Passed && !g.Advisory {
			report.Ready = false
			break
		}
	}
	return report
}

func pingDetail(err error) string {
	if err == nil {
		return "reachable"
	}
	return "ping failed: " + err.Error()
}

// heuristicProbe runs the fallback engine against a synthetic incident
// and checks the verdict shape.
func heuristicProbe() (bool, string) {
	probe := model.Incident{
		Fingerprint:     "promotion-probe",
		Endpoint:        "/simulation/montecarlo",
		ErrorType:       "KeyError",
		ErrorMessage:    "'pace_factor'",
		Severity:        model.SeverityYellow,
		OccurrenceCount: 1,
	}
	a := HeuristicAnalyze(probe, nil)
	switch {
	case a.ModelID != heuristicModelID:
		return false, "unexpected model_id " + a.ModelID
	case a.RootCause == "":
		return false, "empty root_cause"
	case a.Confidence <= 0 || a.Confidence > 100:
		return false, fmt.Sprintf("confidence %v out of range", a.Confidence)
	default:
		return true, fmt.Sprintf("verdict confidence %.0f", a.Confidence)
	}
}

// Promote moves to FULL_SOVEREIGN when every blocking gate passes.
func (e *Engine) Promote(ctx context.Context) (PromotionReport, error) {
	report := e.PromotionReadiness(ctx)
	if !report.Ready {
		return report, ErrNotPromotable
	}
	e.modes.promote("promotion gates passed")
	return report, nil
}
