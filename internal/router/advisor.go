// Package router decides how each request should be served (cache, live,
// or a patience-bounded race) and runs the shadow-race executor.
package router

import (
	"fmt"

	"github.com/nexus-vanguard/vanguard/internal/health"
	"github.com/nexus-vanguard/vanguard/internal/model"
	"github.com/nexus-vanguard/vanguard/internal/registry"
)

// Defaults applied to endpoints missing from the catalog.
const (
	defaultBaseTimeoutMs    = 2000
	defaultAdaptiveBufferMs = 1000
)

// Advisor produces RouteDecisions from the endpoint catalog and the live
// health gate.
type Advisor struct {
	registry *registry.Registry
	gate     *health.Gate
}

// NewAdvisor creates an Advisor over the given catalog and gate.
func NewAdvisor(reg *registry.Registry, gate *health.Gate) *Advisor {
	return &Advisor{registry: reg, gate: gate}
}

// Options carries per-request routing hints.
type Options struct {
	// ForceFresh requests live data even when a race would normally run.
	// Honored only while every dependency is healthy.
	ForceFresh bool
}

// Recommend returns the routing decision for path. Decision order: unknown
// endpoint, cooldown veto, force-fresh, race.
func (a *Advisor) Recommend(path string, opts Options) model.RouteDecision {
	cfg, ok := a.registry.Get(path)
	if !ok {
		return model.RouteDecision{
			Strategy:   model.StrategyLiveOnly,
			PatienceMs: defaultBaseTimeoutMs + defaultAdaptiveBufferMs,
			TargetMs:   defaultBaseTimeoutMs + defaultAdaptiveBufferMs,
			Rationale:  "endpoint not in catalog, serving live with default budget",
		}
	}

	base := cfg.BaseTimeoutMs
	if base <= 0 {
		base = defaultBaseTimeoutMs
	}
	buffer := cfg.AdaptiveBufferMs
	if buffer < 0 {
		buffer = 0
	}

	if cooled, name := a.cooledDependency(cfg); cooled {
		return model.RouteDecision{
			Strategy:       model.StrategyCacheOnly,
			TargetMs:       base + buffer,
			Rationale:      fmt.Sprintf("%s cooling down, cache only", name),
			CooldownActive: true,
		}
	}

	if opts.ForceFresh && a.allHealthy(cfg.Dependencies) {
		return model.RouteDecision{
			Strategy:   model.StrategyLiveOnly,
			PatienceMs: base,
			TargetMs:   base + buffer,
			Rationale:  "force_fresh with healthy dependencies",
		}
	}

	return model.RouteDecision{
		Strategy:   model.StrategyRace,
		PatienceMs: base,
		TargetMs:   base + buffer,
		Rationale:  "racing live fetch against cache",
	}
}

// cooledDependency reports the first cooled-down service among the
// endpoint's manager and dependencies.
func (a *Advisor) cooledDependency(cfg model.EndpointConfig) (bool, string) {
	if cfg.Manager != "" && a.gate.IsInCooldown(cfg.Manager) {
		return true, cfg.Manager
	}
	for _, dep := range cfg.Dependencies {
		if a.gate.IsInCooldown(dep) {
			return true, dep
		}
	}
	return false, ""
}

// allHealthy reports whether every listed dependency is tracked-healthy or
// untracked (untracked means never failed).
func (a *Advisor) allHealthy(deps []string) bool {
	for _, dep := range deps {
		sh, ok := a.gate.Service(dep)
		if ok && sh.Status != health.StatusHealthy {
			return false
		}
	}
	return true
}
