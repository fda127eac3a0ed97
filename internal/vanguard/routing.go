package vanguard

import (
	"log"
	"sort"
	"sync"
	"time"
)

// RouteTriage is the routing key for the triage pipeline. Its primary
// handler is the LLM analyzer; its fallback is the heuristic engine.
const RouteTriage = "gemini_triage_path"

// Handler names recorded in route state.
const (
	HandlerLLMTriage       = "llm_analyzer"
	HandlerHeuristicTriage = "heuristic_engine"
)

// RouteState is one routing-table entry.
type RouteState struct {
	RouteKey         string `json:"route_key"`
	Primary          string `json:"primary_handler"`
	Fallback         string `json:"fallback_handler,omitempty"`
	FallbackActive   bool   `json:"fallback_active"`
	ActivationReason string `json:"activation_reason,omitempty"`
	ActivatedAtNs    int64  `json:"activated_at_ns,omitempty"`
}

// RoutingTable maps route keys to primary/fallback handler pairs. Keys
// matching the blast-radius denylist can be neither registered nor
// activated; the incident engine must never redirect health probes or
// admin surfaces, including its own.
type RoutingTable struct {
	mu        sync.RWMutex
	routes    map[string]*RouteState
	protected func(string) bool
	now       func() time.Time
}

// NewRoutingTable builds a table seeded with the default triage route.
// protected reports whether a key is blast-radius denied; nil means no
// key is protected.
func NewRoutingTable(protected func(string) bool) *RoutingTable {
	rt := &RoutingTable{
		routes:    make(map[string]*RouteState),
		protected: protected,
		now:       time.Now,
	}
	rt.routes[RouteTriage] = &RouteState{
		RouteKey: RouteTriage,
		Primary:  HandlerLLMTriage,
		Fallback: HandlerHeuristicTriage,
	}
	return rt
}

func (rt *RoutingTable) denied(key string) bool {
	return rt.protected != nil && rt.protected(key)
}

// Register adds a route. Blast-radius keys and duplicates are refused.
func (rt *RoutingTable) Register(key, primary, fallback string) bool {
	if key == "" || primary == "" || rt.denied(key) {
		return false
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, exists := rt.routes[key]; exists {
		return false
	}
	rt.routes[key] = &RouteState{RouteKey: key, Primary: primary, Fallback: fallback}
	return true
}

// ActivateFallback flips a route onto its fallback handler. Idempotent:
// an already-active route keeps its original reason and activation time.
// Returns false for unknown keys, blast-radius keys, and routes without
// a fallback handler.
func (rt *RoutingTable) ActivateFallback(key, reason string) bool {
	if rt.denied(key) {
		log.Printf("[vanguard] refusing fallback activation for protected route %q", key)
		return false
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	st, ok := rt.routes[key]
	if !ok || st.Fallback == "" {
		return false
	}
	if st.FallbackActive {
		return true
	}
	st.FallbackActive = true
	st.ActivationReason = reason
	st.ActivatedAtNs = rt.now().UnixNano()
	log.Printf("[vanguard] fallback active for %s: %s", key, reason)
	return true
}

// DeactivateFallback restores the primary handler and reports how long
// the fallback was active. ok is false when the route is unknown or the
// fallback was not active.
func (rt *RoutingTable) DeactivateFallback(key string) (active time.Duration, ok bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	st, found := rt.routes[key]
	if !found || !st.FallbackActive {
		return 0, false
	}
	active = rt.now().Sub(time.Unix(0, st.ActivatedAtNs))
	st.FallbackActive = false
	st.ActivationReason = ""
	st.ActivatedAtNs = 0
	log.Printf("[vanguard] fallback cleared for %s after %s", key, active.Round(time.Millisecond))
	return active, true
}

// FallbackActive reports whether the route is currently on its fallback.
func (rt *RoutingTable) FallbackActive(key string) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	st, ok := rt.routes[key]
	return ok && st.FallbackActive
}

// Route returns a copy of one route's state.
func (rt *RoutingTable) Route(key string) (RouteState, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	st, ok := rt.routes[key]
	if !ok {
		return RouteState{}, false
	}
	return *st, true
}

// Snapshot returns all routes sorted by key.
func (rt *RoutingTable) Snapshot() []RouteState {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]RouteState, 0, len(rt.routes))
	for _, st := range rt.routes {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RouteKey < out[j].RouteKey })
	return out
}
