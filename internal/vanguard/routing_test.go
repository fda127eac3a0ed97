package vanguard

import (
	"testing"
	"time"

	"github.com/nexus-vanguard/vanguard/internal/registry"
)

func newTestRoutingTable() *RoutingTable {
	return NewRoutingTable(registry.BlastRadiusProtected)
}

func TestRoutingTable_DefaultTriageRoute(t *testing.T) {
	rt := newTestRoutingTable()
	route, ok := rt.Route(RouteTriage)
	if !ok {
		t.Fatal("default triage route missing")
	}
	if route.Primary != HandlerLLMTriage || route.Fallback != HandlerHeuristicTriage {
		t.Fatalf("default handlers: got %s/%s", route.Primary, route.Fallback)
	}
	if route.FallbackActive {
		t.Fatal("fresh route should run the primary")
	}
}

func TestRoutingTable_ActivateDeactivateLifecycle(t *testing.T) {
	rt := newTestRoutingTable()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rt.now = func() time.Time { return base }

	if !rt.ActivateFallback(RouteTriage, "ai dependency down") {
		t.Fatal("activation failed")
	}
	route, _ := rt.Route(RouteTriage)
	if !route.FallbackActive || route.ActivationReason != "ai dependency down" {
		t.Fatalf("route state after activation: %+v", route)
	}

	// Idempotent: the original reason and activation time hold.
	rt.now = func() time.Time { return base.Add(time.Minute) }
	if !rt.ActivateFallback(RouteTriage, "second reason") {
		t.Fatal("repeat activation should succeed")
	}
	route, _ = rt.Route(RouteTriage)
	if route.ActivationReason != "ai dependency down" || route.ActivatedAtNs != base.UnixNano() {
		t.Fatalf("repeat activation mutated state: %+v", route)
	}

	rt.now = func() time.Time { return base.Add(90 * time.Second) }
	active, ok := rt.DeactivateFallback(RouteTriage)
	if !ok {
		t.Fatal("deactivation failed")
	}
	if active != 90*time.Second {
		t.Fatalf("active duration: got %s, want 90s", active)
	}
	route, _ = rt.Route(RouteTriage)
	if route.FallbackActive || route.ActivationReason != "" || route.ActivatedAtNs != 0 {
		t.Fatalf("state not cleared: %+v", route)
	}

	if _, ok := rt.DeactivateFallback(RouteTriage); ok {
		t.Fatal("deactivating an inactive route should report false")
	}
}

func TestRoutingTable_BlastRadiusDenied(t *testing.T) {
	rt := newTestRoutingTable()
	for _, key := range []string{"/health", "/healthz/live", "/vanguard/admin/incidents", "/api/admin/config"} {
		if rt.Register(key, "primary", "fallback") {
			t.Errorf("Register(%q) should be denied", key)
		}
		if rt.ActivateFallback(key, "attempt") {
			t.Errorf("ActivateFallback(%q) should be denied", key)
		}
	}
}

func TestRoutingTable_NoFallbackCannotActivate(t *testing.T) {
	rt := newTestRoutingTable()
	if !rt.Register("/simulation/montecarlo", "engine", "") {
		t.Fatal("registration failed")
	}
	if rt.ActivateFallback("/simulation/montecarlo", "degraded") {
		t.Fatal("route without a fallback must not activate")
	}
}

func TestRoutingTable_RegisterRejectsDuplicates(t *testing.T) {
	rt := newTestRoutingTable()
	if !rt.Register("/live/games", "live", "cache") {
		t.Fatal("first registration failed")
	}
	if rt.Register("/live/games", "other", "cache") {
		t.Fatal("duplicate registration should fail")
	}
	if rt.Register(RouteTriage, "x", "y") {
		t.Fatal("default route must not be re-registered")
	}
}

func TestRoutingTable_UnknownRoute(t *testing.T) {
	rt := newTestRoutingTable()
	if rt.ActivateFallback("missing", "r") {
		t.Fatal("unknown route should not activate")
	}
	if rt.FallbackActive("missing") {
		t.Fatal("unknown route should not report active")
	}
}

func TestRoutingTable_SnapshotSorted(t *testing.T) {
	rt := newTestRoutingTable()
	rt.Register("/simulation/montecarlo", "engine", "cache")
	rt.Register("/live/games", "live", "cache")
	snap := rt.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot size: got %d, want 3", len(snap))
	}
	for i := 1; i < len(snap); i++ {
		if snap[i-1].RouteKey > snap[i].RouteKey {
			t.Fatalf("snapshot not sorted: %s before %s", snap[i-1].RouteKey, snap[i].RouteKey)
		}
	}
}
