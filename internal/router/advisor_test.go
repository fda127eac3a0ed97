package router

import (
	"strings"
	"testing"
	"time"

	"github.com/nexus-vanguard/vanguard/internal/health"
	"github.com/nexus-vanguard/vanguard/internal/model"
	"github.com/nexus-vanguard/vanguard/internal/registry"
)

func testAdvisor(t *testing.T) (*Advisor, *health.Gate) {
	t.Helper()
	reg := registry.New()
	err := reg.Register(model.EndpointConfig{
		Path:             "/api/simulate",
		Category:         model.CategorySimulation,
		Dependencies:     []string{"nba_api", "document_store"},
		Complexity:       5,
		BaseTimeoutMs:    100,
		AdaptiveBufferMs: 50,
		Manager:          "simulation_engine",
		Priority:         model.PriorityHigh,
	})
	if err != nil {
		t.Fatal(err)
	}
	gate := health.NewGate(nil)
	return NewAdvisor(reg, gate), gate
}

func TestRecommend_UnknownEndpointServesLive(t *testing.T) {
	a, _ := testAdvisor(t)

	d := a.Recommend("/api/unknown", Options{})
	if d.Strategy != model.StrategyLiveOnly {
		t.Fatalf("strategy = %s, want live_only", d.Strategy)
	}
	if d.PatienceMs != d.TargetMs || d.PatienceMs <= 0 {
		t.Fatalf("unknown endpoint budget malformed: %+v", d)
	}
	if d.CooldownActive {
		t.Fatal("unknown endpoint must not report cooldown")
	}
}

func TestRecommend_CooldownForcesCacheOnly(t *testing.T) {
	a, gate := testAdvisor(t)
	gate.EnterCooldown("nba_api", time.Minute)

	d := a.Recommend("/api/simulate/42", Options{})
	if d.Strategy != model.StrategyCacheOnly || !d.CooldownActive {
		t.Fatalf("expected cache_only with cooldown, got %+v", d)
	}
	if !strings.Contains(d.Rationale, "nba_api") {
		t.Fatalf("rationale should name the cooled service: %q", d.Rationale)
	}

	// Cooldown outranks force_fresh.
	d = a.Recommend("/api/simulate/42", Options{ForceFresh: true})
	if d.Strategy != model.StrategyCacheOnly {
		t.Fatalf("force_fresh must not override cooldown, got %s", d.Strategy)
	}
}

func TestRecommend_ManagerCooldownCounts(t *testing.T) {
	a, gate := testAdvisor(t)
	gate.EnterCooldown("simulation_engine", time.Minute)

	d := a.Recommend("/api/simulate/42", Options{})
	if d.Strategy != model.StrategyCacheOnly || !strings.Contains(d.Rationale, "simulation_engine") {
		t.Fatalf("expected manager cooldown to force cache_only, got %+v", d)
	}
}

func TestRecommend_ForceFreshWithHealthyDeps(t *testing.T) {
	a, gate := testAdvisor(t)
	gate.Ensure("nba_api", health.TypeExternal)
	gate.Ensure("document_store", health.TypeCore)

	d := a.Recommend("/api/simulate/42", Options{ForceFresh: true})
	if d.Strategy != model.StrategyLiveOnly {
		t.Fatalf("strategy = %s, want live_only", d.Strategy)
	}
	if d.PatienceMs != 100 || d.TargetMs != 150 {
		t.Fatalf("budget = %d/%d, want 100/150", d.PatienceMs, d.TargetMs)
	}
}

func TestRecommend_ForceFreshDegradedDepFallsBackToRace(t *testing.T) {
	a, gate := testAdvisor(t)
	for i := 0; i < 3; i++ {
		gate.RecordError("nba_api", "connect refused")
	}

	d := a.Recommend("/api/simulate/42", Options{ForceFresh: true})
	if d.Strategy != model.StrategyRace {
		t.Fatalf("degraded dependency should demote force_fresh to race, got %s", d.Strategy)
	}
}

func TestRecommend_DefaultIsRaceWithPatienceUnderTarget(t *testing.T) {
	a, _ := testAdvisor(t)

	d := a.Recommend("/api/simulate/42", Options{})
	if d.Strategy != model.StrategyRace {
		t.Fatalf("strategy = %s, want race", d.Strategy)
	}
	if d.PatienceMs != 100 || d.TargetMs != 150 {
		t.Fatalf("budget = %d/%d, want 100/150", d.PatienceMs, d.TargetMs)
	}
	if d.PatienceMs > d.TargetMs {
		t.Fatalf("patience %d exceeds target %d", d.PatienceMs, d.TargetMs)
	}
}
