package vanguard

import (
	"context"
	"testing"

	"github.com/nexus-vanguard/vanguard/internal/config"
	"github.com/nexus-vanguard/vanguard/internal/docstore"
	"github.com/nexus-vanguard/vanguard/internal/model"
	"github.com/nexus-vanguard/vanguard/internal/registry"
)

func analysisWith(conf float64, ready bool) *model.IncidentAnalysis {
	return &model.IncidentAnalysis{RootCause: "x", Confidence: conf, ReadyToResolve: ready}
}

func TestDecide_Table(t *testing.T) {
	cases := []struct {
		name     string
		mode     config.OperatingMode
		analysis *model.IncidentAnalysis
		want     string
	}{
		{"silent observer high confidence", config.ModeSilentObserver, analysisWith(95, true), ActionLogOnly},
		{"silent observer no analysis", config.ModeSilentObserver, nil, ActionLogOnly},
		{"unknown mode", config.OperatingMode("CHAOS"), analysisWith(95, true), ActionLogOnly},
		{"ready and high confidence", config.ModeCircuitBreaker, analysisWith(90, true), ActionMonitor},
		{"high confidence not ready", config.ModeCircuitBreaker, analysisWith(90, false), ActionRateLimit},
		{"boundary 85 not ready", config.ModeFullSovereign, analysisWith(85, false), ActionRateLimit},
		{"mid confidence", config.ModeFullSovereign, analysisWith(72, true), ActionRateLimit},
		{"boundary 70", config.ModeCircuitBreaker, analysisWith(70, false), ActionRateLimit},
		{"low confidence", config.ModeCircuitBreaker, analysisWith(40, false), ActionQuarantine},
		{"missing analysis", config.ModeFullSovereign, nil, ActionQuarantine},
	}
	for _, c := range cases {
		got, reason := Decide(c.mode, c.analysis)
		if got != c.want {
			t.Errorf("%s: got %s (%s), want %s", c.name, got, reason, c.want)
		}
		if reason == "" {
			t.Errorf("%s: empty reason", c.name)
		}
	}
}

func surgeonFixture(t *testing.T, mode config.OperatingMode) (*Surgeon, *docstore.Memory, *registry.Registry, *RoutingTable) {
	t.Helper()
	store := docstore.NewMemory()
	reg := registry.New()
	if err := reg.Register(model.EndpointConfig{
		Path: "/simulation/montecarlo", Category: model.CategorySimulation,
		Complexity: 7, BaseTimeoutMs: 2000, AdaptiveBufferMs: 1000,
		FallbackPath: "/simulation/cached", Priority: model.PriorityHigh,
	}); err != nil {
		t.Fatalf("register endpoint: %v", err)
	}
	rt := NewRoutingTable(registry.BlastRadiusProtected)
	rt.Register("/simulation/montecarlo", "engine", "cache")
	s := NewSurgeon(store, reg, rt, func() config.OperatingMode { return mode })
	return s, store, reg, rt
}

func seedIncident(t *testing.T, store *docstore.Memory) model.Incident {
	t.Helper()
	inc, _, err := store.UpsertIncident(context.Background(), model.Incident{
		Fingerprint:  "fp-surgeon",
		Endpoint:     "/simulation/montecarlo",
		ErrorType:    "KeyError",
		ErrorMessage: "'pace_factor'",
		Severity:     model.SeverityYellow,
		FirstSeenNs:  1, LastSeenNs: 1,
	})
	if err != nil {
		t.Fatalf("seed incident: %v", err)
	}
	return inc
}

func TestSurgeon_RecordsDecisionOnRemediationLog(t *testing.T) {
	s, store, _, _ := surgeonFixture(t, config.ModeSilentObserver)
	inc := seedIncident(t, store)

	entry, err := s.Apply(context.Background(), inc, analysisWith(92, false))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if entry.Action != ActionLogOnly || entry.Mode != "SILENT_OBSERVER" || entry.Confidence != 92 {
		t.Fatalf("entry: %+v", entry)
	}

	got, err := store.GetIncident(context.Background(), inc.Fingerprint)
	if err != nil {
		t.Fatalf("GetIncident: %v", err)
	}
	if len(got.RemediationLog) != 1 || got.RemediationLog[0].Action != ActionLogOnly {
		t.Fatalf("remediation log: %+v", got.RemediationLog)
	}
	if got.RemediationLog[0].TimestampNs == 0 {
		t.Fatal("entry missing timestamp")
	}
}

func TestSurgeon_EnforcesOnlyInFullSovereign(t *testing.T) {
	// CIRCUIT_BREAKER records the decision but leaves traffic alone.
	s, store, reg, _ := surgeonFixture(t, config.ModeCircuitBreaker)
	inc := seedIncident(t, store)
	if _, err := s.Apply(context.Background(), inc, analysisWith(75, false)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, ok := reg.LimitAdvisory("/simulation/montecarlo"); ok {
		t.Fatal("advisory must not be set outside FULL_SOVEREIGN")
	}

	// FULL_SOVEREIGN halves traffic on RATE_LIMIT.
	s2, store2, reg2, _ := surgeonFixture(t, config.ModeFullSovereign)
	inc2 := seedIncident(t, store2)
	if _, err := s2.Apply(context.Background(), inc2, analysisWith(75, false)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	frac, ok := reg2.LimitAdvisory("/simulation/montecarlo")
	if !ok || frac != 0.5 {
		t.Fatalf("advisory: got %v/%v, want 0.5/true", frac, ok)
	}

	// Quarantine routes the endpoint to its fallback.
	s3, store3, _, rt3 := surgeonFixture(t, config.ModeFullSovereign)
	inc3 := seedIncident(t, store3)
	if _, err := s3.Apply(context.Background(), inc3, analysisWith(30, false)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !rt3.FallbackActive("/simulation/montecarlo") {
		t.Fatal("quarantine should activate the endpoint fallback")
	}
}

func TestSurgeon_MonitorClearsAdvisory(t *testing.T) {
	s, store, reg, _ := surgeonFixture(t, config.ModeFullSovereign)
	inc := seedIncident(t, store)
	reg.SetLimitAdvisory("/simulation/montecarlo", 0.5)

	if _, err := s.Apply(context.Background(), inc, analysisWith(95, true)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, ok := reg.LimitAdvisory("/simulation/montecarlo"); ok {
		t.Fatal("MONITOR should clear the advisory")
	}
}
