package vanguard

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nexus-vanguard/vanguard/internal/config"
	"github.com/nexus-vanguard/vanguard/internal/docstore"
	"github.com/nexus-vanguard/vanguard/internal/registry"
)

func newPromotionEngine(kvPing func(context.Context) error) *Engine {
	return New(Options{
		Config:   testRuntimeCfg(),
		Store:    docstore.NewMemory(),
		Registry: registry.New(),
		KVPing:   kvPing,
	})
}

func gateByName(t *testing.T, report PromotionReport, name string) GateResult {
	t.Helper()
	for _, g := range report.Gates {
		if g.Name == name {
			return g
		}
	}
	t.Fatalf("gate %q missing from report", name)
	return GateResult{}
}

func TestPromotionReadiness_FreshEngineNotReady(t *testing.T) {
	e := newPromotionEngine(nil)
	report := e.PromotionReadiness(context.Background())

	if report.Ready {
		t.Fatal("fresh engine must not be promotable")
	}
	if len(report.Gates) != 8 {
		t.Fatalf("gates: got %d, want 8", len(report.Gates))
	}
	if g := gateByName(t, report, "mode_is_circuit_breaker"); g.Passed {
		t.Fatal("mode gate should fail in SILENT_OBSERVER")
	}
	if g := gateByName(t, report, "live_routes_mounted"); g.Passed {
		t.Fatal("live-routes gate should fail before the server mounts them")
	}
	// Everything structural passes out of the box.
	for _, name := range []string{"routing_defaults", "heuristic_probe", "hysteresis_evaluator", "triage_source_emitted", "docstore_reachable"} {
		if g := gateByName(t, report, name); !g.Passed {
			t.Fatalf("gate %s failed on a fresh engine: %s", name, g.Detail)
		}
	}
	if g := gateByName(t, report, "triage_source_emitted"); !strings.Contains(g.Detail, "none yet") {
		t.Fatalf("triage-source detail before any analysis: %q", g.Detail)
	}
}

func TestPromotionReadiness_ReadyAfterPrerequisites(t *testing.T) {
	e := newPromotionEngine(nil)
	if !e.Modes().Set(config.ModeCircuitBreaker, "operator staging") {
		t.Fatal("Set(CIRCUIT_BREAKER) refused")
	}
	e.MarkLiveRoutesMounted()

	report := e.PromotionReadiness(context.Background())
	if !report.Ready {
		for _, g := range report.Gates {
			if !g.Passed {
				t.Logf("gate %d %s: %s", g.Gate, g.Name, g.Detail)
			}
		}
		t.Fatal("engine should be promotable")
	}
	// Unconfigured key-value store passes the advisory gate.
	if g := gateByName(t, report, "kv_reachable"); !g.Passed || !g.Advisory {
		t.Fatalf("kv gate: %+v", g)
	}
}

func TestPromotionReadiness_KVFailureIsAdvisoryOnly(t *testing.T) {
	e := newPromotionEngine(func(context.Context) error {
		return errors.New("connection refused")
	})
	e.Modes().Set(config.ModeCircuitBreaker, "operator staging")
	e.MarkLiveRoutesMounted()

	report := e.PromotionReadiness(context.Background())
	g := gateByName(t, report, "kv_reachable")
	if g.Passed {
		t.Fatal("kv gate should report the failure")
	}
	if !g.Advisory {
		t.Fatal("kv gate must stay advisory")
	}
	if !report.Ready {
		t.Fatal("advisory failure must not block promotion")
	}
}

func TestPromote(t *testing.T) {
	e := newPromotionEngine(nil)
	e.Modes().Set(config.ModeCircuitBreaker, "operator staging")
	e.MarkLiveRoutesMounted()

	report, err := e.Promote(context.Background())
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if !report.Ready {
		t.Fatal("promote returned a not-ready report without error")
	}
	if e.Mode() != config.ModeFullSovereign {
		t.Fatalf("mode after promote: %s", e.Mode())
	}
	trs := e.Modes().Transitions()
	last := trs[len(trs)-1]
	if last.To != config.ModeFullSovereign || last.Reason != "promotion gates passed" {
		t.Fatalf("last transition: %+v", last)
	}
}

func TestPromote_RefusedWhenGatesFail(t *testing.T) {
	e := newPromotionEngine(nil)

	_, err := e.Promote(context.Background())
	if !errors.Is(err, ErrNotPromotable) {
		t.Fatalf("err: got %v, want ErrNotPromotable", err)
	}
	if e.Mode() != config.ModeSilentObserver {
		t.Fatalf("mode after refused promote: %s", e.Mode())
	}
}
