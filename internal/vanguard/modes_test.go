package vanguard

import (
	"testing"

	"github.com/nexus-vanguard/vanguard/internal/config"
)

func TestModeEngine_Defaults(t *testing.T) {
	m := NewModeEngine("")
	if m.Mode() != config.ModeSilentObserver {
		t.Fatalf("invalid initial mode should fall back to SILENT_OBSERVER, got %s", m.Mode())
	}
	m = NewModeEngine(config.ModeCircuitBreaker)
	if m.Mode() != config.ModeCircuitBreaker {
		t.Fatalf("initial mode: got %s", m.Mode())
	}
}

func TestModeEngine_SetTransitions(t *testing.T) {
	m := NewModeEngine(config.ModeSilentObserver)

	if !m.Set(config.ModeCircuitBreaker, "score collapsed") {
		t.Fatal("transition refused")
	}
	if m.Mode() != config.ModeCircuitBreaker {
		t.Fatalf("mode: got %s", m.Mode())
	}
	if m.Set(config.ModeCircuitBreaker, "again") {
		t.Fatal("same-mode set should report no transition")
	}

	hist := m.Transitions()
	if len(hist) != 1 {
		t.Fatalf("transitions: got %d, want 1", len(hist))
	}
	tr := hist[0]
	if tr.From != config.ModeSilentObserver || tr.To != config.ModeCircuitBreaker || tr.Reason != "score collapsed" {
		t.Fatalf("transition: %+v", tr)
	}
	if tr.AtNs == 0 || m.ChangedAtNs() != tr.AtNs {
		t.Fatal("transition timestamp not recorded")
	}
}

func TestModeEngine_RefusesDirectSovereign(t *testing.T) {
	m := NewModeEngine(config.ModeCircuitBreaker)
	if m.Set(config.ModeFullSovereign, "shortcut") {
		t.Fatal("direct FULL_SOVEREIGN transition must be refused")
	}
	if m.Mode() != config.ModeCircuitBreaker {
		t.Fatalf("mode changed anyway: %s", m.Mode())
	}
	if m.Set(config.OperatingMode("NONSENSE"), "junk") {
		t.Fatal("invalid mode must be refused")
	}

	if !m.promote("gates passed") {
		t.Fatal("promotion path refused")
	}
	if m.Mode() != config.ModeFullSovereign {
		t.Fatalf("mode after promote: %s", m.Mode())
	}
}

func TestModeEngine_HistoryBounded(t *testing.T) {
	m := NewModeEngine(config.ModeSilentObserver)
	for i := 0; i < 3*modeTransitionHistory; i++ {
		if i%2 == 0 {
			m.Set(config.ModeCircuitBreaker, "flap")
		} else {
			m.Set(config.ModeSilentObserver, "flap")
		}
	}
	if got := len(m.Transitions()); got != modeTransitionHistory {
		t.Fatalf("history length: got %d, want %d", got, modeTransitionHistory)
	}
}
