package vanguard

import (
	"context"
	"errors"
	"testing"

	"github.com/nexus-vanguard/vanguard/internal/config"
)

func TestHysteresis_ActivatesAfterConsecutiveFailures(t *testing.T) {
	rt := newTestRoutingTable()
	h := NewHysteresis(HysteresisOptions{Routing: rt})

	h.Observe(false)
	h.Observe(false)
	if rt.FallbackActive(RouteTriage) {
		t.Fatal("fallback activated below the failure threshold")
	}
	h.Observe(false)
	if !rt.FallbackActive(RouteTriage) {
		t.Fatal("three consecutive failures should activate the fallback")
	}
}

func TestHysteresis_RecoversAfterConsecutiveSuccesses(t *testing.T) {
	rt := newTestRoutingTable()
	h := NewHysteresis(HysteresisOptions{Routing: rt})
	for i := 0; i < 3; i++ {
		h.Observe(false)
	}

	h.Observe(true)
	if !rt.FallbackActive(RouteTriage) {
		t.Fatal("one success should not restore the primary")
	}
	h.Observe(true)
	if rt.FallbackActive(RouteTriage) {
		t.Fatal("two consecutive successes should restore the primary")
	}
}

func TestHysteresis_ObservationsResetOpposingCounter(t *testing.T) {
	rt := newTestRoutingTable()
	h := NewHysteresis(HysteresisOptions{Routing: rt})

	h.Observe(false)
	h.Observe(false)
	h.Observe(true) // interleaved recovery clears the failure streak
	h.Observe(false)
	h.Observe(false)
	if rt.FallbackActive(RouteTriage) {
		t.Fatal("interleaved successes must reset the failure streak")
	}
	failures, successes := h.Counters()
	if failures != 2 || successes != 0 {
		t.Fatalf("counters: failures=%d successes=%d", failures, successes)
	}

	h.Observe(false)
	if !rt.FallbackActive(RouteTriage) {
		t.Fatal("streak of three failures should activate")
	}
}

func TestHysteresis_EvaluateOnceFeedsProbeResult(t *testing.T) {
	rt := newTestRoutingTable()
	probeErr := errors.New("breaker open")
	h := NewHysteresis(HysteresisOptions{
		Routing: rt,
		Check:   func(context.Context) error { return probeErr },
		Mode:    func() config.OperatingMode { return config.ModeSilentObserver },
	})

	for i := 0; i < 3; i++ {
		h.EvaluateOnce(context.Background())
	}
	if !rt.FallbackActive(RouteTriage) {
		t.Fatal("failing probe should trip the fallback")
	}

	probeErr = nil
	h.EvaluateOnce(context.Background())
	h.EvaluateOnce(context.Background())
	if rt.FallbackActive(RouteTriage) {
		t.Fatal("healthy probe should restore the primary")
	}
}

func TestHysteresis_CircuitBreakerModeSkipsEvaluation(t *testing.T) {
	rt := newTestRoutingTable()
	probes := 0
	h := NewHysteresis(HysteresisOptions{
		Routing: rt,
		Check: func(context.Context) error {
			probes++
			return errors.New("down")
		},
		Mode: func() config.OperatingMode { return config.ModeCircuitBreaker },
	})

	for i := 0; i < 5; i++ {
		h.EvaluateOnce(context.Background())
	}
	if probes != 0 {
		t.Fatalf("probe ran %d times in CIRCUIT_BREAKER", probes)
	}
	if rt.FallbackActive(RouteTriage) {
		t.Fatal("routing must hold steady in CIRCUIT_BREAKER")
	}
	if f, s := h.Counters(); f != 0 || s != 0 {
		t.Fatalf("counters moved while skipped: failures=%d successes=%d", f, s)
	}
}
