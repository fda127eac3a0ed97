package vanguard

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nexus-vanguard/vanguard/internal/config"
	"github.com/nexus-vanguard/vanguard/internal/scanloop"
)

// Hysteresis flips the triage route onto its heuristic fallback after
// consecutive AI-dependency failures and restores it after consecutive
// recoveries. The asymmetric thresholds stop a flapping dependency from
// thrashing the route.
type Hysteresis struct {
	mu        sync.Mutex
	failures  int
	successes int

	routing          *RoutingTable
	check            func(context.Context) error
	modeFn           func() config.OperatingMode
	failThreshold    int
	recoverThreshold int
	interval         time.Duration
}

// HysteresisOptions configures the evaluator. Check probes the AI
// dependency; a nil error is healthy.
type HysteresisOptions struct {
	Routing          *RoutingTable
	Check            func(context.Context) error
	Mode             func() config.OperatingMode
	FailThreshold    int
	RecoverThreshold int
	Interval         time.Duration
}

// NewHysteresis builds the evaluator with 3-failure/2-success defaults.
func NewHysteresis(opts HysteresisOptions) *Hysteresis {
	h := &Hysteresis{
		routing:          opts.Routing,
		check:            opts.Check,
		modeFn:           opts.Mode,
		failThreshold:    opts.FailThreshold,
		recoverThreshold: opts.RecoverThreshold,
		interval:         opts.Interval,
	}
	if h.failThreshold <= 0 {
		h.failThreshold = 3
	}
	if h.recoverThreshold <= 0 {
		h.recoverThreshold = 2
	}
	if h.interval <= 0 {
		h.interval = 30 * time.Second
	}
	return h
}

// Observe feeds one health observation into the counters. Each outcome
// resets the opposing counter.
func (h *Hysteresis) Observe(healthy bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if healthy {
		h.successes++
		h.failures = 0
		if h.successes >= h.recoverThreshold {
			if active, ok := h.routing.DeactivateFallback(RouteTriage); ok {
				log.Printf("[vanguard] ai dependency recovered, primary triage restored after %s on fallback", active.Round(time.Second))
			}
		}
		return
	}
	h.failures++
	h.successes = 0
	if h.failures >= h.failThreshold {
		h.routing.ActivateFallback(RouteTriage, fmt.Sprintf("ai dependency unhealthy %d consecutive checks", h.failures))
	}
}

// Counters returns the current consecutive failure/success counts.
func (h *Hysteresis) Counters() (failures, successes int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failures, h.successes
}

// EvaluateOnce probes the dependency and feeds the result in. The whole
// evaluation is skipped in CIRCUIT_BREAKER, where a human owns the mode
// and routing should hold steady.
func (h *Hysteresis) EvaluateOnce(ctx context.Context) {
	if h.modeFn != nil && h.modeFn() == config.ModeCircuitBreaker {
		return
	}
	err := h.check(ctx)
	if err != nil {
		log.Printf("[vanguard] ai dependency check failed: %v", err)
	}
	h.Observe(err == nil)
}

// Run evaluates on the probe interval until stopCh closes.
func (h *Hysteresis) Run(stopCh <-chan struct{}) {
	scanloop.RunEvery(stopCh, h.interval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.interval)
		defer cancel()
		h.EvaluateOnce(ctx)
	})
}
