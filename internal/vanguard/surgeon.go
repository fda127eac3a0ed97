package vanguard

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nexus-vanguard/vanguard/internal/config"
	"github.com/nexus-vanguard/vanguard/internal/docstore"
	"github.com/nexus-vanguard/vanguard/internal/model"
	"github.com/nexus-vanguard/vanguard/internal/registry"
)

// Surgeon actions.
const (
	ActionLogOnly    = "LOG_ONLY"
	ActionMonitor    = "MONITOR"
	ActionRateLimit  = "RATE_LIMIT"
	ActionQuarantine = "QUARANTINE"
)

// Surgeon confidence thresholds.
const (
	surgeonHighConfidence = 85.0
	surgeonMidConfidence  = 70.0
)

// rateLimitFraction is the advisory applied on RATE_LIMIT decisions.
const rateLimitFraction = 0.5

// Decide selects the remediation action for an analyzed incident. In
// SILENT_OBSERVER every input maps to LOG_ONLY; unknown modes do too.
func Decide(mode config.OperatingMode, analysis *model.IncidentAnalysis) (action, reason string) {
	switch mode {
	case config.ModeSilentObserver:
		return ActionLogOnly, "silent observer records without acting"
	case config.ModeCircuitBreaker, config.ModeFullSovereign:
	default:
		return ActionLogOnly, fmt.Sprintf("unknown mode %q, recording only", mode)
	}
	if analysis == nil {
		return ActionQuarantine, "no analysis available, quarantining the route"
	}
	switch {
	case analysis.ReadyToResolve && analysis.Confidence >= surgeonHighConfidence:
		return ActionMonitor, "likely already fixed, monitoring for recurrence"
	case analysis.Confidence >= surgeonHighConfidence:
		return ActionRateLimit, "high confidence but unresolved, halving endpoint traffic"
	case analysis.Confidence >= surgeonMidConfidence:
		return ActionRateLimit, "mid confidence, cautious rate limit"
	default:
		return ActionQuarantine, "low confidence, routing endpoint to fallback"
	}
}

// Surgeon applies remediation decisions. Every decision is appended to
// the incident's remediation log; traffic advisories and quarantine
// routing take effect only in FULL_SOVEREIGN, where the engine is
// authorized to act on its own.
type Surgeon struct {
	repo     docstore.IncidentRepo
	registry *registry.Registry
	routing  *RoutingTable
	modeFn   func() config.OperatingMode
}

// NewSurgeon wires the surgeon. registry and routing may be nil, in
// which case the matching side effects are skipped.
func NewSurgeon(repo docstore.IncidentRepo, reg *registry.Registry, routing *RoutingTable, modeFn func() config.OperatingMode) *Surgeon {
	return &Surgeon{repo: repo, registry: reg, routing: routing, modeFn: modeFn}
}

// Apply decides, records, and (in FULL_SOVEREIGN) enforces the action
// for one analyzed incident. The recorded entry is returned.
func (s *Surgeon) Apply(ctx context.Context, inc model.Incident, analysis *model.IncidentAnalysis) (model.RemediationEntry, error) {
	mode := s.modeFn()
	action, reason := Decide(mode, analysis)

	entry := model.RemediationEntry{
		Action:      action,
		Reason:      reason,
		Mode:        string(mode),
		TimestampNs: time.Now().UnixNano(),
	}
	if analysis != nil {
		entry.Confidence = analysis.Confidence
	}

	if mode == config.ModeFullSovereign {
		s.enforce(inc, action)
	}

	if err := s.repo.AppendRemediation(ctx, inc.Fingerprint, entry); err != nil {
		return entry, fmt.Errorf("surgeon: record %s for %s: %w", action, inc.Fingerprint, err)
	}
	log.Printf("[vanguard] surgeon %s on %s (%s): %s", action, inc.Endpoint, shortFP(inc.Fingerprint), reason)
	return entry, nil
}

func (s *Surgeon) enforce(inc model.Incident, action string) {
	switch action {
	case ActionRateLimit:
		if s.registry != nil {
			s.registry.SetLimitAdvisory(inc.Endpoint, rateLimitFraction)
		}
	case ActionQuarantine:
		if s.routing != nil {
			s.routing.ActivateFallback(inc.Endpoint, "quarantined by surgeon: "+inc.ErrorType)
		}
	case ActionMonitor:
		if s.registry != nil {
			s.registry.ClearLimitAdvisory(inc.Endpoint)
		}
	}
}
