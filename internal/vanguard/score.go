package vanguard

import (
	"context"
	"math"

	"github.com/nexus-vanguard/vanguard/internal/docstore"
)

// Composite score bounds. The floor keeps a fully-degraded system from
// reading as zero, which would suggest the scorer itself is broken.
const (
	scoreFloor   = 20.0
	scoreCeiling = 100.0
)

// Subsystem weights for the boolean rollup.
const (
	weightRegistry = 30.0
	weightStore    = 25.0
	weightAI       = 20.0
	weightVaccine  = 15.0
	weightSurgeon  = 5.0
	weightKV       = 5.0
)

// Subsystems is the boolean health rollup scored by weight.
type Subsystems struct {
	Registry bool `json:"registry"`
	Store    bool `json:"store"`
	AI       bool `json:"ai"`
	Vaccine  bool `json:"vaccine"`
	Surgeon  bool `json:"surgeon"`
	KV       bool `json:"kv"`
}

// Score sums the weights of healthy subsystems.
func (s Subsystems) Score() float64 {
	var total float64
	if s.Registry {
		total += weightRegistry
	}
	if s.Store {
		total += weightStore
	}
	if s.AI {
		total += weightAI
	}
	if s.Vaccine {
		total += weightVaccine
	}
	if s.Surgeon {
		total += weightSurgeon
	}
	if s.KV {
		total += weightKV
	}
	return total
}

// SubsystemProbes supplies the per-subsystem liveness checks. Probes are
// cheap and synchronous; a nil probe counts as healthy so an unwired
// optional subsystem does not drag the score.
type SubsystemProbes struct {
	Registry func(context.Context) bool
	Store    func(context.Context) bool
	AI       func(context.Context) bool
	Vaccine  func(context.Context) bool
	Surgeon  func(context.Context) bool
	KV       func(context.Context) bool
}

func probe(ctx context.Context, fn func(context.Context) bool) bool {
	if fn == nil {
		return true
	}
	return fn(ctx)
}

// Evaluate runs all probes.
func (p SubsystemProbes) Evaluate(ctx context.Context) Subsystems {
	return Subsystems{
		Registry: probe(ctx, p.Registry),
		Store:    probe(ctx, p.Store),
		AI:       probe(ctx, p.AI),
		Vaccine:  probe(ctx, p.Vaccine),
		Surgeon:  probe(ctx, p.Surgeon),
		KV:       probe(ctx, p.KV),
	}
}

// IncidentScore decays logarithmically with the active-incident count and
// earns a resolution-ratio bonus of at most +10. Thirty unresolved
// incidents exhaust the base entirely.
func IncidentScore(active, resolved int) float64 {
	base := 100 - 30*math.Log1p(float64(active))
	if base < 0 {
		base = 0
	}
	if active+resolved > 0 {
		base += 10 * float64(resolved) / float64(active+resolved)
	}
	return clampScore(base, 0, 100)
}

// EndpointErrorScore decays with the number of distinct endpoints that
// currently have active incidents. Spread across many endpoints reads
// worse than recurrence on one.
func EndpointErrorScore(distinct int) float64 {
	s := 100 - 30*math.Log1p(float64(distinct))
	if s < 0 {
		s = 0
	}
	return s
}

// ScoreReport is one composite evaluation with its inputs.
type ScoreReport struct {
	Composite          float64    `json:"composite"`
	IncidentScore      float64    `json:"incident_score"`
	SubsystemScore     float64    `json:"subsystem_score"`
	EndpointErrorScore float64    `json:"endpoint_error_score"`
	ActiveIncidents    int        `json:"active_incidents"`
	ResolvedIncidents  int        `json:"resolved_incidents"`
	DistinctEndpoints  int        `json:"distinct_endpoints"`
	Subsystems         Subsystems `json:"subsystems"`
}

// ComputeScore folds incident pressure, subsystem health, and endpoint
// spread into the composite: 0.40·incident + 0.35·subsystem +
// 0.25·endpoint_error, bounded to [20, 100].
func ComputeScore(stats docstore.IncidentStats, subs Subsystems) ScoreReport {
	rep := ScoreReport{
		IncidentScore:      IncidentScore(stats.Active, stats.Resolved),
		SubsystemScore:     subs.Score(),
		EndpointErrorScore: EndpointErrorScore(stats.DistinctEndpoints),
		ActiveIncidents:    stats.Active,
		ResolvedIncidents:  stats.Resolved,
		DistinctEndpoints:  stats.DistinctEndpoints,
		Subsystems:         subs,
	}
	raw := 0.40*rep.IncidentScore + 0.35*rep.SubsystemScore + 0.25*rep.EndpointErrorScore
	rep.Composite = clampScore(raw, scoreFloor, scoreCeiling)
	return rep
}

func clampScore(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
