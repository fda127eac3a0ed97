package vanguard

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/maypok86/otter"
	"golang.org/x/time/rate"

	"github.com/nexus-vanguard/vanguard/internal/config"
	"github.com/nexus-vanguard/vanguard/internal/docstore"
	"github.com/nexus-vanguard/vanguard/internal/health"
	"github.com/nexus-vanguard/vanguard/internal/model"
)

// DepAI is the health-gate service name for the LLM triage dependency.
const DepAI = "ai"

// Triage sources recorded on every analysis.
const (
	TriageSourcePrimary  = "primary"
	TriageSourceFallback = "fallback"
)

const triageCacheCapacity = 4096

type triageStore interface {
	docstore.IncidentRepo
	docstore.AnalysisRepo
}

// Triage runs the dual-path pipeline: the routing table selects the LLM
// primary or the heuristic fallback, verdicts are cached in memory and
// persisted, and every analysis records which path produced it.
type Triage struct {
	store      triageStore
	routing    *RoutingTable
	llm        *TriageLLM
	gate       *health.Gate
	cfg        func() *config.RuntimeConfig
	sources    SourceMap
	cache      otter.Cache[string, model.IncidentAnalysis]
	lastSource atomic.Value
}

// NewTriage wires the pipeline. llm may be nil (heuristic only); gate
// may be nil.
func NewTriage(store triageStore, routing *RoutingTable, llm *TriageLLM, gate *health.Gate, cfg func() *config.RuntimeConfig, sources SourceMap) *Triage {
	if sources == nil {
		sources = DefaultSourceMap()
	}
	ttl := cfg().TriageAnalysisTTL.Std()
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	cache, err := otter.MustBuilder[string, model.IncidentAnalysis](triageCacheCapacity).
		Cost(func(string, model.IncidentAnalysis) uint32 { return 1 }).
		WithTTL(ttl).
		Build()
	if err != nil {
		panic("vanguard: failed to create analysis cache: " + err.Error())
	}
	return &Triage{
		store:   store,
		routing: routing,
		llm:     llm,
		gate:    gate,
		cfg:     cfg,
		sources: sources,
		cache:   cache,
	}
}

// Analyze produces the triage verdict for one fingerprint. Unexpired
// verdicts are served from cache or the incident record unless force is
// set; fresh reports whether a new analysis ran.
func (t *Triage) Analyze(ctx context.Context, fingerprint string, force bool) (a model.IncidentAnalysis, fresh bool, err error) {
	nowNs := time.Now().UnixNano()
	if !force {
		if cached, ok := t.cache.Get(fingerprint); ok && cached.ExpiresAtNs > nowNs {
			return cached, false, nil
		}
	}
	inc, err := t.store.GetIncident(ctx, fingerprint)
	if err != nil {
		return model.IncidentAnalysis{}, false, fmt.Errorf("triage %s: %w", fingerprint, err)
	}
	if !force && inc.AIAnalysis != nil && inc.AIAnalysis.ExpiresAtNs > nowNs {
		t.cache.Set(fingerprint, *inc.AIAnalysis)
		return *inc.AIAnalysis, false, nil
	}

	a = t.analyzeOnce(ctx, inc)
	ttl := t.cfg().TriageAnalysisTTL.Std()
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	a.CreatedAtNs = nowNs
	a.ExpiresAtNs = nowNs + ttl.Nanoseconds()

	if err := t.store.SaveAnalysis(ctx, fingerprint, a); err != nil {
		return a, true, fmt.Errorf("triage %s: save: %w", fingerprint, err)
	}
	t.cache.Set(fingerprint, a)
	t.lastSource.Store(a.TriageSource)
	return a, true, nil
}

// analyzeOnce runs one path. LLM failures fall back to the heuristic for
// this incident only; they do not flip the routing table, which belongs
// to the hysteresis evaluator.
func (t *Triage) analyzeOnce(ctx context.Context, inc model.Incident) model.IncidentAnalysis {
	cfg := t.cfg()
	if t.llm != nil && !t.routing.FallbackActive(RouteTriage) {
		start := time.Now()
		excerpts := t.llm.Excerpts(t.sources.FilesFor(inc.Endpoint))
		a, err := t.llm.Analyze(ctx, inc, excerpts)
		if err == nil {
			if t.gate != nil {
				t.gate.RecordSuccess(DepAI, time.Since(start))
			}
			if a.Impact == "" {
				a.Impact = impactFor(inc.Severity, inc.OccurrenceCount)
			}
			a.TriageSource = TriageSourcePrimary
			return a
		}
		log.Printf("[vanguard] llm triage for %s failed, using heuristic: %v", shortFP(inc.Fingerprint), err)
		if t.gate != nil {
			t.gate.RecordError(DepAI, err.Error())
		}
	}
	a := HeuristicAnalyze(inc, cfg.LiveDataHosts)
	a.TriageSource = TriageSourceFallback
	return a
}

// LastTriageSource returns the source stamped on the most recent
// analysis, or "" before any ran.
func (t *Triage) LastTriageSource() string {
	s, _ := t.lastSource.Load().(string)
	return s
}

// BatchReport summarizes one batch-analysis sweep.
type BatchReport struct {
	Scanned  int `json:"scanned"`
	Analyzed int `json:"analyzed"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// BatchAnalyze fills in missing or expired verdicts for active
// incidents, pacing requests and analyzing at most limit (capped by
// config, default 100) per call. force re-analyzes unexpired verdicts
// too.
func (t *Triage) BatchAnalyze(ctx context.Context, limit int, force bool) (BatchReport, error) {
	cfg := t.cfg()
	if limit <= 0 || limit > cfg.TriageBatchLimit {
		limit = cfg.TriageBatchLimit
	}
	var report BatchReport
	incidents, err := t.store.ListIncidents(ctx, model.IncidentActive, 0)
	if err != nil {
		return report, fmt.Errorf("triage batch: %w", err)
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.TriageBatchPacePerSec), 1)
	nowNs := time.Now().UnixNano()
	for _, inc := range incidents {
		if report.Analyzed >= limit {
			break
		}
		report.Scanned++
		if !force && inc.AIAnalysis != nil && inc.AIAnalysis.ExpiresAtNs > nowNs {
			report.Skipped++
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			return report, err
		}
		if _, _, err := t.Analyze(ctx, inc.Fingerprint, force); err != nil {
			log.Printf("[vanguard] batch triage %s: %v", shortFP(inc.Fingerprint), err)
			report.Failed++
			continue
		}
		report.Analyzed++
	}
	return report, nil
}

func shortFP(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
