// Package vanguard is the incident engine: it observes request failures,
// deduplicates them into persistent incidents, triages each one through
// an LLM or heuristic path, scores overall system health, and moves the
// operating mode between SILENT_OBSERVER, CIRCUIT_BREAKER, and (gated)
// FULL_SOVEREIGN.
package vanguard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexus-vanguard/vanguard/internal/auditlog"
	"github.com/nexus-vanguard/vanguard/internal/config"
	"github.com/nexus-vanguard/vanguard/internal/docstore"
	"github.com/nexus-vanguard/vanguard/internal/health"
	"github.com/nexus-vanguard/vanguard/internal/metrics"
	"github.com/nexus-vanguard/vanguard/internal/model"
	"github.com/nexus-vanguard/vanguard/internal/registry"
	"github.com/nexus-vanguard/vanguard/internal/scanloop"
	"github.com/nexus-vanguard/vanguard/internal/taskq"
)

const (
	escalationJitter   = 15 * time.Second
	minEscalationEvery = 2 * time.Minute
	maxTracebackFrames = 12
	evaluateTimeout    = 30 * time.Second
)

// GeoFunc resolves a client IP to an ISO country code.
type GeoFunc func(ip string) (string, bool)

// Options wires the engine. Store and Config are required; everything
// else degrades gracefully when nil.
type Options struct {
	Config      func() *config.RuntimeConfig
	Store       docstore.Store
	Audit       *auditlog.Writer
	Queue       *taskq.Queue
	Gate        *health.Gate
	Registry    *registry.Registry
	History     *metrics.ScoreHistory
	LLM         *TriageLLM
	KVPing      func(context.Context) error
	Geo         GeoFunc
	InitialMode config.OperatingMode
	SourceMap   SourceMap
	// Probes overrides the default subsystem probes; tests use this.
	Probes *SubsystemProbes
}

// Engine owns the incident lifecycle and the operating mode.
type Engine struct {
	cfg      func() *config.RuntimeConfig
	store    docstore.Store
	audit    *auditlog.Writer
	queue    *taskq.Queue
	gate     *health.Gate
	registry *registry.Registry
	history  *metrics.ScoreHistory
	llm      *TriageLLM
	kvPing   func(context.Context) error
	geo      GeoFunc
	randFn   func() float64

	modes      *ModeEngine
	routing    *RoutingTable
	triage     *Triage
	surgeon    *Surgeon
	hysteresis *Hysteresis
	vaccine    *VaccinePlanner
	probes     SubsystemProbes

	liveRoutesMounted atomic.Bool
	captured          atomic.Int64
	sampledOut        atomic.Int64

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started atomic.Bool
}

// New assembles the engine and its sub-parts.
func New(opts Options) *Engine {
	cfg := opts.Config
	e := &Engine{
		cfg:      cfg,
		store:    opts.Store,
		audit:    opts.Audit,
		queue:    opts.Queue,
		gate:     opts.Gate,
		registry: opts.Registry,
		history:  opts.History,
		llm:      opts.LLM,
		kvPing:   opts.KVPing,
		geo:      opts.Geo,
		randFn:   rand.Float64,
		stopCh:   make(chan struct{}),
	}
	e.modes = NewModeEngine(opts.InitialMode)
	e.routing = NewRoutingTable(registry.BlastRadiusProtected)
	e.triage = NewTriage(opts.Store, e.routing, opts.LLM, opts.Gate, cfg, opts.SourceMap)
	e.surgeon = NewSurgeon(opts.Store, opts.Registry, e.routing, e.modes.Mode)
	e.vaccine = NewVaccinePlanner(cfg().AllowedEditRoots, opts.SourceMap)
	e.hysteresis = NewHysteresis(HysteresisOptions{
		Routing:          e.routing,
		Check:            e.checkAI,
		Mode:             e.modes.Mode,
		FailThreshold:    cfg().HysteresisFailThreshold,
		RecoverThreshold: cfg().HysteresisRecoverThreshold,
		Interval:         cfg().HysteresisProbeInterval.Std(),
	})
	if opts.Probes != nil {
		e.probes = *opts.Probes
	} else {
		e.probes = e.defaultProbes()
	}
	if e.gate != nil {
		e.gate.Ensure(DepAI, health.TypeExternal)
	}
	return e
}

// Start launches the escalation and hysteresis loops.
func (e *Engine) Start() {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.runEscalation()
	}()
	go func() {
		defer e.wg.Done()
		e.hysteresis.Run(e.stopCh)
	}()
	log.Printf("[vanguard] engine started in %s", e.modes.Mode())
}

// Stop halts the background loops and waits for them.
func (e *Engine) Stop() {
	if !e.started.CompareAndSwap(true, false) {
		return
	}
	close(e.stopCh)
	e.wg.Wait()
	log.Printf("[vanguard] engine stopped")
}

// Accessors for the wired sub-parts.
func (e *Engine) Mode() config.OperatingMode { return e.modes.Mode() }
func (e *Engine) Modes() *ModeEngine         { return e.modes }
func (e *Engine) Routing() *RoutingTable     { return e.routing }
func (e *Engine) Triage() *Triage            { return e.triage }
func (e *Engine) Surgeon() *Surgeon          { return e.surgeon }
func (e *Engine) Hysteresis() *Hysteresis    { return e.hysteresis }
func (e *Engine) Vaccine() *VaccinePlanner   { return e.vaccine }

// MarkLiveRoutesMounted is called by the HTTP server once the live
// stream routes are registered; promotion gate 8 reads it.
func (e *Engine) MarkLiveRoutesMounted() {
	e.liveRoutesMounted.Store(true)
}

// CaptureStats reports capture volume since boot.
type CaptureStats struct {
	Captured   int64 `json:"captured"`
	SampledOut int64 `json:"sampled_out"`
}

// Captures returns capture counters.
func (e *Engine) Captures() CaptureStats {
	return CaptureStats{Captured: e.captured.Load(), SampledOut: e.sampledOut.Load()}
}

// Capture records one failure: fingerprint, severity, atomic upsert, an
// audit row, and a scheduled triage. Sampling may drop the event before
// any of that happens; captured reports whether it was recorded.
func (e *Engine) Capture(ctx context.Context, f Failure) (model.Incident, bool) {
	cfg := e.cfg()
	if cfg.SamplingRate < 1 && e.randFn() >= cfg.SamplingRate {
		e.sampledOut.Add(1)
		return model.Incident{}, false
	}

	frames := UserFrames(f.Stack, cfg.AllowedEditRoots)
	top := ""
	if len(frames) > 0 {
		top = frames[0].Ref()
	}
	now := time.Now().UnixNano()
	inc := model.Incident{
		Fingerprint:   Fingerprint(f.Endpoint, f.ErrorType, top),
		Endpoint:      NormalizePath(f.Endpoint),
		ErrorType:     f.ErrorType,
		ErrorMessage:  f.Message,
		Traceback:     formatTraceback(frames),
		RequestID:     f.RequestID,
		Severity:      severityFor(f),
		ContextVector: contextVector(f),
		Labels:        f.Labels,
		FirstSeenNs:   now,
		LastSeenNs:    now,
	}
	if e.geo != nil && f.RemoteIP != "" {
		if cc, ok := e.geo(f.RemoteIP); ok {
			inc.GeoCountry = cc
		}
	}

	out, created, err := e.store.UpsertIncident(ctx, inc)
	if err != nil {
		log.Printf("[vanguard] incident upsert for %s failed: %v", inc.Endpoint, err)
		return model.Incident{}, false
	}
	e.captured.Add(1)

	if e.audit != nil {
		e.audit.Record(model.AuditEntry{
			Fingerprint: out.Fingerprint,
			Endpoint:    out.Endpoint,
			ErrorType:   f.ErrorType,
			RequestID:   f.RequestID,
			Severity:    out.Severity,
			CreatedAtNs: now,
		})
	}
	e.scheduleTriage(out, created)
	return out, true
}

func formatTraceback(frames []Frame) string {
	if len(frames) > maxTracebackFrames {
		frames = frames[:maxTracebackFrames]
	}
	var b []byte
	for _, fr := range frames {
		b = append(b, fr.Ref()...)
		b = append(b, ' ')
		b = append(b, fr.Function...)
		b = append(b, '\n')
	}
	return string(b)
}

func contextVector(f Failure) map[string]string {
	cv := map[string]string{
		"method": f.Method,
		"path":   f.Endpoint,
	}
	if f.StatusCode > 0 {
		cv["status"] = strconv.Itoa(f.StatusCode)
	}
	if f.Panic {
		cv["panic"] = "true"
	}
	if f.RemoteIP != "" {
		cv["remote_ip"] = f.RemoteIP
	}
	return cv
}

// scheduleTriage queues analysis at low priority; the first occurrence
// of a RED incident jumps to high. The surgeon runs after every fresh
// analysis.
func (e *Engine) scheduleTriage(inc model.Incident, created bool) {
	if e.queue == nil {
		return
	}
	prio := model.PriorityLow
	if created && inc.Severity == model.SeverityRed {
		prio = model.PriorityHigh
	}
	fp := inc.Fingerprint
	_, err := e.queue.Submit(func(ctx context.Context) (any, error) {
		a, fresh, err := e.triage.Analyze(ctx, fp, false)
		if err != nil {
			return nil, err
		}
		if fresh {
			cur, err := e.store.GetIncident(ctx, fp)
			if err != nil {
				return a, nil
			}
			if _, err := e.surgeon.Apply(ctx, cur, &a); err != nil {
				log.Printf("[vanguard] %v", err)
			}
		}
		return a, nil
	}, prio)
	if err != nil {
		log.Printf("[vanguard] triage submit for %s: %v", shortFP(fp), err)
	}
}

type learningSnapshot struct {
	Fingerprint     string                  `json:"fingerprint"`
	Endpoint        string                  `json:"endpoint"`
	ErrorType       string                  `json:"error_type"`
	Severity        model.Severity          `json:"severity"`
	OccurrenceCount int64                   `json:"occurrence_count"`
	Summary         string                  `json:"summary,omitempty"`
	Analysis        *model.IncidentAnalysis `json:"analysis,omitempty"`
}

func (e *Engine) appendLearning(ctx context.Context, eventType string, inc model.Incident) {
	payload, err := json.Marshal(learningSnapshot{
		Fingerprint:     inc.Fingerprint,
		Endpoint:        inc.Endpoint,
		ErrorType:       inc.ErrorType,
		Severity:        inc.Severity,
		OccurrenceCount: inc.OccurrenceCount,
		Summary:         inc.ResolutionSummary,
		Analysis:        inc.AIAnalysis,
	})
	if err != nil {
		return
	}
	ev := model.LearningEvent{
		Fingerprint: inc.Fingerprint,
		EventType:   eventType,
		PayloadJSON: string(payload),
		CreatedAtNs: time.Now().UnixNano(),
	}
	if err := e.store.AppendLearning(ctx, ev); err != nil {
		log.Printf("[vanguard] learning append for %s: %v", shortFP(inc.Fingerprint), err)
	}
}

// Resolve marks one incident resolved and snapshots it into the
// learning corpus.
func (e *Engine) Resolve(ctx context.Context, fingerprint, summary string) (model.Incident, error) {
	inc, err := e.store.ResolveIncident(ctx, fingerprint, summary, time.Now().UnixNano())
	if err != nil {
		return inc, err
	}
	e.appendLearning(ctx, "resolved", inc)
	return inc, nil
}

// Unresolve reopens a resolved incident.
func (e *Engine) Unresolve(ctx context.Context, fingerprint string) (model.Incident, error) {
	inc, err := e.store.UnresolveIncident(ctx, fingerprint, time.Now().UnixNano())
	if err != nil {
		return inc, err
	}
	e.appendLearning(ctx, "unresolved", inc)
	return inc, nil
}

// ResolveAll resolves every active incident, appending bulk_resolved
// learning events, and returns how many were resolved.
func (e *Engine) ResolveAll(ctx context.Context, summary string) (int, error) {
	total := 0
	for {
		incidents, err := e.store.ListIncidents(ctx, model.IncidentActive, 200)
		if err != nil {
			return total, err
		}
		if len(incidents) == 0 {
			return total, nil
		}
		for _, inc := range incidents {
			resolved, err := e.store.ResolveIncident(ctx, inc.Fingerprint, summary, time.Now().UnixNano())
			if err != nil {
				if errors.Is(err, docstore.ErrConflict) {
					continue
				}
				return total, err
			}
			total++
			e.appendLearning(ctx, "bulk_resolved", resolved)
		}
		if len(incidents) < 200 {
			return total, nil
		}
	}
}

// checkAI is the hysteresis probe for the LLM dependency.
func (e *Engine) checkAI(ctx context.Context) error {
	if e.llm == nil {
		return errors.New("llm triage disabled")
	}
	if !e.llm.Available() {
		return errors.New("triage breaker open")
	}
	if e.gate != nil && !e.gate.IsAvailable(DepAI) {
		return fmt.Errorf("%s dependency unavailable", DepAI)
	}
	return nil
}

func (e *Engine) defaultProbes() SubsystemProbes {
	return SubsystemProbes{
		Registry: func(context.Context) bool {
			return e.registry != nil && e.registry.Size() > 0
		},
		Store: func(ctx context.Context) bool {
			return e.store.Ping(ctx) == nil
		},
		AI: func(ctx context.Context) bool {
			// Heuristic triage keeps the subsystem serviceable when the
			// LLM path is disabled outright.
			if e.llm == nil {
				return true
			}
			return e.checkAI(ctx) == nil
		},
		Vaccine: func(context.Context) bool { return e.vaccine != nil },
		Surgeon: func(context.Context) bool { return e.surgeon != nil },
		KV: func(ctx context.Context) bool {
			if e.kvPing == nil {
				return true
			}
			return e.kvPing(ctx) == nil
		},
	}
}

// EvaluateOnce computes the composite score, applies the escalation
// rules, records the sample, and persists the metadata document.
func (e *Engine) EvaluateOnce(ctx context.Context) (ScoreReport, error) {
	stats, err := e.store.IncidentStats(ctx)
	if err != nil {
		return ScoreReport{}, fmt.Errorf("vanguard: incident stats: %w", err)
	}
	subs := e.probes.Evaluate(ctx)
	rep := ComputeScore(stats, subs)

	cfg := e.cfg()
	mode := e.modes.Mode()
	switch {
	case rep.Composite < cfg.EscalateBelowScore && mode != config.ModeCircuitBreaker:
		e.modes.Set(config.ModeCircuitBreaker,
			fmt.Sprintf("health score %.1f below escalation threshold %.0f", rep.Composite, cfg.EscalateBelowScore))
	case rep.Composite >= cfg.DeescalateAboveScore && mode == config.ModeCircuitBreaker:
		e.modes.Set(config.ModeSilentObserver,
			fmt.Sprintf("health score %.1f recovered above %.0f", rep.Composite, cfg.DeescalateAboveScore))
	}

	if e.history != nil {
		e.history.Push(metrics.ScoreSample{
			Score:              rep.Composite,
			IncidentScore:      rep.IncidentScore,
			SubsystemScore:     rep.SubsystemScore,
			EndpointErrorScore: rep.EndpointErrorScore,
			Mode:               string(e.modes.Mode()),
		})
	}
	meta := model.VanguardMetadata{
		Mode:        string(e.modes.Mode()),
		HealthScore: rep.Composite,
		UpdatedAtNs: time.Now().UnixNano(),
	}
	if err := e.store.SaveMetadata(ctx, meta); err != nil {
		log.Printf("[vanguard] metadata save: %v", err)
	}
	return rep, nil
}

// ScoreSnapshot computes the composite score without recording a sample,
// switching modes, or persisting anything. Used by read-only surfaces.
func (e *Engine) ScoreSnapshot(ctx context.Context) (ScoreReport, error) {
	stats, err := e.store.IncidentStats(ctx)
	if err != nil {
		return ScoreReport{}, fmt.Errorf("vanguard: incident stats: %w", err)
	}
	return ComputeScore(stats, e.probes.Evaluate(ctx)), nil
}

func (e *Engine) runEscalation() {
	interval := e.cfg().EscalationInterval.Std()
	if interval < minEscalationEvery {
		interval = minEscalationEvery
	}
	scanloop.Run(e.stopCh, interval, escalationJitter, func() {
		ctx, cancel := context.WithTimeout(context.Background(), evaluateTimeout)
		defer cancel()
		if _, err := e.EvaluateOnce(ctx); err != nil {
			log.Printf("[vanguard] evaluation failed: %v", err)
		}
	})
}
