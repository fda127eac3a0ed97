package service

import (
	"context"
	"errors"
	"time"

	"github.com/nexus-vanguard/vanguard/internal/auditlog"
	"github.com/nexus-vanguard/vanguard/internal/config"
	"github.com/nexus-vanguard/vanguard/internal/docstore"
	"github.com/nexus-vanguard/vanguard/internal/health"
	"github.com/nexus-vanguard/vanguard/internal/metrics"
	"github.com/nexus-vanguard/vanguard/internal/model"
	"github.com/nexus-vanguard/vanguard/internal/pulse"
	"github.com/nexus-vanguard/vanguard/internal/registry"
	"github.com/nexus-vanguard/vanguard/internal/router"
	"github.com/nexus-vanguard/vanguard/internal/taskq"
	"github.com/nexus-vanguard/vanguard/internal/vanguard"
)

// ------------------------------------------------------------------
// Liveness and readiness
// ------------------------------------------------------------------

// HealthzDoc is the GET /healthz response shape.
type HealthzDoc struct {
	Status        string               `json:"status"`
	Mode          config.OperatingMode `json:"mode"`
	Version       string               `json:"version"`
	GitCommit     string               `json:"git_commit"`
	BuildTime     string               `json:"build_time"`
	StartedAt     time.Time            `json:"started_at"`
	UptimeSeconds float64              `json:"uptime_seconds"`
}

// mode returns the engine's operating mode, or the boot-configured mode
// when the engine is disabled.
func (s *ControlPlane) mode() config.OperatingMode {
	if s.Engine != nil {
		return s.Engine.Mode()
	}
	if s.EnvCfg != nil {
		return s.EnvCfg.VanguardMode
	}
	return config.ModeSilentObserver
}

// Healthz reports process liveness and build identity.
func (s *ControlPlane) Healthz() HealthzDoc {
	return HealthzDoc{
		Status:        "ok",
		Mode:          s.mode(),
		Version:       s.Info.Version,
		GitCommit:     s.Info.GitCommit,
		BuildTime:     s.Info.BuildTime,
		StartedAt:     s.Info.StartedAt,
		UptimeSeconds: time.Since(s.Info.StartedAt).Seconds(),
	}
}

// Readiness reports whether the core storage dependency is reachable.
func (s *ControlPlane) Readiness(ctx context.Context) error {
	if s.Store == nil {
		return NewDomainError(CodeDBDown, "/readyz", "docstore not wired")
	}
	if err := s.Store.Ping(ctx); err != nil {
		svcErr := NewDomainError(CodeDBDown, "/readyz", "docstore not ready: "+err.Error())
		svcErr.Err = err
		return svcErr
	}
	return nil
}

// HealthDoc is the GET /health response shape: the aggregate dependency
// snapshot plus mode and version.
type HealthDoc struct {
	health.SystemHealth
	Mode    config.OperatingMode `json:"mode"`
	Version string               `json:"version"`
}

// Health rebuilds and returns the aggregate health snapshot.
func (s *ControlPlane) Health() HealthDoc {
	return HealthDoc{
		SystemHealth: s.Gate.CheckAll(),
		Mode:         s.mode(),
		Version:      s.Info.Version,
	}
}

// DependencyDoc is the GET /health/deps response shape.
type DependencyDoc struct {
	Services    map[string]health.ServiceHealth `json:"services"`
	CheckedAtNs int64                           `json:"checked_at_ns"`
}

// Dependencies returns the per-service health map without the aggregate.
func (s *ControlPlane) Dependencies() DependencyDoc {
	snap := s.Gate.CheckAll()
	return DependencyDoc{Services: snap.Services, CheckedAtNs: snap.CheckedAtNs}
}

// ------------------------------------------------------------------
// Operating mode
// ------------------------------------------------------------------

// ModeDoc is the mode override response shape.
type ModeDoc struct {
	Mode        config.OperatingMode      `json:"mode"`
	ChangedAtNs int64                     `json:"changed_at_ns"`
	Changed     bool                      `json:"changed"`
	Promotion   *vanguard.PromotionReport `json:"promotion,omitempty"`
}

// SetMode applies an operator mode override. FULL_SOVEREIGN is routed
// through the promotion gate; everything else transitions directly.
// Setting the current mode is an idempotent no-op.
func (s *ControlPlane) SetMode(ctx context.Context, mode, reason string) (ModeDoc, error) {
	target := config.OperatingMode(mode)
	if !target.IsValid() {
		return ModeDoc{}, invalidArg("mode: must be one of SILENT_OBSERVER, CIRCUIT_BREAKER, FULL_SOVEREIGN")
	}
	if reason == "" {
		reason = "operator override"
	}

	modes := s.Engine.Modes()
	if target == config.ModeFullSovereign {
		report, err := s.Engine.Promote(ctx)
		if errors.Is(err, vanguard.ErrNotPromotable) {
			svcErr := conflict("promotion gates not satisfied")
			svcErr.Details = map[string]any{"report": report}
			return ModeDoc{}, svcErr
		}
		if err != nil {
			return ModeDoc{}, internal("promote", err)
		}
		return ModeDoc{
			Mode:        modes.Mode(),
			ChangedAtNs: modes.ChangedAtNs(),
			Changed:     true,
			Promotion:   &report,
		}, nil
	}

	changed := modes.Set(target, reason)
	if !changed && modes.Mode() != target {
		return ModeDoc{}, conflict("mode transition refused")
	}
	return ModeDoc{Mode: modes.Mode(), ChangedAtNs: modes.ChangedAtNs(), Changed: changed}, nil
}

// PromotionReadiness evaluates the promotion gates without promoting.
func (s *ControlPlane) PromotionReadiness(ctx context.Context) vanguard.PromotionReport {
	return s.Engine.PromotionReadiness(ctx)
}

// ------------------------------------------------------------------
// Admin stats
// ------------------------------------------------------------------

// HysteresisStats reports the triage fallback evaluator counters.
type HysteresisStats struct {
	Failures       int  `json:"failures"`
	Successes      int  `json:"successes"`
	FallbackActive bool `json:"fallback_active"`
}

// IdempotencyStats reports the local idempotency cache size.
type IdempotencyStats struct {
	LocalRecords int `json:"local_records"`
}

// AdminStats is the GET /vanguard/admin/stats response shape.
type AdminStats struct {
	Mode            config.OperatingMode      `json:"mode"`
	ModeChangedAtNs int64                     `json:"mode_changed_at_ns"`
	Transitions     []vanguard.ModeTransition `json:"mode_transitions,omitempty"`
	Score           vanguard.ScoreReport      `json:"score"`
	Trend           []metrics.ScoreSample     `json:"score_trend,omitempty"`
	Captures        vanguard.CaptureStats     `json:"captures"`
	TriageSource    string                    `json:"triage_source,omitempty"`
	Hysteresis      HysteresisStats           `json:"hysteresis"`
	Requests        metrics.CountersSnapshot  `json:"requests"`
	RecentErrors    []metrics.ErrorEvent      `json:"recent_errors,omitempty"`
	ErrorsByCode    map[string]int64          `json:"errors_by_code,omitempty"`
	Race            router.RaceStats          `json:"race"`
	Queue           taskq.QueueStats          `json:"queue"`
	Audit           auditlog.Stats            `json:"audit"`
	Pulse           *pulse.Status             `json:"pulse,omitempty"`
	Idempotency     IdempotencyStats          `json:"idempotency"`
	UptimeSeconds   float64                   `json:"uptime_seconds"`
}

const statsTrendSamples = 60

// Stats assembles the full operator dashboard document. The score is
// computed fresh but nothing is persisted or switched. With the engine
// disabled the vanguard block stays zero and the request-plane counters
// still report.
func (s *ControlPlane) Stats(ctx context.Context) (AdminStats, error) {
	out := AdminStats{
		Mode:          s.mode(),
		UptimeSeconds: time.Since(s.Info.StartedAt).Seconds(),
	}
	if s.Engine != nil {
		score, err := s.Engine.ScoreSnapshot(ctx)
		if err != nil {
			return AdminStats{}, internal("compute health score", err)
		}
		fails, succs := s.Engine.Hysteresis().Counters()
		out.ModeChangedAtNs = s.Engine.Modes().ChangedAtNs()
		out.Transitions = s.Engine.Modes().Transitions()
		out.Score = score
		out.Captures = s.Engine.Captures()
		out.TriageSource = s.Engine.Triage().LastTriageSource()
		out.Hysteresis = HysteresisStats{
			Failures:       fails,
			Successes:      succs,
			FallbackActive: s.Engine.Routing().FallbackActive(vanguard.RouteTriage),
		}
	}
	if s.History != nil {
		out.Trend = s.History.Recent(statsTrendSamples)
	}
	if s.Requests != nil {
		out.Requests = s.Requests.Snapshot()
	}
	if s.Errors != nil {
		out.RecentErrors = s.Errors.Recent(20)
		out.ErrorsByCode = s.Errors.CountsByCode()
	}
	if s.Racer != nil {
		out.Race = s.Racer.Stats()
	}
	if s.Queue != nil {
		out.Queue = s.Queue.Stats()
	}
	if s.Audit != nil {
		out.Audit = s.Audit.Stats()
	}
	if s.Producer != nil {
		status := s.Producer.Status()
		out.Pulse = &status
	}
	if s.Idem != nil {
		out.Idempotency = IdempotencyStats{LocalRecords: s.Idem.LocalSize()}
	}
	return out, nil
}

// ------------------------------------------------------------------
// Registry, routing, vaccines, learning
// ------------------------------------------------------------------

// RegistrySummary returns the endpoint catalog summary.
func (s *ControlPlane) RegistrySummary() registry.Summary {
	return s.Registry.Summary()
}

// RoutingSnapshot returns the routing table with fallback states.
func (s *ControlPlane) RoutingSnapshot() []vanguard.RouteState {
	return s.Engine.Routing().Snapshot()
}

// VaccinePlans derives remediation plans for active incidents, newest first.
// Plans are computed on demand and never stored.
func (s *ControlPlane) VaccinePlans(ctx context.Context, limit int) ([]model.VaccinePlan, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	incidents, err := s.Store.ListIncidents(ctx, model.IncidentActive, limit)
	if err != nil {
		return nil, internal("list incidents", err)
	}
	plans := make([]model.VaccinePlan, 0, len(incidents))
	for _, inc := range incidents {
		plans = append(plans, s.Engine.Vaccine().Plan(inc))
	}
	return plans, nil
}

// VaccinePlanFor derives the remediation plan for one incident.
func (s *ControlPlane) VaccinePlanFor(ctx context.Context, fingerprint string) (model.VaccinePlan, error) {
	inc, err := s.Store.GetIncident(ctx, fingerprint)
	if errors.Is(err, docstore.ErrNotFound) {
		return model.VaccinePlan{}, notFound("incident not found: " + fingerprint)
	}
	if err != nil {
		return model.VaccinePlan{}, internal("load incident", err)
	}
	return s.Engine.Vaccine().Plan(inc), nil
}

// LearningExportDoc is the GET /vanguard/admin/learning/export response shape.
type LearningExportDoc struct {
	Events       []model.LearningEvent `json:"events"`
	Total        int                   `json:"total"`
	ExportedAtNs int64                 `json:"exported_at_ns"`
}

// LearningExport returns the newest learning events plus the all-time total.
func (s *ControlPlane) LearningExport(ctx context.Context, limit int) (LearningExportDoc, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	events, err := s.Store.ExportLearning(ctx, limit)
	if err != nil {
		return LearningExportDoc{}, internal("export learning events", err)
	}
	total, err := s.Store.LearningCount(ctx)
	if err != nil {
		return LearningExportDoc{}, internal("count learning events", err)
	}
	return LearningExportDoc{
		Events:       events,
		Total:        total,
		ExportedAtNs: time.Now().UnixNano(),
	}, nil
}
