package service

import (
	"context"
	"errors"
	"strings"

	"github.com/nexus-vanguard/vanguard/internal/docstore"
	"github.com/nexus-vanguard/vanguard/internal/model"
	"github.com/nexus-vanguard/vanguard/internal/vanguard"
)

const (
	maxIncidentListLimit = 500
	maxBulkResolve       = 100
	auditTrailLimit      = 50
)

// ListIncidents returns incidents newest first, optionally filtered by
// status ("active" or "resolved").
func (s *ControlPlane) ListIncidents(ctx context.Context, status string, limit int) ([]model.Incident, error) {
	var st model.IncidentStatus
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "":
	case "active":
		st = model.IncidentActive
	case "resolved":
		st = model.IncidentResolved
	default:
		return nil, invalidArg(`status: must be "active" or "resolved"`)
	}
	if limit <= 0 || limit > maxIncidentListLimit {
		limit = 100
	}
	incidents, err := s.Store.ListIncidents(ctx, st, limit)
	if err != nil {
		return nil, internal("list incidents", err)
	}
	return incidents, nil
}

// IncidentDetail is the single-incident response shape: the record plus
// its audit trail and, when the engine is running, the derived vaccine plan.
type IncidentDetail struct {
	Incident    model.Incident     `json:"incident"`
	Audit       []model.AuditEntry `json:"audit,omitempty"`
	VaccinePlan *model.VaccinePlan `json:"vaccine_plan,omitempty"`
}

// GetIncident loads one incident with its audit trail. Queued audit rows
// are flushed first so the trail reflects every recorded occurrence.
func (s *ControlPlane) GetIncident(ctx context.Context, fingerprint string) (IncidentDetail, error) {
	inc, err := s.Store.GetIncident(ctx, fingerprint)
	if errors.Is(err, docstore.ErrNotFound) {
		return IncidentDetail{}, notFound("incident not found: " + fingerprint)
	}
	if err != nil {
		return IncidentDetail{}, internal("load incident", err)
	}

	if s.Audit != nil {
		if err := s.Audit.Barrier(ctx); err != nil {
			return IncidentDetail{}, internal("flush audit log", err)
		}
	}
	trail, err := s.Store.ListAuditByFingerprint(ctx, fingerprint, auditTrailLimit)
	if err != nil {
		return IncidentDetail{}, internal("load audit trail", err)
	}

	detail := IncidentDetail{Incident: inc, Audit: trail}
	if s.Engine != nil {
		plan := s.Engine.Vaccine().Plan(inc)
		detail.VaccinePlan = &plan
	}
	return detail, nil
}

// ResolveIncident resolves one incident, snapshotting any attached
// analysis. approved must be explicitly true.
func (s *ControlPlane) ResolveIncident(ctx context.Context, fingerprint string, approved bool, notes string) (model.Incident, error) {
	if !approved {
		return model.Incident{}, invalidArg("approved: must be true")
	}
	inc, err := s.Engine.Resolve(ctx, fingerprint, notes)
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return model.Incident{}, notFound("incident not found: " + fingerprint)
	case errors.Is(err, docstore.ErrConflict):
		return model.Incident{}, conflict("incident already resolved: " + fingerprint)
	case err != nil:
		return model.Incident{}, internal("resolve incident", err)
	}
	return inc, nil
}

// UnresolveIncident reverts a resolved incident to active.
func (s *ControlPlane) UnresolveIncident(ctx context.Context, fingerprint string, approved bool, reason string) (model.Incident, error) {
	if !approved {
		return model.Incident{}, invalidArg("approved: must be true")
	}
	if strings.TrimSpace(reason) == "" {
		return model.Incident{}, invalidArg("reason: must not be empty")
	}
	inc, err := s.Engine.Unresolve(ctx, fingerprint)
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return model.Incident{}, notFound("incident not found: " + fingerprint)
	case errors.Is(err, docstore.ErrConflict):
		return model.Incident{}, conflict("incident is not resolved: " + fingerprint)
	case err != nil:
		return model.Incident{}, internal("unresolve incident", err)
	}
	return inc, nil
}

// BulkResolveFailure records one fingerprint that could not be resolved.
type BulkResolveFailure struct {
	Fingerprint string `json:"fingerprint"`
	Reason      string `json:"reason"`
}

// BulkResolveReport summarizes one bulk resolution.
type BulkResolveReport struct {
	Resolved int                  `json:"resolved"`
	Failed   []BulkResolveFailure `json:"failed,omitempty"`
}

// BulkResolve resolves the named incidents. Missing and already-resolved
// fingerprints are reported per item, not as request errors.
func (s *ControlPlane) BulkResolve(ctx context.Context, fingerprints []string, notes string) (BulkResolveReport, error) {
	if len(fingerprints) == 0 {
		return BulkResolveReport{}, invalidArg("fingerprints: must not be empty")
	}
	if len(fingerprints) > maxBulkResolve {
		return BulkResolveReport{}, invalidArg("fingerprints: at most 100 per request")
	}

	var report BulkResolveReport
	for _, fp := range fingerprints {
		fp = strings.TrimSpace(fp)
		if fp == "" {
			report.Failed = append(report.Failed, BulkResolveFailure{Fingerprint: fp, Reason: "empty fingerprint"})
			continue
		}
		_, err := s.Engine.Resolve(ctx, fp, notes)
		switch {
		case errors.Is(err, docstore.ErrNotFound):
			report.Failed = append(report.Failed, BulkResolveFailure{Fingerprint: fp, Reason: "not found"})
		case errors.Is(err, docstore.ErrConflict):
			report.Failed = append(report.Failed, BulkResolveFailure{Fingerprint: fp, Reason: "already resolved"})
		case err != nil:
			return report, internal("resolve "+fp, err)
		default:
			report.Resolved++
		}
	}
	return report, nil
}

// ResolveAll resolves every active incident. confirm must be explicitly
// true; the count of resolved incidents is returned.
func (s *ControlPlane) ResolveAll(ctx context.Context, confirm bool, notes string) (int, error) {
	if !confirm {
		return 0, invalidArg("confirm: must be true")
	}
	n, err := s.Engine.ResolveAll(ctx, notes)
	if err != nil {
		return n, internal("resolve all", err)
	}
	return n, nil
}

// AnalyzeAll batch-triages active incidents. force re-analyzes incidents
// that already carry an unexpired verdict.
func (s *ControlPlane) AnalyzeAll(ctx context.Context, force bool) (vanguard.BatchReport, error) {
	report, err := s.Engine.Triage().BatchAnalyze(ctx, 0, force)
	if err != nil {
		return report, internal("batch analyze", err)
	}
	return report, nil
}
