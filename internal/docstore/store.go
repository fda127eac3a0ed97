// Package docstore is the document persistence layer: incidents, triage
// analyses, live pulse snapshots, the learning corpus, audit rows, season
// baselines, and runtime metadata. The SQLite backend is the default; an
// in-memory backend backs VANGUARD_STORAGE_MODE=memory and tests.
package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/nexus-vanguard/vanguard/internal/model"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write contradicts the document's state,
// e.g. resolving an already-resolved incident.
var ErrConflict = errors.New("conflict")

// Storage modes.
const (
	ModeSQLite = "sqlite"
	ModeMemory = "memory"
)

// IncidentStats is the aggregate the mode engine scores against.
type IncidentStats struct {
	Active            int                    `json:"active"`
	Resolved          int                    `json:"resolved"`
	BySeverity        map[model.Severity]int `json:"by_severity"`
	DistinctEndpoints int                    `json:"distinct_endpoints"`
}

// IncidentRepo persists deduplicated failure records.
type IncidentRepo interface {
	// UpsertIncident records one occurrence. A new fingerprint creates the
	// record with occurrence_count=1; an existing one increments the count
	// and refreshes last_seen and request context. created reports which.
	UpsertIncident(ctx context.Context, inc model.Incident) (out model.Incident, created bool, err error)
	GetIncident(ctx context.Context, fingerprint string) (model.Incident, error)
	// ListIncidents filters by status when status != ""; newest first.
	ListIncidents(ctx context.Context, status model.IncidentStatus, limit int) ([]model.Incident, error)
	// ResolveIncident transitions active → resolved, keeping any attached
	// analysis. ErrConflict when already resolved.
	ResolveIncident(ctx context.Context, fingerprint, summary string, nowNs int64) (model.Incident, error)
	// UnresolveIncident reverses a resolution. ErrConflict when active.
	UnresolveIncident(ctx context.Context, fingerprint string, nowNs int64) (model.Incident, error)
	AppendRemediation(ctx context.Context, fingerprint string, entry model.RemediationEntry) error
	IncidentStats(ctx context.Context) (IncidentStats, error)
	// PurgeResolvedIncidents drops resolved incidents whose resolution is
	// older than beforeNs; returns the count. Active incidents are never
	// purged.
	PurgeResolvedIncidents(ctx context.Context, beforeNs int64) (int, error)
}

// AnalysisRepo persists triage verdicts, mirrored onto the incident record.
type AnalysisRepo interface {
	SaveAnalysis(ctx context.Context, fingerprint string, a model.IncidentAnalysis) error
	GetAnalysis(ctx context.Context, fingerprint string) (model.IncidentAnalysis, error)
	// PurgeExpiredAnalyses drops verdicts past their expiry; returns count.
	PurgeExpiredAnalyses(ctx context.Context, nowNs int64) (int, error)
}

// LearningRepo is the append-only resolution corpus.
type LearningRepo interface {
	AppendLearning(ctx context.Context, ev model.LearningEvent) error
	ExportLearning(ctx context.Context, limit int) ([]model.LearningEvent, error)
	LearningCount(ctx context.Context) (int, error)
}

// AuditRepo receives batches from the queued audit writer.
type AuditRepo interface {
	InsertAuditBatch(ctx context.Context, entries []model.AuditEntry) error
	ListAuditByFingerprint(ctx context.Context, fingerprint string, limit int) ([]model.AuditEntry, error)
}

// LiveRepo persists pulse snapshots and sports documents.
type LiveRepo interface {
	PutLiveGame(ctx context.Context, game model.LiveGameState, cycle uint64, nowNs int64) error
	PutLiveLeaders(ctx context.Context, leaders []model.PlayerPulse, cycle uint64, nowNs int64) error
	ListLiveGames(ctx context.Context) ([]model.LiveGameState, error)
	GetLiveLeaders(ctx context.Context) ([]model.PlayerPulse, error)
	// PutGameLog archives a final boxscore under game_logs/{date}/{gameID}.
	PutGameLog(ctx context.Context, date, gameID string, payload []byte, nowNs int64) error
	ListGameLogs(ctx context.Context, date string) (map[string][]byte, error)
	UpsertH2H(ctx context.Context, pairKey string, payload []byte, nowNs int64) error
	GetH2H(ctx context.Context, pairKey string) ([]byte, error)
	AppendH2HGame(ctx context.Context, pairKey, gameID string, payload []byte, nowNs int64) error
}

// BaselineRepo persists season baselines for the stats pipeline.
type BaselineRepo interface {
	PutSeasonBaselines(ctx context.Context, season, scope string, metrics []model.BaselineMetric) error
	LoadSeasonBaselines(ctx context.Context, season, scope string) ([]model.BaselineMetric, error)
}

// SystemRepo persists runtime config and the global vanguard metadata doc.
type SystemRepo interface {
	// GetSystemConfig returns the stored config JSON and its version;
	// version 0 and nil JSON when no row exists.
	GetSystemConfig(ctx context.Context) ([]byte, int, error)
	SaveSystemConfig(ctx context.Context, configJSON []byte, version int, updatedAtNs int64) error
	SaveMetadata(ctx context.Context, meta model.VanguardMetadata) error
	GetMetadata(ctx context.Context) (model.VanguardMetadata, error)
}

// Store is the full persistence surface.
type Store interface {
	IncidentRepo
	AnalysisRepo
	LearningRepo
	AuditRepo
	LiveRepo
	BaselineRepo
	SystemRepo

	Ping(ctx context.Context) error
	Close() error
}

// Open selects a backend by mode. dir is ignored for the memory backend.
func Open(mode, dir string) (Store, error) {
	switch mode {
	case "", ModeSQLite:
		return OpenSQLite(dir)
	case ModeMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("docstore: unknown storage mode %q", mode)
	}
}
