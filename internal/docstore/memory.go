package docstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/nexus-vanguard/vanguard/internal/model"
)

// Memory is the map-backed Store for VANGUARD_STORAGE_MODE=memory and
// tests. Semantics mirror the SQLite backend exactly.
type Memory struct {
	mu sync.RWMutex

	incidents map[string]model.Incident
	analyses  map[string]model.IncidentAnalysis

	learning    []model.LearningEvent
	learningSeq int64

	audit    []model.AuditEntry
	auditSeq int64

	liveGames   map[string]model.LiveGameState
	liveLeaders []model.PlayerPulse
	gameLogs    map[string]map[string][]byte
	h2h         map[string][]byte
	h2hGames    map[string]map[string][]byte

	baselines map[string][]model.BaselineMetric

	configJSON    []byte
	configVersion int
	meta          *model.VanguardMetadata
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		incidents: map[string]model.Incident{},
		analyses:  map[string]model.IncidentAnalysis{},
		liveGames: map[string]model.LiveGameState{},
		gameLogs:  map[string]map[string][]byte{},
		h2h:       map[string][]byte{},
		h2hGames:  map[string]map[string][]byte{},
		baselines: map[string][]model.BaselineMetric{},
	}
}

func cloneIncident(inc model.Incident) model.Incident {
	out := inc
	if inc.ContextVector != nil {
		out.ContextVector = maps.Clone(inc.ContextVector)
	}
	if inc.Labels != nil {
		out.Labels = maps.Clone(inc.Labels)
	}
	if inc.RemediationLog != nil {
		out.RemediationLog = slices.Clone(inc.RemediationLog)
	}
	if inc.AIAnalysis != nil {
		a := *inc.AIAnalysis
		a.RecommendedFix = slices.Clone(inc.AIAnalysis.RecommendedFix)
		out.AIAnalysis = &a
	}
	return out
}

func (m *Memory) UpsertIncident(_ context.Context, inc model.Incident) (model.Incident, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.incidents[inc.Fingerprint]
	if !ok {
		fresh := cloneIncident(inc)
		fresh.Status = model.IncidentActive
		fresh.OccurrenceCount = 1
		if fresh.FirstSeenNs == 0 {
			fresh.FirstSeenNs = fresh.LastSeenNs
		}
		m.incidents[inc.Fingerprint] = fresh
		return cloneIncident(fresh), true, nil
	}

	cur.OccurrenceCount++
	cur.LastSeenNs = inc.LastSeenNs
	cur.RequestID = inc.RequestID
	cur.ErrorMessage = inc.ErrorMessage
	m.incidents[inc.Fingerprint] = cur
	return cloneIncident(cur), false, nil
}

func (m *Memory) GetIncident(_ context.Context, fingerprint string) (model.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inc, ok := m.incidents[fingerprint]
	if !ok {
		return model.Incident{}, fmt.Errorf("incident %s: %w", fingerprint, ErrNotFound)
	}
	return cloneIncident(inc), nil
}

func (m *Memory) ListIncidents(_ context.Context, status model.IncidentStatus, limit int) ([]model.Incident, error) {
	if limit <= 0 {
		limit = 200
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []model.Incident
	for _, inc := range m.incidents {
		if status != "" && inc.Status != status {
			continue
		}
		result = append(result, cloneIncident(inc))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].LastSeenNs > result[j].LastSeenNs })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *Memory) ResolveIncident(_ context.Context, fingerprint, summary string, nowNs int64) (model.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inc, ok := m.incidents[fingerprint]
	if !ok {
		return model.Incident{}, fmt.Errorf("incident %s: %w", fingerprint, ErrNotFound)
	}
	if inc.Status == model.IncidentResolved {
		return model.Incident{}, fmt.Errorf("incident %s already resolved: %w", fingerprint, ErrConflict)
	}
	inc.Status = model.IncidentResolved
	inc.ResolvedAtNs = nowNs
	inc.ResolutionSummary = summary
	m.incidents[fingerprint] = inc
	return cloneIncident(inc), nil
}

func (m *Memory) UnresolveIncident(_ context.Context, fingerprint string, nowNs int64) (model.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inc, ok := m.incidents[fingerprint]
	if !ok {
		return model.Incident{}, fmt.Errorf("incident %s: %w", fingerprint, ErrNotFound)
	}
	if inc.Status == model.IncidentActive {
		return model.Incident{}, fmt.Errorf("incident %s already active: %w", fingerprint, ErrConflict)
	}
	inc.Status = model.IncidentActive
	inc.ResolvedAtNs = 0
	inc.ResolutionSummary = ""
	inc.LastSeenNs = nowNs
	m.incidents[fingerprint] = inc
	return cloneIncident(inc), nil
}

func (m *Memory) AppendRemediation(_ context.Context, fingerprint string, entry model.RemediationEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inc, ok := m.incidents[fingerprint]
	if !ok {
		return fmt.Errorf("incident %s: %w", fingerprint, ErrNotFound)
	}
	inc.RemediationLog = append(slices.Clone(inc.RemediationLog), entry)
	m.incidents[fingerprint] = inc
	return nil
}

func (m *Memory) IncidentStats(_ context.Context) (IncidentStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := IncidentStats{BySeverity: map[model.Severity]int{}}
	endpoints := map[string]struct{}{}
	for _, inc := range m.incidents {
		if inc.Status == model.IncidentResolved {
			stats.Resolved++
			continue
		}
		stats.Active++
		stats.BySeverity[inc.Severity]++
		endpoints[inc.Endpoint] = struct{}{}
	}
	stats.DistinctEndpoints = len(endpoints)
	return stats, nil
}

func (m *Memory) SaveAnalysis(_ context.Context, fingerprint string, a model.IncidentAnalysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.analyses[fingerprint] = a
	if inc, ok := m.incidents[fingerprint]; ok {
		attached := a
		attached.RecommendedFix = slices.Clone(a.RecommendedFix)
		inc.AIAnalysis = &attached
		m.incidents[fingerprint] = inc
	}
	return nil
}

func (m *Memory) GetAnalysis(_ context.Context, fingerprint string) (model.IncidentAnalysis, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.analyses[fingerprint]
	if !ok {
		return model.IncidentAnalysis{}, fmt.Errorf("analysis %s: %w", fingerprint, ErrNotFound)
	}
	return a, nil
}

func (m *Memory) PurgeExpiredAnalyses(_ context.Context, nowNs int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for fp, a := range m.analyses {
		if a.ExpiresAtNs <= nowNs {
			delete(m.analyses, fp)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) PurgeResolvedIncidents(_ context.Context, beforeNs int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for fp, inc := range m.incidents {
		if inc.Status == model.IncidentResolved && inc.ResolvedAtNs > 0 && inc.ResolvedAtNs <= beforeNs {
			delete(m.incidents, fp)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) AppendLearning(_ context.Context, ev model.LearningEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.learningSeq++
	ev.ID = m.learningSeq
	m.learning = append(m.learning, ev)
	return nil
}

func (m *Memory) ExportLearning(_ context.Context, limit int) ([]model.LearningEvent, error) {
	if limit <= 0 {
		limit = 1000
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.learning)
	if n > limit {
		n = limit
	}
	return slices.Clone(m.learning[:n]), nil
}

func (m *Memory) LearningCount(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.learning), nil
}

func (m *Memory) InsertAuditBatch(_ context.Context, entries []model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		m.auditSeq++
		e.ID = m.auditSeq
		m.audit = append(m.audit, e)
	}
	return nil
}

func (m *Memory) ListAuditByFingerprint(_ context.Context, fingerprint string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []model.AuditEntry
	for i := len(m.audit) - 1; i >= 0 && len(result) < limit; i-- {
		if m.audit[i].Fingerprint == fingerprint {
			result = append(result, m.audit[i])
		}
	}
	return result, nil
}

func (m *Memory) PutLiveGame(_ context.Context, game model.LiveGameState, _ uint64, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	game.Leaders = slices.Clone(game.Leaders)
	m.liveGames[game.GameID] = game
	return nil
}

func (m *Memory) PutLiveLeaders(_ context.Context, leaders []model.PlayerPulse, _ uint64, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.liveLeaders = slices.Clone(leaders)
	return nil
}

func (m *Memory) ListLiveGames(_ context.Context) ([]model.LiveGameState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := slices.Sorted(maps.Keys(m.liveGames))
	result := make([]model.LiveGameState, 0, len(ids))
	for _, id := range ids {
		game := m.liveGames[id]
		game.Leaders = slices.Clone(game.Leaders)
		result = append(result, game)
	}
	return result, nil
}

func (m *Memory) GetLiveLeaders(_ context.Context) ([]model.PlayerPulse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.liveLeaders), nil
}

func (m *Memory) PutGameLog(_ context.Context, date, gameID string, payload []byte, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gameLogs[date] == nil {
		m.gameLogs[date] = map[string][]byte{}
	}
	m.gameLogs[date][gameID] = slices.Clone(payload)
	return nil
}

func (m *Memory) ListGameLogs(_ context.Context, date string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := map[string][]byte{}
	for gameID, payload := range m.gameLogs[date] {
		result[gameID] = slices.Clone(payload)
	}
	return result, nil
}

func (m *Memory) UpsertH2H(_ context.Context, pairKey string, payload []byte, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.h2h[pairKey] = slices.Clone(payload)
	return nil
}

func (m *Memory) GetH2H(_ context.Context, pairKey string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	payload, ok := m.h2h[pairKey]
	if !ok {
		return nil, fmt.Errorf("h2h %s: %w", pairKey, ErrNotFound)
	}
	return slices.Clone(payload), nil
}

func (m *Memory) AppendH2HGame(_ context.Context, pairKey, gameID string, payload []byte, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.h2hGames[pairKey] == nil {
		m.h2hGames[pairKey] = map[string][]byte{}
	}
	m.h2hGames[pairKey][gameID] = slices.Clone(payload)
	return nil
}

func baselineKey(season, scope string) string { return season + "/" + scope }

func (m *Memory) PutSeasonBaselines(_ context.Context, season, scope string, metrics []model.BaselineMetric) error {
	if len(metrics) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := baselineKey(season, scope)
	byName := map[string]model.BaselineMetric{}
	for _, existing := range m.baselines[key] {
		byName[existing.Name] = existing
	}
	for _, metric := range metrics {
		byName[metric.Name] = metric
	}

	merged := make([]model.BaselineMetric, 0, len(byName))
	for _, name := range slices.Sorted(maps.Keys(byName)) {
		merged = append(merged, byName[name])
	}
	m.baselines[key] = merged
	return nil
}

func (m *Memory) LoadSeasonBaselines(_ context.Context, season, scope string) ([]model.BaselineMetric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.baselines[baselineKey(season, scope)]), nil
}

func (m *Memory) GetSystemConfig(_ context.Context) ([]byte, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.configJSON == nil {
		return nil, 0, nil
	}
	return slices.Clone(m.configJSON), m.configVersion, nil
}

func (m *Memory) SaveSystemConfig(_ context.Context, configJSON []byte, version int, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.configJSON = slices.Clone(configJSON)
	m.configVersion = version
	return nil
}

func (m *Memory) SaveMetadata(_ context.Context, meta model.VanguardMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.meta = &meta
	return nil
}

func (m *Memory) GetMetadata(_ context.Context) (model.VanguardMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.meta == nil {
		return model.VanguardMetadata{}, fmt.Errorf("vanguard metadata: %w", ErrNotFound)
	}
	return *m.meta, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
