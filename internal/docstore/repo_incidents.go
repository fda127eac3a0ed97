package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nexus-vanguard/vanguard/internal/model"
)

const incidentColumns = `fingerprint, endpoint, error_type, error_message, traceback,
	request_id, severity, status, occurrence_count, first_seen_ns, last_seen_ns,
	resolved_at_ns, resolution_summary, context_json, labels_json, geo_country,
	analysis_json, remediation_json`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (model.Incident, error) {
	var (
		inc             model.Incident
		contextJSON     string
		labelsJSON      string
		analysisJSON    sql.NullString
		remediationJSON string
	)
	if err := row.Scan(&inc.Fingerprint, &inc.Endpoint, &inc.ErrorType, &inc.ErrorMessage,
		&inc.Traceback, &inc.RequestID, &inc.Severity, &inc.Status, &inc.OccurrenceCount,
		&inc.FirstSeenNs, &inc.LastSeenNs, &inc.ResolvedAtNs, &inc.ResolutionSummary,
		&contextJSON, &labelsJSON, &inc.GeoCountry, &analysisJSON, &remediationJSON); err != nil {
		return model.Incident{}, err
	}
	if contextJSON != "" && contextJSON != "{}" {
		if err := json.Unmarshal([]byte(contextJSON), &inc.ContextVector); err != nil {
			return model.Incident{}, fmt.Errorf("decode incident context: %w", err)
		}
	}
	if labelsJSON != "" && labelsJSON != "{}" {
		if err := json.Unmarshal([]byte(labelsJSON), &inc.Labels); err != nil {
			return model.Incident{}, fmt.Errorf("decode incident labels: %w", err)
		}
	}
	if remediationJSON != "" && remediationJSON != "[]" {
		if err := json.Unmarshal([]byte(remediationJSON), &inc.RemediationLog); err != nil {
			return model.Incident{}, fmt.Errorf("decode remediation log: %w", err)
		}
	}
	if analysisJSON.Valid && analysisJSON.String != "" {
		a := &model.IncidentAnalysis{}
		if err := json.Unmarshal([]byte(analysisJSON.String), a); err != nil {
			return model.Incident{}, fmt.Errorf("decode incident analysis: %w", err)
		}
		inc.AIAnalysis = a
	}
	return inc, nil
}

func marshalStringMap(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

// UpsertIncident records one occurrence inside a transaction: a new
// fingerprint inserts with occurrence_count=1, an existing one increments
// the count and refreshes last_seen and the triggering request context.
func (s *SQLite) UpsertIncident(ctx context.Context, inc model.Incident) (model.Incident, bool, error) {
	contextJSON, err := marshalStringMap(inc.ContextVector)
	if err != nil {
		return model.Incident{}, false, fmt.Errorf("encode incident context: %w", err)
	}
	labelsJSON, err := marshalStringMap(inc.Labels)
	if err != nil {
		return model.Incident{}, false, fmt.Errorf("encode incident labels: %w", err)
	}
	firstSeen := inc.FirstSeenNs
	if firstSeen == 0 {
		firstSeen = inc.LastSeenNs
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Incident{}, false, err
	}
	defer tx.Rollback()

	var existingCount int64
	err = tx.QueryRowContext(ctx,
		"SELECT occurrence_count FROM incidents WHERE fingerprint = ?", inc.Fingerprint,
	).Scan(&existingCount)
	created := errors.Is(err, sql.ErrNoRows)
	if err != nil && !created {
		return model.Incident{}, false, fmt.Errorf("read incident: %w", err)
	}

	if created {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO incidents (fingerprint, endpoint, error_type, error_message, traceback,
			                       request_id, severity, status, occurrence_count,
			                       first_seen_ns, last_seen_ns, context_json, labels_json, geo_country)
			VALUES (?, ?, ?, ?, ?, ?, ?, 'active', 1, ?, ?, ?, ?, ?)
		`, inc.Fingerprint, inc.Endpoint, inc.ErrorType, inc.ErrorMessage, inc.Traceback,
			inc.RequestID, inc.Severity, firstSeen, inc.LastSeenNs, contextJSON, labelsJSON, inc.GeoCountry)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE incidents SET
				occurrence_count = occurrence_count + 1,
				last_seen_ns     = ?,
				request_id       = ?,
				error_message    = ?
			WHERE fingerprint = ?
		`, inc.LastSeenNs, inc.RequestID, inc.ErrorMessage, inc.Fingerprint)
	}
	if err != nil {
		return model.Incident{}, false, fmt.Errorf("write incident: %w", err)
	}

	out, err := scanIncident(tx.QueryRowContext(ctx,
		"SELECT "+incidentColumns+" FROM incidents WHERE fingerprint = ?", inc.Fingerprint))
	if err != nil {
		return model.Incident{}, false, fmt.Errorf("reread incident: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Incident{}, false, err
	}
	return out, created, nil
}

// GetIncident loads one incident by fingerprint.
func (s *SQLite) GetIncident(ctx context.Context, fingerprint string) (model.Incident, error) {
	inc, err := scanIncident(s.db.QueryRowContext(ctx,
		"SELECT "+incidentColumns+" FROM incidents WHERE fingerprint = ?", fingerprint))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Incident{}, fmt.Errorf("incident %s: %w", fingerprint, ErrNotFound)
	}
	if err != nil {
		return model.Incident{}, err
	}
	return inc, nil
}

// ListIncidents returns incidents newest-first, optionally filtered by status.
func (s *SQLite) ListIncidents(ctx context.Context, status model.IncidentStatus, limit int) ([]model.Incident, error) {
	if limit <= 0 {
		limit = 200
	}
	query := "SELECT " + incidentColumns + " FROM incidents"
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY last_seen_ns DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, inc)
	}
	return result, rows.Err()
}

// ResolveIncident transitions active → resolved and stamps the summary.
// Any attached analysis stays on the record.
func (s *SQLite) ResolveIncident(ctx context.Context, fingerprint, summary string, nowNs int64) (model.Incident, error) {
	return s.transitionIncident(ctx, fingerprint, model.IncidentResolved, summary, nowNs)
}

// UnresolveIncident reverses a resolution, returning the incident to the
// active pool.
func (s *SQLite) UnresolveIncident(ctx context.Context, fingerprint string, nowNs int64) (model.Incident, error) {
	return s.transitionIncident(ctx, fingerprint, model.IncidentActive, "", nowNs)
}

func (s *SQLite) transitionIncident(ctx context.Context, fingerprint string, target model.IncidentStatus, summary string, nowNs int64) (model.Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Incident{}, err
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx,
		"SELECT status FROM incidents WHERE fingerprint = ?", fingerprint).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Incident{}, fmt.Errorf("incident %s: %w", fingerprint, ErrNotFound)
	}
	if err != nil {
		return model.Incident{}, fmt.Errorf("read incident: %w", err)
	}
	if model.IncidentStatus(status) == target {
		return model.Incident{}, fmt.Errorf("incident %s already %s: %w", fingerprint, target, ErrConflict)
	}

	if target == model.IncidentResolved {
		_, err = tx.ExecContext(ctx, `
			UPDATE incidents SET status = 'resolved', resolved_at_ns = ?, resolution_summary = ?
			WHERE fingerprint = ?
		`, nowNs, summary, fingerprint)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE incidents SET status = 'active', resolved_at_ns = 0, resolution_summary = '', last_seen_ns = ?
			WHERE fingerprint = ?
		`, nowNs, fingerprint)
	}
	if err != nil {
		return model.Incident{}, fmt.Errorf("transition incident: %w", err)
	}

	out, err := scanIncident(tx.QueryRowContext(ctx,
		"SELECT "+incidentColumns+" FROM incidents WHERE fingerprint = ?", fingerprint))
	if err != nil {
		return model.Incident{}, fmt.Errorf("reread incident: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Incident{}, err
	}
	return out, nil
}

// AppendRemediation appends one surgeon decision to the remediation log.
func (s *SQLite) AppendRemediation(ctx context.Context, fingerprint string, entry model.RemediationEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx,
		"SELECT remediation_json FROM incidents WHERE fingerprint = ?", fingerprint).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("incident %s: %w", fingerprint, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read remediation log: %w", err)
	}

	var entries []model.RemediationEntry
	if raw != "" && raw != "[]" {
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			return fmt.Errorf("decode remediation log: %w", err)
		}
	}
	entries = append(entries, entry)
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode remediation log: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE incidents SET remediation_json = ? WHERE fingerprint = ?", string(data), fingerprint); err != nil {
		return fmt.Errorf("write remediation log: %w", err)
	}
	return tx.Commit()
}

// IncidentStats aggregates counts the mode engine scores against.
func (s *SQLite) IncidentStats(ctx context.Context) (IncidentStats, error) {
	stats := IncidentStats{BySeverity: map[model.Severity]int{}}

	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM incidents GROUP BY status")
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		switch model.IncidentStatus(status) {
		case model.IncidentActive:
			stats.Active = count
		case model.IncidentResolved:
			stats.Resolved = count
		}
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	sevRows, err := s.db.QueryContext(ctx,
		"SELECT severity, COUNT(*) FROM incidents WHERE status = 'active' GROUP BY severity")
	if err != nil {
		return stats, err
	}
	defer sevRows.Close()
	for sevRows.Next() {
		var severity string
		var count int
		if err := sevRows.Scan(&severity, &count); err != nil {
			return stats, err
		}
		stats.BySeverity[model.Severity(severity)] = count
	}
	if err := sevRows.Err(); err != nil {
		return stats, err
	}

	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT endpoint) FROM incidents WHERE status = 'active'").Scan(&stats.DistinctEndpoints)
	return stats, err
}

// SaveAnalysis stores the verdict in vanguard_analysis and mirrors it onto
// the incident record.
func (s *SQLite) SaveAnalysis(ctx context.Context, fingerprint string, a model.IncidentAnalysis) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO vanguard_analysis (fingerprint, analysis_json, expires_at_ns)
		VALUES (?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			analysis_json = excluded.analysis_json,
			expires_at_ns = excluded.expires_at_ns
	`, fingerprint, string(data), a.ExpiresAtNs); err != nil {
		return fmt.Errorf("write analysis: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE incidents SET analysis_json = ? WHERE fingerprint = ?", string(data), fingerprint); err != nil {
		return fmt.Errorf("attach analysis: %w", err)
	}
	return tx.Commit()
}

// GetAnalysis loads a stored verdict. Expiry is the caller's concern.
func (s *SQLite) GetAnalysis(ctx context.Context, fingerprint string) (model.IncidentAnalysis, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT analysis_json FROM vanguard_analysis WHERE fingerprint = ?", fingerprint).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.IncidentAnalysis{}, fmt.Errorf("analysis %s: %w", fingerprint, ErrNotFound)
	}
	if err != nil {
		return model.IncidentAnalysis{}, err
	}
	var a model.IncidentAnalysis
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return model.IncidentAnalysis{}, fmt.Errorf("decode analysis: %w", err)
	}
	return a, nil
}

// PurgeExpiredAnalyses drops verdicts past expiry and returns the count.
func (s *SQLite) PurgeExpiredAnalyses(ctx context.Context, nowNs int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM vanguard_analysis WHERE expires_at_ns <= ?", nowNs)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// PurgeResolvedIncidents drops resolved incidents older than beforeNs.
func (s *SQLite) PurgeResolvedIncidents(ctx context.Context, beforeNs int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM incidents WHERE status = ? AND resolved_at_ns > 0 AND resolved_at_ns <= ?",
		string(model.IncidentResolved), beforeNs)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// AppendLearning adds one event to the append-only corpus.
func (s *SQLite) AppendLearning(ctx context.Context, ev model.LearningEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vanguard_learning (fingerprint, event_type, payload_json, created_at_ns)
		VALUES (?, ?, ?, ?)
	`, ev.Fingerprint, ev.EventType, ev.PayloadJSON, ev.CreatedAtNs)
	return err
}

// ExportLearning returns corpus events oldest-first.
func (s *SQLite) ExportLearning(ctx context.Context, limit int) ([]model.LearningEvent, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fingerprint, event_type, payload_json, created_at_ns
		FROM vanguard_learning ORDER BY id ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.LearningEvent
	for rows.Next() {
		var ev model.LearningEvent
		if err := rows.Scan(&ev.ID, &ev.Fingerprint, &ev.EventType, &ev.PayloadJSON, &ev.CreatedAtNs); err != nil {
			return nil, err
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

// LearningCount reports the corpus size.
func (s *SQLite) LearningCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vanguard_learning").Scan(&count)
	return count, err
}
