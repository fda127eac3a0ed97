package docstore

import (
	"context"
	"fmt"

	"github.com/nexus-vanguard/vanguard/internal/model"
)

// InsertAuditBatch writes one flushed batch from the audit queue in a
// single transaction.
func (s *SQLite) InsertAuditBatch(ctx context.Context, entries []model.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO incident_audit (fingerprint, endpoint, error_type, request_id, severity, created_at_ns)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare audit insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			e.Fingerprint, e.Endpoint, e.ErrorType, e.RequestID, e.Severity, e.CreatedAtNs); err != nil {
			return fmt.Errorf("insert audit row: %w", err)
		}
	}
	return tx.Commit()
}

// ListAuditByFingerprint returns audit rows for one incident, newest first.
func (s *SQLite) ListAuditByFingerprint(ctx context.Context, fingerprint string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fingerprint, endpoint, error_type, request_id, severity, created_at_ns
		FROM incident_audit WHERE fingerprint = ? ORDER BY id DESC LIMIT ?
	`, fingerprint, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.ID, &e.Fingerprint, &e.Endpoint, &e.ErrorType,
			&e.RequestID, &e.Severity, &e.CreatedAtNs); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
