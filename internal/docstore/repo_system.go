package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nexus-vanguard/vanguard/internal/model"
)

// GetSystemConfig loads the stored runtime config JSON and its version.
// Returns nil and version 0 when no row exists.
func (s *SQLite) GetSystemConfig(ctx context.Context) ([]byte, int, error) {
	var configJSON string
	var version int
	err := s.db.QueryRowContext(ctx,
		"SELECT config_json, version FROM system_config WHERE id = 1").Scan(&configJSON, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("scan system_config: %w", err)
	}
	return []byte(configJSON), version, nil
}

// SaveSystemConfig persists the runtime config with the given version.
func (s *SQLite) SaveSystemConfig(ctx context.Context, configJSON []byte, version int, updatedAtNs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_config (id, config_json, version, updated_at_ns)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			config_json   = excluded.config_json,
			version       = excluded.version,
			updated_at_ns = excluded.updated_at_ns
	`, string(configJSON), version, updatedAtNs)
	return err
}

// SaveMetadata persists the global mode and health score document.
func (s *SQLite) SaveMetadata(ctx context.Context, meta model.VanguardMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vanguard_metadata (id, mode, health_score, updated_at_ns)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			mode          = excluded.mode,
			health_score  = excluded.health_score,
			updated_at_ns = excluded.updated_at_ns
	`, meta.Mode, meta.HealthScore, meta.UpdatedAtNs)
	return err
}

// GetMetadata loads the global metadata document.
func (s *SQLite) GetMetadata(ctx context.Context) (model.VanguardMetadata, error) {
	var meta model.VanguardMetadata
	err := s.db.QueryRowContext(ctx,
		"SELECT mode, health_score, updated_at_ns FROM vanguard_metadata WHERE id = 1").
		Scan(&meta.Mode, &meta.HealthScore, &meta.UpdatedAtNs)
	if errors.Is(err, sql.ErrNoRows) {
		return model.VanguardMetadata{}, fmt.Errorf("vanguard metadata: %w", ErrNotFound)
	}
	if err != nil {
		return model.VanguardMetadata{}, err
	}
	return meta, nil
}

// PutSeasonBaselines upserts one scope's baseline metrics in a transaction.
func (s *SQLite) PutSeasonBaselines(ctx context.Context, season, scope string, metrics []model.BaselineMetric) error {
	if len(metrics) == 0 {
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
		INSERT INTO season_baselines (season, scope, name, mean, std, p50, p95, sample_count, expires_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(season, scope, name) DO UPDATE SET
			mean          = excluded.mean,
			std           = excluded.std,
			p50           = excluded.p50,
			p95           = excluded.p95,
			sample_count  = excluded.sample_count,
			expires_at_ns = excluded.expires_at_ns
	`)
	if err != nil {
		return fmt.Errorf("prepare baseline insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range metrics {
		if _, err := stmt.ExecContext(ctx,
			season, scope, m.Name, m.Mean, m.Std, m.P50, m.P95, m.SampleCount, m.ExpiresAtNs); err != nil {
			return fmt.Errorf("insert baseline %s: %w", m.Name, err)
		}
	}
	return tx.Commit()
}

// LoadSeasonBaselines returns one scope's stored baseline metrics.
func (s *SQLite) LoadSeasonBaselines(ctx context.Context, season, scope string) ([]model.BaselineMetric, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, mean, std, p50, p95, sample_count, expires_at_ns
		FROM season_baselines WHERE season = ? AND scope = ? ORDER BY name
	`, season, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.BaselineMetric
	for rows.Next() {
		var m model.BaselineMetric
		if err := rows.Scan(&m.Name, &m.Mean, &m.Std, &m.P50, &m.P95, &m.SampleCount, &m.ExpiresAtNs); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}
