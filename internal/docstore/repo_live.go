package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nexus-vanguard/vanguard/internal/model"
)

// PutLiveGame upserts one game snapshot from the pulse producer.
func (s *SQLite) PutLiveGame(ctx context.Context, game model.LiveGameState, cycle uint64, nowNs int64) error {
	data, err := json.Marshal(game)
	if err != nil {
		return fmt.Errorf("encode live game: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO live_games (game_id, snapshot_json, update_cycle, updated_at_ns)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(game_id) DO UPDATE SET
			snapshot_json = excluded.snapshot_json,
			update_cycle  = excluded.update_cycle,
			updated_at_ns = excluded.updated_at_ns
	`, game.GameID, string(data), int64(cycle), nowNs)
	return err
}

// PutLiveLeaders replaces the global leaders document.
func (s *SQLite) PutLiveLeaders(ctx context.Context, leaders []model.PlayerPulse, cycle uint64, nowNs int64) error {
	data, err := json.Marshal(leaders)
	if err != nil {
		return fmt.Errorf("encode live leaders: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO live_leaders (id, snapshot_json, update_cycle, updated_at_ns)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			snapshot_json = excluded.snapshot_json,
			update_cycle  = excluded.update_cycle,
			updated_at_ns = excluded.updated_at_ns
	`, string(data), int64(cycle), nowNs)
	return err
}

// ListLiveGames returns the last written snapshot of every game.
func (s *SQLite) ListLiveGames(ctx context.Context) ([]model.LiveGameState, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT snapshot_json FROM live_games ORDER BY game_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.LiveGameState
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var game model.LiveGameState
		if err := json.Unmarshal([]byte(raw), &game); err != nil {
			return nil, fmt.Errorf("decode live game: %w", err)
		}
		result = append(result, game)
	}
	return result, rows.Err()
}

// GetLiveLeaders returns the stored leaders document, empty when absent.
func (s *SQLite) GetLiveLeaders(ctx context.Context) ([]model.PlayerPulse, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT snapshot_json FROM live_leaders WHERE id = 1").Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var leaders []model.PlayerPulse
	if err := json.Unmarshal([]byte(raw), &leaders); err != nil {
		return nil, fmt.Errorf("decode live leaders: %w", err)
	}
	return leaders, nil
}

// PutGameLog archives a final boxscore under game_logs/{date}/{gameID}.
func (s *SQLite) PutGameLog(ctx context.Context, date, gameID string, payload []byte, nowNs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO game_logs (game_date, game_id, payload_json, created_at_ns)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(game_date, game_id) DO UPDATE SET
			payload_json = excluded.payload_json
	`, date, gameID, string(payload), nowNs)
	return err
}

// ListGameLogs returns archived boxscores for one date, keyed by game id.
func (s *SQLite) ListGameLogs(ctx context.Context, date string) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT game_id, payload_json FROM game_logs WHERE game_date = ?", date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := map[string][]byte{}
	for rows.Next() {
		var gameID, payload string
		if err := rows.Scan(&gameID, &payload); err != nil {
			return nil, err
		}
		result[gameID] = []byte(payload)
	}
	return result, rows.Err()
}

// UpsertH2H stores the head-to-head summary document for a matchup pair.
func (s *SQLite) UpsertH2H(ctx context.Context, pairKey string, payload []byte, nowNs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO player_h2h (pair_key, payload_json, updated_at_ns)
		VALUES (?, ?, ?)
		ON CONFLICT(pair_key) DO UPDATE SET
			payload_json  = excluded.payload_json,
			updated_at_ns = excluded.updated_at_ns
	`, pairKey, string(payload), nowNs)
	return err
}

// GetH2H loads the head-to-head summary for a matchup pair.
func (s *SQLite) GetH2H(ctx context.Context, pairKey string) ([]byte, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT payload_json FROM player_h2h WHERE pair_key = ?", pairKey).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("h2h %s: %w", pairKey, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

// AppendH2HGame stores one supporting game document for a matchup pair.
func (s *SQLite) AppendH2HGame(ctx context.Context, pairKey, gameID string, payload []byte, nowNs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO player_h2h_games (pair_key, game_id, payload_json, created_at_ns)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(pair_key, game_id) DO UPDATE SET
			payload_json = excluded.payload_json
	`, pairKey, gameID, string(payload), nowNs)
	return err
}
