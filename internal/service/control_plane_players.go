package service

import (
	"context"
	"strings"

	"github.com/nexus-vanguard/vanguard/internal/model"
)

const maxPlayerSearchResults = 50

// trackedOrStored returns the current tracked player pool: the live pulse
// snapshot when it has players, otherwise the last persisted leader board.
func (s *ControlPlane) trackedOrStored(ctx context.Context) ([]model.PlayerPulse, bool) {
	players := trackedPlayers(s.pulseSnapshot())
	if len(players) > 0 {
		return players, true
	}
	if s.Store != nil {
		if stored, err := s.Store.GetLiveLeaders(ctx); err == nil && len(stored) > 0 {
			return stored, false
		}
	}
	return nil, false
}

// PlayersSearch matches tracked players by name substring or exact team
// tricode. The empty result is a valid answer, not an error.
func (s *ControlPlane) PlayersSearch(ctx context.Context, q string, limit int) ([]model.PlayerPulse, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, NewDomainError(CodeMissingParam, "/players/search", "q: query parameter required")
	}
	if limit <= 0 || limit > maxPlayerSearchResults {
		limit = 20
	}

	players, _ := s.trackedOrStored(ctx)
	needle := strings.ToLower(q)
	out := make([]model.PlayerPulse, 0, limit)
	for _, p := range players {
		if strings.Contains(strings.ToLower(p.Name), needle) || strings.EqualFold(p.TeamTricode, q) {
			out = append(out, p)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// PlayerProfileDoc is the GET /players/profile response shape.
type PlayerProfileDoc struct {
	Player model.PlayerPulse               `json:"player"`
	Season map[string]model.BaselineMetric `json:"season_baselines,omitempty"`
	Live   bool                            `json:"live"`
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// PlayerProfile returns one tracked player's live line plus their season
// baseline distributions.
func (s *ControlPlane) PlayerProfile(ctx context.Context, playerID string) (PlayerProfileDoc, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return PlayerProfileDoc{}, NewDomainError(CodeMissingParam, "/players/profile", "player_id: query parameter required")
	}
	if !isDigits(playerID) {
		return PlayerProfileDoc{}, NewDomainError(CodeInvalidPlayerID, "/players/profile", "player_id must be numeric: "+playerID)
	}

	players, live := s.trackedOrStored(ctx)
	for _, p := range players {
		if p.PlayerID != playerID {
			continue
		}
		doc := PlayerProfileDoc{Player: p, Live: live}
		if s.Baselines != nil {
			season := make(map[string]model.BaselineMetric, 2)
			for _, name := range []string{"usage_rate", "ts_pct"} {
				if m, ok := s.Baselines.Get(name + ":" + playerID); ok {
					season[name] = m
				}
			}
			if len(season) > 0 {
				doc.Season = season
			}
		}
		return doc, nil
	}
	return PlayerProfileDoc{}, NewDomainError(CodePlayerNotFound, "/players/profile", "player not tracked: "+playerID).
		WithRecovery("player appears once they enter a live game leader board")
}

// TeamRosterDoc is the GET /teams/roster response shape.
type TeamRosterDoc struct {
	Team    string              `json:"team"`
	GameID  string              `json:"game_id,omitempty"`
	Players []model.PlayerPulse `json:"players"`
}

// TeamRoster returns tracked players for one team, scoped to today's
// snapshot.
func (s *ControlPlane) TeamRoster(ctx context.Context, team string) (TeamRosterDoc, error) {
	if strings.TrimSpace(team) == "" {
		return TeamRosterDoc{}, NewDomainError(CodeMissingParam, "/teams/roster", "team: query parameter required")
	}
	tricode, ok := NormalizeTricode(team)
	if !ok {
		return TeamRosterDoc{}, NewDomainError(CodeInvalidTeamID, "/teams/roster", "team must be a three-letter tricode: "+team)
	}

	snap := s.pulseSnapshot()
	doc := TeamRosterDoc{Team: tricode}
	seen := make(map[string]bool)
	for _, g := range snap.Games {
		if g.HomeTricode != tricode && g.AwayTricode != tricode {
			continue
		}
		doc.GameID = g.GameID
		for _, p := range g.Leaders {
			if p.TeamTricode == tricode && !seen[p.PlayerID] {
				seen[p.PlayerID] = true
				doc.Players = append(doc.Players, p)
			}
		}
	}
	if doc.GameID == "" {
		for _, p := range snap.Leaders {
			if p.TeamTricode == tricode && !seen[p.PlayerID] {
				seen[p.PlayerID] = true
				doc.Players = append(doc.Players, p)
			}
		}
	}
	if doc.GameID == "" && len(doc.Players) == 0 {
		return TeamRosterDoc{}, NewDomainError(CodeTeamNotFound, "/teams/roster", "team not in today's tracked games: "+tricode)
	}
	return doc, nil
}
