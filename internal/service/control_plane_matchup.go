package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nexus-vanguard/vanguard/internal/docstore"
	"github.com/nexus-vanguard/vanguard/internal/model"
	"github.com/nexus-vanguard/vanguard/internal/router"
)

const (
	defaultH2HPlayers = 10
	maxH2HPlayers     = 25
)

// H2HGameEntry is one game inside a stored pair document.
type H2HGameEntry struct {
	GameID      string `json:"game_id"`
	Status      string `json:"status"`
	HomeTricode string `json:"home_tricode"`
	AwayTricode string `json:"away_tricode"`
	HomeScore   int    `json:"home_score"`
	AwayScore   int    `json:"away_score"`
}

// H2HPlayerLine is one player line inside a stored pair document.
type H2HPlayerLine struct {
	PlayerID string  `json:"player_id"`
	Name     string  `json:"name"`
	Team     string  `json:"team"`
	Points   int     `json:"points"`
	Rebounds int     `json:"rebounds"`
	Assists  int     `json:"assists"`
	TSPct    float64 `json:"ts_pct"`
}

// H2HDoc is the persisted head-to-head pair document under player_h2h.
type H2HDoc struct {
	PairKey      string          `json:"pair_key"`
	TeamA        string          `json:"team_a"`
	TeamB        string          `json:"team_b"`
	Games        []H2HGameEntry  `json:"games"`
	Players      []H2HPlayerLine `json:"players"`
	ComputedAtNs int64           `json:"computed_at_ns"`
}

// decodeH2HDoc strictly validates a stored pair document. A player line
// without a player_id is a data-shape failure, surfaced as a
// CALCULATION_ERROR with error_type KeyError so capture fingerprints it.
func decodeH2HDoc(payload []byte) (H2HDoc, *ServiceError) {
	var doc H2HDoc
	if err := json.Unmarshal(payload, &doc); err != nil {
		svcErr := NewDomainError(CodeSerializationError, "", "stored pair document malformed: "+err.Error())
		svcErr.Err = err
		return doc, svcErr
	}
	for _, p := range doc.Players {
		if p.PlayerID == "" {
			svcErr := NewDomainError(CodeCalculationError, "", "stored pair document missing required key: player_id")
			svcErr.Details = map[string]any{"error_type": "KeyError", "key": "player_id"}
			return doc, svcErr
		}
	}
	return doc, nil
}

// MatchupAnalysisDoc is the POST /matchup/analyze response shape.
// EdgeScore is signed; positive favors team_a.
type MatchupAnalysisDoc struct {
	PairKey         string                `json:"pair_key"`
	TeamA           string                `json:"team_a"`
	TeamB           string                `json:"team_b"`
	LiveGame        *model.LiveGameState  `json:"live_game,omitempty"`
	Edge            string                `json:"edge"`
	EdgeScore       float64               `json:"edge_score"`
	HistoricalGames int                   `json:"historical_games"`
	KeyPlayers      []H2HPlayerLine       `json:"key_players,omitempty"`
	Basis           string                `json:"basis"`
	ComputedAtNs    int64                 `json:"computed_at_ns"`
}

// matchupPair validates the two team parameters for matchup surfaces.
func matchupPair(endpoint, teamA, teamB string) (a, b string, err *ServiceError) {
	if strings.TrimSpace(teamA) == "" || strings.TrimSpace(teamB) == "" {
		return "", "", NewDomainError(CodeMissingParam, endpoint, "team_a and team_b are required")
	}
	a, ok := NormalizeTricode(teamA)
	if !ok {
		return "", "", NewDomainError(CodeInvalidTeamID, endpoint, "team_a must be a three-letter tricode: "+teamA)
	}
	b, ok = NormalizeTricode(teamB)
	if !ok {
		return "", "", NewDomainError(CodeInvalidTeamID, endpoint, "team_b must be a three-letter tricode: "+teamB)
	}
	if a == b {
		return "", "", NewDomainError(CodeInvalidParam, endpoint, "team_a and team_b must differ")
	}
	return a, b, nil
}

// MatchupRace validates the pair and returns the live and cache tasks for
// the router. The live path recomputes from the current snapshot plus the
// stored pair document; the cache path serves the stored document alone.
func (s *ControlPlane) MatchupRace(teamA, teamB string) (live, cache router.TaskFunc, err error) {
	a, b, verr := matchupPair("/matchup/analyze", teamA, teamB)
	if verr != nil {
		return nil, nil, verr
	}
	live = func(ctx context.Context) (any, error) { return s.matchupLive(ctx, a, b) }
	cache = func(ctx context.Context) (any, error) { return s.matchupCached(ctx, a, b) }
	return live, cache, nil
}

func (s *ControlPlane) matchupLive(ctx context.Context, a, b string) (MatchupAnalysisDoc, error) {
	doc := MatchupAnalysisDoc{
		PairKey:      PairKey(a, b),
		TeamA:        a,
		TeamB:        b,
		ComputedAtNs: time.Now().UnixNano(),
	}

	basis := ""
	snap := s.pulseSnapshot()
	for i := range snap.Games {
		g := snap.Games[i]
		if (g.HomeTricode == a && g.AwayTricode == b) || (g.HomeTricode == b && g.AwayTricode == a) {
			doc.LiveGame = &g
			margin := float64(g.HomeScore - g.AwayScore)
			if g.HomeTricode == b {
				margin = -margin
			}
			pace := g.PaceMultiplier
			if pace <= 0 {
				pace = 1
			}
			doc.EdgeScore = margin * pace
			basis = "live"
			break
		}
	}

	stored, err := s.Store.GetH2H(ctx, doc.PairKey)
	switch {
	case err == nil:
		h2h, derr := decodeH2HDoc(stored)
		if derr != nil {
			derr.Endpoint = "/matchup/analyze"
			return MatchupAnalysisDoc{}, derr
		}
		doc.HistoricalGames = len(h2h.Games)
		doc.KeyPlayers = topPlayerLines(h2h.Players, 3)
		doc.EdgeScore += historicalEdge(h2h, a)
		if basis == "" {
			basis = "h2h"
		} else {
			basis = "live+h2h"
		}
	case errors.Is(err, docstore.ErrNotFound):
		// No pair document yet; live-only analysis is still valid.
	default:
		return MatchupAnalysisDoc{}, Classify(err, "/matchup/analyze", "database")
	}

	if basis == "" {
		return MatchupAnalysisDoc{}, NewDomainError(CodeStatsNotFound, "/matchup/analyze",
			fmt.Sprintf("no live game or stored pair for %s vs %s", a, b)).
			WithRecovery("POST /api/h2h/populate to build the pair document")
	}
	doc.Basis = basis
	doc.Edge = edgeLabel(doc.EdgeScore, a, b)
	return doc, nil
}

func (s *ControlPlane) matchupCached(ctx context.Context, a, b string) (MatchupAnalysisDoc, error) {
	pair := PairKey(a, b)
	stored, err := s.Store.GetH2H(ctx, pair)
	if errors.Is(err, docstore.ErrNotFound) {
		return MatchupAnalysisDoc{}, NewDomainError(CodeCacheNotFound, "/matchup/analyze", "no stored pair document for "+pair)
	}
	if err != nil {
		return MatchupAnalysisDoc{}, Classify(err, "/matchup/analyze", "database")
	}
	h2h, derr := decodeH2HDoc(stored)
	if derr != nil {
		derr.Endpoint = "/matchup/analyze"
		return MatchupAnalysisDoc{}, derr
	}

	doc := MatchupAnalysisDoc{
		PairKey:         pair,
		TeamA:           a,
		TeamB:           b,
		HistoricalGames: len(h2h.Games),
		KeyPlayers:      topPlayerLines(h2h.Players, 3),
		EdgeScore:       historicalEdge(h2h, a),
		Basis:           "h2h",
		ComputedAtNs:    h2h.ComputedAtNs,
	}
	doc.Edge = edgeLabel(doc.EdgeScore, a, b)
	return doc, nil
}

// historicalEdge scores stored games from teamA's point of view, two
// points per win plus a small margin term.
func historicalEdge(h2h H2HDoc, teamA string) float64 {
	edge := 0.0
	for _, g := range h2h.Games {
		margin := g.HomeScore - g.AwayScore
		if g.HomeTricode != teamA {
			margin = -margin
		}
		switch {
		case margin > 0:
			edge += 2
		case margin < 0:
			edge -= 2
		}
		edge += float64(margin) * 0.1
	}
	return edge
}

func edgeLabel(edgeScore float64, a, b string) string {
	switch {
	case edgeScore > 0.5:
		return a
	case edgeScore < -0.5:
		return b
	default:
		return "even"
	}
}

func topPlayerLines(players []H2HPlayerLine, n int) []H2HPlayerLine {
	out := append([]H2HPlayerLine(nil), players...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Points > out[j].Points })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// H2HGet serves the stored pair document.
func (s *ControlPlane) H2HGet(ctx context.Context, teamA, teamB string) (H2HDoc, error) {
	a, b, verr := matchupPair("/matchup/h2h", teamA, teamB)
	if verr != nil {
		return H2HDoc{}, verr
	}
	pair := PairKey(a, b)
	stored, err := s.Store.GetH2H(ctx, pair)
	if errors.Is(err, docstore.ErrNotFound) {
		return H2HDoc{}, NewDomainError(CodeStatsNotFound, "/matchup/h2h", "no stored pair document for "+pair).
			WithRecovery("POST /api/h2h/populate to build the pair document")
	}
	if err != nil {
		return H2HDoc{}, Classify(err, "/matchup/h2h", "database")
	}
	doc, derr := decodeH2HDoc(stored)
	if derr != nil {
		derr.Endpoint = "/matchup/h2h"
		return H2HDoc{}, derr
	}
	return doc, nil
}

// H2HPopulateDoc is the POST /api/h2h/populate response shape.
type H2HPopulateDoc struct {
	Status     string `json:"status"`
	TaskID     string `json:"task_id,omitempty"`
	PairKey    string `json:"pair_key"`
	MaxPlayers int    `json:"max_players"`
}

// H2HPopulate rebuilds the pair document off-path. With a queue wired the
// build is submitted at medium priority; otherwise it runs inline.
func (s *ControlPlane) H2HPopulate(ctx context.Context, teamA, teamB string, maxPlayers int) (H2HPopulateDoc, error) {
	a, b, verr := matchupPair("/api/h2h/populate", teamA, teamB)
	if verr != nil {
		return H2HPopulateDoc{}, verr
	}
	if maxPlayers <= 0 {
		maxPlayers = defaultH2HPlayers
	}
	if maxPlayers > maxH2HPlayers {
		maxPlayers = maxH2HPlayers
	}

	pair := PairKey(a, b)
	build := func(ctx context.Context) (any, error) {
		return s.buildH2HDoc(ctx, a, b, maxPlayers)
	}

	if s.Queue != nil {
		taskID, err := s.Queue.Submit(build, model.PriorityMedium)
		if err != nil {
			return H2HPopulateDoc{}, internal("submit populate task", err)
		}
		return H2HPopulateDoc{Status: "queued", TaskID: taskID, PairKey: pair, MaxPlayers: maxPlayers}, nil
	}

	if _, err := build(ctx); err != nil {
		return H2HPopulateDoc{}, internal("populate pair document", err)
	}
	return H2HPopulateDoc{Status: "completed", PairKey: pair, MaxPlayers: maxPlayers}, nil
}

// buildH2HDoc assembles the pair document from the current snapshot,
// merging games already present in the stored document, and persists it.
func (s *ControlPlane) buildH2HDoc(ctx context.Context, a, b string, maxPlayers int) (H2HDoc, error) {
	now := time.Now().UnixNano()
	doc := H2HDoc{PairKey: PairKey(a, b), TeamA: a, TeamB: b, ComputedAtNs: now}

	seenGames := make(map[string]bool)
	seenPlayers := make(map[string]bool)
	snap := s.pulseSnapshot()
	for _, g := range snap.Games {
		if !((g.HomeTricode == a && g.AwayTricode == b) || (g.HomeTricode == b && g.AwayTricode == a)) {
			continue
		}
		entry := H2HGameEntry{
			GameID:      g.GameID,
			Status:      g.Status,
			HomeTricode: g.HomeTricode,
			AwayTricode: g.AwayTricode,
			HomeScore:   g.HomeScore,
			AwayScore:   g.AwayScore,
		}
		doc.Games = append(doc.Games, entry)
		seenGames[g.GameID] = true
		for _, p := range g.Leaders {
			if (p.TeamTricode == a || p.TeamTricode == b) && !seenPlayers[p.PlayerID] {
				seenPlayers[p.PlayerID] = true
				doc.Players = append(doc.Players, H2HPlayerLine{
					PlayerID: p.PlayerID,
					Name:     p.Name,
					Team:     p.TeamTricode,
					Points:   p.Points,
					Rebounds: p.Rebounds,
					Assists:  p.Assists,
					TSPct:    p.TrueShootingPct,
				})
			}
		}

		payload, err := json.Marshal(entry)
		if err == nil {
			if err := s.Store.AppendH2HGame(ctx, doc.PairKey, g.GameID, payload, now); err != nil {
				return doc, fmt.Errorf("append pair game %s: %w", g.GameID, err)
			}
		}
	}

	// Carry forward history from the previous document.
	if prev, err := s.Store.GetH2H(ctx, doc.PairKey); err == nil {
		if old, derr := decodeH2HDoc(prev); derr == nil {
			for _, g := range old.Games {
				if !seenGames[g.GameID] {
					seenGames[g.GameID] = true
					doc.Games = append(doc.Games, g)
				}
			}
			for _, p := range old.Players {
				if !seenPlayers[p.PlayerID] {
					seenPlayers[p.PlayerID] = true
					doc.Players = append(doc.Players, p)
				}
			}
		}
	}

	doc.Players = topPlayerLines(doc.Players, maxPlayers)

	payload, err := json.Marshal(doc)
	if err != nil {
		return doc, fmt.Errorf("encode pair document: %w", err)
	}
	if err := s.Store.UpsertH2H(ctx, doc.PairKey, payload, now); err != nil {
		return doc, fmt.Errorf("persist pair document: %w", err)
	}
	return doc, nil
}
