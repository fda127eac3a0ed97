package service

import (
	"context"
	"strings"

	"github.com/nexus-vanguard/vanguard/internal/model"
	"github.com/nexus-vanguard/vanguard/internal/pulse"
	"github.com/nexus-vanguard/vanguard/internal/router"
)

// Snapshot sources for the live accessors.
const (
	liveSourcePulse = "pulse"
	liveSourceStore = "store"
)

// LiveGamesDoc is the GET /live/games response shape.
type LiveGamesDoc struct {
	Games  []model.LiveGameState `json:"games"`
	Meta   model.PulseMeta       `json:"meta"`
	Source string                `json:"source"`
}

// LiveGames returns the current game states. With the pulse loop running
// the in-memory snapshot is the truth; otherwise the persisted view is
// served.
func (s *ControlPlane) LiveGames(ctx context.Context) (LiveGamesDoc, error) {
	if s.Producer != nil {
		snap := s.Producer.Snapshot()
		return LiveGamesDoc{Games: snap.Games, Meta: snap.Meta, Source: liveSourcePulse}, nil
	}
	games, err := s.Store.ListLiveGames(ctx)
	if err != nil {
		return LiveGamesDoc{}, internal("list live games", err)
	}
	return LiveGamesDoc{Games: games, Source: liveSourceStore}, nil
}

// LiveLeadersDoc is the GET /live/leaders response shape.
type LiveLeadersDoc struct {
	Leaders []model.PlayerPulse `json:"leaders"`
	Meta    model.PulseMeta     `json:"meta"`
	Source  string              `json:"source"`
}

// LiveLeaders returns the current league-wide leader board.
func (s *ControlPlane) LiveLeaders(ctx context.Context) (LiveLeadersDoc, error) {
	if s.Producer != nil {
		snap := s.Producer.Snapshot()
		return LiveLeadersDoc{Leaders: snap.Leaders, Meta: snap.Meta, Source: liveSourcePulse}, nil
	}
	leaders, err := s.Store.GetLiveLeaders(ctx)
	if err != nil {
		return LiveLeadersDoc{}, internal("load live leaders", err)
	}
	return LiveLeadersDoc{Leaders: leaders, Source: liveSourceStore}, nil
}

// LiveStatusDoc is the GET /live/status response shape.
type LiveStatusDoc struct {
	pulse.Status
	Enabled      bool            `json:"enabled"`
	Meta         model.PulseMeta `json:"meta"`
	PendingRaces int             `json:"pending_races"`
}

// LiveStatus reports producer loop liveness and race backlog.
func (s *ControlPlane) LiveStatus() LiveStatusDoc {
	doc := LiveStatusDoc{Enabled: s.Producer != nil}
	if s.Producer != nil {
		doc.Status = s.Producer.Status()
		doc.Meta = s.Producer.Snapshot().Meta
	}
	if s.Racer != nil {
		doc.PendingRaces = s.Racer.PendingCount()
	}
	return doc
}

// LateArrival returns the parked live result for a cache-served race.
// One-shot: a second read for the same request id misses.
func (s *ControlPlane) LateArrival(requestID string) (router.LateArrival, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return router.LateArrival{}, NewDomainError(CodeMissingParam, "/live/late", "request_id: path parameter required")
	}
	if s.Racer == nil {
		return router.LateArrival{}, NewDomainError(CodeCacheNotFound, "/live/late", "no late arrival parked for "+requestID)
	}
	arrival, ok := s.Racer.GetLateArrival(requestID)
	if !ok {
		return router.LateArrival{}, NewDomainError(CodeCacheNotFound, "/live/late", "no late arrival parked for "+requestID)
	}
	return arrival, nil
}
