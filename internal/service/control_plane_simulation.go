package service

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/nexus-vanguard/vanguard/internal/model"
	"github.com/nexus-vanguard/vanguard/internal/router"
	"github.com/nexus-vanguard/vanguard/internal/sports"
)

const (
	defaultSimIterations = 1000
	maxSimIterations     = 10000
	// Cache-path simulations run fewer draws; the point of the fallback
	// is a fast answer from persisted state, not precision.
	cacheSimIterations = 250

	regulationMinutes = 48.0
	periodMinutes     = 12.0
	// League-ish scoring rate per team, points per minute.
	teamPointsPerMinute = 2.35
)

// SimulationResult is the Monte Carlo projection for one game.
// Margins are home minus away.
type SimulationResult struct {
	GameID       string  `json:"game_id"`
	Iterations   int     `json:"iterations"`
	HomeTricode  string  `json:"home_tricode"`
	AwayTricode  string  `json:"away_tricode"`
	HomeWinPct   float64 `json:"home_win_pct"`
	MarginMean   float64 `json:"projected_margin_mean"`
	MarginP5     float64 `json:"projected_margin_p5"`
	MarginP95    float64 `json:"projected_margin_p95"`
	TotalMean    float64 `json:"projected_total_mean"`
	Basis        string  `json:"basis"`
	ComputedAtNs int64   `json:"computed_at_ns"`
}

// SimulationRace validates the request and returns the live and cache
// tasks for the router. The live path simulates from the in-memory
// snapshot; the cache path re-simulates from the persisted game state
// with a reduced draw count.
func (s *ControlPlane) SimulationRace(gameID string, iterations int, seed uint64) (live, cache router.TaskFunc, err error) {
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return nil, nil, NewDomainError(CodeMissingParam, "/simulation/montecarlo", "game_id is required")
	}
	if iterations <= 0 {
		iterations = defaultSimIterations
	}
	if iterations > maxSimIterations {
		iterations = maxSimIterations
	}

	live = func(ctx context.Context) (any, error) {
		g, ok := s.findGameLive(gameID)
		if !ok {
			return nil, NewDomainError(CodeGameNotFound, "/simulation/montecarlo", "game not tracked: "+gameID)
		}
		res := simulateGame(g, iterations, seed)
		res.Basis = liveSourcePulse
		return res, nil
	}
	cache = func(ctx context.Context) (any, error) {
		g, err := s.findGameStored(ctx, gameID)
		if err != nil {
			return nil, err
		}
		res := simulateGame(g, cacheSimIterations, seed)
		res.Basis = liveSourceStore
		return res, nil
	}
	return live, cache, nil
}

func (s *ControlPlane) findGameLive(gameID string) (model.LiveGameState, bool) {
	snap := s.pulseSnapshot()
	for _, g := range snap.Games {
		if g.GameID == gameID {
			return g, true
		}
	}
	return model.LiveGameState{}, false
}

func (s *ControlPlane) findGameStored(ctx context.Context, gameID string) (model.LiveGameState, error) {
	games, err := s.Store.ListLiveGames(ctx)
	if err != nil {
		return model.LiveGameState{}, Classify(err, "/simulation/montecarlo", "database")
	}
	for _, g := range games {
		if g.GameID == gameID {
			return g, nil
		}
	}
	return model.LiveGameState{}, NewDomainError(CodeGameNotFound, "/simulation/montecarlo", "game not found: "+gameID)
}

// remainingMinutes estimates game time left. Period 0 means not started;
// overtime periods count only their own clock.
func remainingMinutes(g model.LiveGameState) float64 {
	if strings.Contains(strings.ToLower(g.Status), "final") {
		return 0
	}
	if g.Period <= 0 {
		return regulationMinutes
	}
	clockMin := 0.0
	if secs, ok := sports.ParseClockSeconds(g.Clock); ok {
		clockMin = secs / 60
	}
	if g.Period > 4 {
		return clockMin
	}
	return float64(4-g.Period)*periodMinutes + clockMin
}

// simulateGame runs a remaining-time Monte Carlo: each side's rest-of-game
// scoring is drawn from a normal around rate × pace × remaining. Seed 0
// draws from the shared source; a fixed seed replays deterministically.
func simulateGame(g model.LiveGameState, iterations int, seed uint64) SimulationResult {
	rem := remainingMinutes(g)
	pace := g.PaceMultiplier
	if pace <= 0 {
		pace = 1
	}
	mu := rem * teamPointsPerMinute * pace
	sigma := 3 * math.Sqrt(rem+1)

	var rng *rand.Rand
	if seed != 0 {
		rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	margins := make([]float64, 0, iterations)
	totals := 0.0
	wins := 0.0
	for i := 0; i < iterations; i++ {
		homeRem := math.Max(0, mu+sigma*rng.NormFloat64())
		awayRem := math.Max(0, mu+sigma*rng.NormFloat64())
		home := float64(g.HomeScore) + homeRem
		away := float64(g.AwayScore) + awayRem
		margin := home - away
		switch {
		case margin > 0:
			wins++
		case margin == 0:
			wins += 0.5
		}
		margins = append(margins, margin)
		totals += home + away
	}
	sort.Float64s(margins)

	return SimulationResult{
		GameID:       g.GameID,
		Iterations:   iterations,
		HomeTricode:  g.HomeTricode,
		AwayTricode:  g.AwayTricode,
		HomeWinPct:   wins / float64(iterations),
		MarginMean:   stat.Mean(margins, nil),
		MarginP5:     stat.Quantile(0.05, stat.Empirical, margins, nil),
		MarginP95:    stat.Quantile(0.95, stat.Empirical, margins, nil),
		TotalMean:    totals / float64(iterations),
		ComputedAtNs: time.Now().UnixNano(),
	}
}

// EnsembleModel is one pace variant inside an ensemble run.
type EnsembleModel struct {
	Name       string  `json:"name"`
	PaceFactor float64 `json:"pace_factor"`
	Weight     float64 `json:"weight"`
	HomeWinPct float64 `json:"home_win_pct"`
	MarginMean float64 `json:"projected_margin_mean"`
}

// EnsembleResult blends pace-shifted Monte Carlo variants.
type EnsembleResult struct {
	GameID       string          `json:"game_id"`
	HomeTricode  string          `json:"home_tricode"`
	AwayTricode  string          `json:"away_tricode"`
	Models       []EnsembleModel `json:"models"`
	HomeWinPct   float64         `json:"home_win_pct"`
	MarginMean   float64         `json:"projected_margin_mean"`
	Basis        string          `json:"basis"`
	ComputedAtNs int64           `json:"computed_at_ns"`
}

// SimulateEnsemble runs conservative, neutral, and aggressive pace
// variants and blends them by weight.
func (s *ControlPlane) SimulateEnsemble(ctx context.Context, gameID string, seed uint64) (EnsembleResult, error) {
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return EnsembleResult{}, NewDomainError(CodeMissingParam, "/simulation/ensemble", "game_id is required")
	}

	g, ok := s.findGameLive(gameID)
	basis := liveSourcePulse
	if !ok {
		stored, err := s.findGameStored(ctx, gameID)
		if err != nil {
			var svcErr *ServiceError
			if errors.As(err, &svcErr) {
				svcErr.Endpoint = "/simulation/ensemble"
			}
			return EnsembleResult{}, err
		}
		g = stored
		basis = liveSourceStore
	}

	variants := []struct {
		name   string
		pace   float64
		weight float64
	}{
		{"conservative", 0.92, 0.25},
		{"neutral", 1.0, 0.50},
		{"aggressive", 1.08, 0.25},
	}

	out := EnsembleResult{
		GameID:       g.GameID,
		HomeTricode:  g.HomeTricode,
		AwayTricode:  g.AwayTricode,
		Basis:        basis,
		ComputedAtNs: time.Now().UnixNano(),
	}
	basePace := g.PaceMultiplier
	if basePace <= 0 {
		basePace = 1
	}
	for i, v := range variants {
		shifted := g
		shifted.PaceMultiplier = basePace * v.pace
		variantSeed := seed
		if variantSeed != 0 {
			variantSeed += uint64(i + 1)
		}
		res := simulateGame(shifted, defaultSimIterations, variantSeed)
		out.Models = append(out.Models, EnsembleModel{
			Name:       v.name,
			PaceFactor: v.pace,
			Weight:     v.weight,
			HomeWinPct: res.HomeWinPct,
			MarginMean: res.MarginMean,
		})
		out.HomeWinPct += res.HomeWinPct * v.weight
		out.MarginMean += res.MarginMean * v.weight
	}
	return out, nil
}

// PlayerArchetype is one classified player in the enrichment view.
type PlayerArchetype struct {
	PlayerID   string  `json:"player_id"`
	Name       string  `json:"name"`
	Team       string  `json:"team"`
	Archetype  string  `json:"archetype"`
	Confidence float64 `json:"confidence"`
}

// Archetypes classifies tracked players by their enriched live stats.
// team narrows the pool; empty means league-wide.
func (s *ControlPlane) Archetypes(ctx context.Context, team string) ([]PlayerArchetype, error) {
	tricode := ""
	if strings.TrimSpace(team) != "" {
		norm, ok := NormalizeTricode(team)
		if !ok {
			return nil, NewDomainError(CodeInvalidTeamID, "/enrichment/archetypes", "team must be a three-letter tricode: "+team)
		}
		tricode = norm
	}

	players, _ := s.trackedOrStored(ctx)
	out := make([]PlayerArchetype, 0, len(players))
	for _, p := range players {
		if tricode != "" && p.TeamTricode != tricode {
			continue
		}
		arch, conf := classifyArchetype(p)
		out = append(out, PlayerArchetype{
			PlayerID:   p.PlayerID,
			Name:       p.Name,
			Team:       p.TeamTricode,
			Archetype:  arch,
			Confidence: conf,
		})
	}
	return out, nil
}

func classifyArchetype(p model.PlayerPulse) (string, float64) {
	switch {
	case p.UsageRate >= 28 && p.AssistRate < 18:
		return "volume_scorer", clamp01(p.UsageRate / 40)
	case p.AssistRate >= 25:
		return "floor_general", clamp01(p.AssistRate / 40)
	case p.ReboundsPer36 >= 12:
		return "glass_cleaner", clamp01(p.ReboundsPer36 / 18)
	case p.TrueShootingPct >= 0.62 && p.UsageRate < 22:
		return "efficiency_wing", clamp01(p.TrueShootingPct)
	case p.Steals+p.Blocks >= 4:
		return "defensive_disruptor", clamp01(float64(p.Steals+p.Blocks) / 8)
	default:
		return "two_way_contributor", 0.4
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// GameOddsDoc is the GET /external/odds response shape. Moneylines use
// American odds derived from the simulated win probability.
type GameOddsDoc struct {
	GameID        string  `json:"game_id"`
	HomeTricode   string  `json:"home_tricode"`
	AwayTricode   string  `json:"away_tricode"`
	HomeWinPct    float64 `json:"home_win_pct"`
	AwayWinPct    float64 `json:"away_win_pct"`
	MoneylineHome int     `json:"moneyline_home"`
	MoneylineAway int     `json:"moneyline_away"`
	Basis         string  `json:"basis"`
	ComputedAtNs  int64   `json:"computed_at_ns"`
}

// GameOdds derives win probability from the live margin and time
// remaining with a logistic curve.
func (s *ControlPlane) GameOdds(ctx context.Context, gameID string) (GameOddsDoc, error) {
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return GameOddsDoc{}, NewDomainError(CodeMissingParam, "/external/odds", "game_id: query parameter required")
	}

	g, ok := s.findGameLive(gameID)
	basis := liveSourcePulse
	if !ok {
		stored, err := s.findGameStored(ctx, gameID)
		if err != nil {
			var svcErr *ServiceError
			if errors.As(err, &svcErr) {
				svcErr.Endpoint = "/external/odds"
			}
			return GameOddsDoc{}, err
		}
		g = stored
		basis = liveSourceStore
	}

	rem := remainingMinutes(g)
	margin := float64(g.HomeScore - g.AwayScore)
	// The same lead is worth more the less time remains.
	homeProb := 1 / (1 + math.Exp(-margin/(2.5*math.Sqrt(rem+1))))
	return GameOddsDoc{
		GameID:        g.GameID,
		HomeTricode:   g.HomeTricode,
		AwayTricode:   g.AwayTricode,
		HomeWinPct:    homeProb,
		AwayWinPct:    1 - homeProb,
		MoneylineHome: moneyline(homeProb),
		MoneylineAway: moneyline(1 - homeProb),
		Basis:         basis,
		ComputedAtNs:  time.Now().UnixNano(),
	}, nil
}

// moneyline converts a win probability to American odds, capped at ±10000.
func moneyline(p float64) int {
	const ceiling = 10000
	switch {
	case p <= 0.0001:
		return ceiling
	case p >= 0.9999:
		return -ceiling
	}
	var ml int
	if p >= 0.5 {
		ml = -int(math.Round(100 * p / (1 - p)))
	} else {
		ml = int(math.Round(100 * (1 - p) / p))
	}
	if ml > ceiling {
		ml = ceiling
	} else if ml < -ceiling {
		ml = -ceiling
	}
	return ml
}
