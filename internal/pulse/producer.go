// Package pulse runs the live-data production loop: a 10-second
// scoreboard poll, concurrent boxscore fan-out for in-progress games,
// per-player enrichment against season baselines, snapshot assembly
// with change detection, and fire-and-forget persistence. The loop is
// fail-safe: a bad cycle logs and the cadence holds.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/nexus-vanguard/vanguard/internal/baseline"
	"github.com/nexus-vanguard/vanguard/internal/config"
	"github.com/nexus-vanguard/vanguard/internal/docstore"
	"github.com/nexus-vanguard/vanguard/internal/health"
	"github.com/nexus-vanguard/vanguard/internal/model"
	"github.com/nexus-vanguard/vanguard/internal/scanloop"
	"github.com/nexus-vanguard/vanguard/internal/sports"
)

// DepLiveData is the health-gate service name for the provider feeds.
const DepLiveData = "live_data"

const (
	// A cycle must finish under the poll interval.
	cycleTimeout = 8 * time.Second
	writeTimeout = 5 * time.Second

	perGameLeaders = 5
)

// Feed fetches the provider documents. sports.Client satisfies it;
// tests inject fixtures.
type Feed interface {
	Scoreboard(ctx context.Context) (sports.Scoreboard, error)
	Boxscore(ctx context.Context, gameID string) (sports.Boxscore, error)
}

// Producer owns the pulse loop and the latest snapshot.
type Producer struct {
	feed      Feed
	store     docstore.LiveRepo
	gate      *health.Gate
	baselines *baseline.Store
	cfg       func() *config.RuntimeConfig

	mu       sync.Mutex
	snapshot model.LivePulseSnapshot
	gameHash map[string]uint64
	archived map[string]bool

	running      atomic.Bool
	updateCount  atomic.Uint64
	lastDuration atomic.Int64
	writeErrors  atomic.Int64

	stopCh  chan struct{}
	loopWG  sync.WaitGroup
	writeWG sync.WaitGroup
	started atomic.Bool
}

// Options wires a Producer. Feed, Store, and Config are required; Gate
// and Baselines are optional.
type Options struct {
	Feed      Feed
	Store     docstore.LiveRepo
	Gate      *health.Gate
	Baselines *baseline.Store
	Config    func() *config.RuntimeConfig
}

// NewProducer builds the producer. Call Start to launch the loop.
func NewProducer(opts Options) *Producer {
	p := &Producer{
		feed:      opts.Feed,
		store:     opts.Store,
		gate:      opts.Gate,
		baselines: opts.Baselines,
		cfg:       opts.Config,
		gameHash:  make(map[string]uint64),
		archived:  make(map[string]bool),
		stopCh:    make(chan struct{}),
	}
	if p.gate != nil {
		p.gate.Ensure(DepLiveData, health.TypeExternal)
	}
	return p
}

// Start launches the poll loop.
func (p *Producer) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	interval := p.cfg().PulsePollInterval.Std()
	if interval <= 0 {
		interval = 10 * time.Second
	}
	p.running.Store(true)
	p.loopWG.Add(1)
	go func() {
		defer p.loopWG.Done()
		scanloop.RunEvery(p.stopCh, interval, p.safeCycle)
	}()
	log.Printf("[pulse] producer started, polling every %s", interval)
}

// Stop halts the loop and waits for in-flight writes to land.
func (p *Producer) Stop() {
	if !p.started.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	p.loopWG.Wait()
	p.writeWG.Wait()
	p.running.Store(false)
	log.Printf("[pulse] producer stopped after %d cycles", p.updateCount.Load())
}

// safeCycle shields the loop: a panicking cycle logs and the next tick
// proceeds on schedule.
func (p *Producer) safeCycle() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[pulse] cycle panic recovered: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), cycleTimeout)
	defer cancel()
	if err := p.RunCycle(ctx); err != nil {
		log.Printf("[pulse] %v", err)
	}
}

// RunCycle performs one full poll-enrich-write pass.
func (p *Producer) RunCycle(ctx context.Context) error {
	start := time.Now()
	defer func() {
		p.lastDuration.Store(int64(time.Since(start)))
	}()

	sb, err := p.feed.Scoreboard(ctx)
	if err != nil {
		p.recordFeedError(err)
		return fmt.Errorf("pulse: scoreboard: %w", err)
	}
	if p.gate != nil {
		p.gate.RecordSuccess(DepLiveData, time.Since(start))
	}

	targets := p.fetchTargets(sb.Games)
	boxes := p.fetchBoxscores(ctx, targets)

	games := make([]model.LiveGameState, 0, len(sb.Games))
	var allPlayers []model.PlayerPulse
	liveCount := 0
	for _, game := range sb.Games {
		box := boxes[game.GameID]
		if game.Live() {
			liveCount++
		}
		if game.Final() && box != nil {
			p.archiveFinal(sb.GameDate, game.GameID, box)
		}
		state, players := p.buildGameState(game, box)
		games = append(games, state)
		allPlayers = append(allPlayers, players...)
	}

	leaderCount := p.cfg().PulseLeaderCount
	leaders := TopLeaders(allPlayers, leaderCount)
	changes := p.detectChanges(games)
	cycle := p.updateCount.Add(1)
	nowNs := time.Now().UnixNano()

	snapshot := model.LivePulseSnapshot{
		Games:   games,
		Leaders: leaders,
		Meta: model.PulseMeta{
			TimestampNs: nowNs,
			UpdateCycle: cycle,
			GameCount:   len(games),
			LiveCount:   liveCount,
		},
		Changes: changes,
	}
	p.mu.Lock()
	p.snapshot = snapshot
	p.mu.Unlock()

	for _, game := range games {
		g := game
		p.asyncWrite("game "+g.GameID, func(ctx context.Context) error {
			return p.store.PutLiveGame(ctx, g, cycle, nowNs)
		})
	}
	p.asyncWrite("leaders", func(ctx context.Context) error {
		return p.store.PutLiveLeaders(ctx, leaders, cycle, nowNs)
	})
	return nil
}

// fetchTargets selects the games worth a boxscore call: everything live,
// plus finals that have not been archived yet.
func (p *Producer) fetchTargets(games []sports.ScoreboardGame) []sports.ScoreboardGame {
	var targets []sports.ScoreboardGame
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, g := range games {
		if g.Live() || (g.Final() && !p.archived[g.GameID]) {
			targets = append(targets, g)
		}
	}
	return targets
}

// fetchBoxscores fans out one fetch per target. A failed fetch degrades
// that game to its scoreboard line; it never fails the cycle.
func (p *Producer) fetchBoxscores(ctx context.Context, targets []sports.ScoreboardGame) map[string]*sports.Boxscore {
	results := make([]*sports.Boxscore, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, game := range targets {
		g.Go(func() error {
			box, err := p.feed.Boxscore(gctx, game.GameID)
			if err != nil {
				p.recordFeedError(err)
				log.Printf("[pulse] boxscore %s: %v", game.GameID, err)
				return nil
			}
			results[i] = &box
			return nil
		})
	}
	// Workers only log; Wait is a join point here.
	_ = g.Wait()

	boxes := make(map[string]*sports.Boxscore, len(targets))
	for i, game := range targets {
		if results[i] != nil {
			boxes[game.GameID] = results[i]
		}
	}
	return boxes
}

// buildGameState assembles one game's snapshot entry. Games without a
// boxscore carry scoreboard fields only.
func (p *Producer) buildGameState(game sports.ScoreboardGame, box *sports.Boxscore) (model.LiveGameState, []model.PlayerPulse) {
	state := model.LiveGameState{
		GameID:         game.GameID,
		HomeTricode:    game.HomeTeam.Tricode,
		AwayTricode:    game.AwayTeam.Tricode,
		HomeScore:      game.HomeTeam.Score,
		AwayScore:      game.AwayTeam.Score,
		Period:         game.Period,
		Clock:          game.GameClock,
		Status:         statusText(game),
		Margin:         absInt(game.HomeTeam.Score - game.AwayTeam.Score),
		GamePhase:      model.PhaseNormal,
		PaceMultiplier: 1,
	}
	if box == nil || !game.Live() {
		return state, nil
	}

	state.HomeScore = box.HomeTeam.Score
	state.AwayScore = box.AwayTeam.Score
	state.Period = box.Period
	state.Clock = box.GameClock
	state.Margin = absInt(box.HomeTeam.Score - box.AwayTeam.Score)

	clockSecs, clockOK := sports.ParseClockSeconds(box.GameClock)
	players := p.enrichTeams(box, clockSecs, clockOK, state.Margin)

	state.IsGarbageTime = IsGarbageTime(box.Period, clockSecs, clockOK, state.Margin)
	state.GamePhase = PhaseFor(box.Period, state.Margin, state.IsGarbageTime)
	state.PaceMultiplier = PaceMultiplier(box.HomeTeam.Statistics, box.AwayTeam.Statistics)
	state.Leaders = TopLeaders(players, perGameLeaders)
	return state, players
}

func (p *Producer) enrichTeams(box *sports.Boxscore, clockSecs float64, clockOK bool, margin int) []model.PlayerPulse {
	var out []model.PlayerPulse
	sides := []struct {
		team sports.TeamBox
		opp  sports.TeamBox
	}{
		{box.HomeTeam, box.AwayTeam},
		{box.AwayTeam, box.HomeTeam},
	}
	for _, side := range sides {
		gc := GameContext{
			GameID:    box.GameID,
			Period:    box.Period,
			ClockSecs: clockSecs,
			ClockOK:   clockOK,
			Margin:    margin,
			Own:       side.team.Statistics,
			Opp:       side.opp.Statistics,
		}
		for _, line := range side.team.Players {
			if !line.Active() {
				continue
			}
			out = append(out, EnrichPlayer(line, side.team.Tricode, gc, p.baselines))
		}
	}
	return out
}

// detectChanges hashes each serialized game and diffs against the
// previous cycle. Unchanged games are omitted from the map.
func (p *Producer) detectChanges(games []model.LiveGameState) map[string]string {
	changes := make(map[string]string)
	next := make(map[string]uint64, len(games))
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, g := range games {
		raw, err := json.Marshal(g)
		if err != nil {
			continue
		}
		h := xxh3.Hash(raw)
		next[g.GameID] = h
		prev, seen := p.gameHash[g.GameID]
		switch {
		case !seen:
			changes[g.GameID] = "new"
		case prev != h:
			changes[g.GameID] = "updated"
		}
	}
	p.gameHash = next
	return changes
}

// archiveFinal writes the final boxscore under game_logs once.
func (p *Producer) archiveFinal(date, gameID string, box *sports.Boxscore) {
	p.mu.Lock()
	if p.archived[gameID] {
		p.mu.Unlock()
		return
	}
	p.archived[gameID] = true
	p.mu.Unlock()

	payload, err := json.Marshal(box)
	if err != nil {
		return
	}
	nowNs := time.Now().UnixNano()
	p.asyncWrite("game log "+gameID, func(ctx context.Context) error {
		return p.store.PutGameLog(ctx, date, gameID, payload, nowNs)
	})
}

// asyncWrite is the fire-and-forget persistence path. Failures count
// and log; the loop never waits on them.
func (p *Producer) asyncWrite(what string, fn func(context.Context) error) {
	p.writeWG.Add(1)
	go func() {
		defer p.writeWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			p.writeErrors.Add(1)
			log.Printf("[pulse] %s write failed: %v", what, err)
		}
	}()
}

func (p *Producer) recordFeedError(err error) {
	if p.gate == nil {
		return
	}
	var rle *sports.RateLimitedError
	if errors.As(err, &rle) {
		p.gate.RecordRateLimit(DepLiveData, rle.RetryAfter)
		return
	}
	p.gate.RecordError(DepLiveData, err.Error())
}

// Snapshot returns the latest cycle output. Callers must treat the
// slices as read-only.
func (p *Producer) Snapshot() model.LivePulseSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot
}

// Cycle returns the update-cycle counter; zero before the first cycle.
func (p *Producer) Cycle() uint64 {
	return p.updateCount.Load()
}

// Status is the lightweight producer status document.
type Status struct {
	Running             bool    `json:"running"`
	UpdateCount         uint64  `json:"update_count"`
	LastUpdateDuration  float64 `json:"last_update_duration"`
	FirebaseWriteErrors int64   `json:"firebase_write_errors"`
}

// Status reports loop liveness. Duration is seconds.
func (p *Producer) Status() Status {
	return Status{
		Running:             p.running.Load(),
		UpdateCount:         p.updateCount.Load(),
		LastUpdateDuration:  time.Duration(p.lastDuration.Load()).Seconds(),
		FirebaseWriteErrors: p.writeErrors.Load(),
	}
}

func statusText(game sports.ScoreboardGame) string {
	if game.GameStatusText != "" {
		return game.GameStatusText
	}
	switch game.GameStatus {
	case sports.GameStatusLive:
		return "live"
	case sports.GameStatusFinal:
		return "final"
	default:
		return "scheduled"
	}
}
