// Package model defines domain structs shared across the persistence and
// transport layers.
package model

// Category classifies a registered endpoint.
type Category string

const (
	CategoryCore       Category = "core"
	CategorySimulation Category = "simulation"
	CategoryAnalysis   Category = "analysis"
	CategoryData       Category = "data"
	CategoryExternal   Category = "external"
	CategoryAdmin      Category = "admin"
)

// ValidCategory reports whether c is a known endpoint category.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryCore, CategorySimulation, CategoryAnalysis, CategoryData, CategoryExternal, CategoryAdmin:
		return true
	}
	return false
}

// Priority orders task execution. Lower rank runs first.
type Priority string

const (
	PriorityCritical   Priority = "critical"
	PriorityHigh       Priority = "high"
	PriorityMedium     Priority = "medium"
	PriorityLow        Priority = "low"
	PriorityBackground Priority = "background"
)

// PriorityRank returns the scheduling rank for p. Unknown priorities sort last.
func PriorityRank(p Priority) int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	case PriorityBackground:
		return 4
	}
	return 5
}

// ValidPriority reports whether p is a known priority level.
func ValidPriority(p Priority) bool {
	return PriorityRank(p) < 5
}

// EndpointConfig is the immutable catalog record for a registered endpoint.
type EndpointConfig struct {
	Path             string   `json:"path" yaml:"path"`
	Category         Category `json:"category" yaml:"category"`
	Dependencies     []string `json:"dependencies,omitempty" yaml:"dependencies"`
	Complexity       int      `json:"complexity" yaml:"complexity"`
	BaseTimeoutMs    int      `json:"base_timeout_ms" yaml:"base_timeout_ms"`
	AdaptiveBufferMs int      `json:"adaptive_buffer_ms" yaml:"adaptive_buffer_ms"`
	FallbackPath     string   `json:"fallback_path,omitempty" yaml:"fallback_path"`
	Priority         Priority `json:"priority" yaml:"priority"`
	Manager          string   `json:"manager,omitempty" yaml:"manager"`
	AuthRequired     bool     `json:"auth_required" yaml:"auth_required"`
}

// RouteStrategy is the router's recommendation for serving a request.
type RouteStrategy string

const (
	StrategyCacheOnly RouteStrategy = "cache_only"
	StrategyLiveOnly  RouteStrategy = "live_only"
	StrategyRace      RouteStrategy = "race"
	StrategyFallback  RouteStrategy = "fallback"
)

// RouteDecision is the advice returned by the adaptive router.
type RouteDecision struct {
	Strategy       RouteStrategy `json:"strategy"`
	PatienceMs     int           `json:"patience_ms"`
	TargetMs       int           `json:"target_ms"`
	Rationale      string        `json:"rationale"`
	CooldownActive bool          `json:"cooldown_active"`
}

// GamePhase classifies the current state of a live game.
type GamePhase string

const (
	PhaseClutch  GamePhase = "clutch"
	PhaseBlowout GamePhase = "blowout"
	PhaseGarbage GamePhase = "garbage"
	PhaseNormal  GamePhase = "normal"
)

// PlayerPulse is the enriched per-player line computed each pulse cycle.
type PlayerPulse struct {
	PlayerID        string  `json:"player_id"`
	Name            string  `json:"name"`
	TeamTricode     string  `json:"team_tricode"`
	GameID          string  `json:"game_id"`
	Minutes         float64 `json:"minutes"`
	Points          int     `json:"points"`
	Rebounds        int     `json:"rebounds"`
	Assists         int     `json:"assists"`
	Steals          int     `json:"steals"`
	Blocks          int     `json:"blocks"`
	Turnovers       int     `json:"turnovers"`
	FGM             int     `json:"fgm"`
	FGA             int     `json:"fga"`
	ThreePM         int     `json:"three_pm"`
	FTM             int     `json:"ftm"`
	FTA             int     `json:"fta"`
	PlusMinus       float64 `json:"plus_minus"`
	PIE             float64 `json:"pie"`
	TrueShootingPct float64 `json:"ts_pct"`
	EffectiveFGPct  float64 `json:"efg_pct"`
	PlusMinusPerMin float64 `json:"plus_minus_per_min"`
	PlusMinusLabel  string  `json:"plus_minus_label"`
	AssistRate      float64 `json:"assist_rate"`
	PointsPer36     float64 `json:"points_per_36"`
	ReboundsPer36   float64 `json:"rebounds_per_36"`
	AssistsPer36    float64 `json:"assists_per_36"`
	FatiguePenalty  float64 `json:"fatigue_penalty"`
	UsageRate       float64 `json:"usage_rate"`
	UsageVacuum     float64 `json:"usage_vacuum"`
	MatchupBucket   string  `json:"matchup_bucket"`
	HeatScale       string  `json:"heat_scale"`
	GarbageTime     bool    `json:"garbage_time"`
}

// LiveGameState is one game's snapshot within a pulse cycle.
type LiveGameState struct {
	GameID         string        `json:"game_id"`
	HomeTricode    string        `json:"home_tricode"`
	AwayTricode    string        `json:"away_tricode"`
	HomeScore      int           `json:"home_score"`
	AwayScore      int           `json:"away_score"`
	Period         int           `json:"period"`
	Clock          string        `json:"clock"`
	Status         string        `json:"status"`
	Margin         int           `json:"margin"`
	GamePhase      GamePhase     `json:"game_phase"`
	IsGarbageTime  bool          `json:"is_garbage_time"`
	PaceMultiplier float64       `json:"pace_multiplier"`
	Leaders        []PlayerPulse `json:"leaders,omitempty"`
}

// PulseMeta describes one pulse cycle.
type PulseMeta struct {
	TimestampNs int64  `json:"timestamp_ns"`
	UpdateCycle uint64 `json:"update_cycle"`
	GameCount   int    `json:"game_count"`
	LiveCount   int    `json:"live_count"`
}

// LivePulseSnapshot is the full output of one pulse cycle. Listeners read
// only the latest snapshot.
type LivePulseSnapshot struct {
	Games   []LiveGameState   `json:"games"`
	Leaders []PlayerPulse     `json:"leaders"`
	Meta    PulseMeta         `json:"meta"`
	Changes map[string]string `json:"changes"`
}

// BaselineMetric holds season-level distribution stats for one metric,
// used for z-score anomaly detection.
type BaselineMetric struct {
	Name        string  `json:"name"`
	Mean        float64 `json:"mean"`
	Std         float64 `json:"std"`
	P50         float64 `json:"p50"`
	P95         float64 `json:"p95"`
	SampleCount int     `json:"sample_count"`
	ExpiresAtNs int64   `json:"expires_at_ns"`
}

// VanguardMetadata is the persisted global engine state.
type VanguardMetadata struct {
	Mode        string  `json:"mode"`
	HealthScore float64 `json:"health_score"`
	UpdatedAtNs int64   `json:"updated_at_ns"`
}
