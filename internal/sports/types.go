// Package sports is the client for the NBA live-data CDN feeds: the daily
// scoreboard and per-game boxscores that feed the pulse producer.
package sports

import (
	"strconv"
	"strings"
)

// Game status codes used by the scoreboard feed.
const (
	GameStatusScheduled = 1
	GameStatusLive      = 2
	GameStatusFinal     = 3
)

type scoreboardEnvelope struct {
	Scoreboard Scoreboard `json:"scoreboard"`
}

// Scoreboard is the day's slate of games.
type Scoreboard struct {
	GameDate string           `json:"gameDate"`
	Games    []ScoreboardGame `json:"games"`
}

// ScoreboardGame is one game row on the scoreboard.
type ScoreboardGame struct {
	GameID         string    `json:"gameId"`
	GameStatus     int       `json:"gameStatus"`
	GameStatusText string    `json:"gameStatusText"`
	Period         int       `json:"period"`
	GameClock      string    `json:"gameClock"`
	HomeTeam       TeamScore `json:"homeTeam"`
	AwayTeam       TeamScore `json:"awayTeam"`
}

// Live reports whether the game is in progress.
func (g ScoreboardGame) Live() bool { return g.GameStatus == GameStatusLive }

// Final reports whether the game has ended.
func (g ScoreboardGame) Final() bool { return g.GameStatus == GameStatusFinal }

// TeamScore is the scoreboard-level team line.
type TeamScore struct {
	TeamID  int64  `json:"teamId"`
	Tricode string `json:"teamTricode"`
	Score   int    `json:"score"`
}

type boxscoreEnvelope struct {
	Game Boxscore `json:"game"`
}

// Boxscore is the full per-game statistics feed.
type Boxscore struct {
	GameID    string  `json:"gameId"`
	Period    int     `json:"period"`
	GameClock string  `json:"gameClock"`
	HomeTeam  TeamBox `json:"homeTeam"`
	AwayTeam  TeamBox `json:"awayTeam"`
}

// TeamBox is one team's boxscore side.
type TeamBox struct {
	TeamID     int64        `json:"teamId"`
	Tricode    string       `json:"teamTricode"`
	Score      int          `json:"score"`
	Players    []PlayerLine `json:"players"`
	Statistics TeamTotals   `json:"statistics"`
}

// TeamTotals aggregates the team counting stats the enrichment formulas need.
type TeamTotals struct {
	Minutes             string  `json:"minutes"`
	Points              int     `json:"points"`
	FieldGoalsMade      int     `json:"fieldGoalsMade"`
	FieldGoalsAttempted int     `json:"fieldGoalsAttempted"`
	ThreePointersMade   int     `json:"threePointersMade"`
	FreeThrowsMade      int     `json:"freeThrowsMade"`
	FreeThrowsAttempted int     `json:"freeThrowsAttempted"`
	ReboundsTotal       int     `json:"reboundsTotal"`
	Assists             int     `json:"assists"`
	Steals              int     `json:"steals"`
	Blocks              int     `json:"blocks"`
	Turnovers           int     `json:"turnovers"`
	Pace                float64 `json:"pace"`
	DefensiveRating     float64 `json:"defensiveRating"`
}

// PlayerLine is one player's boxscore row.
type PlayerLine struct {
	PersonID   int64       `json:"personId"`
	Name       string      `json:"name"`
	Status     string      `json:"status"`
	Statistics PlayerStats `json:"statistics"`
}

// Active reports whether the player is dressed and playing.
func (p PlayerLine) Active() bool {
	return strings.EqualFold(p.Status, "ACTIVE")
}

// PlayerStats carries the per-player counting stats.
type PlayerStats struct {
	Minutes             string  `json:"minutes"`
	Points              int     `json:"points"`
	ReboundsTotal       int     `json:"reboundsTotal"`
	Assists             int     `json:"assists"`
	Steals              int     `json:"steals"`
	Blocks              int     `json:"blocks"`
	Turnovers           int     `json:"turnovers"`
	FieldGoalsMade      int     `json:"fieldGoalsMade"`
	FieldGoalsAttempted int     `json:"fieldGoalsAttempted"`
	ThreePointersMade   int     `json:"threePointersMade"`
	FreeThrowsMade      int     `json:"freeThrowsMade"`
	FreeThrowsAttempted int     `json:"freeThrowsAttempted"`
	PlusMinusPoints     float64 `json:"plusMinusPoints"`
	FoulsPersonal       int     `json:"foulsPersonal"`
}

// ParseMinutes converts a feed duration into fractional minutes. The feed
// uses ISO-8601 durations ("PT36M12.00S"); older mirrors use "36:12".
// Unparseable input yields 0.
func ParseMinutes(v string) float64 {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if strings.HasPrefix(v, "PT") {
		return parseISODuration(v) / 60
	}
	if mm, ss, ok := strings.Cut(v, ":"); ok {
		m, err1 := strconv.Atoi(mm)
		s, err2 := strconv.ParseFloat(ss, 64)
		if err1 == nil && err2 == nil {
			return float64(m) + s/60
		}
		return 0
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return 0
}

// ParseClockSeconds converts a game-clock string into seconds remaining in
// the period. Returns ok=false when the clock is absent or unparseable.
func ParseClockSeconds(v string) (float64, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if strings.HasPrefix(v, "PT") {
		return parseISODuration(v), true
	}
	if mm, ss, ok := strings.Cut(v, ":"); ok {
		m, err1 := strconv.Atoi(mm)
		s, err2 := strconv.ParseFloat(ss, 64)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		return float64(m)*60 + s, true
	}
	return 0, false
}

// parseISODuration handles the "PT<min>M<sec>S" subset the feeds emit.
func parseISODuration(v string) float64 {
	rest := strings.TrimPrefix(v, "PT")
	var total float64
	if i := strings.IndexByte(rest, 'M'); i >= 0 {
		if m, err := strconv.ParseFloat(rest[:i], 64); err == nil {
			total += m * 60
		}
		rest = rest[i+1:]
	}
	if i := strings.IndexByte(rest, 'S'); i >= 0 {
		if s, err := strconv.ParseFloat(rest[:i], 64); err == nil {
			total += s
		}
	}
	return total
}
