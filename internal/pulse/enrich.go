package pulse

import (
	"strconv"

	"github.com/nexus-vanguard/vanguard/internal/baseline"
	"github.com/nexus-vanguard/vanguard/internal/model"
	"github.com/nexus-vanguard/vanguard/internal/sports"
)

// League-average anchors for the live formulas.
const (
	leagueAveragePace      = 100.0
	leagueAverageDefRating = 112.0
	leagueAverageTS        = 0.57
)

const (
	// PIE denominator is the combined-game impact total, never below this.
	pieMinDenominator = 10.0

	// Fatigue ramps linearly after 20 minutes, capped at 0.15 by 40.
	fatigueCap         = 0.15
	fatigueFreeMinutes = 20.0
	fatigueRampMinutes = 20.0

	// Matchup tri-thresholds around the league defensive rating.
	eliteDefenseRating = 108.0
	softDefenseRating  = 116.0

	// Heat bands: live TS% this far from the season mark reads hot/cold.
	heatDelta = 0.05
	// Below this many true-shot attempts the heat read is noise.
	heatMinShots = 3.0

	minutesFloor = 1.0
)

// Baseline keys for per-player season marks.
func usageBaselineKey(playerID string) string { return "usage_rate:" + playerID }
func tsBaselineKey(playerID string) string    { return "ts_pct:" + playerID }

// GameContext carries the per-game inputs shared by every enrichment
// within one cycle.
type GameContext struct {
	GameID    string
	Period    int
	ClockSecs float64
	ClockOK   bool
	Margin    int
	Own       sports.TeamTotals
	Opp       sports.TeamTotals
}

// EnrichPlayer computes the full pulse line for one active player.
// baselines may be nil; season-relative fields then read neutral.
func EnrichPlayer(line sports.PlayerLine, tricode string, gc GameContext, baselines *baseline.Store) model.PlayerPulse {
	st := line.Statistics
	minutes := sports.ParseMinutes(st.Minutes)
	playerID := strconv.FormatInt(line.PersonID, 10)

	ts := trueShootingPct(st.Points, st.FieldGoalsAttempted, st.FreeThrowsAttempted)
	pmPerMin := plusMinusPerMin(st.PlusMinusPoints, minutes)
	usage := usageRate(st, gc, minutes)

	p := model.PlayerPulse{
		PlayerID:        playerID,
		Name:            line.Name,
		TeamTricode:     tricode,
		GameID:          gc.GameID,
		Minutes:         minutes,
		Points:          st.Points,
		Rebounds:        st.ReboundsTotal,
		Assists:         st.Assists,
		Steals:          st.Steals,
		Blocks:          st.Blocks,
		Turnovers:       st.Turnovers,
		FGM:             st.FieldGoalsMade,
		FGA:             st.FieldGoalsAttempted,
		ThreePM:         st.ThreePointersMade,
		FTM:             st.FreeThrowsMade,
		FTA:             st.FreeThrowsAttempted,
		PlusMinus:       st.PlusMinusPoints,
		PIE:             pie(st, gc.Own, gc.Opp),
		TrueShootingPct: ts,
		EffectiveFGPct:  effectiveFGPct(st.FieldGoalsMade, st.ThreePointersMade, st.FieldGoalsAttempted),
		PlusMinusPerMin: pmPerMin,
		PlusMinusLabel:  plusMinusLabel(pmPerMin),
		AssistRate:      assistRate(st.Assists, gc.Own.FieldGoalsMade),
		PointsPer36:     per36(float64(st.Points), minutes),
		ReboundsPer36:   per36(float64(st.ReboundsTotal), minutes),
		AssistsPer36:    per36(float64(st.Assists), minutes),
		FatiguePenalty:  fatiguePenalty(minutes),
		UsageRate:       usage,
		UsageVacuum:     usageVacuum(playerID, usage, baselines),
		MatchupBucket:   matchupBucket(gc.Opp.DefensiveRating),
		HeatScale:       heatScale(playerID, ts, st, baselines),
		GarbageTime:     IsGarbageTime(gc.Period, gc.ClockSecs, gc.ClockOK, gc.Margin),
	}
	return p
}

// pieTerms is the impact total used on both sides of the PIE ratio.
func pieTerms(pts, fgm, ftm, fga, fta, reb, ast, stl, blk, tov int) float64 {
	return float64(pts+fgm+ftm-fga-fta+reb+ast+stl-tov) + 0.5*float64(blk)
}

// pie is the player's share of the combined-game impact total. The
// denominator is clamped so early-game lines cannot explode the ratio.
func pie(st sports.PlayerStats, own, opp sports.TeamTotals) float64 {
	num := pieTerms(st.Points, st.FieldGoalsMade, st.FreeThrowsMade,
		st.FieldGoalsAttempted, st.FreeThrowsAttempted,
		st.ReboundsTotal, st.Assists, st.Steals, st.Blocks, st.Turnovers)
	denom := teamPieTerms(own) + teamPieTerms(opp)
	if denom < pieMinDenominator {
		denom = pieMinDenominator
	}
	return num / denom
}

func teamPieTerms(t sports.TeamTotals) float64 {
	return pieTerms(t.Points, t.FieldGoalsMade, t.FreeThrowsMade,
		t.FieldGoalsAttempted, t.FreeThrowsAttempted,
		t.ReboundsTotal, t.Assists, t.Steals, t.Blocks, t.Turnovers)
}

func trueShootingPct(pts, fga, fta int) float64 {
	shots := float64(fga) + 0.44*float64(fta)
	if shots <= 0 {
		return 0
	}
	return float64(pts) / (2 * shots)
}

func effectiveFGPct(fgm, threePM, fga int) float64 {
	if fga <= 0 {
		return 0
	}
	return (float64(fgm) + 0.5*float64(threePM)) / float64(fga)
}

func plusMinusPerMin(pm, minutes float64) float64 {
	if minutes < minutesFloor {
		return 0
	}
	return pm / minutes
}

func plusMinusLabel(perMin float64) string {
	switch {
	case perMin >= 0.3:
		return "dominant"
	case perMin >= 0:
		return "positive"
	case perMin > -0.3:
		return "negative"
	default:
		return "liability"
	}
}

func assistRate(ast, teamFGM int) float64 {
	if teamFGM <= 0 {
		return 0
	}
	return float64(ast) / float64(teamFGM)
}

func per36(stat, minutes float64) float64 {
	if minutes < minutesFloor {
		return 0
	}
	return stat * 36 / minutes
}

func fatiguePenalty(minutes float64) float64 {
	over := minutes - fatigueFreeMinutes
	if over <= 0 {
		return 0
	}
	penalty := fatigueCap * over / fatigueRampMinutes
	if penalty > fatigueCap {
		return fatigueCap
	}
	return penalty
}

// usageRate is the live usage formula: the player's share of team
// possessions used, scaled by team minutes elapsed. Team minutes come
// from the boxscore totals, falling back to the period clock.
func usageRate(st sports.PlayerStats, gc GameContext, minutes float64) float64 {
	if minutes < minutesFloor {
		return 0
	}
	teamPoss := float64(gc.Own.FieldGoalsAttempted) + 0.44*float64(gc.Own.FreeThrowsAttempted) + float64(gc.Own.Turnovers)
	if teamPoss <= 0 {
		return 0
	}
	teamMinutes := sports.ParseMinutes(gc.Own.Minutes)
	if teamMinutes <= 0 {
		teamMinutes = elapsedGameMinutes(gc.Period, gc.ClockSecs, gc.ClockOK) * 5
	}
	if teamMinutes <= 0 {
		return 0
	}
	playerPoss := float64(st.FieldGoalsAttempted) + 0.44*float64(st.FreeThrowsAttempted) + float64(st.Turnovers)
	usage := 100 * playerPoss * (teamMinutes / 5) / (minutes * teamPoss)
	if usage > 100 {
		usage = 100
	}
	return usage
}

// elapsedGameMinutes estimates game minutes played from the period and
// clock. Overtime periods run five minutes.
func elapsedGameMinutes(period int, clockSecs float64, clockOK bool) float64 {
	if period <= 0 {
		return 0
	}
	completed := period - 1
	var elapsed float64
	if completed > 4 {
		elapsed = 4*12 + float64(completed-4)*5
	} else {
		elapsed = float64(completed) * 12
	}
	length := 12.0
	if period > 4 {
		length = 5
	}
	if clockOK {
		remaining := clockSecs / 60
		if remaining > length {
			remaining = length
		}
		elapsed += length - remaining
	} else {
		elapsed += length
	}
	return elapsed
}

func usageVacuum(playerID string, usage float64, baselines *baseline.Store) float64 {
	if baselines == nil || usage == 0 {
		return 0
	}
	base, ok := baselines.Get(usageBaselineKey(playerID))
	if !ok {
		return 0
	}
	return usage - base.Mean
}

func matchupBucket(oppDefRating float64) string {
	switch {
	case oppDefRating <= 0:
		return "average"
	case oppDefRating <= eliteDefenseRating:
		return "elite"
	case oppDefRating >= softDefenseRating:
		return "soft"
	default:
		return "average"
	}
}

// heatScale compares live TS% with the player's season mark. Thin shot
// samples read steady regardless.
func heatScale(playerID string, liveTS float64, st sports.PlayerStats, baselines *baseline.Store) string {
	shots := float64(st.FieldGoalsAttempted) + 0.44*float64(st.FreeThrowsAttempted)
	if shots < heatMinShots {
		return "steady"
	}
	season := leagueAverageTS
	if baselines != nil {
		if base, ok := baselines.Get(tsBaselineKey(playerID)); ok && base.Mean > 0 {
			season = base.Mean
		}
	}
	switch {
	case liveTS >= season+heatDelta:
		return "hot"
	case liveTS <= season-heatDelta:
		return "cold"
	default:
		return "steady"
	}
}

// IsGarbageTime reports a decided late game: a 20-point margin inside
// the last six minutes of the fourth, or a 30-point margin anywhere in
// the fourth or later.
func IsGarbageTime(period int, clockSecs float64, clockOK bool, margin int) bool {
	if period < 4 {
		return false
	}
	if margin >= 30 {
		return true
	}
	return clockOK && clockSecs <= 360 && margin >= 20
}

// PhaseFor classifies the game state. Clutch outranks everything; a
// garbage-time read outranks the plain blowout band.
func PhaseFor(period, margin int, garbage bool) model.GamePhase {
	switch {
	case period >= 4 && margin <= 5:
		return model.PhaseClutch
	case garbage:
		return model.PhaseGarbage
	case margin >= 20:
		return model.PhaseBlowout
	default:
		return model.PhaseNormal
	}
}

// PaceMultiplier relates the game's average team pace to the league
// anchor. Missing pace data reads neutral.
func PaceMultiplier(home, away sports.TeamTotals) float64 {
	var sum float64
	var n int
	if home.Pace > 0 {
		sum += home.Pace
		n++
	}
	if away.Pace > 0 {
		sum += away.Pace
		n++
	}
	if n == 0 {
		return 1
	}
	return sum / float64(n) / leagueAveragePace
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
