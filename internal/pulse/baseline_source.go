package pulse

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/nexus-vanguard/vanguard/internal/baseline"
	"github.com/nexus-vanguard/vanguard/internal/docstore"
	"github.com/nexus-vanguard/vanguard/internal/sports"
)

const (
	// Archive lookback for one season-baseline refresh.
	baselineSampleDays = 14

	// Lines under this many minutes are too thin to anchor a season mark.
	baselineMinMinutes = 8.0
)

// SeasonSampleSource reads the archived final boxscores for the last
// baselineSampleDays and flattens them into per-player usage-rate and
// true-shooting sample sets, keyed the same way the enricher looks
// baselines up. Days with no archive contribute nothing; the source
// fails only when no day could be listed at all.
func SeasonSampleSource(repo docstore.LiveRepo, days int) baseline.SampleSource {
	if days <= 0 {
		days = baselineSampleDays
	}
	return func(ctx context.Context) (map[string][]float64, error) {
		samples := make(map[string][]float64)
		var firstErr error
		listed := 0
		for i := 0; i < days; i++ {
			date := time.Now().UTC().AddDate(0, 0, -i).Format("2006-01-02")
			logs, err := repo.ListGameLogs(ctx, date)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			listed++
			for _, payload := range logs {
				var box sports.Boxscore
				if err := json.Unmarshal(payload, &box); err != nil {
					continue
				}
				collectGameSamples(samples, box)
			}
		}
		if listed == 0 && firstErr != nil {
			return nil, firstErr
		}
		return samples, nil
	}
}

// collectGameSamples appends one final game's per-player samples, walking
// both sides so each line sees its own and opposing team totals.
func collectGameSamples(samples map[string][]float64, box sports.Boxscore) {
	sides := [...]struct{ own, opp sports.TeamBox }{
		{box.HomeTeam, box.AwayTeam},
		{box.AwayTeam, box.HomeTeam},
	}
	for _, side := range sides {
		gc := GameContext{
			GameID: box.GameID,
			Period: box.Period,
			Own:    side.own.Statistics,
			Opp:    side.opp.Statistics,
		}
		for _, line := range side.own.Players {
			st := line.Statistics
			minutes := sports.ParseMinutes(st.Minutes)
			if minutes < baselineMinMinutes {
				continue
			}
			playerID := strconv.FormatInt(line.PersonID, 10)
			if usage := usageRate(st, gc, minutes); usage > 0 {
				key := usageBaselineKey(playerID)
				samples[key] = append(samples[key], usage)
			}
			shots := float64(st.FieldGoalsAttempted) + 0.44*float64(st.FreeThrowsAttempted)
			if shots >= heatMinShots {
				key := tsBaselineKey(playerID)
				samples[key] = append(samples[key], trueShootingPct(st.Points, st.FieldGoalsAttempted, st.FreeThrowsAttempted))
			}
		}
	}
}
