package pulse

import (
	"sort"

	"github.com/nexus-vanguard/vanguard/internal/model"
)

// DefaultLeaderCount is the global leaderboard size written each cycle.
const DefaultLeaderCount = 15

// TopLeaders returns the n highest-impact lines, ordered by PIE with
// points and player id as tie-breaks so ordering is stable across
// cycles. The input is not modified.
func TopLeaders(players []model.PlayerPulse, n int) []model.PlayerPulse {
	if n <= 0 {
		n = DefaultLeaderCount
	}
	sorted := make([]model.PlayerPulse, len(players))
	copy(sorted, players)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].PIE != sorted[j].PIE {
			return sorted[i].PIE > sorted[j].PIE
		}
		if sorted[i].Points != sorted[j].Points {
			return sorted[i].Points > sorted[j].Points
		}
		return sorted[i].PlayerID < sorted[j].PlayerID
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
