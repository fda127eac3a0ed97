package sports

import (
	"fmt"
	"time"
)

// SeasonFor labels the season containing t, in the league's "2025-26"
// form. The new season starts in October; earlier months belong to the
// season that opened the prior fall.
func SeasonFor(t time.Time) string {
	y := t.Year()
	if t.Month() < time.October {
		y--
	}
	return fmt.Sprintf("%d-%02d", y, (y+1)%100)
}
