package sports

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nexus-vanguard/vanguard/internal/netutil"
)

func TestParseMinutes(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"PT36M12.00S", 36.2},
		{"PT00M00.00S", 0},
		{"PT12M", 12},
		{"36:12", 36.2},
		{"0:30", 0.5},
		{"", 0},
		{"garbage", 0},
		{"24.5", 24.5},
	}
	for _, c := range cases {
		got := ParseMinutes(c.in)
		if math.Abs(got-c.want) > 1e-9 {
			t.Errorf("ParseMinutes(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseClockSeconds(t *testing.T) {
	cases := []struct {
		in     string
		want   float64
		wantOK bool
	}{
		{"PT05M32.00S", 332, true},
		{"PT00M09.50S", 9.5, true},
		{"5:32", 332, true},
		{"", 0, false},
		{"garbage", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseClockSeconds(c.in)
		if ok != c.wantOK || math.Abs(got-c.want) > 1e-9 {
			t.Errorf("ParseClockSeconds(%q) = (%v, %v), want (%v, %v)", c.in, got, ok, c.want, c.wantOK)
		}
	}
}

const scoreboardFixture = `{
  "scoreboard": {
    "gameDate": "2026-02-12",
    "games": [
      {
        "gameId": "0022500001",
        "gameStatus": 2,
        "gameStatusText": "Q2 5:32",
        "period": 2,
        "gameClock": "PT05M32.00S",
        "homeTeam": {"teamId": 1610612747, "teamTricode": "LAL", "score": 54},
        "awayTeam": {"teamId": 1610612738, "teamTricode": "BOS", "score": 51}
      },
      {
        "gameId": "0022500002",
        "gameStatus": 1,
        "gameStatusText": "7:00 pm ET",
        "homeTeam": {"teamId": 1610612744, "teamTricode": "GSW", "score": 0},
        "awayTeam": {"teamId": 1610612743, "teamTricode": "DEN", "score": 0}
      }
    ]
  }
}`

const boxscoreFixture = `{
  "game": {
    "gameId": "0022500001",
    "period": 2,
    "gameClock": "PT05M32.00S",
    "homeTeam": {
      "teamId": 1610612747,
      "teamTricode": "LAL",
      "score": 54,
      "players": [
        {
          "personId": 2544,
          "name": "LeBron James",
          "status": "ACTIVE",
          "statistics": {
            "minutes": "PT18M06.00S",
            "points": 17,
            "reboundsTotal": 4,
            "assists": 6,
            "fieldGoalsMade": 7,
            "fieldGoalsAttempted": 12,
            "threePointersMade": 1,
            "freeThrowsMade": 2,
            "freeThrowsAttempted": 2,
            "plusMinusPoints": 8
          }
        },
        {
          "personId": 999,
          "name": "Bench Guy",
          "status": "INACTIVE",
          "statistics": {"minutes": ""}
        }
      ],
      "statistics": {"fieldGoalsAttempted": 45, "freeThrowsAttempted": 12, "turnovers": 7, "pace": 101.3, "defensiveRating": 110.5}
    },
    "awayTeam": {
      "teamId": 1610612738,
      "teamTricode": "BOS",
      "score": 51,
      "players": [],
      "statistics": {"fieldGoalsAttempted": 44, "freeThrowsAttempted": 10, "turnovers": 6, "pace": 99.8, "defensiveRating": 108.2}
    }
  }
}`

func testServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_ScoreboardDecodesFeed(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(scoreboardFixture))
	})
	c := NewClient(Options{ScoreboardURL: srv.URL})

	sb, err := c.Scoreboard(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sb.GameDate != "2026-02-12" || len(sb.Games) != 2 {
		t.Fatalf("unexpected scoreboard: %+v", sb)
	}
	live := sb.Games[0]
	if !live.Live() || live.Final() {
		t.Fatalf("game 0 should be live: %+v", live)
	}
	if live.HomeTeam.Tricode != "LAL" || live.AwayTeam.Score != 51 {
		t.Fatalf("unexpected team lines: %+v", live)
	}
	if sb.Games[1].Live() {
		t.Fatal("scheduled game must not report live")
	}
}

func TestClient_BoxscoreDecodesFeed(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/boxscore_0022500001.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(boxscoreFixture))
	})
	c := NewClient(Options{BoxscoreURL: srv.URL + "/boxscore_%s.json"})

	box, err := c.Boxscore(context.Background(), "0022500001")
	if err != nil {
		t.Fatal(err)
	}
	if box.GameID != "0022500001" || box.HomeTeam.Tricode != "LAL" {
		t.Fatalf("unexpected boxscore: %+v", box)
	}
	if len(box.HomeTeam.Players) != 2 {
		t.Fatalf("expected 2 players, got %d", len(box.HomeTeam.Players))
	}
	lebron := box.HomeTeam.Players[0]
	if !lebron.Active() || lebron.Statistics.Points != 17 {
		t.Fatalf("unexpected player line: %+v", lebron)
	}
	if box.HomeTeam.Players[1].Active() {
		t.Fatal("inactive player must not report active")
	}
	if box.HomeTeam.Statistics.Pace != 101.3 {
		t.Fatalf("team totals lost: %+v", box.HomeTeam.Statistics)
	}
}

func TestClient_RateLimitedCarriesRetryAfter(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "17")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	c := NewClient(Options{ScoreboardURL: srv.URL})

	_, err := c.Scoreboard(context.Background())
	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if rl.RetryAfter != 17*time.Second {
		t.Fatalf("retry after = %s, want 17s", rl.RetryAfter)
	}
}

func TestClient_ServerErrorIsHTTPStatusError(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	c := NewClient(Options{ScoreboardURL: srv.URL})

	_, err := c.Scoreboard(context.Background())
	var se *netutil.HTTPStatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected HTTPStatusError, got %v", err)
	}
	if se.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", se.StatusCode)
	}
}

func TestClient_InjectedFetchBypassesHTTP(t *testing.T) {
	c := NewClient(Options{
		Fetch: func(ctx context.Context, url string, v any) error {
			env, ok := v.(*scoreboardEnvelope)
			if !ok {
				t.Fatalf("unexpected decode target %T", v)
			}
			env.Scoreboard = Scoreboard{GameDate: "2026-02-12"}
			return nil
		},
	})
	sb, err := c.Scoreboard(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sb.GameDate != "2026-02-12" {
		t.Fatalf("injected fetch not used: %+v", sb)
	}
}

func TestIsKnownHost(t *testing.T) {
	cases := []struct {
		target string
		want   bool
	}{
		{"https://cdn.nba.com/static/json/liveData", true},
		{"stats.nba.com:443", true},
		{"nba.com", true},
		{"example.com", false},
		{"notnba.com", false},
	}
	for _, c := range cases {
		if got := IsKnownHost(c.target); got != c.want {
			t.Errorf("IsKnownHost(%q) = %v, want %v", c.target, got, c.want)
		}
	}
}
