package sports

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/nexus-vanguard/vanguard/internal/netutil"
)

// Default feed locations. Overridable for mirrors and tests.
const (
	DefaultScoreboardURL = "https://cdn.nba.com/static/json/liveData/scoreboard/todaysScoreboard_00.json"
	DefaultBoxscoreURL   = "https://cdn.nba.com/static/json/liveData/boxscore/boxscore_%s.json"
)

// KnownHosts are the provider hostnames. Connection failures against these
// are classified as live-data outages rather than generic network errors.
var KnownHosts = []string{"nba.com", "stats.nba.com", "cdn.nba.com"}

// IsKnownHost reports whether target points at the live-data provider.
func IsKnownHost(target string) bool {
	return netutil.MatchesAnyHost(target, KnownHosts)
}

// RateLimitedError is returned on provider 429s, carrying the advertised
// backoff so the health gate can open a cooldown of the right length.
type RateLimitedError struct {
	URL        string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("sports: rate limited by %s (retry after %s)", e.URL, e.RetryAfter)
}

// FetchFunc fetches url and decodes the JSON body into v.
type FetchFunc func(ctx context.Context, url string, v any) error

// Client fetches scoreboard and boxscore feeds with a politeness limiter
// shared across all calls.
type Client struct {
	httpc         *http.Client
	scoreboardURL string
	boxscoreURL   string
	limiter       *rate.Limiter
	fetch         FetchFunc
}

// Options configures a Client. Zero values select the public CDN endpoints
// and a conservative request rate.
type Options struct {
	HTTPClient    *http.Client
	ScoreboardURL string
	BoxscoreURL   string
	// RequestsPerSecond caps outbound calls to the provider. The boxscore
	// fan-out must finish inside one pulse cycle, so keep this above
	// liveGames/cycleSeconds.
	RequestsPerSecond float64
	Burst             int
	// Fetch replaces the HTTP fetch entirely (tests, fixtures).
	Fetch FetchFunc
}

// NewClient builds a feed client.
func NewClient(opts Options) *Client {
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 10 * time.Second}
	}
	scoreboardURL := opts.ScoreboardURL
	if scoreboardURL == "" {
		scoreboardURL = DefaultScoreboardURL
	}
	boxscoreURL := opts.BoxscoreURL
	if boxscoreURL == "" {
		boxscoreURL = DefaultBoxscoreURL
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 8
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 16
	}
	return &Client{
		httpc:         httpc,
		scoreboardURL: scoreboardURL,
		boxscoreURL:   boxscoreURL,
		limiter:       rate.NewLimiter(rate.Limit(rps), burst),
		fetch:         opts.Fetch,
	}
}

// Scoreboard fetches the current day's scoreboard.
func (c *Client) Scoreboard(ctx context.Context) (Scoreboard, error) {
	var env scoreboardEnvelope
	if err := c.getJSON(ctx, c.scoreboardURL, &env); err != nil {
		return Scoreboard{}, err
	}
	return env.Scoreboard, nil
}

// Boxscore fetches the full boxscore for one game.
func (c *Client) Boxscore(ctx context.Context, gameID string) (Boxscore, error) {
	var env boxscoreEnvelope
	if err := c.getJSON(ctx, fmt.Sprintf(c.boxscoreURL, gameID), &env); err != nil {
		return Boxscore{}, err
	}
	if env.Game.GameID == "" {
		env.Game.GameID = gameID
	}
	return env.Game, nil
}

func (c *Client) getJSON(ctx context.Context, url string, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if c.fetch != nil {
		return c.fetch(ctx, url, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("sports: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("sports: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitedError{URL: url, RetryAfter: retryAfter(resp)}
	case resp.StatusCode != http.StatusOK:
		return &netutil.HTTPStatusError{StatusCode: resp.StatusCode, URL: url}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("sports: decode %s: %w", url, err)
	}
	return nil
}

const defaultRetryAfter = 30 * time.Second

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultRetryAfter
}
