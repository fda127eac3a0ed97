// Package service implements the control plane behind the HTTP API.
// Handlers call its methods; business logic lives here, not in handlers.
package service

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexus-vanguard/vanguard/internal/auditlog"
	"github.com/nexus-vanguard/vanguard/internal/baseline"
	"github.com/nexus-vanguard/vanguard/internal/buildinfo"
	"github.com/nexus-vanguard/vanguard/internal/config"
	"github.com/nexus-vanguard/vanguard/internal/docstore"
	"github.com/nexus-vanguard/vanguard/internal/geoip"
	"github.com/nexus-vanguard/vanguard/internal/health"
	"github.com/nexus-vanguard/vanguard/internal/idempotency"
	"github.com/nexus-vanguard/vanguard/internal/metrics"
	"github.com/nexus-vanguard/vanguard/internal/model"
	"github.com/nexus-vanguard/vanguard/internal/pulse"
	"github.com/nexus-vanguard/vanguard/internal/registry"
	"github.com/nexus-vanguard/vanguard/internal/router"
	"github.com/nexus-vanguard/vanguard/internal/taskq"
	"github.com/nexus-vanguard/vanguard/internal/vanguard"
)

// SystemInfo contains version and runtime information.
type SystemInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	BuildTime string    `json:"build_time"`
	StartedAt time.Time `json:"started_at"`
}

// NewSystemInfo builds a SystemInfo from link-time build metadata.
func NewSystemInfo(startedAt time.Time) SystemInfo {
	return SystemInfo{
		Version:   buildinfo.Version,
		GitCommit: buildinfo.GitCommit,
		BuildTime: buildinfo.BuildTime,
		StartedAt: startedAt,
	}
}

// ControlPlane provides all control plane and data plane operations.
// Handlers call its methods; business logic lives here, not in handlers.
// Producer, Queue, Idem and GeoIP may be nil when the feature is disabled.
type ControlPlane struct {
	Engine     *vanguard.Engine
	Store      docstore.Store
	Gate       *health.Gate
	Registry   *registry.Registry
	Advisor    *router.Advisor
	Racer      *router.Racer
	Producer   *pulse.Producer
	Queue      *taskq.Queue
	Audit      *auditlog.Writer
	Baselines  *baseline.Store
	History    *metrics.ScoreHistory
	Errors     *metrics.ErrorRing
	Requests   *metrics.Collector
	Idem       *idempotency.Store
	GeoIP      *geoip.Service
	RuntimeCfg *atomic.Pointer[config.RuntimeConfig]
	EnvCfg     *config.EnvConfig
	Info       SystemInfo

	configMu      sync.Mutex
	configVersion int
}

// Config returns the current runtime config. Falls back to defaults when no
// pointer was wired.
func (s *ControlPlane) Config() *config.RuntimeConfig {
	if s.RuntimeCfg != nil {
		if cfg := s.RuntimeCfg.Load(); cfg != nil {
			return cfg
		}
	}
	return config.NewDefaultRuntimeConfig()
}

// pulseSnapshot returns the latest producer snapshot, or a zero snapshot when
// the pulse loop is disabled.
func (s *ControlPlane) pulseSnapshot() model.LivePulseSnapshot {
	if s.Producer == nil {
		return model.LivePulseSnapshot{}
	}
	return s.Producer.Snapshot()
}

// trackedPlayers flattens the snapshot into a deduplicated player list:
// global leaders first, then per-game leaders not already present.
func trackedPlayers(snap model.LivePulseSnapshot) []model.PlayerPulse {
	seen := make(map[string]bool, len(snap.Leaders))
	out := make([]model.PlayerPulse, 0, len(snap.Leaders))
	for _, p := range snap.Leaders {
		if p.PlayerID == "" || seen[p.PlayerID] {
			continue
		}
		seen[p.PlayerID] = true
		out = append(out, p)
	}
	for _, g := range snap.Games {
		for _, p := range g.Leaders {
			if p.PlayerID == "" || seen[p.PlayerID] {
				continue
			}
			seen[p.PlayerID] = true
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Points > out[j].Points })
	return out
}

var tricodePattern = regexp.MustCompile(`^[A-Za-z]{3}$`)

// NormalizeTricode validates a three-letter team code and upper-cases it.
func NormalizeTricode(team string) (string, bool) {
	team = strings.TrimSpace(team)
	if !tricodePattern.MatchString(team) {
		return "", false
	}
	return strings.ToUpper(team), true
}

// PairKey returns the canonical head-to-head document key for two teams.
// Order-insensitive: PairKey("MIA","BOS") == PairKey("BOS","MIA").
func PairKey(teamA, teamB string) string {
	a := strings.ToUpper(strings.TrimSpace(teamA))
	b := strings.ToUpper(strings.TrimSpace(teamB))
	if b < a {
		a, b = b, a
	}
	return a + "_" + b
}
