// Package health aggregates per-service health records with cooldowns into
// a system-wide status snapshot.
package health

import (
	"math"
	"sync"
	"time"

	"github.com/nexus-vanguard/vanguard/internal/baseline"
)

// ServiceType classifies a tracked service.
type ServiceType string

const (
	TypeCore      ServiceType = "core"
	TypeExternal  ServiceType = "external"
	TypeComponent ServiceType = "component"
)

// Status is the per-service health state.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
	StatusDown     Status = "down"
	StatusCooldown Status = "cooldown"
)

// SystemStatus is the aggregate over all services.
type SystemStatus string

const (
	SystemHealthy  SystemStatus = "healthy"
	SystemDegraded SystemStatus = "degraded"
	SystemCritical SystemStatus = "critical"
	SystemDown     SystemStatus = "down"
)

// ServiceHealth is the externally visible health record for one service.
type ServiceHealth struct {
	Name            string      `json:"name"`
	ServiceType     ServiceType `json:"service_type"`
	Status          Status      `json:"status"`
	LastCheckNs     int64       `json:"last_check_ns"`
	ErrorCount      int         `json:"error_count"`
	LastError       string      `json:"last_error,omitempty"`
	CooldownUntilNs int64       `json:"cooldown_until_ns,omitempty"`
	ResponseTimeMs  float64     `json:"response_time_ms,omitempty"`
	RTTAnomaly      bool        `json:"rtt_anomaly,omitempty"`
}

// SystemHealth is the aggregate snapshot rebuilt by CheckAll.
type SystemHealth struct {
	Status        SystemStatus             `json:"status"`
	Services      map[string]ServiceHealth `json:"services"`
	DownCount     int                      `json:"down_count"`
	CooldownCount int                      `json:"cooldown_count"`
	DegradedCount int                      `json:"degraded_count"`
	CoreDown      bool                     `json:"core_down"`
	CheckedAtNs   int64                    `json:"checked_at_ns"`
}

const defaultRTTDecay = 5 * time.Minute

// Gate tracks per-service health. All state is guarded by one mutex; no
// caller observes a partially updated record.
type Gate struct {
	mu        sync.Mutex
	services  map[string]*ServiceHealth
	baselines *baseline.Store
	rttDecay  time.Duration

	rttUpdatedAt map[string]time.Time
}

// NewGate creates a Gate. baselines may be nil; when present, recorded
// response times are checked against the "rtt_ms:{service}" baseline.
func NewGate(baselines *baseline.Store) *Gate {
	return &Gate{
		services:     make(map[string]*ServiceHealth),
		baselines:    baselines,
		rttDecay:     defaultRTTDecay,
		rttUpdatedAt: make(map[string]time.Time),
	}
}

// Ensure registers a service with the given type if not already tracked.
func (g *Gate) Ensure(name string, st ServiceType) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureLocked(name, st)
}

func (g *Gate) ensureLocked(name string, st ServiceType) *ServiceHealth {
	if sh, ok := g.services[name]; ok {
		return sh
	}
	sh := &ServiceHealth{
		Name:        name,
		ServiceType: st,
		Status:      StatusHealthy,
		LastCheckNs: time.Now().UnixNano(),
	}
	g.services[name] = sh
	return sh
}

// statusForCount maps an error count onto a status. Used when no cooldown
// is masking the count-derived state.
func statusForCount(ec int) Status {
	switch {
	case ec >= 5:
		return StatusDown
	case ec >= 3:
		return StatusDegraded
	}
	return StatusHealthy
}

// expireCooldownLocked clears an elapsed cooldown and restores the
// count-derived status.
func (g *Gate) expireCooldownLocked(sh *ServiceHealth, now time.Time) {
	if sh.CooldownUntilNs != 0 && now.UnixNano() >= sh.CooldownUntilNs {
		sh.CooldownUntilNs = 0
		if sh.Status == StatusCooldown {
			sh.Status = statusForCount(sh.ErrorCount)
		}
	}
}

// RecordSuccess notes a successful call with its round-trip time. The error
// count decrements by one per call; at zero the status returns to healthy.
func (g *Gate) RecordSuccess(name string, rtt time.Duration) {
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()

	sh := g.ensureLocked(name, TypeComponent)
	g.expireCooldownLocked(sh, now)
	sh.LastCheckNs = now.UnixNano()

	if sh.ErrorCount > 0 {
		sh.ErrorCount--
	}
	if sh.Status != StatusCooldown {
		switch {
		case sh.ErrorCount == 0:
			sh.Status = StatusHealthy
		case sh.Status == StatusDown && sh.ErrorCount < 5:
			sh.Status = StatusDegraded
		}
	}

	if rtt > 0 {
		g.updateRTTLocked(sh, rtt, now)
	}
}

// updateRTTLocked folds rtt into the service EWMA using time-decayed
// weighting: weight = exp(-dt/decay). First observation seeds the EWMA.
func (g *Gate) updateRTTLocked(sh *ServiceHealth, rtt time.Duration, now time.Time) {
	ms := float64(rtt) / float64(time.Millisecond)
	last, seen := g.rttUpdatedAt[sh.Name]
	if !seen || sh.ResponseTimeMs == 0 {
		sh.ResponseTimeMs = ms
	} else {
		dt := now.Sub(last).Seconds()
		decay := g.rttDecay.Seconds()
		if decay <= 0 {
			decay = 1
		}
		weight := math.Exp(-dt / decay)
		sh.ResponseTimeMs = sh.ResponseTimeMs*weight + ms*(1-weight)
	}
	g.rttUpdatedAt[sh.Name] = now

	if g.baselines != nil {
		sh.RTTAnomaly = g.baselines.Anomalous("rtt_ms:"+sh.Name, sh.ResponseTimeMs, 3.0)
	}
}

// RecordError notes a failed call. Three accumulated errors degrade the
// service; five mark it down.
func (g *Gate) RecordError(name, msg string) {
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()

	sh := g.ensureLocked(name, TypeComponent)
	g.expireCooldownLocked(sh, now)
	sh.LastCheckNs = now.UnixNano()
	sh.ErrorCount++
	sh.LastError = msg

	if sh.Status != StatusCooldown {
		switch {
		case sh.ErrorCount >= 5:
			sh.Status = StatusDown
		case sh.ErrorCount >= 3:
			sh.Status = StatusDegraded
		}
	}
}

// EnterCooldown places the service in cooldown until now+d.
func (g *Gate) EnterCooldown(name string, d time.Duration) {
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()

	sh := g.ensureLocked(name, TypeComponent)
	sh.Status = StatusCooldown
	sh.CooldownUntilNs = now.Add(d).UnixNano()
	sh.LastCheckNs = now.UnixNano()
}

// ExitCooldown clears the cooldown and restores the count-derived status.
func (g *Gate) ExitCooldown(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	sh, ok := g.services[name]
	if !ok {
		return
	}
	sh.CooldownUntilNs = 0
	if sh.Status == StatusCooldown {
		sh.Status = statusForCount(sh.ErrorCount)
	}
}

// RecordRateLimit is the combined operation for a 429-class response:
// enter cooldown for retryAfter and count the error.
func (g *Gate) RecordRateLimit(name string, retryAfter time.Duration) {
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()

	sh := g.ensureLocked(name, TypeComponent)
	sh.ErrorCount++
	sh.LastError = "rate limited"
	sh.Status = StatusCooldown
	sh.CooldownUntilNs = now.Add(retryAfter).UnixNano()
	sh.LastCheckNs = now.UnixNano()
}

// IsInCooldown reports whether the service is cooling down, expiring the
// cooldown first when its deadline has passed.
func (g *Gate) IsInCooldown(name string) bool {
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()

	sh, ok := g.services[name]
	if !ok {
		return false
	}
	g.expireCooldownLocked(sh, now)
	return sh.Status == StatusCooldown || sh.CooldownUntilNs > now.UnixNano()
}

// IsAvailable reports whether the service can take traffic: not down, not
// cooling down.
func (g *Gate) IsAvailable(name string) bool {
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()

	sh, ok := g.services[name]
	if !ok {
		return true
	}
	g.expireCooldownLocked(sh, now)
	if sh.Status == StatusDown || sh.Status == StatusCooldown {
		return false
	}
	return sh.CooldownUntilNs <= now.UnixNano()
}

// Service returns a copy of one service's health record.
func (g *Gate) Service(name string) (ServiceHealth, bool) {
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()

	sh, ok := g.services[name]
	if !ok {
		return ServiceHealth{}, false
	}
	g.expireCooldownLocked(sh, now)
	return *sh, true
}

// CheckAll atomically rebuilds the SystemHealth snapshot. Elapsed
// cooldowns expire as part of the rebuild. The aggregate rules, most
// severe first: more than half down is down; any down or three cooldowns
// is critical; any degraded or cooling is degraded.
func (g *Gate) CheckAll() SystemHealth {
	now := time.Now()
	g.mu.Lock()
	defer g.mu.Unlock()

	out := SystemHealth{
		Services:    make(map[string]ServiceHealth, len(g.services)),
		CheckedAtNs: now.UnixNano(),
	}
	for name, sh := range g.services {
		g.expireCooldownLocked(sh, now)
		out.Services[name] = *sh
		switch sh.Status {
		case StatusDown:
			out.DownCount++
			if sh.ServiceType == TypeCore {
				out.CoreDown = true
			}
		case StatusCooldown:
			out.CooldownCount++
		case StatusDegraded:
			out.DegradedCount++
		}
	}

	total := len(out.Services)
	switch {
	case total == 0:
		out.Status = SystemHealthy
	case out.DownCount*2 > total:
		out.Status = SystemDown
	case out.DownCount > 0 || out.CooldownCount >= 3:
		out.Status = SystemCritical
	case out.DegradedCount > 0 || out.CooldownCount > 0:
		out.Status = SystemDegraded
	default:
		out.Status = SystemHealthy
	}
	return out
}
