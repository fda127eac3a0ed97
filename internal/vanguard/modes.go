package vanguard

import (
	"log"
	"sync"
	"time"

	"github.com/nexus-vanguard/vanguard/internal/config"
)

const modeTransitionHistory = 32

// ModeTransition records one mode change.
type ModeTransition struct {
	From   config.OperatingMode `json:"from"`
	To     config.OperatingMode `json:"to"`
	Reason string               `json:"reason"`
	AtNs   int64                `json:"at_ns"`
}

// ModeEngine holds the operating mode. SILENT_OBSERVER and
// CIRCUIT_BREAKER move freely through Set; FULL_SOVEREIGN is reachable
// only through the promotion gate, which calls promote after its checks
// pass.
type ModeEngine struct {
	mu          sync.RWMutex
	mode        config.OperatingMode
	changedAtNs int64
	history     []ModeTransition
}

// NewModeEngine starts in the given mode, falling back to
// SILENT_OBSERVER for invalid input.
func NewModeEngine(initial config.OperatingMode) *ModeEngine {
	if !initial.IsValid() {
		initial = config.ModeSilentObserver
	}
	return &ModeEngine{mode: initial, changedAtNs: time.Now().UnixNano()}
}

// Mode returns the current operating mode.
func (m *ModeEngine) Mode() config.OperatingMode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// ChangedAtNs returns when the current mode was entered.
func (m *ModeEngine) ChangedAtNs() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.changedAtNs
}

// Set transitions to SILENT_OBSERVER or CIRCUIT_BREAKER. It refuses
// invalid modes and direct jumps to FULL_SOVEREIGN, and reports whether
// a transition happened.
func (m *ModeEngine) Set(to config.OperatingMode, reason string) bool {
	if !to.IsValid() {
		log.Printf("[vanguard] ignoring transition to invalid mode %q", to)
		return false
	}
	if to == config.ModeFullSovereign {
		log.Printf("[vanguard] refusing direct transition to %s; promotion gates required", to)
		return false
	}
	return m.transition(to, reason)
}

// promote is the promotion gate's entry into FULL_SOVEREIGN.
func (m *ModeEngine) promote(reason string) bool {
	return m.transition(config.ModeFullSovereign, reason)
}

func (m *ModeEngine) transition(to config.OperatingMode, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode == to {
		return false
	}
	from := m.mode
	now := time.Now().UnixNano()
	m.mode = to
	m.changedAtNs = now
	m.history = append(m.history, ModeTransition{From: from, To: to, Reason: reason, AtNs: now})
	if len(m.history) > modeTransitionHistory {
		m.history = m.history[len(m.history)-modeTransitionHistory:]
	}
	log.Printf("[vanguard] WARNING: mode %s -> %s: %s", from, to, reason)
	return true
}

// Transitions returns the recorded transitions, oldest first.
func (m *ModeEngine) Transitions() []ModeTransition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ModeTransition, len(m.history))
	copy(out, m.history)
	return out
}
