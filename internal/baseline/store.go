// Package baseline maintains season-level metric distributions used for
// z-score anomaly detection and usage-vacuum comparisons.
package baseline

import (
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/nexus-vanguard/vanguard/internal/model"
)

// DefaultTTL is how long a computed baseline stays valid.
const DefaultTTL = 24 * time.Hour

// Store holds computed baselines keyed by metric name. Expired entries are
// treated as missing and reaped by Sweep.
type Store struct {
	mu      sync.RWMutex
	metrics map[string]model.BaselineMetric
	ttl     time.Duration
}

// NewStore creates a Store with the given TTL; ttl <= 0 uses DefaultTTL.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		metrics: make(map[string]model.BaselineMetric),
		ttl:     ttl,
	}
}

// Compute derives a BaselineMetric from raw samples and stores it.
// Returns false when samples is empty.
func (s *Store) Compute(name string, samples []float64) (model.BaselineMetric, bool) {
	if len(samples) == 0 {
		return model.BaselineMetric{}, false
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	m := model.BaselineMetric{
		Name:        name,
		Mean:        stat.Mean(sorted, nil),
		P50:         stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P95:         stat.Quantile(0.95, stat.Empirical, sorted, nil),
		SampleCount: len(sorted),
		ExpiresAtNs: time.Now().Add(s.ttl).UnixNano(),
	}
	if len(sorted) > 1 {
		m.Std = stat.StdDev(sorted, nil)
	}

	s.mu.Lock()
	s.metrics[name] = m
	s.mu.Unlock()
	return m, true
}

// Put stores a precomputed baseline, stamping expiry if unset.
func (s *Store) Put(m model.BaselineMetric) {
	if m.ExpiresAtNs == 0 {
		m.ExpiresAtNs = time.Now().Add(s.ttl).UnixNano()
	}
	s.mu.Lock()
	s.metrics[m.Name] = m
	s.mu.Unlock()
}

// Get returns the unexpired baseline for name.
func (s *Store) Get(name string) (model.BaselineMetric, bool) {
	s.mu.RLock()
	m, ok := s.metrics[name]
	s.mu.RUnlock()
	if !ok || m.ExpiresAtNs < time.Now().UnixNano() {
		return model.BaselineMetric{}, false
	}
	return m, true
}

// ZScore returns how many standard deviations value sits from the baseline
// mean. Returns 0, false when no usable baseline exists (missing, expired,
// or zero variance).
func (s *Store) ZScore(name string, value float64) (float64, bool) {
	m, ok := s.Get(name)
	if !ok || m.Std <= 0 {
		return 0, false
	}
	return (value - m.Mean) / m.Std, true
}

// Anomalous reports whether value deviates more than threshold standard
// deviations from the baseline.
func (s *Store) Anomalous(name string, value, threshold float64) bool {
	z, ok := s.ZScore(name, value)
	return ok && math.Abs(z) > threshold
}

// Sweep removes expired baselines and returns how many were dropped.
func (s *Store) Sweep() int {
	now := time.Now().UnixNano()
	s.mu.Lock()
	defer s.mu.Unlock()
	dropped := 0
	for name, m := range s.metrics {
		if m.ExpiresAtNs < now {
			delete(s.metrics, name)
			dropped++
		}
	}
	return dropped
}

// Size returns the number of stored baselines, expired included.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.metrics)
}

// Snapshot returns a copy of all unexpired baselines.
func (s *Store) Snapshot() map[string]model.BaselineMetric {
	now := time.Now().UnixNano()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.BaselineMetric, len(s.metrics))
	for name, m := range s.metrics {
		if m.ExpiresAtNs >= now {
			out[name] = m
		}
	}
	return out
}
