// Package registry holds the static endpoint catalog and its lookup rules.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/nexus-vanguard/vanguard/internal/model"
)

// blastRadiusPrefixes are path prefixes that remediation and routing may
// never redirect. Health probes and admin surfaces must stay reachable even
// when the engine is degrading everything else.
var blastRadiusPrefixes = []string{
	"/health",
	"/healthz",
	"/readyz",
	"/vanguard/admin",
	"/api/admin",
}

// BlastRadiusProtected reports whether key names a protected surface.
// Matches both URL paths and path-like route keys.
func BlastRadiusProtected(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	for _, p := range blastRadiusPrefixes {
		if strings.HasPrefix(k, p) {
			return true
		}
	}
	return false
}

// Registry is the static endpoint catalog. Entries are immutable after
// registration; lookups for unregistered paths fall back to longest-prefix
// matching against the registered set.
type Registry struct {
	entries *xsync.Map[string, model.EndpointConfig]

	mu    sync.Mutex
	paths []string // kept sorted longest-first for prefix matching

	// advisories holds per-path reduced rate-limit fractions set by
	// remediation. Consumed by the limiter on its next config refresh.
	advisories *xsync.Map[string, float64]
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries:    xsync.NewMap[string, model.EndpointConfig](),
		advisories: xsync.NewMap[string, float64](),
	}
}

// Register adds an endpoint to the catalog. Duplicates are rejected, as is
// any endpoint that declares a protected path as its fallback target.
func (r *Registry) Register(cfg model.EndpointConfig) error {
	path := strings.TrimSpace(cfg.Path)
	if path == "" || !strings.HasPrefix(path, "/") {
		return fmt.Errorf("registry: invalid path %q", cfg.Path)
	}
	if !model.ValidCategory(cfg.Category) {
		return fmt.Errorf("registry: %s: unknown category %q", path, cfg.Category)
	}
	if !model.ValidPriority(cfg.Priority) {
		return fmt.Errorf("registry: %s: unknown priority %q", path, cfg.Priority)
	}
	if cfg.Complexity < 1 || cfg.Complexity > 10 {
		return fmt.Errorf("registry: %s: complexity must be in [1,10], got %d", path, cfg.Complexity)
	}
	if cfg.FallbackPath != "" && BlastRadiusProtected(cfg.FallbackPath) {
		return fmt.Errorf("registry: %s: fallback path %q is blast-radius protected", path, cfg.FallbackPath)
	}
	if BlastRadiusProtected(path) && cfg.FallbackPath != "" {
		return fmt.Errorf("registry: protected path %q may not be fallback-routable", path)
	}
	cfg.Path = path

	if _, loaded := r.entries.LoadOrStore(path, cfg); loaded {
		return fmt.Errorf("registry: duplicate endpoint %q", path)
	}

	r.mu.Lock()
	r.paths = append(r.paths, path)
	sort.Slice(r.paths, func(i, j int) bool {
		if len(r.paths[i]) != len(r.paths[j]) {
			return len(r.paths[i]) > len(r.paths[j])
		}
		return r.paths[i] < r.paths[j]
	})
	r.mu.Unlock()
	return nil
}

// Get returns the config for path. On an exact miss it returns the entry
// with the longest registered prefix of path, if any.
func (r *Registry) Get(path string) (model.EndpointConfig, bool) {
	if cfg, ok := r.entries.Load(path); ok {
		return cfg, true
	}

	r.mu.Lock()
	paths := r.paths
	r.mu.Unlock()

	for _, p := range paths {
		if strings.HasPrefix(path, p) {
			if cfg, ok := r.entries.Load(p); ok {
				return cfg, true
			}
		}
	}
	return model.EndpointConfig{}, false
}

// Size returns the number of registered endpoints.
func (r *Registry) Size() int {
	return r.entries.Size()
}

// Range iterates over all registered endpoints.
func (r *Registry) Range(fn func(cfg model.EndpointConfig) bool) {
	r.entries.Range(func(_ string, cfg model.EndpointConfig) bool {
		return fn(cfg)
	})
}

// Summary groups registered endpoints by category and priority.
type Summary struct {
	Total      int                    `json:"total"`
	ByCategory map[model.Category]int `json:"by_category"`
	ByPriority map[model.Priority]int `json:"by_priority"`
	Endpoints  []model.EndpointConfig `json:"endpoints"`
	Advisories map[string]float64     `json:"advisories,omitempty"`
}

// Summary returns grouped counts over the catalog.
func (r *Registry) Summary() Summary {
	out := Summary{
		ByCategory: make(map[model.Category]int),
		ByPriority: make(map[model.Priority]int),
	}
	r.entries.Range(func(_ string, cfg model.EndpointConfig) bool {
		out.Total++
		out.ByCategory[cfg.Category]++
		out.ByPriority[cfg.Priority]++
		out.Endpoints = append(out.Endpoints, cfg)
		return true
	})
	sort.Slice(out.Endpoints, func(i, j int) bool {
		return out.Endpoints[i].Path < out.Endpoints[j].Path
	})
	adv := r.AdvisorySnapshot()
	if len(adv) > 0 {
		out.Advisories = adv
	}
	return out
}

// SetLimitAdvisory records a reduced rate-limit fraction for path.
// fraction is the multiplier applied to the endpoint's bucket limit.
func (r *Registry) SetLimitAdvisory(path string, fraction float64) {
	if fraction <= 0 || fraction >= 1 {
		r.advisories.Delete(path)
		return
	}
	r.advisories.Store(path, fraction)
}

// ClearLimitAdvisory removes the advisory for path.
func (r *Registry) ClearLimitAdvisory(path string) {
	r.advisories.Delete(path)
}

// LimitAdvisory returns the reduced-limit fraction for path, if set.
func (r *Registry) LimitAdvisory(path string) (float64, bool) {
	return r.advisories.Load(path)
}

// AdvisorySnapshot returns a copy of all active limit advisories.
func (r *Registry) AdvisorySnapshot() map[string]float64 {
	out := make(map[string]float64)
	r.advisories.Range(func(path string, f float64) bool {
		out[path] = f
		return true
	})
	return out
}
