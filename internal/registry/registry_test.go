package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nexus-vanguard/vanguard/internal/model"
)

func validEndpoint(path string) model.EndpointConfig {
	return model.EndpointConfig{
		Path:             path,
		Category:         model.CategoryData,
		Complexity:       3,
		BaseTimeoutMs:    800,
		AdaptiveBufferMs: 200,
		Priority:         model.PriorityMedium,
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := New()
	if err := r.Register(validEndpoint("/players/search")); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := r.Register(validEndpoint("/players/search")); err == nil {
		t.Fatal("duplicate register succeeded, want error")
	}
	if r.Size() != 1 {
		t.Fatalf("size = %d, want 1", r.Size())
	}
}

func TestRegisterValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*model.EndpointConfig)
	}{
		{"empty path", func(c *model.EndpointConfig) { c.Path = "" }},
		{"relative path", func(c *model.EndpointConfig) { c.Path = "players" }},
		{"bad category", func(c *model.EndpointConfig) { c.Category = "nonsense" }},
		{"bad priority", func(c *model.EndpointConfig) { c.Priority = "urgent" }},
		{"complexity low", func(c *model.EndpointConfig) { c.Complexity = 0 }},
		{"complexity high", func(c *model.EndpointConfig) { c.Complexity = 11 }},
		{"protected fallback", func(c *model.EndpointConfig) { c.FallbackPath = "/healthz" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := New()
			cfg := validEndpoint("/x")
			tc.mutate(&cfg)
			if err := r.Register(cfg); err == nil {
				t.Fatalf("register accepted invalid config %+v", cfg)
			}
		})
	}
}

func TestGetLongestPrefixMatch(t *testing.T) {
	r := New()
	for _, p := range []string{"/matchup", "/matchup/analyze", "/players"} {
		if err := r.Register(validEndpoint(p)); err != nil {
			t.Fatalf("register %s: %v", p, err)
		}
	}

	cfg, ok := r.Get("/matchup/analyze")
	if !ok || cfg.Path != "/matchup/analyze" {
		t.Fatalf("exact lookup returned %q ok=%v", cfg.Path, ok)
	}

	cfg, ok = r.Get("/matchup/analyze/123e4567")
	if !ok || cfg.Path != "/matchup/analyze" {
		t.Fatalf("prefix lookup returned %q ok=%v, want /matchup/analyze", cfg.Path, ok)
	}

	cfg, ok = r.Get("/matchup/h2h")
	if !ok || cfg.Path != "/matchup" {
		t.Fatalf("prefix lookup returned %q ok=%v, want /matchup", cfg.Path, ok)
	}

	if _, ok := r.Get("/unknown/route"); ok {
		t.Fatal("lookup of unregistered path succeeded")
	}
}

func TestSummaryGroupsByCategoryAndPriority(t *testing.T) {
	r := New()
	a := validEndpoint("/a")
	a.Category = model.CategoryCore
	a.Priority = model.PriorityCritical
	b := validEndpoint("/b")
	b.Category = model.CategoryCore
	c := validEndpoint("/c")
	for _, cfg := range []model.EndpointConfig{a, b, c} {
		if err := r.Register(cfg); err != nil {
			t.Fatalf("register %s: %v", cfg.Path, err)
		}
	}

	s := r.Summary()
	if s.Total != 3 {
		t.Fatalf("total = %d, want 3", s.Total)
	}
	if s.ByCategory[model.CategoryCore] != 2 {
		t.Fatalf("core count = %d, want 2", s.ByCategory[model.CategoryCore])
	}
	if s.ByCategory[model.CategoryData] != 1 {
		t.Fatalf("data count = %d, want 1", s.ByCategory[model.CategoryData])
	}
	if s.ByPriority[model.PriorityMedium] != 2 {
		t.Fatalf("medium count = %d, want 2", s.ByPriority[model.PriorityMedium])
	}
	if len(s.Endpoints) != 3 || s.Endpoints[0].Path != "/a" {
		t.Fatalf("endpoints not sorted: %+v", s.Endpoints)
	}
}

func TestBlastRadiusProtected(t *testing.T) {
	cases := []struct {
		key  string
		want bool
	}{
		{"/healthz", true},
		{"/health/deps", true},
		{"/readyz", true},
		{"/vanguard/admin/mode", true},
		{"/api/admin/flush", true},
		{"/Vanguard/Admin/Incidents", true},
		{"/players/search", false},
		{"/live/games", false},
		{"gemini_triage_path", false},
	}
	for _, tc := range cases {
		if got := BlastRadiusProtected(tc.key); got != tc.want {
			t.Errorf("BlastRadiusProtected(%q) = %v, want %v", tc.key, got, tc.want)
		}
	}
}

func TestLimitAdvisoryLifecycle(t *testing.T) {
	r := New()
	r.SetLimitAdvisory("/matchup/analyze", 0.5)
	f, ok := r.LimitAdvisory("/matchup/analyze")
	if !ok || f != 0.5 {
		t.Fatalf("advisory = %v ok=%v, want 0.5 true", f, ok)
	}

	r.ClearLimitAdvisory("/matchup/analyze")
	if _, ok := r.LimitAdvisory("/matchup/analyze"); ok {
		t.Fatal("advisory survived clear")
	}

	// Out-of-range fractions clear instead of storing.
	r.SetLimitAdvisory("/x", 1.5)
	if _, ok := r.LimitAdvisory("/x"); ok {
		t.Fatal("out-of-range advisory stored")
	}
}

func TestLoadCatalogEmbeddedDefault(t *testing.T) {
	r := New()
	n, err := r.LoadCatalog("")
	if err != nil {
		t.Fatalf("load embedded catalog: %v", err)
	}
	if n == 0 || r.Size() != n {
		t.Fatalf("loaded %d endpoints, registry size %d", n, r.Size())
	}
	if _, ok := r.Get("/matchup/analyze"); !ok {
		t.Fatal("embedded catalog missing /matchup/analyze")
	}
}

func TestLoadCatalogFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	body := `endpoints:
  - path: /custom/one
    category: data
    complexity: 1
    base_timeout_ms: 500
    adaptive_buffer_ms: 100
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	r := New()
	n, err := r.LoadCatalog(path)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if n != 1 {
		t.Fatalf("loaded %d, want 1", n)
	}
	cfg, ok := r.Get("/custom/one")
	if !ok {
		t.Fatal("custom endpoint not registered")
	}
	if cfg.Priority != model.PriorityMedium {
		t.Fatalf("default priority = %q, want medium", cfg.Priority)
	}
}
