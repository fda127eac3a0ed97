package vanguard

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nexus-vanguard/vanguard/internal/model"
)

// --- verdict validation ---

func TestParseVerdict_Valid(t *testing.T) {
	raw := `Here is my analysis:
{"root_cause": "pace_factor missing from baseline doc", "impact": "medium",
 "recommended_fix": ["backfill pace_factor in internal/docstore/repo_live.go"],
 "ready_to_resolve": false, "confidence": 82}`
	a, err := parseVerdict(raw)
	if err != nil {
		t.Fatalf("parseVerdict: %v", err)
	}
	if a.RootCause == "" || a.Confidence != 82 || a.Impact != "medium" {
		t.Fatalf("verdict: %+v", a)
	}
	if a.ReadyToResolve {
		t.Fatal("ready_to_resolve should be false")
	}
}

func TestParseVerdict_FencedJSON(t *testing.T) {
	raw := "```json\n{\"root_cause\": \"x\", \"impact\": \"low\", \"recommended_fix\": [], \"ready_to_resolve\": true, \"confidence\": 90}\n```"
	a, err := parseVerdict(raw)
	if err != nil {
		t.Fatalf("parseVerdict: %v", err)
	}
	if !a.ReadyToResolve || a.Confidence != 90 {
		t.Fatalf("verdict: %+v", a)
	}
}

func TestParseVerdict_Rejections(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"no json", "the incident looks bad"},
		{"unknown field", `{"root_cause": "x", "confidence": 50, "hallucinated": true}`},
		{"empty root cause", `{"root_cause": "  ", "confidence": 50}`},
		{"confidence too high", `{"root_cause": "x", "confidence": 150}`},
		{"confidence negative", `{"root_cause": "x", "confidence": -1}`},
		{"bad impact", `{"root_cause": "x", "confidence": 50, "impact": "catastrophic"}`},
		{"wrong type", `{"root_cause": 42, "confidence": 50}`},
	}
	for _, c := range cases {
		if _, err := parseVerdict(c.raw); err == nil {
			t.Errorf("%s: expected rejection", c.name)
		}
	}
}

// --- prompt assembly ---

func TestAssembleTriagePrompt_BoundsExcerpts(t *testing.T) {
	inc := model.Incident{
		Fingerprint:  "fp-prompt",
		Endpoint:     "/simulation/montecarlo",
		ErrorType:    "KeyError",
		ErrorMessage: "'pace_factor'",
		Severity:     model.SeverityRed,
		Traceback:    "internal/pulse/enrich.go:131 enrichPlayer\n",
		Labels:       map[string]string{"subsystem": "simulation"},
	}
	big := SourceExcerpt{Path: "internal/pulse/enrich.go", Text: strings.Repeat("x", maxPromptBytes)}
	small := SourceExcerpt{Path: "internal/api/handlers_simulation.go", Text: "   1  package api\n"}

	system, prompt := assembleTriagePrompt(inc, []SourceExcerpt{small, big}, []string{"fix pace handling"})
	if !strings.Contains(system, "single JSON object") {
		t.Fatal("system prompt missing response contract")
	}
	if !strings.Contains(prompt, "/simulation/montecarlo") || !strings.Contains(prompt, "KeyError") {
		t.Fatal("prompt missing incident fields")
	}
	if !strings.Contains(prompt, "fix pace handling") {
		t.Fatal("prompt missing commit summary")
	}
	if !strings.Contains(prompt, "handlers_simulation.go") {
		t.Fatal("prompt missing the small excerpt")
	}
	if len(prompt) > maxPromptBytes {
		t.Fatalf("prompt size %d exceeds budget %d", len(prompt), maxPromptBytes)
	}
	if strings.Contains(prompt, strings.Repeat("x", 100)) {
		t.Fatal("oversized excerpt should have been dropped")
	}
}

func TestExcerpts_NumbersAndTruncates(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "internal", "api")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	var b strings.Builder
	for i := 0; i < maxExcerptLines+50; i++ {
		b.WriteString("line\n")
	}
	if err := os.WriteFile(filepath.Join(sub, "handlers_live.go"), []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	llm := NewTriageLLM(LLMOptions{
		SourceRoot: dir,
		Complete: func(context.Context, string, string) (string, error) {
			return "", errors.New("unused")
		},
	})
	got := llm.Excerpts([]string{"internal/api/handlers_live.go", "internal/api/missing.go"})
	if len(got) != 1 {
		t.Fatalf("excerpts: got %d, want 1 (missing files skipped)", len(got))
	}
	if !strings.Contains(got[0].Text, "   1  line") {
		t.Fatalf("first line not numbered:\n%s", got[0].Text[:60])
	}
	lines := strings.Count(got[0].Text, "\n")
	if lines > maxExcerptLines {
		t.Fatalf("excerpt lines: got %d, want <= %d", lines, maxExcerptLines)
	}
}

// --- breaker behavior ---

func TestTriageLLM_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	llm := NewTriageLLM(LLMOptions{
		Timeout: time.Second,
		Complete: func(context.Context, string, string) (string, error) {
			calls++
			return "", errors.New("upstream 500")
		},
	})
	inc := model.Incident{Fingerprint: "fp-breaker", Endpoint: "/live/games", ErrorType: "Unavailable"}

	for i := 0; i < breakerOpenAfter; i++ {
		if _, err := llm.Analyze(context.Background(), inc, nil); err == nil {
			t.Fatal("expected failure")
		}
	}
	if llm.Available() {
		t.Fatal("breaker should be open")
	}

	_, err := llm.Analyze(context.Background(), inc, nil)
	if !errors.Is(err, ErrLLMUnavailable) {
		t.Fatalf("open breaker error: got %v, want ErrLLMUnavailable", err)
	}
	if calls != breakerOpenAfter {
		t.Fatalf("transport calls: got %d, want %d (open breaker must not dial)", calls, breakerOpenAfter)
	}
}

func TestTriageLLM_ValidResponseRoundTrip(t *testing.T) {
	llm := NewTriageLLM(LLMOptions{
		ModelID: "claude-sonnet-4-5",
		Timeout: time.Second,
		Complete: func(_ context.Context, system, prompt string) (string, error) {
			if !strings.Contains(prompt, "fp-ok") {
				t.Errorf("prompt missing fingerprint: %q", prompt[:80])
			}
			return `{"root_cause": "stale roster cache", "impact": "low", "recommended_fix": ["invalidate on trade"], "ready_to_resolve": false, "confidence": 77}`, nil
		},
	})
	a, err := llm.Analyze(context.Background(), model.Incident{Fingerprint: "fp-ok", Endpoint: "/teams/roster"}, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if a.ModelID != "claude-sonnet-4-5" || a.PromptVersion != llmPromptVersion {
		t.Fatalf("identity: %s/%s", a.ModelID, a.PromptVersion)
	}
	if a.Confidence != 77 || a.RootCause != "stale roster cache" {
		t.Fatalf("verdict: %+v", a)
	}
}
