package vanguard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"

	"github.com/nexus-vanguard/vanguard/internal/model"
)

const (
	llmPromptVersion = "triage-prompt-v2"
	llmMaxTokens     = 1024

	// Prompt context bounds.
	maxExcerptFiles   = 6
	maxExcerptLines   = 150
	maxPromptBytes    = 40_000
	maxCommitLines    = 10
	maxCommitLineLen  = 200
	breakerOpenAfter  = 3
	breakerResetAfter = 60 * time.Second
)

// ErrLLMUnavailable wraps breaker rejections so callers can tell an open
// circuit from a bad verdict.
var ErrLLMUnavailable = errors.New("llm triage unavailable")

// CompleteFunc produces the raw model response for a triage prompt.
// Tests inject one to bypass the network.
type CompleteFunc func(ctx context.Context, system, prompt string) (string, error)

// SourceExcerpt is one numbered file excerpt included in the prompt.
type SourceExcerpt struct {
	Path string
	Text string
}

// TriageLLM drives the primary triage path: prompt assembly, the
// Anthropic call behind a circuit breaker and a wall-clock timeout, and
// strict verdict validation.
type TriageLLM struct {
	modelID  string
	timeout  time.Duration
	root     string
	breaker  *gobreaker.CircuitBreaker
	complete CompleteFunc
	recent   func(context.Context) []string
}

// LLMOptions configures the triage client.
type LLMOptions struct {
	APIKey  string
	ModelID string
	Timeout time.Duration
	// SourceRoot anchors excerpt loading; empty means the working dir.
	SourceRoot string
	// RecentChanges supplies commit summaries for the prompt; optional.
	RecentChanges func(context.Context) []string
	// Complete overrides the Anthropic transport; optional.
	Complete CompleteFunc
}

// NewTriageLLM builds the client. The breaker opens after three
// consecutive failures and probes again after a minute.
func NewTriageLLM(opts LLMOptions) *TriageLLM {
	t := &TriageLLM{
		modelID: opts.ModelID,
		timeout: opts.Timeout,
		root:    opts.SourceRoot,
		recent:  opts.RecentChanges,
	}
	if t.modelID == "" {
		t.modelID = "claude-sonnet-4-5"
	}
	if t.timeout <= 0 {
		t.timeout = 20 * time.Second
	}
	t.complete = opts.Complete
	if t.complete == nil {
		client := anthropic.NewClient(option.WithAPIKey(opts.APIKey))
		t.complete = func(ctx context.Context, system, prompt string) (string, error) {
			msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
				Model:     anthropic.Model(t.modelID),
				MaxTokens: llmMaxTokens,
				System:    []anthropic.TextBlockParam{{Text: system}},
				Messages: []anthropic.MessageParam{
					anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
				},
			})
			if err != nil {
				return "", err
			}
			var sb strings.Builder
			for _, block := range msg.Content {
				if block.Type == "text" {
					sb.WriteString(block.Text)
				}
			}
			return sb.String(), nil
		}
	}
	t.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "anthropic-triage",
		MaxRequests: 1,
		Timeout:     breakerResetAfter,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= breakerOpenAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[vanguard] breaker %s: %s -> %s", name, from, to)
		},
	})
	return t
}

// Available reports whether the breaker would admit a request.
func (t *TriageLLM) Available() bool {
	return t.breaker.State() != gobreaker.StateOpen
}

// Analyze runs the primary triage path for one incident. Breaker
// rejections surface as ErrLLMUnavailable; invalid verdicts are plain
// errors. Either way the caller falls back to the heuristic for this
// incident only.
func (t *TriageLLM) Analyze(ctx context.Context, inc model.Incident, excerpts []SourceExcerpt) (model.IncidentAnalysis, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var commits []string
	if t.recent != nil {
		commits = t.recent(ctx)
	}
	system, prompt := assembleTriagePrompt(inc, excerpts, commits)

	out, err := t.breaker.Execute(func() (interface{}, error) {
		return t.complete(ctx, system, prompt)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return model.IncidentAnalysis{}, fmt.Errorf("%w: %v", ErrLLMUnavailable, err)
		}
		return model.IncidentAnalysis{}, fmt.Errorf("llm triage: %w", err)
	}

	a, err := parseVerdict(out.(string))
	if err != nil {
		return model.IncidentAnalysis{}, err
	}
	a.ModelID = t.modelID
	a.PromptVersion = llmPromptVersion
	return a, nil
}

// Excerpts loads numbered source excerpts for the given repo-relative
// files, bounded to six files of 150 lines each. Missing files are
// skipped.
func (t *TriageLLM) Excerpts(files []string) []SourceExcerpt {
	var out []SourceExcerpt
	for _, rel := range files {
		if len(out) >= maxExcerptFiles {
			break
		}
		raw, err := os.ReadFile(filepath.Join(t.root, filepath.FromSlash(rel)))
		if err != nil {
			continue
		}
		lines := strings.Split(string(raw), "\n")
		if len(lines) > maxExcerptLines {
			lines = lines[:maxExcerptLines]
		}
		var sb strings.Builder
		for i, line := range lines {
			fmt.Fprintf(&sb, "%4d  %s\n", i+1, line)
		}
		out = append(out, SourceExcerpt{Path: rel, Text: sb.String()})
	}
	return out
}

const triageSystemPrompt = `You are a production incident triage engine for a sports analytics service.
Ground every claim in the supplied incident fields, source excerpts, and commit summaries.
Never invent file names, line numbers, or functions that are not shown to you.
If the evidence is thin, say so and lower your confidence.
Respond with a single JSON object and nothing else, using exactly these keys:
{"root_cause": string, "impact": "low"|"medium"|"high", "recommended_fix": [string, ...], "ready_to_resolve": bool, "confidence": number 0-100}`

// assembleTriagePrompt builds the bounded prompt. Excerpts are appended
// until the byte budget runs out; the incident fields always fit.
func assembleTriagePrompt(inc model.Incident, excerpts []SourceExcerpt, commits []string) (system, prompt string) {
	var b bytes.Buffer
	fmt.Fprintf(&b, "Incident %s\n", inc.Fingerprint)
	fmt.Fprintf(&b, "endpoint: %s\nerror_type: %s\nseverity: %s\noccurrences: %d\n",
		inc.Endpoint, inc.ErrorType, inc.Severity, inc.OccurrenceCount)
	fmt.Fprintf(&b, "message: %s\n", inc.ErrorMessage)
	if inc.Traceback != "" {
		fmt.Fprintf(&b, "stack (innermost first):\n%s\n", inc.Traceback)
	}
	for k, v := range inc.Labels {
		fmt.Fprintf(&b, "label %s: %s\n", k, v)
	}

	if len(commits) > maxCommitLines {
		commits = commits[:maxCommitLines]
	}
	if len(commits) > 0 {
		b.WriteString("\nRecent changes:\n")
		for _, c := range commits {
			if len(c) > maxCommitLineLen {
				c = c[:maxCommitLineLen]
			}
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}

	for _, ex := range excerpts {
		header := fmt.Sprintf("\n--- %s ---\n", ex.Path)
		if b.Len()+len(header)+len(ex.Text) > maxPromptBytes {
			break
		}
		b.WriteString(header)
		b.WriteString(ex.Text)
	}
	return triageSystemPrompt, b.String()
}

// llmVerdict is the strict response schema. Unknown fields reject the
// payload.
type llmVerdict struct {
	RootCause      string   `json:"root_cause"`
	Impact         string   `json:"impact"`
	RecommendedFix []string `json:"recommended_fix"`
	ReadyToResolve bool     `json:"ready_to_resolve"`
	Confidence     float64  `json:"confidence"`
}

// parseVerdict extracts and validates the JSON verdict from the raw
// model response.
func parseVerdict(raw string) (model.IncidentAnalysis, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return model.IncidentAnalysis{}, fmt.Errorf("llm verdict: no JSON object in response")
	}
	dec := json.NewDecoder(strings.NewReader(raw[start : end+1]))
	dec.DisallowUnknownFields()
	var v llmVerdict
	if err := dec.Decode(&v); err != nil {
		return model.IncidentAnalysis{}, fmt.Errorf("llm verdict: %w", err)
	}
	if strings.TrimSpace(v.RootCause) == "" {
		return model.IncidentAnalysis{}, fmt.Errorf("llm verdict: empty root_cause")
	}
	if v.Confidence < 0 || v.Confidence > 100 {
		return model.IncidentAnalysis{}, fmt.Errorf("llm verdict: confidence %v out of range", v.Confidence)
	}
	switch v.Impact {
	case "", "low", "medium", "high":
	default:
		return model.IncidentAnalysis{}, fmt.Errorf("llm verdict: invalid impact %q", v.Impact)
	}
	return model.IncidentAnalysis{
		RootCause:      v.RootCause,
		Impact:         v.Impact,
		RecommendedFix: v.RecommendedFix,
		ReadyToResolve: v.ReadyToResolve,
		Confidence:     v.Confidence,
	}, nil
}
