package vanguard

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-vanguard/vanguard/internal/model"
)

// SourceMap relates route prefixes to the source files that implement
// them. Longest prefix wins, matching the registry's lookup rule.
type SourceMap map[string][]string

// FilesFor returns the files mapped to the endpoint's longest matching
// prefix.
func (m SourceMap) FilesFor(endpoint string) []string {
	best := ""
	for prefix := range m {
		if strings.HasPrefix(endpoint, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return nil
	}
	return m[best]
}

// DefaultSourceMap covers the served route families.
func DefaultSourceMap() SourceMap {
	return SourceMap{
		"/players":    {"internal/api/handlers_players.go", "internal/sports/client.go"},
		"/teams":      {"internal/api/handlers_players.go"},
		"/matchup":    {"internal/api/handlers_matchup.go"},
		"/api/h2h":    {"internal/api/handlers_matchup.go", "internal/docstore/repo_live.go"},
		"/simulation": {"internal/api/handlers_simulation.go", "internal/router/shadowrace.go"},
		"/enrichment": {"internal/api/handlers_simulation.go"},
		"/live":       {"internal/api/handlers_live.go", "internal/pulse/producer.go"},
		"/external":   {"internal/api/handlers_matchup.go"},
		"/vanguard":   {"internal/api/handlers_admin.go"},
	}
}

// Root-cause buckets by error type.
var errorTypeBuckets = map[string]string{
	"KeyError":            "schema_drift",
	"ValueError":          "input_validation",
	"TypeError":           "type_mismatch",
	"FailedPrecondition":  "missing_index",
	"DeadlineExceeded":    "upstream_timeout",
	"Unavailable":         "dependency_outage",
	"ConnectionError":     "dependency_outage",
	"ConnectionReset":     "dependency_outage",
	"ImportError":         "missing_dependency",
	"ModuleNotFoundError": "missing_dependency",
	"PermissionDenied":    "iam_or_acl",
	"MemoryError":         "resource_exhaustion",
	"RecursionError":      "infinite_loop",
	"AssertionError":      "runtime_assertion",
	"ZeroDivisionError":   "arithmetic",
	"panic":               "runtime_panic",
}

var statusBuckets = map[int]string{
	429: "rate_pressure",
	500: "internal_error",
	502: "dependency_outage",
	503: "dependency_outage",
	504: "upstream_timeout",
}

const bucketUnknown = "unknown"

// Buckets whose fixes historically regress hardest.
var highRiskBuckets = map[string]bool{
	"infinite_loop":     true,
	"iam_or_acl":        true,
	"runtime_assertion": true,
}

// bucketFor maps an error type, then an HTTP status, onto a root-cause
// bucket.
func bucketFor(errType string, status int) string {
	if b, ok := errorTypeBuckets[errType]; ok {
		return b
	}
	if b, ok := statusBuckets[status]; ok {
		return b
	}
	return bucketUnknown
}

// Candidate confidence bands by origin.
const (
	candidateStackBase = 0.9
	candidateStackStep = 0.05
	candidateStackMin  = 0.5
	candidateAIConf    = 0.6
	candidateMapConf   = 0.4
	maxFixCandidates   = 5
)

// VaccinePlanner derives structured remediation proposals for active
// incidents. Plans never execute anything; they are advisory documents
// that always require human approval.
type VaccinePlanner struct {
	roots     []string
	sourceMap SourceMap
}

// NewVaccinePlanner builds a planner constrained to the allowed-edit
// roots.
func NewVaccinePlanner(roots []string, sources SourceMap) *VaccinePlanner {
	if sources == nil {
		sources = DefaultSourceMap()
	}
	return &VaccinePlanner{roots: roots, sourceMap: sources}
}

// Plan computes the vaccine plan for one incident.
func (p *VaccinePlanner) Plan(inc model.Incident) model.VaccinePlan {
	bucket := bucketFor(inc.ErrorType, statusFromContext(inc))
	candidates := p.fixCandidates(inc)

	plan := model.VaccinePlan{
		ID:                    uuid.NewString(),
		Fingerprint:           inc.Fingerprint,
		Bucket:                bucket,
		FixCandidates:         candidates,
		VerificationPlan:      p.verificationPlan(inc),
		RollbackPlan:          rollbackPlan(candidates),
		RiskScore:             riskScore(inc, bucket, candidates),
		RequiresHumanApproval: true,
		Status:                "proposed",
		CreatedAtNs:           time.Now().UnixNano(),
	}
	return plan
}

func statusFromContext(inc model.Incident) int {
	if inc.ContextVector == nil {
		return 0
	}
	n, _ := strconv.Atoi(inc.ContextVector["status"])
	return n
}

// fixCandidates ranks up to five files: stack user frames innermost
// first, then files referenced by the AI analysis, then the endpoint's
// source map. Paths outside the allowed roots are rejected.
func (p *VaccinePlanner) fixCandidates(inc model.Incident) []model.FixCandidate {
	var out []model.FixCandidate
	seen := make(map[string]bool)

	add := func(path string, conf float64, origin string) {
		if len(out) >= maxFixCandidates || path == "" || seen[path] {
			return
		}
		if !p.underRoots(path) {
			return
		}
		seen[path] = true
		out = append(out, model.FixCandidate{Path: path, Confidence: conf, Origin: origin})
	}

	conf := candidateStackBase
	for _, ref := range tracebackFiles(inc.Traceback) {
		add(ref, conf, "stacktrace")
		if conf > candidateStackMin {
			conf -= candidateStackStep
		}
	}
	if inc.AIAnalysis != nil {
		for _, path := range codeReferences(inc.AIAnalysis.RecommendedFix) {
			add(path, candidateAIConf, "ai_analysis")
		}
	}
	for _, path := range p.sourceMap.FilesFor(inc.Endpoint) {
		add(path, candidateMapConf, "endpoint_map")
	}
	return out
}

// tracebackFiles extracts the file paths from a stored traceback, one
// "file:line function" frame per line, innermost first.
func tracebackFiles(tb string) []string {
	var files []string
	for _, line := range strings.Split(tb, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if i := strings.IndexByte(line, ' '); i > 0 {
			line = line[:i]
		}
		if i := strings.LastIndexByte(line, ':'); i > 0 {
			line = line[:i]
		}
		files = append(files, line)
	}
	return files
}

// codeReferences pulls .go paths out of free-text fix recommendations.
func codeReferences(fixes []string) []string {
	var refs []string
	for _, fix := range fixes {
		for _, word := range strings.Fields(fix) {
			word = strings.Trim(word, ".,;:()`'\"")
			if strings.HasSuffix(word, ".go") && strings.ContainsRune(word, '/') {
				refs = append(refs, word)
			}
		}
	}
	return refs
}

func (p *VaccinePlanner) underRoots(path string) bool {
	if strings.Contains(path, "..") {
		return false
	}
	for _, root := range p.roots {
		if strings.HasPrefix(path, root) {
			return true
		}
	}
	return false
}

var subsystemSmokes = map[string]string{
	"simulation": "replay /simulation/montecarlo with a pinned seed and diff the summary",
	"live":       "confirm a pulse cycle completes and update_count advances",
	"matchup":    "fetch a known head-to-head pair and compare against the stored document",
	"enrichment": "recompute archetypes for one roster and spot-check the labels",
}

func (p *VaccinePlanner) verificationPlan(inc model.Incident) []string {
	plan := []string{
		"go build ./... and go vet ./... on the patched tree",
		fmt.Sprintf("smoke request against %s expecting a non-5xx response", inc.Endpoint),
		"go test ./internal/... regression pass",
	}
	if smoke, ok := subsystemSmokes[inc.Labels["subsystem"]]; ok {
		plan = append(plan, smoke)
	}
	return plan
}

func rollbackPlan(candidates []model.FixCandidate) []string {
	files := make([]string, 0, len(candidates))
	for _, c := range candidates {
		files = append(files, c.Path)
	}
	sort.Strings(files)
	target := "the touched files"
	if len(files) > 0 {
		target = strings.Join(files, " ")
	}
	return []string{
		"inspect the staged diff before anything lands",
		"git restore --staged --worktree " + target,
		"redeploy the previous build if the patch already shipped",
	}
}

// riskScore starts at 0.3 and accumulates: +0.2 for RED severity, up to
// +0.4 for low candidate confidence, +0.15 for an unknown bucket, +0.20
// for high-risk buckets, +0.15 when core files are implicated. Clamped
// to 1.0.
func riskScore(inc model.Incident, bucket string, candidates []model.FixCandidate) float64 {
	risk := 0.3
	if inc.Severity == model.SeverityRed {
		risk += 0.2
	}
	var avg float64
	for _, c := range candidates {
		avg += c.Confidence
	}
	if len(candidates) > 0 {
		avg /= float64(len(candidates))
	}
	if d := 0.4 - avg; d > 0 {
		risk += d
	}
	if bucket == bucketUnknown {
		risk += 0.15
	}
	if highRiskBuckets[bucket] {
		risk += 0.20
	}
	if coreFilesImplicated(candidates) {
		risk += 0.15
	}
	if risk > 1 {
		risk = 1
	}
	return risk
}

func coreFilesImplicated(candidates []model.FixCandidate) bool {
	for _, c := range candidates {
		if strings.HasPrefix(c.Path, "cmd/") || strings.Contains(c.Path, "/config/") {
			return true
		}
	}
	return false
}
