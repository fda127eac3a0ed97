package model

// IncidentStatus is the lifecycle state of an incident record.
type IncidentStatus string

const (
	IncidentActive   IncidentStatus = "active"
	IncidentResolved IncidentStatus = "resolved"
)

// Severity bands an incident by blast radius.
type Severity string

const (
	SeverityGreen  Severity = "GREEN"
	SeverityYellow Severity = "YELLOW"
	SeverityAmber  Severity = "AMBER"
	SeverityRed    Severity = "RED"
)

// Incident is the deduplicated failure record, keyed by fingerprint.
// Occurrences of the same fingerprint increment occurrence_count and update
// last_seen; they never create a second record.
type Incident struct {
	Fingerprint       string             `json:"fingerprint"`
	Endpoint          string             `json:"endpoint"`
	ErrorType         string             `json:"error_type"`
	ErrorMessage      string             `json:"error_message"`
	Traceback         string             `json:"traceback,omitempty"`
	RequestID         string             `json:"request_id"`
	Severity          Severity           `json:"severity"`
	Status            IncidentStatus     `json:"status"`
	OccurrenceCount   int64              `json:"occurrence_count"`
	FirstSeenNs       int64              `json:"first_seen_ns"`
	LastSeenNs        int64              `json:"last_seen_ns"`
	ResolvedAtNs      int64              `json:"resolved_at_ns,omitempty"`
	ResolutionSummary string             `json:"resolution_summary,omitempty"`
	ContextVector     map[string]string  `json:"context_vector,omitempty"`
	Labels            map[string]string  `json:"labels,omitempty"`
	GeoCountry        string             `json:"geo_country,omitempty"`
	AIAnalysis        *IncidentAnalysis  `json:"ai_analysis,omitempty"`
	RemediationLog    []RemediationEntry `json:"remediation_log,omitempty"`
}

// IncidentAnalysis is the triage verdict for one fingerprint, produced by
// the LLM path or the heuristic engine.
type IncidentAnalysis struct {
	RootCause      string   `json:"root_cause"`
	Impact         string   `json:"impact"`
	RecommendedFix []string `json:"recommended_fix"`
	ReadyToResolve bool     `json:"ready_to_resolve"`
	Confidence     float64  `json:"confidence"` // [0,100]
	ModelID        string   `json:"model_id"`
	PromptVersion  string   `json:"prompt_version"`
	TriageSource   string   `json:"triage_source,omitempty"` // primary, fallback
	CreatedAtNs    int64    `json:"created_at_ns"`
	ExpiresAtNs    int64    `json:"expires_at_ns"`
}

// RemediationEntry records one surgeon decision on an incident.
type RemediationEntry struct {
	Action      string  `json:"action"` // LOG_ONLY, MONITOR, RATE_LIMIT, QUARANTINE
	Reason      string  `json:"reason"`
	Confidence  float64 `json:"confidence"`
	Mode        string  `json:"mode"`
	TimestampNs int64   `json:"timestamp_ns"`
}

// FixCandidate is one ranked file in a vaccine plan.
type FixCandidate struct {
	Path       string  `json:"path"`
	Confidence float64 `json:"confidence"` // [0,1]
	Origin     string  `json:"origin"`     // stacktrace, ai_analysis, endpoint_map
}

// VaccinePlan is a structured remediation proposal for one incident.
// Plans always require human approval before any action is taken.
type VaccinePlan struct {
	ID                    string         `json:"id"`
	Fingerprint           string         `json:"fingerprint"`
	Bucket                string         `json:"bucket"`
	FixCandidates         []FixCandidate `json:"fix_candidates"`
	VerificationPlan      []string       `json:"verification_plan"`
	RollbackPlan          []string       `json:"rollback_plan"`
	RiskScore             float64        `json:"risk_score"` // [0,1]
	RequiresHumanApproval bool           `json:"requires_human_approval"`
	Status                string         `json:"status"` // proposed, approved, rejected
	CreatedAtNs           int64          `json:"created_at_ns"`
}

// LearningEvent is one append-only entry in the resolution learning corpus.
type LearningEvent struct {
	ID          int64  `json:"id"`
	Fingerprint string `json:"fingerprint"`
	EventType   string `json:"event_type"` // resolved, unresolved, bulk_resolved
	PayloadJSON string `json:"payload_json"`
	CreatedAtNs int64  `json:"created_at_ns"`
}

// AuditEntry is one incident occurrence row, written by the queued audit
// writer and queried per fingerprint.
type AuditEntry struct {
	ID          int64    `json:"id,omitempty"`
	Fingerprint string   `json:"fingerprint"`
	Endpoint    string   `json:"endpoint"`
	ErrorType   string   `json:"error_type"`
	RequestID   string   `json:"request_id"`
	Severity    Severity `json:"severity"`
	CreatedAtNs int64    `json:"created_at_ns"`
}
