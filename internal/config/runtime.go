package config

import "time"

// RateLimitBucketConfig holds the limit and window for one limiter bucket.
type RateLimitBucketConfig struct {
	Limit  int      `json:"limit"`
	Window Duration `json:"window"`
}

// RuntimeConfig holds all hot-updatable global settings.
// Served via GET /vanguard/admin/config and patched via PATCH.
type RuntimeConfig struct {
	// Outbound identity
	UserAgent string `json:"user_agent"`

	// Rate limiter
	RateLimitDefault RateLimitBucketConfig `json:"rate_limit_default"`
	RateLimitAdmin   RateLimitBucketConfig `json:"rate_limit_admin"`

	// Idempotency
	IdempotencyTTL            Duration `json:"idempotency_ttl"`
	IdempotencyFailedCooldown Duration `json:"idempotency_failed_cooldown"`
	IdempotencyBodyLimitBytes int      `json:"idempotency_body_limit_bytes"`

	// Router
	RouterDefaultBaseTimeout    Duration `json:"router_default_base_timeout"`
	RouterDefaultAdaptiveBuffer Duration `json:"router_default_adaptive_buffer"`
	LateArrivalTTL              Duration `json:"late_arrival_ttl"`

	// Streaming
	SSEListenerBuffer     int      `json:"sse_listener_buffer"`
	HealthStreamInterval  Duration `json:"health_stream_interval"`
	PulseBridgeInterval   Duration `json:"pulse_bridge_interval"`
	PulseHeartbeatInterval Duration `json:"pulse_heartbeat_interval"`

	// Pulse producer
	PulsePollInterval Duration `json:"pulse_poll_interval"`
	PulseLeaderCount  int      `json:"pulse_leader_count"`

	// Vanguard engine
	SamplingRate             float64  `json:"sampling_rate"`
	EscalationInterval       Duration `json:"escalation_interval"`
	EscalateBelowScore       float64  `json:"escalate_below_score"`
	DeescalateAboveScore     float64  `json:"deescalate_above_score"`
	HysteresisFailThreshold  int      `json:"hysteresis_fail_threshold"`
	HysteresisRecoverThreshold int    `json:"hysteresis_recover_threshold"`
	HysteresisProbeInterval  Duration `json:"hysteresis_probe_interval"`
	TriageAnalysisTTL        Duration `json:"triage_analysis_ttl"`
	TriageBatchLimit         int      `json:"triage_batch_limit"`
	TriageBatchPacePerSec    float64  `json:"triage_batch_pace_per_sec"`
	AllowedEditRoots         []string `json:"allowed_edit_roots"`
	LiveDataHosts            []string `json:"live_data_hosts"`

	// Retention sweeps
	SweepInterval     Duration `json:"sweep_interval"`
	IncidentRetention Duration `json:"incident_retention"`
}

// NewDefaultRuntimeConfig returns a RuntimeConfig populated with the
// documented defaults.
func NewDefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		UserAgent: "nexus-vanguard",

		RateLimitDefault: RateLimitBucketConfig{Limit: 60, Window: Duration(60 * time.Second)},
		RateLimitAdmin:   RateLimitBucketConfig{Limit: 30, Window: Duration(60 * time.Second)},

		IdempotencyTTL:            Duration(24 * time.Hour),
		IdempotencyFailedCooldown: Duration(2 * time.Second),
		IdempotencyBodyLimitBytes: 128 << 10,

		RouterDefaultBaseTimeout:    Duration(1 * time.Second),
		RouterDefaultAdaptiveBuffer: Duration(500 * time.Millisecond),
		LateArrivalTTL:              Duration(5 * time.Minute),

		SSEListenerBuffer:      64,
		HealthStreamInterval:   Duration(5 * time.Second),
		PulseBridgeInterval:    Duration(1 * time.Second),
		PulseHeartbeatInterval: Duration(15 * time.Second),

		PulsePollInterval: Duration(10 * time.Second),
		PulseLeaderCount:  15,

		SamplingRate:               1.0,
		EscalationInterval:         Duration(120 * time.Second),
		EscalateBelowScore:         45,
		DeescalateAboveScore:       55,
		HysteresisFailThreshold:    3,
		HysteresisRecoverThreshold: 2,
		HysteresisProbeInterval:    Duration(30 * time.Second),
		TriageAnalysisTTL:          Duration(24 * time.Hour),
		TriageBatchLimit:           100,
		TriageBatchPacePerSec:      2,
		AllowedEditRoots:           []string{"internal/", "cmd/"},
		LiveDataHosts:              []string{"cdn.nba.com", "stats.nba.com", "data.nba.com"},

		SweepInterval:     Duration(10 * time.Minute),
		IncidentRetention: Duration(30 * 24 * time.Hour),
	}
}
