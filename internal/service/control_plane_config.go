package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nexus-vanguard/vanguard/internal/config"
)

// runtimeConfigAllowedFields is the set of JSON field names that can be patched.
var runtimeConfigAllowedFields = map[string]bool{
	"user_agent":                   true,
	"rate_limit_default":           true,
	"rate_limit_admin":             true,
	"idempotency_ttl":              true,
	"idempotency_failed_cooldown":  true,
	"idempotency_body_limit_bytes": true,
	"router_default_base_timeout":  true,
	"router_default_adaptive_buffer": true,
	"late_arrival_ttl":             true,
	"sse_listener_buffer":          true,
	"health_stream_interval":       true,
	"pulse_bridge_interval":        true,
	"pulse_heartbeat_interval":     true,
	"pulse_poll_interval":          true,
	"pulse_leader_count":           true,
	"sampling_rate":                true,
	"escalation_interval":          true,
	"escalate_below_score":         true,
	"deescalate_above_score":       true,
	"hysteresis_fail_threshold":    true,
	"hysteresis_recover_threshold": true,
	"hysteresis_probe_interval":    true,
	"triage_analysis_ttl":          true,
	"triage_batch_limit":           true,
	"triage_batch_pace_per_sec":    true,
	"allowed_edit_roots":           true,
	"live_data_hosts":              true,
	"sweep_interval":               true,
	"incident_retention":           true,
}

func parseRuntimeConfigPatch(patchJSON json.RawMessage, out *config.RuntimeConfig) *ServiceError {
	var rawPatch map[string]json.RawMessage
	if err := json.Unmarshal(patchJSON, &rawPatch); err != nil {
		return invalidArg("invalid JSON: " + err.Error())
	}
	if len(rawPatch) == 0 {
		return invalidArg("empty patch")
	}
	for key, raw := range rawPatch {
		if !runtimeConfigAllowedFields[key] {
			return invalidArg(fmt.Sprintf("unknown or read-only field: %q", key))
		}
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return invalidArg(fmt.Sprintf("null value not allowed for field: %q", key))
		}
	}

	dec := json.NewDecoder(bytes.NewReader(patchJSON))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return invalidArg("validation failed: " + err.Error())
	}
	return nil
}

func copyRuntimeConfig(cfg *config.RuntimeConfig) *config.RuntimeConfig {
	if cfg == nil {
		return config.NewDefaultRuntimeConfig()
	}
	out := *cfg
	out.AllowedEditRoots = append([]string(nil), cfg.AllowedEditRoots...)
	out.LiveDataHosts = append([]string(nil), cfg.LiveDataHosts...)
	return &out
}

// PatchRuntimeConfig applies a constrained partial patch to the runtime config.
// This is not RFC 7396 JSON Merge Patch: patch must be a non-empty object and
// null values are rejected.
// Pipeline: validate → persist → atomic swap.
func (s *ControlPlane) PatchRuntimeConfig(ctx context.Context, patchJSON json.RawMessage) (*config.RuntimeConfig, error) {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	// Deep-copy current config → apply patch.
	newCfg := copyRuntimeConfig(s.RuntimeCfg.Load())
	if verr := parseRuntimeConfigPatch(patchJSON, newCfg); verr != nil {
		return nil, verr
	}
	if verr := validateRuntimeConfig(newCfg); verr != nil {
		return nil, verr
	}

	// On process start, initialize local configVersion from persisted state
	// so PATCH keeps monotonically increasing versions across restarts.
	if s.configVersion == 0 && s.Store != nil {
		_, persistedVersion, err := s.Store.GetSystemConfig(ctx)
		if err != nil {
			return nil, internal("load persisted config version", err)
		}
		if persistedVersion > s.configVersion {
			s.configVersion = persistedVersion
		}
	}

	// Persist.
	payload, err := json.Marshal(newCfg)
	if err != nil {
		return nil, internal("encode config", err)
	}
	newVersion := s.configVersion + 1
	if s.Store != nil {
		if err := s.Store.SaveSystemConfig(ctx, payload, newVersion, time.Now().UnixNano()); err != nil {
			return nil, internal("persist config", err)
		}
	}

	// Atomic swap.
	s.RuntimeCfg.Store(newCfg)
	s.configVersion = newVersion

	return newCfg, nil
}

// RuntimeConfigDoc is the GET /vanguard/admin/config response shape.
type RuntimeConfigDoc struct {
	Config  *config.RuntimeConfig `json:"config"`
	Version int                   `json:"version"`
}

// GetRuntimeConfig returns the live config and its persisted version.
func (s *ControlPlane) GetRuntimeConfig(ctx context.Context) RuntimeConfigDoc {
	s.configMu.Lock()
	version := s.configVersion
	s.configMu.Unlock()

	if version == 0 && s.Store != nil {
		if _, persisted, err := s.Store.GetSystemConfig(ctx); err == nil {
			version = persisted
		}
	}
	return RuntimeConfigDoc{Config: s.Config(), Version: version}
}

func validateRuntimeConfig(cfg *config.RuntimeConfig) *ServiceError {
	if strings.TrimSpace(cfg.UserAgent) == "" {
		return invalidArg("user_agent: must not be empty")
	}
	if verr := validateBucket("rate_limit_default", cfg.RateLimitDefault); verr != nil {
		return verr
	}
	if verr := validateBucket("rate_limit_admin", cfg.RateLimitAdmin); verr != nil {
		return verr
	}
	if cfg.IdempotencyTTL <= 0 {
		return invalidArg("idempotency_ttl: must be positive")
	}
	if cfg.IdempotencyFailedCooldown <= 0 {
		return invalidArg("idempotency_failed_cooldown: must be positive")
	}
	if cfg.IdempotencyBodyLimitBytes <= 0 {
		return invalidArg("idempotency_body_limit_bytes: must be positive")
	}
	if cfg.RouterDefaultBaseTimeout <= 0 {
		return invalidArg("router_default_base_timeout: must be positive")
	}
	if cfg.RouterDefaultAdaptiveBuffer < 0 {
		return invalidArg("router_default_adaptive_buffer: must be non-negative")
	}
	if cfg.LateArrivalTTL <= 0 {
		return invalidArg("late_arrival_ttl: must be positive")
	}
	if cfg.SSEListenerBuffer < 1 {
		return invalidArg("sse_listener_buffer: must be >= 1")
	}
	if cfg.HealthStreamInterval <= 0 {
		return invalidArg("health_stream_interval: must be positive")
	}
	if cfg.PulseBridgeInterval <= 0 {
		return invalidArg("pulse_bridge_interval: must be positive")
	}
	if cfg.PulseHeartbeatInterval <= 0 {
		return invalidArg("pulse_heartbeat_interval: must be positive")
	}
	if time.Duration(cfg.PulsePollInterval) < time.Second {
		return invalidArg("pulse_poll_interval: must be >= 1s")
	}
	if cfg.PulseLeaderCount < 1 {
		return invalidArg("pulse_leader_count: must be >= 1")
	}
	if cfg.SamplingRate < 0 || cfg.SamplingRate > 1 {
		return invalidArg("sampling_rate: must be within [0, 1]")
	}
	if cfg.EscalationInterval <= 0 {
		return invalidArg("escalation_interval: must be positive")
	}
	if cfg.EscalateBelowScore < 0 || cfg.EscalateBelowScore > 100 {
		return invalidArg("escalate_below_score: must be within [0, 100]")
	}
	if cfg.DeescalateAboveScore < 0 || cfg.DeescalateAboveScore > 100 {
		return invalidArg("deescalate_above_score: must be within [0, 100]")
	}
	// The gap between the two thresholds is the anti-thrash band.
	if cfg.EscalateBelowScore >= cfg.DeescalateAboveScore {
		return invalidArg("escalate_below_score: must be below deescalate_above_score")
	}
	if cfg.HysteresisFailThreshold < 1 {
		return invalidArg("hysteresis_fail_threshold: must be >= 1")
	}
	if cfg.HysteresisRecoverThreshold < 1 {
		return invalidArg("hysteresis_recover_threshold: must be >= 1")
	}
	if cfg.HysteresisProbeInterval <= 0 {
		return invalidArg("hysteresis_probe_interval: must be positive")
	}
	if cfg.TriageAnalysisTTL <= 0 {
		return invalidArg("triage_analysis_ttl: must be positive")
	}
	if cfg.TriageBatchLimit < 1 {
		return invalidArg("triage_batch_limit: must be >= 1")
	}
	if cfg.TriageBatchPacePerSec <= 0 {
		return invalidArg("triage_batch_pace_per_sec: must be positive")
	}
	if len(cfg.AllowedEditRoots) == 0 {
		return invalidArg("allowed_edit_roots: must not be empty")
	}
	for _, root := range cfg.AllowedEditRoots {
		root = strings.TrimSpace(root)
		if root == "" || strings.HasPrefix(root, "/") || strings.Contains(root, "..") {
			return invalidArg(fmt.Sprintf("allowed_edit_roots: invalid root %q", root))
		}
	}
	if len(cfg.LiveDataHosts) == 0 {
		return invalidArg("live_data_hosts: must not be empty")
	}
	for _, host := range cfg.LiveDataHosts {
		host = strings.TrimSpace(host)
		if host == "" || strings.ContainsAny(host, "/: ") {
			return invalidArg(fmt.Sprintf("live_data_hosts: invalid host %q", host))
		}
	}
	if cfg.SweepInterval <= 0 {
		return invalidArg("sweep_interval: must be positive")
	}
	if cfg.IncidentRetention <= 0 {
		return invalidArg("incident_retention: must be positive")
	}
	return nil
}

func validateBucket(field string, b config.RateLimitBucketConfig) *ServiceError {
	if b.Limit < 1 {
		return invalidArg(field + ".limit: must be >= 1")
	}
	if time.Duration(b.Window) < time.Second {
		return invalidArg(field + ".window: must be >= 1s")
	}
	return nil
}
