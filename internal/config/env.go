// Package config handles environment-based configuration loading and runtime config models.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// OperatingMode is the vanguard supervision mode.
type OperatingMode string

const (
	ModeSilentObserver OperatingMode = "SILENT_OBSERVER"
	ModeCircuitBreaker OperatingMode = "CIRCUIT_BREAKER"
	ModeFullSovereign  OperatingMode = "FULL_SOVEREIGN"
)

// IsValid reports whether m is one of the three known modes.
func (m OperatingMode) IsValid() bool {
	switch m {
	case ModeSilentObserver, ModeCircuitBreaker, ModeFullSovereign:
		return true
	}
	return false
}

// StorageMode selects the document store backend.
type StorageMode string

const (
	StorageSQLite StorageMode = "sqlite"
	StorageMemory StorageMode = "memory"
)

// IsValid reports whether s is a known storage mode.
func (s StorageMode) IsValid() bool {
	return s == StorageSQLite || s == StorageMemory
}

// EnvConfig holds all environment-variable-driven settings (not hot-updatable).
type EnvConfig struct {
	// Directories
	StateDir string
	CacheDir string

	// Network
	ListenAddress   string
	Port            int
	APIMaxBodyBytes int

	// Vanguard core
	VanguardEnabled bool
	VanguardMode    OperatingMode
	StorageMode     StorageMode
	SamplingRate    float64

	// AI triage
	LLMEnabled bool
	LLMTimeout time.Duration
	LLMModel   string

	// Shared key-value store
	RedisURL string

	// Pulse producer
	PulseEnabled     bool
	WebsocketEnabled bool
	SportsAPIBaseURL string

	// Endpoint catalog
	CatalogPath string

	// Outbound transport
	FetchTimeout                 time.Duration
	TransportMaxIdleConns        int
	TransportMaxIdleConnsPerHost int
	TransportIdleConnTimeout     time.Duration

	// Audit log queue
	AuditQueueSize      int
	AuditFlushBatchSize int
	AuditFlushInterval  time.Duration

	// GeoIP enrichment (optional; empty DBPath and DBURL disable it)
	GeoIPDBPath         string
	GeoIPDBURL          string
	GeoIPUpdateSchedule string

	// Auth
	AdminToken string
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error if any value is invalid; every problem found is reported.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Directories ---
	cfg.StateDir = envStr("NEXUS_STATE_DIR", "/var/lib/nexus-vanguard")
	cfg.CacheDir = envStr("NEXUS_CACHE_DIR", "/var/cache/nexus-vanguard")

	// --- Network ---
	cfg.ListenAddress = strings.TrimSpace(envStr("NEXUS_LISTEN_ADDRESS", "0.0.0.0"))
	cfg.Port = envInt("NEXUS_PORT", 8090, &errs)
	cfg.APIMaxBodyBytes = envInt("NEXUS_API_MAX_BODY_BYTES", 1<<20, &errs)

	// --- Vanguard core ---
	cfg.VanguardEnabled = envBool("VANGUARD_ENABLED", true, &errs)
	cfg.VanguardMode = OperatingMode(envStr("VANGUARD_MODE", string(ModeSilentObserver)))
	cfg.StorageMode = StorageMode(envStr("VANGUARD_STORAGE_MODE", string(StorageSQLite)))
	cfg.SamplingRate = envFloat("VANGUARD_SAMPLING_RATE", 1.0, &errs)

	// --- AI triage ---
	cfg.LLMEnabled = envBool("VANGUARD_LLM_ENABLED", false, &errs)
	llmTimeoutSec := envInt("VANGUARD_LLM_TIMEOUT_SEC", 20, &errs)
	cfg.LLMTimeout = time.Duration(llmTimeoutSec) * time.Second
	cfg.LLMModel = envStr("VANGUARD_LLM_MODEL", "claude-sonnet-4-5")

	// --- Shared key-value store ---
	cfg.RedisURL = envStr("REDIS_URL", "redis://127.0.0.1:6379/0")

	// --- Pulse producer ---
	cfg.PulseEnabled = envBool("PULSE_SERVICE_ENABLED", true, &errs)
	cfg.WebsocketEnabled = envBool("FEATURE_WEBSOCKET_ENABLED", false, &errs)
	cfg.SportsAPIBaseURL = strings.TrimRight(envStr("NEXUS_SPORTS_API_BASE_URL", "https://cdn.nba.com/static/json/liveData"), "/")

	// --- Endpoint catalog ---
	cfg.CatalogPath = envStr("NEXUS_CATALOG_PATH", "")

	// --- Outbound transport ---
	cfg.FetchTimeout = envDuration("NEXUS_FETCH_TIMEOUT", 30*time.Second, &errs)
	cfg.TransportMaxIdleConns = envInt("NEXUS_TRANSPORT_MAX_IDLE_CONNS", 256, &errs)
	cfg.TransportMaxIdleConnsPerHost = envInt("NEXUS_TRANSPORT_MAX_IDLE_CONNS_PER_HOST", 32, &errs)
	cfg.TransportIdleConnTimeout = envDuration("NEXUS_TRANSPORT_IDLE_CONN_TIMEOUT", 90*time.Second, &errs)

	// --- Audit log queue ---
	cfg.AuditQueueSize = envInt("NEXUS_AUDIT_QUEUE_SIZE", 8192, &errs)
	cfg.AuditFlushBatchSize = envInt("NEXUS_AUDIT_FLUSH_BATCH_SIZE", 512, &errs)
	cfg.AuditFlushInterval = envDuration("NEXUS_AUDIT_FLUSH_INTERVAL", 10*time.Second, &errs)

	// --- GeoIP ---
	cfg.GeoIPDBPath = envStr("NEXUS_GEOIP_DB_PATH", "")
	cfg.GeoIPDBURL = envStr("NEXUS_GEOIP_DB_URL", "")
	cfg.GeoIPUpdateSchedule = envStr("NEXUS_GEOIP_UPDATE_SCHEDULE", "0 7 * * *")

	// --- Auth (must be defined; empty means auth disabled) ---
	adminToken, hasAdminToken := os.LookupEnv("NEXUS_ADMIN_TOKEN")
	cfg.AdminToken = adminToken

	// --- Validation ---
	if !hasAdminToken {
		errs = append(errs, "NEXUS_ADMIN_TOKEN must be defined (can be empty)")
	}
	if cfg.ListenAddress == "" {
		errs = append(errs, "NEXUS_LISTEN_ADDRESS must not be empty")
	}
	validatePort("NEXUS_PORT", cfg.Port, &errs)
	validatePositive("NEXUS_API_MAX_BODY_BYTES", cfg.APIMaxBodyBytes, &errs)

	if !cfg.VanguardMode.IsValid() {
		errs = append(errs, fmt.Sprintf(
			"VANGUARD_MODE: invalid value %q (allowed: %s, %s, %s)",
			cfg.VanguardMode, ModeSilentObserver, ModeCircuitBreaker, ModeFullSovereign,
		))
	}
	if !cfg.StorageMode.IsValid() {
		errs = append(errs, fmt.Sprintf(
			"VANGUARD_STORAGE_MODE: invalid value %q (allowed: %s, %s)",
			cfg.StorageMode, StorageSQLite, StorageMemory,
		))
	}
	if cfg.SamplingRate < 0 || cfg.SamplingRate > 1 {
		errs = append(errs, fmt.Sprintf("VANGUARD_SAMPLING_RATE: must be in [0,1], got %v", cfg.SamplingRate))
	}
	if llmTimeoutSec <= 0 {
		errs = append(errs, "VANGUARD_LLM_TIMEOUT_SEC must be positive")
	}
	if cfg.FetchTimeout <= 0 {
		errs = append(errs, "NEXUS_FETCH_TIMEOUT must be positive")
	}
	validatePositive("NEXUS_TRANSPORT_MAX_IDLE_CONNS", cfg.TransportMaxIdleConns, &errs)
	validatePositive("NEXUS_TRANSPORT_MAX_IDLE_CONNS_PER_HOST", cfg.TransportMaxIdleConnsPerHost, &errs)
	if cfg.TransportIdleConnTimeout <= 0 {
		errs = append(errs, "NEXUS_TRANSPORT_IDLE_CONN_TIMEOUT must be positive")
	}
	if cfg.TransportMaxIdleConnsPerHost > cfg.TransportMaxIdleConns {
		errs = append(errs, "NEXUS_TRANSPORT_MAX_IDLE_CONNS_PER_HOST must be less than or equal to NEXUS_TRANSPORT_MAX_IDLE_CONNS")
	}
	validatePositive("NEXUS_AUDIT_QUEUE_SIZE", cfg.AuditQueueSize, &errs)
	validatePositive("NEXUS_AUDIT_FLUSH_BATCH_SIZE", cfg.AuditFlushBatchSize, &errs)
	if cfg.AuditFlushInterval <= 0 {
		errs = append(errs, "NEXUS_AUDIT_FLUSH_INTERVAL must be positive")
	}
	if cfg.AuditQueueSize < 2*cfg.AuditFlushBatchSize {
		errs = append(errs, "NEXUS_AUDIT_QUEUE_SIZE must be at least 2x NEXUS_AUDIT_FLUSH_BATCH_SIZE")
	}
	if _, err := cron.ParseStandard(cfg.GeoIPUpdateSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("NEXUS_GEOIP_UPDATE_SCHEDULE: invalid cron expression %q: %v", cfg.GeoIPUpdateSchedule, err))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envFloat(key string, defaultVal float64, errs *[]string) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid float %q", key, v))
		return defaultVal
	}
	return f
}

func envBool(key string, defaultVal bool, errs *[]string) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid boolean %q", key, v))
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}
