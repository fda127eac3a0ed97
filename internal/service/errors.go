package service

import (
	"context"
	"errors"
	"net"
	"time"
)

// Code is the closed error taxonomy, organized by HTTP class. Every
// structured error surfaced by the control plane carries one of these.
type Code string

const (
	// 400
	CodeMissingParam    Code = "MISSING_PARAM"
	CodeInvalidParam    Code = "INVALID_PARAM"
	CodeInvalidPlayerID Code = "INVALID_PLAYER_ID"
	CodeInvalidTeamID   Code = "INVALID_TEAM_ID"
	CodeInvalidSeason   Code = "INVALID_SEASON"
	CodeInvalidGameID   Code = "INVALID_GAME_ID"

	// 401
	CodeAuthRequired  Code = "AUTH_REQUIRED"
	CodeInvalidAPIKey Code = "INVALID_API_KEY"

	// 403
	CodeAdminRequired Code = "ADMIN_REQUIRED"

	// 404
	CodePlayerNotFound   Code = "PLAYER_NOT_FOUND"
	CodeTeamNotFound     Code = "TEAM_NOT_FOUND"
	CodeGameNotFound     Code = "GAME_NOT_FOUND"
	CodeStatsNotFound    Code = "STATS_NOT_FOUND"
	CodeSeasonNotFound   Code = "SEASON_NOT_FOUND"
	CodeEndpointNotFound Code = "ENDPOINT_NOT_FOUND"
	CodeCacheNotFound    Code = "CACHE_NOT_FOUND"

	// 429; these trigger cooldown entry on the owning service.
	CodeNBAAPIRateLimited   Code = "NBA_API_RATE_LIMITED"
	CodeAIRateLimited       Code = "AI_RATE_LIMITED"
	CodeInternalRateLimited Code = "INTERNAL_RATE_LIMITED"

	// 500
	CodeDatabaseError      Code = "DATABASE_ERROR"
	CodeCalculationError   Code = "CALCULATION_ERROR"
	CodeSerializationError Code = "SERIALIZATION_ERROR"
	CodeConfigurationError Code = "CONFIGURATION_ERROR"
	CodeUnknownError       Code = "UNKNOWN_ERROR"

	// 502
	CodeExternalAPIError Code = "EXTERNAL_API_ERROR"
	CodeUpstreamError    Code = "UPSTREAM_ERROR"

	// 503
	CodeRouterDown     Code = "ROUTER_DOWN"
	CodeEngineDown     Code = "ENGINE_DOWN"
	CodeMatchupDown    Code = "MATCHUP_DOWN"
	CodeEnrichmentDown Code = "ENRICHMENT_DOWN"
	CodeNBADown        Code = "NBA_DOWN"
	CodeAIDown         Code = "AI_DOWN"
	CodeDBDown         Code = "DB_DOWN"
	CodeServiceDown    Code = "SERVICE_DOWN"

	// 504
	CodeNBAAPITimeout     Code = "NBA_API_TIMEOUT"
	CodeAITimeout         Code = "AI_TIMEOUT"
	CodeSimulationTimeout Code = "SIMULATION_TIMEOUT"
	CodeDatabaseTimeout   Code = "DATABASE_TIMEOUT"
)

var codeStatus = map[Code]int{
	CodeMissingParam:    400,
	CodeInvalidParam:    400,
	CodeInvalidPlayerID: 400,
	CodeInvalidTeamID:   400,
	CodeInvalidSeason:   400,
	CodeInvalidGameID:   400,

	CodeAuthRequired:  401,
	CodeInvalidAPIKey: 401,

	CodeAdminRequired: 403,

	CodePlayerNotFound:   404,
	CodeTeamNotFound:     404,
	CodeGameNotFound:     404,
	CodeStatsNotFound:    404,
	CodeSeasonNotFound:   404,
	CodeEndpointNotFound: 404,
	CodeCacheNotFound:    404,

	CodeNBAAPIRateLimited:   429,
	CodeAIRateLimited:       429,
	CodeInternalRateLimited: 429,

	CodeDatabaseError:      500,
	CodeCalculationError:   500,
	CodeSerializationError: 500,
	CodeConfigurationError: 500,
	CodeUnknownError:       500,

	CodeExternalAPIError: 502,
	CodeUpstreamError:    502,

	CodeRouterDown:     503,
	CodeEngineDown:     503,
	CodeMatchupDown:    503,
	CodeEnrichmentDown: 503,
	CodeNBADown:        503,
	CodeAIDown:         503,
	CodeDBDown:         503,
	CodeServiceDown:    503,

	CodeNBAAPITimeout:     504,
	CodeAITimeout:         504,
	CodeSimulationTimeout: 504,
	CodeDatabaseTimeout:   504,
}

// HTTPStatus returns the HTTP status for c. Unknown codes map to 500.
func (c Code) HTTPStatus() int {
	if s, ok := codeStatus[c]; ok {
		return s
	}
	return 500
}

// RateLimited reports whether c represents a rate-limit response that
// should enter a cooldown on the owning service.
func (c Code) RateLimited() bool {
	return c == CodeNBAAPIRateLimited || c == CodeAIRateLimited || c == CodeInternalRateLimited
}

// ServiceError wraps an error with a taxonomy code for API response mapping.
// The legacy generic codes (INVALID_ARGUMENT, NOT_FOUND, CONFLICT, INTERNAL)
// remain valid for admin CRUD surfaces; domain paths use the closed taxonomy.
type ServiceError struct {
	Code              string         `json:"code"`
	Message           string         `json:"message"`
	Endpoint          string         `json:"endpoint,omitempty"`
	Details           map[string]any `json:"details,omitempty"`
	RecoveryAction    string         `json:"recovery_action,omitempty"`
	FallbackAvailable bool           `json:"fallback_available"`
	CooldownSeconds   int            `json:"cooldown_seconds,omitempty"`
	TimestampNs       int64          `json:"timestamp_ns"`
	Err               error          `json:"-"`
}

func (e *ServiceError) Error() string { return e.Message }
func (e *ServiceError) Unwrap() error { return e.Err }

// HTTPStatus returns the response status for the error's code.
func (e *ServiceError) HTTPStatus() int {
	switch e.Code {
	case "INVALID_ARGUMENT":
		return 400
	case "NOT_FOUND":
		return 404
	case "CONFLICT":
		return 409
	case "INTERNAL":
		return 500
	}
	return Code(e.Code).HTTPStatus()
}

func invalidArg(msg string) *ServiceError {
	return &ServiceError{Code: "INVALID_ARGUMENT", Message: msg, TimestampNs: time.Now().UnixNano()}
}

func notFound(msg string) *ServiceError {
	return &ServiceError{Code: "NOT_FOUND", Message: msg, TimestampNs: time.Now().UnixNano()}
}

func conflict(msg string) *ServiceError {
	return &ServiceError{Code: "CONFLICT", Message: msg, TimestampNs: time.Now().UnixNano()}
}

func internal(msg string, err error) *ServiceError {
	return &ServiceError{Code: "INTERNAL", Message: msg, Err: err, TimestampNs: time.Now().UnixNano()}
}

// NewDomainError builds a taxonomy error for endpoint.
func NewDomainError(code Code, endpoint, msg string) *ServiceError {
	return &ServiceError{
		Code:        string(code),
		Message:     msg,
		Endpoint:    endpoint,
		TimestampNs: time.Now().UnixNano(),
	}
}

// WithRecovery attaches an advisory recovery action for clients.
func (e *ServiceError) WithRecovery(action string) *ServiceError {
	e.RecoveryAction = action
	return e
}

// WithCooldown records that a cooldown of n seconds was entered for this error.
func (e *ServiceError) WithCooldown(n int) *ServiceError {
	e.CooldownSeconds = n
	return e
}

// WithFallback marks that the endpoint has a cache fallback available.
func (e *ServiceError) WithFallback() *ServiceError {
	e.FallbackAvailable = true
	return e
}

// Classify converts an arbitrary dependency failure into a taxonomy error.
// Already-classified errors pass through unchanged; dependency is the
// logical service name used to pick the subsystem-specific code.
func Classify(err error, endpoint, dependency string) *ServiceError {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}

	code := CodeUnknownError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = timeoutCode(dependency)
	case isNetTimeout(err):
		code = timeoutCode(dependency)
	case isNetError(err):
		code = downCode(dependency)
	}

	out := NewDomainError(code, endpoint, err.Error())
	out.Err = err
	return out
}

func timeoutCode(dependency string) Code {
	switch dependency {
	case "nba_api":
		return CodeNBAAPITimeout
	case "ai":
		return CodeAITimeout
	case "simulation":
		return CodeSimulationTimeout
	case "database", "docstore":
		return CodeDatabaseTimeout
	}
	return CodeNBAAPITimeout
}

func downCode(dependency string) Code {
	switch dependency {
	case "nba_api":
		return CodeNBADown
	case "ai":
		return CodeAIDown
	case "database", "docstore":
		return CodeDBDown
	case "router":
		return CodeRouterDown
	case "engine":
		return CodeEngineDown
	case "matchup":
		return CodeMatchupDown
	case "enrichment":
		return CodeEnrichmentDown
	}
	return CodeServiceDown
}

func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isNetError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
