// Package api implements the HTTP API server for the vanguard sidecar.
package api

import (
	"encoding/json"
	"net/http"
	"time"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the structured error payload. Everything beyond code,
// message and http_status is optional; handlers fill in what they know.
type ErrorDetail struct {
	Code              string         `json:"code"`
	Message           string         `json:"message"`
	Endpoint          string         `json:"endpoint,omitempty"`
	HTTPStatus        int            `json:"http_status"`
	Details           map[string]any `json:"details,omitempty"`
	RecoveryAction    string         `json:"recovery_action,omitempty"`
	FallbackAvailable bool           `json:"fallback_available"`
	CooldownSeconds   int            `json:"cooldown_seconds,omitempty"`
	RequestID         string         `json:"request_id,omitempty"`
	TimestampNs       int64          `json:"timestamp_ns"`
}

// WriteError writes a standard error response.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:        code,
			Message:     message,
			HTTPStatus:  status,
			TimestampNs: time.Now().UnixNano(),
		},
	})
}
