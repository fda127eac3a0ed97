// Package idempotency implements the replay-safe mutation store. Records
// are keyed by a hash of the request path and the caller's Idempotency-Key
// and move through IN_FLIGHT, COMPLETED, and FAILED states.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/xxh3"
)

// State is the lifecycle position of a stored record.
type State string

const (
	StateInFlight  State = "IN_FLIGHT"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
)

// Record is one stored mutation outcome. ResponseBody is kept only for
// payloads at or under MaxStoredBody; larger responses set Oversize and
// replay as an acknowledgement sentinel instead of bytes.
type Record struct {
	State           State  `json:"state"`
	RequestBodyHash string `json:"request_body_hash"`
	ResponseCode    int    `json:"response_code,omitempty"`
	ContentType     string `json:"content_type,omitempty"`
	ResponseBody    []byte `json:"response_body,omitempty"`
	Oversize        bool   `json:"oversize,omitempty"`
	StartedAtNs     int64  `json:"started_at_ns"`
	CompletedAtNs   int64  `json:"completed_at_ns,omitempty"`
	FailedAtNs      int64  `json:"failed_at_ns,omitempty"`

	// ExpiresAtNs is only meaningful in the in-process fallback map;
	// the shared store uses native TTLs.
	ExpiresAtNs int64 `json:"expires_at_ns,omitempty"`
}

// CacheKey derives the record key from the request path and the
// Idempotency-Key header value.
func CacheKey(path, key string) string {
	sum := sha256.Sum256([]byte(path + key))
	return hex.EncodeToString(sum[:])
}

// BodyHash fingerprints a raw request body.
func BodyHash(body []byte) string {
	return fmt.Sprintf("%016x", xxh3.Hash(body))
}
