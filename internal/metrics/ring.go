package metrics

import (
	"sync"
	"time"
)

// ErrorEvent is a single captured error in the recent-errors ring buffer.
type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Code      string    `json:"code"`
	Endpoint  string    `json:"endpoint,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Message   string    `json:"message"`
}

// ErrorRing is a fixed-size ring buffer holding the most recent errors.
type ErrorRing struct {
	mu     sync.RWMutex
	events []ErrorEvent
	head   int
	count  int
	cap    int

	byCode map[string]int64
}

// NewErrorRing creates a ring buffer with the given capacity.
func NewErrorRing(capacity int) *ErrorRing {
	if capacity <= 0 {
		capacity = 100
	}
	return &ErrorRing{
		events: make([]ErrorEvent, capacity),
		cap:    capacity,
		byCode: make(map[string]int64),
	}
}

// Push adds an error to the ring buffer, overwriting the oldest if full.
// Per-code totals are cumulative and unaffected by eviction.
func (r *ErrorRing) Push(e ErrorEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[r.head] = e
	r.head = (r.head + 1) % r.cap
	if r.count < r.cap {
		r.count++
	}
	r.byCode[e.Code]++
}

// Recent returns up to limit errors, newest first. limit <= 0 means all retained.
func (r *ErrorRing) Recent(limit int) []ErrorEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.count
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]ErrorEvent, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.head - 1 - i + r.cap) % r.cap
		result = append(result, r.events[idx])
	}
	return result
}

// Since returns retained errors with Timestamp >= from, newest first.
func (r *ErrorRing) Since(from time.Time) []ErrorEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []ErrorEvent
	for i := 0; i < r.count; i++ {
		idx := (r.head - 1 - i + r.cap) % r.cap
		e := r.events[idx]
		if e.Timestamp.Before(from) {
			break // ring is chronologically ordered; stop early
		}
		result = append(result, e)
	}
	return result
}

// CountsByCode returns cumulative error totals keyed by error code.
func (r *ErrorRing) CountsByCode() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int64, len(r.byCode))
	for k, v := range r.byCode {
		out[k] = v
	}
	return out
}

// Len returns the number of errors currently retained.
func (r *ErrorRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}
