package metrics

import (
	"sync"
	"time"
)

// ScoreSample is one composite-score evaluation in the history ring.
type ScoreSample struct {
	Timestamp          time.Time `json:"timestamp"`
	Score              float64   `json:"score"`
	IncidentScore      float64   `json:"incident_score"`
	SubsystemScore     float64   `json:"subsystem_score"`
	EndpointErrorScore float64   `json:"endpoint_error_score"`
	Mode               string    `json:"mode"`
}

// ScoreHistory is a fixed-size ring buffer of composite-score samples.
type ScoreHistory struct {
	mu      sync.RWMutex
	samples []ScoreSample
	head    int
	count   int
	cap     int
}

// NewScoreHistory creates a ring buffer with the given capacity.
func NewScoreHistory(capacity int) *ScoreHistory {
	if capacity <= 0 {
		capacity = 720 // 24 hours at the 2-minute evaluation cadence
	}
	return &ScoreHistory{
		samples: make([]ScoreSample, capacity),
		cap:     capacity,
	}
}

// Push adds a sample to the ring buffer, overwriting the oldest if full.
func (h *ScoreHistory) Push(s ScoreSample) {
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples[h.head] = s
	h.head = (h.head + 1) % h.cap
	if h.count < h.cap {
		h.count++
	}
}

// Query returns samples within the given time range [from, to], newest first.
func (h *ScoreHistory) Query(from, to time.Time) []ScoreSample {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var result []ScoreSample
	for i := 0; i < h.count; i++ {
		idx := (h.head - 1 - i + h.cap) % h.cap
		s := h.samples[idx]
		if s.Timestamp.Before(from) {
			break // ring is chronologically ordered; stop early
		}
		if !s.Timestamp.After(to) {
			result = append(result, s)
		}
	}
	return result
}

// Recent returns up to limit samples, newest first. limit <= 0 means all retained.
func (h *ScoreHistory) Recent(limit int) []ScoreSample {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := h.count
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]ScoreSample, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.head - 1 - i + h.cap) % h.cap
		result = append(result, h.samples[idx])
	}
	return result
}

// Latest returns the most recent sample.
func (h *ScoreHistory) Latest() (ScoreSample, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return ScoreSample{}, false
	}
	idx := (h.head - 1 + h.cap) % h.cap
	return h.samples[idx], true
}
