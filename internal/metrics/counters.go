package metrics

import (
	"sync"
	"sync/atomic"
)

// Collector holds hot-path atomic counters for global and per-endpoint metrics.
// All fields are updated with atomic operations for lock-free performance.
type Collector struct {
	global   *counters
	endpoint sync.Map // string -> *counters
}

// counters holds atomic counters for one measurement scope (global or per-endpoint).
type counters struct {
	requests     atomic.Int64
	successes    atomic.Int64
	clientErrors atomic.Int64
	serverErrors atomic.Int64
	rateLimited  atomic.Int64
	replays      atomic.Int64
	conflicts    atomic.Int64

	// Latency histogram: fixed-bucket durations.
	// Each regular bucket[i] = count of requests with latency in
	// [i*binWidth, (i+1)*binWidth). The last bucket is overflow (>= overflowMs).
	latencyBuckets []atomic.Int64
	latencyBinMs   int
	latencyOverMs  int
}

// CountersSnapshot is a point-in-time snapshot of counters for reading.
type CountersSnapshot struct {
	Requests       int64   `json:"requests"`
	Successes      int64   `json:"successes"`
	ClientErrors   int64   `json:"client_errors"`
	ServerErrors   int64   `json:"server_errors"`
	RateLimited    int64   `json:"rate_limited"`
	Replays        int64   `json:"replays"`
	Conflicts      int64   `json:"conflicts"`
	LatencyBuckets []int64 `json:"latency_buckets"`
	LatencyBinMs   int     `json:"latency_bin_ms"`
	LatencyOverMs  int     `json:"latency_overflow_ms"`
}

// NewCollector creates a new Collector with the given latency histogram parameters.
func NewCollector(latencyBinMs, latencyOverflowMs int) *Collector {
	if latencyBinMs <= 0 {
		latencyBinMs = 50
	}
	if latencyOverflowMs <= 0 {
		latencyOverflowMs = 5000
	}
	return &Collector{
		global: newCounters(latencyBinMs, latencyOverflowMs),
	}
}

func newCounters(binMs, overMs int) *counters {
	regularBuckets := (overMs + binMs - 1) / binMs // ceil(over/bin)
	if regularBuckets <= 0 {
		regularBuckets = 1
	}
	bucketCount := regularBuckets + 1 // +1 overflow bucket
	return &counters{
		latencyBuckets: make([]atomic.Int64, bucketCount),
		latencyBinMs:   binMs,
		latencyOverMs:  overMs,
	}
}

func (c *Collector) getOrCreateEndpoint(path string) *counters {
	if path == "" {
		return nil
	}
	if v, ok := c.endpoint.Load(path); ok {
		return v.(*counters)
	}
	nc := newCounters(c.global.latencyBinMs, c.global.latencyOverMs)
	actual, _ := c.endpoint.LoadOrStore(path, nc)
	return actual.(*counters)
}

// RecordRequest records a completed request with its response status class.
func (c *Collector) RecordRequest(path string, status int, latencyMs int64) {
	record := func(ct *counters) {
		ct.requests.Add(1)
		switch {
		case status < 400:
			ct.successes.Add(1)
		case status < 500:
			ct.clientErrors.Add(1)
		default:
			ct.serverErrors.Add(1)
		}
		if latencyMs >= 0 {
			c.recordLatency(ct, latencyMs)
		}
	}
	record(c.global)
	if pc := c.getOrCreateEndpoint(path); pc != nil {
		record(pc)
	}
}

func (c *Collector) recordLatency(ct *counters, ms int64) {
	overflowIdx := len(ct.latencyBuckets) - 1
	if overflowIdx < 0 {
		return
	}

	// Overflow bucket counts samples >= overflow_ms.
	if ms >= int64(ct.latencyOverMs) {
		ct.latencyBuckets[overflowIdx].Add(1)
		return
	}

	// Regular buckets are [lower, upper) with bin width.
	idx := 0
	if ms >= 0 {
		idx = int(ms / int64(ct.latencyBinMs))
	}
	if idx >= overflowIdx {
		idx = overflowIdx - 1
	}
	if idx < 0 {
		idx = 0
	}

	ct.latencyBuckets[idx].Add(1)
}

// RecordRateLimited records a request rejected by the rate limiter.
func (c *Collector) RecordRateLimited(path string) {
	c.global.rateLimited.Add(1)
	if pc := c.getOrCreateEndpoint(path); pc != nil {
		pc.rateLimited.Add(1)
	}
}

// RecordReplay records an idempotent response replay.
func (c *Collector) RecordReplay(path string) {
	c.global.replays.Add(1)
	if pc := c.getOrCreateEndpoint(path); pc != nil {
		pc.replays.Add(1)
	}
}

// RecordConflict records an idempotency conflict (in-flight duplicate or
// body-hash mismatch).
func (c *Collector) RecordConflict(path string) {
	c.global.conflicts.Add(1)
	if pc := c.getOrCreateEndpoint(path); pc != nil {
		pc.conflicts.Add(1)
	}
}

// Snapshot returns a point-in-time snapshot of the global counters.
func (c *Collector) Snapshot() CountersSnapshot {
	return snapshot(c.global)
}

// EndpointSnapshot returns a snapshot for a specific endpoint path.
func (c *Collector) EndpointSnapshot(path string) (CountersSnapshot, bool) {
	v, ok := c.endpoint.Load(path)
	if !ok {
		return CountersSnapshot{}, false
	}
	return snapshot(v.(*counters)), true
}

// EndpointSnapshots returns snapshots for all known endpoint paths.
func (c *Collector) EndpointSnapshots() map[string]CountersSnapshot {
	result := make(map[string]CountersSnapshot)
	c.endpoint.Range(func(key, value any) bool {
		result[key.(string)] = snapshot(value.(*counters))
		return true
	})
	return result
}

func snapshot(ct *counters) CountersSnapshot {
	s := CountersSnapshot{
		Requests:       ct.requests.Load(),
		Successes:      ct.successes.Load(),
		ClientErrors:   ct.clientErrors.Load(),
		ServerErrors:   ct.serverErrors.Load(),
		RateLimited:    ct.rateLimited.Load(),
		Replays:        ct.replays.Load(),
		Conflicts:      ct.conflicts.Load(),
		LatencyBuckets: make([]int64, len(ct.latencyBuckets)),
		LatencyBinMs:   ct.latencyBinMs,
		LatencyOverMs:  ct.latencyOverMs,
	}
	for i := range ct.latencyBuckets {
		s.LatencyBuckets[i] = ct.latencyBuckets[i].Load()
	}
	return s
}
