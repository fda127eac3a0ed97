package router

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/maypok86/otter"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/nexus-vanguard/vanguard/internal/stream"
)

// Result sources.
const (
	SourceLive     = "live"
	SourceCache    = "cache"
	SourceFallback = "fallback"
)

const (
	lateArrivalTTL      = 5 * time.Minute
	lateArrivalCapacity = 4096
)

// TaskFunc produces one side of a race.
type TaskFunc func(ctx context.Context) (any, error)

// Result is the race outcome handed back to the caller.
type Result struct {
	Data               any    `json:"data"`
	Source             string `json:"source"`
	LateArrivalPending bool   `json:"late_arrival_pending,omitempty"`
	Err                error  `json:"-"`
}

// LateArrival is a live result that finished after the caller was already
// served from cache.
type LateArrival struct {
	Endpoint  string `json:"endpoint"`
	RequestID string `json:"request_id"`
	Data      any    `json:"data"`
	DelayMs   int64  `json:"delay_ms"`
}

type liveOutcome struct {
	data any
	err  error
}

// Racer runs the shadow-race: live work races a patience timer, and a
// cache fallback serves the caller when the timer wins. The live task is
// never cancelled by a cache win; its late result is published to the SSE
// hub and parked in a short-TTL table for one-shot pickup.
type Racer struct {
	hub     *stream.Hub
	late    otter.Cache[string, LateArrival]
	pending *xsync.Map[string, context.CancelFunc]

	total        atomic.Int64
	liveServed   atomic.Int64
	cacheServed  atomic.Int64
	lateArrivals atomic.Int64
	failures     atomic.Int64
}

// NewRacer creates a Racer publishing late arrivals to hub. hub may be nil
// (no streaming; the late table still works).
func NewRacer(hub *stream.Hub) *Racer {
	cache, err := otter.MustBuilder[string, LateArrival](lateArrivalCapacity).
		Cost(func(_ string, _ LateArrival) uint32 { return 1 }).
		WithTTL(lateArrivalTTL).
		Build()
	if err != nil {
		panic("router: failed to create late-arrival table: " + err.Error())
	}
	return &Racer{
		hub:     hub,
		late:    cache,
		pending: xsync.NewMap[string, context.CancelFunc](),
	}
}

// Execute runs live against the patience timer, falling back to cache.
// The returned Result always carries a Source; Err is set only when every
// branch failed.
func (r *Racer) Execute(ctx context.Context, endpoint, requestID string, live, cacheFallback TaskFunc, patience time.Duration) Result {
	r.total.Add(1)

	// The live branch must survive the caller's return: detach it from the
	// request context but keep its values, and register an explicit cancel.
	liveCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.pending.Store(requestID, cancel)

	startedAt := time.Now()
	outcomeCh := make(chan liveOutcome, 1)
	go func() {
		data, err := live(liveCtx)
		outcomeCh <- liveOutcome{data: data, err: err}
	}()

	timer := time.NewTimer(patience)
	defer timer.Stop()

	select {
	case out := <-outcomeCh:
		r.clearPending(requestID, cancel)
		if out.err == nil {
			r.liveServed.Add(1)
			return Result{Data: out.data, Source: SourceLive}
		}
		// Live lost on its own; the cache is the only branch left.
		data, err := cacheFallback(ctx)
		if err != nil {
			r.failures.Add(1)
			return Result{Source: SourceFallback, Err: out.err}
		}
		r.cacheServed.Add(1)
		return Result{Data: data, Source: SourceCache}

	case <-timer.C:
		// Patience elapsed: serve from cache and let the live branch run on.
		go r.awaitLate(endpoint, requestID, cancel, outcomeCh, startedAt)

		data, err := cacheFallback(ctx)
		if err != nil {
			r.failures.Add(1)
			return Result{Source: SourceFallback, Err: err}
		}
		r.cacheServed.Add(1)
		return Result{Data: data, Source: SourceCache, LateArrivalPending: true}
	}
}

// awaitLate collects the detached live result, parks it in the late table,
// and pushes a simulation_update event.
func (r *Racer) awaitLate(endpoint, requestID string, cancel context.CancelFunc, outcomeCh <-chan liveOutcome, startedAt time.Time) {
	out := <-outcomeCh
	r.clearPending(requestID, cancel)
	if out.err != nil {
		log.Printf("[router] late live result for %s failed: %v", requestID, out.err)
		return
	}

	arrival := LateArrival{
		Endpoint:  endpoint,
		RequestID: requestID,
		Data:      out.data,
		DelayMs:   time.Since(startedAt).Milliseconds(),
	}
	r.late.Set(requestID, arrival)
	r.lateArrivals.Add(1)
	if r.hub != nil {
		r.hub.Push("simulation_update", arrival)
	}
}

func (r *Racer) clearPending(requestID string, cancel context.CancelFunc) {
	cancel()
	r.pending.Delete(requestID)
}

// GetLateArrival consumes a stored late arrival. One-shot: a second call
// for the same request misses.
func (r *Racer) GetLateArrival(requestID string) (LateArrival, bool) {
	arrival, ok := r.late.Get(requestID)
	if !ok {
		return LateArrival{}, false
	}
	r.late.Delete(requestID)
	return arrival, true
}

// Cancel cancels the pending live task for requestID, if any.
func (r *Racer) Cancel(requestID string) bool {
	cancel, ok := r.pending.LoadAndDelete(requestID)
	if !ok {
		return false
	}
	cancel()
	return true
}

// CancelAllPending cancels every pending live task and reports how many.
func (r *Racer) CancelAllPending() int {
	n := 0
	r.pending.Range(func(id string, cancel context.CancelFunc) bool {
		cancel()
		r.pending.Delete(id)
		n++
		return true
	})
	return n
}

// PendingCount reports how many live tasks are still in flight.
func (r *Racer) PendingCount() int {
	return r.pending.Size()
}

// Close releases the late-arrival table.
func (r *Racer) Close() {
	r.CancelAllPending()
	r.late.Close()
}

// RaceStats is the admin-facing counter snapshot.
type RaceStats struct {
	Total        int64   `json:"total"`
	LiveServed   int64   `json:"live_served"`
	CacheServed  int64   `json:"cache_served"`
	LateArrivals int64   `json:"late_arrivals"`
	Failures     int64   `json:"failures"`
	LiveRatio    float64 `json:"live_ratio"`
	CacheRatio   float64 `json:"cache_ratio"`
	FailureRatio float64 `json:"failure_ratio"`
}

// Stats snapshots the race counters.
func (r *Racer) Stats() RaceStats {
	s := RaceStats{
		Total:        r.total.Load(),
		LiveServed:   r.liveServed.Load(),
		CacheServed:  r.cacheServed.Load(),
		LateArrivals: r.lateArrivals.Load(),
		Failures:     r.failures.Load(),
	}
	if s.Total > 0 {
		s.LiveRatio = float64(s.LiveServed) / float64(s.Total)
		s.CacheRatio = float64(s.CacheServed) / float64(s.Total)
		s.FailureRatio = float64(s.Failures) / float64(s.Total)
	}
	return s
}
