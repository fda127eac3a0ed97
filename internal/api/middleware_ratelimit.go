package api

import (
	"net/http"
	"strconv"

	"github.com/nexus-vanguard/vanguard/internal/metrics"
	"github.com/nexus-vanguard/vanguard/internal/ratelimit"
	"github.com/nexus-vanguard/vanguard/internal/service"
)

// RateLimitMiddleware applies the per-IP fixed-window limiter. Health and
// static paths bypass it entirely; a store outage fails open and marks the
// response degraded. Denials are counted but never captured as incidents.
func RateLimitMiddleware(limiter *ratelimit.Limiter, collector *metrics.Collector, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ratelimit.Bypass(r.Method, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		bucket := ratelimit.BucketForPath(r.URL.Path)
		d := limiter.Check(r.Context(), ratelimit.ClientIP(r), bucket, r.URL.Path)

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		h.Set("X-RateLimit-Window", strconv.Itoa(int(d.Window.Seconds())))
		if d.Degraded {
			h.Set("X-Rate-Limit-Status", "degraded")
		}

		if !d.Allowed {
			h.Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds())))
			if collector != nil {
				collector.RecordRateLimited(r.URL.Path)
			}
			WriteError(w, http.StatusTooManyRequests, string(service.CodeInternalRateLimited),
				"rate limit exceeded for "+d.Bucket+" bucket")
			return
		}
		next.ServeHTTP(w, r)
	})
}
