// Package ratelimit implements the distributed fixed-window rate limiter
// backed by the shared key-value store.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nexus-vanguard/vanguard/internal/kv"
)

// Bucket names.
const (
	BucketDefault = "default"
	BucketAdmin   = "admin"
)

// incrExpire atomically counts a request within the window. EXPIRE is set
// only on the first hit so the window is fixed, not sliding. go-redis
// loads the script once and replays it on NOSCRIPT.
var incrExpire = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// BucketLimit is one bucket's window configuration.
type BucketLimit struct {
	Limit  int
	Window time.Duration
}

// Config carries the hot-reloadable bucket limits.
type Config struct {
	Default BucketLimit
	Admin   BucketLimit
}

// Decision is the outcome of one limiter check.
type Decision struct {
	Allowed    bool
	Bucket     string
	Limit      int
	Remaining  int
	Window     time.Duration
	RetryAfter time.Duration
	Degraded   bool
}

// Limiter checks request counts against per-IP buckets. When the store is
// unreachable it fails open and marks the decision degraded.
type Limiter struct {
	store *kv.Store
	cfg   func() Config

	// Advisory returns a reduced-limit fraction for a path, set by
	// remediation. Optional.
	Advisory func(path string) (float64, bool)

	// OnStoreError observes store failures, e.g. to feed the health gate.
	// Optional.
	OnStoreError func(err error)
}

// New creates a Limiter. store may be nil, in which case every check is a
// degraded fail-open allow.
func New(store *kv.Store, cfg func() Config) *Limiter {
	return &Limiter{store: store, cfg: cfg}
}

// Key returns the store key for an ip and bucket.
func Key(ip, bucket string) string {
	return fmt.Sprintf("rl:%s:%s", ip, bucket)
}

// BucketForPath selects the bucket for a request path.
func BucketForPath(path string) string {
	if strings.HasPrefix(path, "/vanguard/admin") || strings.HasPrefix(path, "/api/admin") {
		return BucketAdmin
	}
	return BucketDefault
}

// Bypass reports whether the request skips rate limiting entirely.
func Bypass(method, path string) bool {
	if method == http.MethodOptions {
		return true
	}
	switch path {
	case "/", "/healthz", "/readyz", "/favicon.ico", "/manifest.json":
		return true
	}
	return strings.HasPrefix(path, "/health")
}

// ClientIP resolves the caller's IP: first hop of X-Forwarded-For when
// present, else the connection's remote address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (l *Limiter) bucketLimit(bucket string) BucketLimit {
	c := l.cfg()
	if bucket == BucketAdmin {
		return c.Admin
	}
	return c.Default
}

// Check counts one request for ip in bucket. path is used only for the
// reduced-limit advisory lookup.
func (l *Limiter) Check(ctx context.Context, ip, bucket, path string) Decision {
	bl := l.bucketLimit(bucket)
	limit := bl.Limit
	if l.Advisory != nil {
		if fraction, ok := l.Advisory(path); ok {
			reduced := int(float64(limit) * fraction)
			if reduced < 1 {
				reduced = 1
			}
			limit = reduced
		}
	}

	d := Decision{
		Bucket: bucket,
		Limit:  limit,
		Window: bl.Window,
	}

	if l.store == nil {
		return l.failOpen(d, nil)
	}

	windowSec := int(bl.Window / time.Second)
	if windowSec < 1 {
		windowSec = 1
	}
	count, err := incrExpire.Run(ctx, l.store.Client(), []string{Key(ip, bucket)}, windowSec).Int64()
	if err != nil {
		return l.failOpen(d, err)
	}

	d.Allowed = count <= int64(limit)
	remaining := int64(limit) - count
	if remaining < 0 {
		remaining = 0
	}
	d.Remaining = int(remaining)
	if !d.Allowed {
		d.RetryAfter = bl.Window
	}
	return d
}

// failOpen allows the request and stamps the decision degraded.
func (l *Limiter) failOpen(d Decision, err error) Decision {
	d.Allowed = true
	d.Remaining = d.Limit
	d.Degraded = true
	if err != nil {
		log.Printf("[ratelimit] store unavailable, failing open: %v", err)
		if l.OnStoreError != nil {
			l.OnStoreError(err)
		}
	}
	return d
}
