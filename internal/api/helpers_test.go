package api

import (
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nexus-vanguard/vanguard/internal/auditlog"
	"github.com/nexus-vanguard/vanguard/internal/baseline"
	"github.com/nexus-vanguard/vanguard/internal/config"
	"github.com/nexus-vanguard/vanguard/internal/docstore"
	"github.com/nexus-vanguard/vanguard/internal/health"
	"github.com/nexus-vanguard/vanguard/internal/idempotency"
	"github.com/nexus-vanguard/vanguard/internal/kv"
	"github.com/nexus-vanguard/vanguard/internal/metrics"
	"github.com/nexus-vanguard/vanguard/internal/ratelimit"
	"github.com/nexus-vanguard/vanguard/internal/registry"
	"github.com/nexus-vanguard/vanguard/internal/router"
	"github.com/nexus-vanguard/vanguard/internal/service"
	"github.com/nexus-vanguard/vanguard/internal/stream"
	"github.com/nexus-vanguard/vanguard/internal/taskq"
	"github.com/nexus-vanguard/vanguard/internal/vanguard"
)

// testStack wires a full control plane on the memory docstore: registry
// from the embedded catalog, gate, engine, racer and hubs. Redis-backed
// pieces attach on demand.
type testStack struct {
	CP        *service.ControlPlane
	Store     docstore.Store
	Registry  *registry.Registry
	Gate      *health.Gate
	PulseHub  *stream.Hub
	HealthHub *stream.Hub
	Audit     *auditlog.Writer
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	store := docstore.NewMemory()
	t.Cleanup(func() { _ = store.Close() })

	reg := registry.New()
	if _, err := reg.LoadCatalog(""); err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	baselines := baseline.NewStore(24 * time.Hour)
	gate := health.NewGate(baselines)

	runtimeCfg := &atomic.Pointer[config.RuntimeConfig]{}
	runtimeCfg.Store(config.NewDefaultRuntimeConfig())
	cfgFn := func() *config.RuntimeConfig { return runtimeCfg.Load() }

	audit := auditlog.New(auditlog.Config{Repo: store})
	audit.Start()
	t.Cleanup(audit.Stop)

	history := metrics.NewScoreHistory(64)
	engine := vanguard.New(vanguard.Options{
		Config:      cfgFn,
		Store:       store,
		Audit:       audit,
		Gate:        gate,
		Registry:    reg,
		History:     history,
		InitialMode: config.ModeSilentObserver,
	})

	pulseHub := stream.NewHub("pulse", 16, nil)
	healthHub := stream.NewHub("health", 16, nil)
	t.Cleanup(pulseHub.Close)
	t.Cleanup(healthHub.Close)

	cp := &service.ControlPlane{
		Engine:     engine,
		Store:      store,
		Gate:       gate,
		Registry:   reg,
		Advisor:    router.NewAdvisor(reg, gate),
		Racer:      router.NewRacer(pulseHub),
		Audit:      audit,
		Baselines:  baselines,
		History:    history,
		Errors:     metrics.NewErrorRing(100),
		Requests:   metrics.NewCollector(25, 2000),
		RuntimeCfg: runtimeCfg,
		Info:       service.NewSystemInfo(time.Now()),
	}
	return &testStack{
		CP:        cp,
		Store:     store,
		Registry:  reg,
		Gate:      gate,
		PulseHub:  pulseHub,
		HealthHub: healthHub,
		Audit:     audit,
	}
}

func testLimiterConfig() ratelimit.Config {
	return ratelimit.Config{
		Default: ratelimit.BucketLimit{Limit: 60, Window: time.Minute},
		Admin:   ratelimit.BucketLimit{Limit: 30, Window: time.Minute},
	}
}

// withRedis attaches a miniredis-backed limiter and idempotency store.
func (ts *testStack) withRedis(t *testing.T) (*ratelimit.Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	kvStore := kv.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = kvStore.Close() })

	ts.CP.Idem = idempotency.New(kvStore, time.Hour)
	return ratelimit.New(kvStore, testLimiterConfig), mr
}

// withQueue attaches a started task queue so mutations report "queued".
func (ts *testStack) withQueue(t *testing.T) {
	t.Helper()
	q := taskq.New(taskq.DefaultCaps())
	q.Start()
	t.Cleanup(q.Stop)
	ts.CP.Queue = q
}

func (ts *testStack) handler(t *testing.T, limiter *ratelimit.Limiter, adminToken string) http.Handler {
	t.Helper()
	srv := NewServer(0, adminToken, ts.CP, limiter, ts.PulseHub, ts.HealthHub, 1<<20)
	return srv.Handler()
}
