package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nexus-vanguard/vanguard/internal/api"
	"github.com/nexus-vanguard/vanguard/internal/auditlog"
	"github.com/nexus-vanguard/vanguard/internal/baseline"
	"github.com/nexus-vanguard/vanguard/internal/config"
	"github.com/nexus-vanguard/vanguard/internal/docstore"
	"github.com/nexus-vanguard/vanguard/internal/geoip"
	"github.com/nexus-vanguard/vanguard/internal/health"
	"github.com/nexus-vanguard/vanguard/internal/idempotency"
	"github.com/nexus-vanguard/vanguard/internal/kv"
	"github.com/nexus-vanguard/vanguard/internal/metrics"
	"github.com/nexus-vanguard/vanguard/internal/model"
	"github.com/nexus-vanguard/vanguard/internal/netutil"
	"github.com/nexus-vanguard/vanguard/internal/pulse"
	"github.com/nexus-vanguard/vanguard/internal/ratelimit"
	"github.com/nexus-vanguard/vanguard/internal/registry"
	"github.com/nexus-vanguard/vanguard/internal/router"
	"github.com/nexus-vanguard/vanguard/internal/scanloop"
	"github.com/nexus-vanguard/vanguard/internal/service"
	"github.com/nexus-vanguard/vanguard/internal/sports"
	"github.com/nexus-vanguard/vanguard/internal/stream"
	"github.com/nexus-vanguard/vanguard/internal/taskq"
	"github.com/nexus-vanguard/vanguard/internal/vanguard"
)

// kvDependency is the health-gate name for the shared key-value store.
const kvDependency = "kv_store"

// baselineScope groups persisted season baselines; player marks are the
// only scope today.
const baselineScope = "players"

// baselineRefreshSpec recomputes season baselines daily, after the
// previous night's finals have been archived.
const baselineRefreshSpec = "0 6 * * *"

type vanguardApp struct {
	envCfg     *config.EnvConfig
	runtimeCfg *atomic.Pointer[config.RuntimeConfig]

	store     docstore.Store
	kvStore   *kv.Store
	registry  *registry.Registry
	baselines *baseline.Store
	refresher *baseline.Refresher
	gate      *health.Gate

	geoSvc   *geoip.Service
	audit    *auditlog.Writer
	queue    *taskq.Queue
	engine   *vanguard.Engine
	producer *pulse.Producer

	pulseHub  *stream.Hub
	healthHub *stream.Hub

	idem    *idempotency.Store
	limiter *ratelimit.Limiter
	sweeps  *cron.Cron

	apiSrv *api.Server

	// stopCh terminates the bridge and broadcast loops; loopsWG waits for
	// them during shutdown.
	stopCh  chan struct{}
	loopsWG sync.WaitGroup
}

func run() error {
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		return err
	}

	store, err := docstore.Open(string(envCfg.StorageMode), envCfg.StateDir)
	if err != nil {
		return fmt.Errorf("document store: %w", err)
	}
	log.Printf("[boot] document store ready (%s)", envCfg.StorageMode)

	app, err := newVanguardApp(envCfg, store)
	if err != nil {
		_ = store.Close()
		return err
	}

	serverErrCh := app.startServer()
	runtimeErr := waitForShutdown(serverErrCh)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	app.shutdown(ctx)

	if err := store.Close(); err != nil {
		log.Printf("[boot] document store close error: %v", err)
	}
	if runtimeErr != nil {
		return fmt.Errorf("runtime server error: %w", runtimeErr)
	}
	return nil
}

func newVanguardApp(envCfg *config.EnvConfig, store docstore.Store) (*vanguardApp, error) {
	app := &vanguardApp{
		envCfg:     envCfg,
		store:      store,
		runtimeCfg: &atomic.Pointer[config.RuntimeConfig]{},
		stopCh:     make(chan struct{}),
	}

	// Phase 1: Runtime config, persisted patches layered over defaults.
	app.runtimeCfg.Store(loadRuntimeConfig(store))
	cfgFn := func() *config.RuntimeConfig { return app.runtimeCfg.Load() }

	// Phase 2: Shared key-value store. The client connects lazily, so a
	// Redis outage at boot does not block startup; dependent layers fail
	// open until it recovers.
	kvStore, err := kv.Open(envCfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("kv store: %w", err)
	}
	app.kvStore = kvStore

	// Phase 3: Endpoint catalog.
	app.registry = registry.New()
	n, err := app.registry.LoadCatalog(envCfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("endpoint catalog: %w", err)
	}
	log.Printf("[boot] endpoint catalog loaded (%d endpoints)", n)

	// Phase 4: Dependency baselines and the health gate over them. Season
	// marks from the previous run are restored so the enricher has anchors
	// before the first recompute.
	app.baselines = baseline.NewStore(baseline.DefaultTTL)
	if restored, err := store.LoadSeasonBaselines(context.Background(), sports.SeasonFor(time.Now()), baselineScope); err != nil {
		log.Printf("[boot] season baseline restore: %v", err)
	} else if len(restored) > 0 {
		for _, m := range restored {
			app.baselines.Put(m)
		}
		log.Printf("[boot] season baselines restored (%d)", len(restored))
	}
	app.refresher = baseline.NewRefresher(app.baselines, pulse.SeasonSampleSource(store, 0),
		func(ctx context.Context, computed map[string]any) error {
			out := make([]model.BaselineMetric, 0, len(computed))
			for _, v := range computed {
				if m, ok := v.(model.BaselineMetric); ok {
					out = append(out, m)
				}
			}
			return store.PutSeasonBaselines(ctx, sports.SeasonFor(time.Now()), baselineScope, out)
		}, 0)
	app.gate = health.NewGate(app.baselines)

	// Phase 5: Outbound transport, shared by the sports feed and the
	// GeoIP database downloader.
	outboundClient, err := netutil.NewOutboundClient(netutil.ClientOptions{
		MaxIdleConns:        envCfg.TransportMaxIdleConns,
		MaxIdleConnsPerHost: envCfg.TransportMaxIdleConnsPerHost,
		IdleConnTimeout:     envCfg.TransportIdleConnTimeout,
		UserAgentFn:         func() string { return cfgFn().UserAgent },
	})
	if err != nil {
		return nil, fmt.Errorf("outbound client: %w", err)
	}
	app.initGeoIP(outboundClient, cfgFn)

	// Phase 6: Observability: queued audit writer, request collector,
	// error ring, incident score history.
	app.audit = auditlog.New(auditlog.Config{
		Repo:          store,
		QueueSize:     envCfg.AuditQueueSize,
		FlushBatch:    envCfg.AuditFlushBatchSize,
		FlushInterval: envCfg.AuditFlushInterval,
	})
	requests := metrics.NewCollector(25, 2000)
	errRing := metrics.NewErrorRing(100)
	history := metrics.NewScoreHistory(64)

	// Phase 7: Task queue and the vanguard engine.
	app.queue = taskq.New(taskq.DefaultCaps())
	if envCfg.VanguardEnabled {
		app.engine = vanguard.New(vanguard.Options{
			Config:      cfgFn,
			Store:       store,
			Audit:       app.audit,
			Queue:       app.queue,
			Gate:        app.gate,
			Registry:    app.registry,
			History:     history,
			LLM:         buildTriageLLM(envCfg),
			KVPing:      kvStore.Ping,
			Geo:         app.geoFunc(),
			InitialMode: envCfg.VanguardMode,
		})
		log.Printf("[boot] vanguard engine ready (mode %s)", envCfg.VanguardMode)
	} else {
		log.Println("[boot] vanguard engine disabled")
	}

	// Phase 8: Stream hubs, the shadow racer, and the pulse producer.
	if envCfg.WebsocketEnabled {
		log.Println("[boot] websocket transport not available, streams stay on SSE")
	}
	presence := kv.NewPresence(kvStore)
	app.pulseHub = stream.NewHub("pulse", 0, presence)
	app.healthHub = stream.NewHub("health", 0, presence)
	racer := router.NewRacer(app.pulseHub)

	if envCfg.PulseEnabled {
		feed := sports.NewClient(sports.Options{
			HTTPClient:    outboundClient,
			ScoreboardURL: envCfg.SportsAPIBaseURL + "/scoreboard/todaysScoreboard_00.json",
			BoxscoreURL:   envCfg.SportsAPIBaseURL + "/boxscore/boxscore_%s.json",
		})
		app.producer = pulse.NewProducer(pulse.Options{
			Feed:      feed,
			Store:     store,
			Gate:      app.gate,
			Baselines: app.baselines,
			Config:    cfgFn,
		})
	} else {
		log.Println("[boot] pulse producer disabled")
	}

	// Phase 9: Request-path stores, the control plane, and the API server.
	app.idem = idempotency.New(kvStore, cfgFn().IdempotencyTTL.Std())
	app.limiter = ratelimit.New(kvStore, func() ratelimit.Config {
		cfg := cfgFn()
		return ratelimit.Config{
			Default: ratelimit.BucketLimit{Limit: cfg.RateLimitDefault.Limit, Window: cfg.RateLimitDefault.Window.Std()},
			Admin:   ratelimit.BucketLimit{Limit: cfg.RateLimitAdmin.Limit, Window: cfg.RateLimitAdmin.Window.Std()},
		}
	})
	app.limiter.Advisory = app.registry.LimitAdvisory
	app.limiter.OnStoreError = func(err error) {
		app.gate.RecordError(kvDependency, err.Error())
	}

	cp := &service.ControlPlane{
		Engine:     app.engine,
		Store:      store,
		Gate:       app.gate,
		Registry:   app.registry,
		Advisor:    router.NewAdvisor(app.registry, app.gate),
		Racer:      racer,
		Producer:   app.producer,
		Queue:      app.queue,
		Audit:      app.audit,
		Baselines:  app.baselines,
		History:    history,
		Errors:     errRing,
		Requests:   requests,
		Idem:       app.idem,
		GeoIP:      app.geoSvc,
		RuntimeCfg: app.runtimeCfg,
		EnvCfg:     envCfg,
		Info:       service.NewSystemInfo(time.Now().UTC()),
	}
	app.apiSrv = api.NewServerWithAddress(
		envCfg.ListenAddress,
		envCfg.Port,
		envCfg.AdminToken,
		cp,
		app.limiter,
		app.pulseHub,
		app.healthHub,
		int64(envCfg.APIMaxBodyBytes),
	)

	app.startBackgroundServices()
	return app, nil
}

// initGeoIP builds the country-lookup service when a database path or
// download URL is configured. Left nil otherwise; incident capture simply
// skips geo enrichment.
func (a *vanguardApp) initGeoIP(client *http.Client, cfgFn func() *config.RuntimeConfig) {
	if a.envCfg.GeoIPDBPath == "" && a.envCfg.GeoIPDBURL == "" {
		log.Println("[boot] geoip disabled")
		return
	}
	direct := netutil.NewDirectDownloader(client,
		func() time.Duration { return a.envCfg.FetchTimeout },
		func() string { return cfgFn().UserAgent },
	)
	a.geoSvc = geoip.NewService(geoip.ServiceConfig{
		DBPath:         a.envCfg.GeoIPDBPath,
		CacheDir:       a.envCfg.CacheDir,
		DownloadURL:    a.envCfg.GeoIPDBURL,
		UpdateSchedule: a.envCfg.GeoIPUpdateSchedule,
		Downloader:     &netutil.RetryDownloader{Direct: direct},
	})
}

func (a *vanguardApp) geoFunc() vanguard.GeoFunc {
	if a.geoSvc == nil {
		return nil
	}
	return a.geoSvc.CountryCode
}

// buildTriageLLM returns nil when AI triage is off; the engine falls back
// to heuristic-only verdicts.
func buildTriageLLM(envCfg *config.EnvConfig) *vanguard.TriageLLM {
	if !envCfg.LLMEnabled {
		return nil
	}
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		log.Println("[boot] VANGUARD_LLM_ENABLED set but ANTHROPIC_API_KEY empty, triage stays heuristic")
		return nil
	}
	return vanguard.NewTriageLLM(vanguard.LLMOptions{
		APIKey:  apiKey,
		ModelID: envCfg.LLMModel,
		Timeout: envCfg.LLMTimeout,
	})
}

func (a *vanguardApp) startBackgroundServices() {
	// --- Batch 1: sinks ready before anything can emit into them ---
	a.audit.Start()
	log.Println("[boot] audit writer started")

	a.queue.Start()
	log.Println("[boot] task queue started")

	if a.engine != nil {
		a.engine.Start()
		log.Println("[boot] escalation loop started")
	}

	// --- Batch 2: producers ---
	if a.geoSvc != nil {
		if err := a.geoSvc.Start(); err != nil {
			log.Printf("[boot] geoip start: %v", err)
		} else {
			log.Println("[boot] geoip service started")
		}
	}

	bootCfg := a.runtimeCfg.Load()
	if a.producer != nil {
		a.producer.Start()
		log.Println("[boot] pulse producer started")

		bridge := pulse.NewBridge(a.producer, a.pulseHub, bootCfg.PulseBridgeInterval.Std())
		a.loopsWG.Add(1)
		go func() {
			defer a.loopsWG.Done()
			bridge.Run(a.stopCh)
		}()
		log.Println("[boot] pulse bridge started")
	}

	broadcastEvery := bootCfg.HealthStreamInterval.Std()
	if broadcastEvery <= 0 {
		broadcastEvery = 5 * time.Second
	}
	a.loopsWG.Add(1)
	go func() {
		defer a.loopsWG.Done()
		scanloop.RunEvery(a.stopCh, broadcastEvery, func() {
			a.probeKV()
			a.healthHub.Push("health", a.gate.CheckAll())
		})
	}()
	log.Println("[boot] health broadcaster started")

	// --- Batch 3: retention sweeps ---
	a.startSweeps()
}

// startSweeps schedules the periodic janitors: idempotency records,
// dependency baselines, expired triage verdicts, and resolved incidents
// past retention. The nightly season-baseline recompute rides the same
// scheduler.
func (a *vanguardApp) startSweeps() {
	interval := a.runtimeCfg.Load().SweepInterval.Std()
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	spec := "@every " + interval.String()

	a.sweeps = cron.New()
	_, err := a.sweeps.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		now := time.Now()

		if n := a.idem.Sweep(now); n > 0 {
			log.Printf("[sweep] dropped %d idempotency records", n)
		}
		if n := a.baselines.Sweep(); n > 0 {
			log.Printf("[sweep] dropped %d stale baselines", n)
		}
		if n, err := a.store.PurgeExpiredAnalyses(ctx, now.UnixNano()); err != nil {
			log.Printf("[sweep] purge analyses: %v", err)
		} else if n > 0 {
			log.Printf("[sweep] purged %d expired analyses", n)
		}
		retention := a.runtimeCfg.Load().IncidentRetention.Std()
		beforeNs := now.Add(-retention).UnixNano()
		if n, err := a.store.PurgeResolvedIncidents(ctx, beforeNs); err != nil {
			log.Printf("[sweep] purge incidents: %v", err)
		} else if n > 0 {
			log.Printf("[sweep] purged %d resolved incidents", n)
		}
	})
	if err != nil {
		log.Printf("[boot] sweep schedule %q rejected: %v", spec, err)
		return
	}
	if _, err := a.sweeps.AddFunc(baselineRefreshSpec, a.refreshSeasonBaselines); err != nil {
		log.Printf("[boot] baseline refresh schedule %q rejected: %v", baselineRefreshSpec, err)
	}
	a.sweeps.Start()
	log.Printf("[boot] retention sweeps scheduled (%s)", spec)

	// Warm the season marks from the archive right away; the cron entry
	// keeps them fresh from then on.
	go a.refreshSeasonBaselines()
}

// refreshSeasonBaselines recomputes player season marks from the game-log
// archive and persists them for the next boot.
func (a *vanguardApp) refreshSeasonBaselines() {
	if err := a.refresher.Refresh(context.Background()); err != nil {
		log.Printf("[baseline] refresh: %v", err)
	}
}

// probeKV refreshes the shared store's gate entry on the broadcast cadence.
// Errors reported by the limiter's fail-open path decay back to healthy
// through these successes once the store is reachable again.
func (a *vanguardApp) probeKV() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	if err := a.kvStore.Ping(ctx); err != nil {
		a.gate.RecordError(kvDependency, err.Error())
		return
	}
	a.gate.RecordSuccess(kvDependency, time.Since(start))
}

func (a *vanguardApp) startServer() <-chan error {
	serverErrCh := make(chan error, 1)
	go func() {
		log.Printf("[boot] vanguard sidecar listening on %s:%d", a.envCfg.ListenAddress, a.envCfg.Port)
		err := a.apiSrv.ListenAndServe()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return
		}
		select {
		case serverErrCh <- err:
		default:
		}
	}()
	return serverErrCh
}

func waitForShutdown(serverErrCh <-chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		log.Printf("[boot] received signal %s, shutting down", sig)
		return nil
	case err := <-serverErrCh:
		log.Printf("[boot] server runtime error (%v), shutting down", err)
		return err
	}
}

func (a *vanguardApp) shutdown(ctx context.Context) {
	// Stop in order: the request surface first, then event sources, then
	// the sinks they feed.
	if err := a.apiSrv.Shutdown(ctx); err != nil {
		log.Printf("[boot] server shutdown error: %v", err)
	}
	log.Println("[boot] api server stopped")

	close(a.stopCh)
	a.loopsWG.Wait()
	log.Println("[boot] background loops stopped")

	if a.sweeps != nil {
		a.sweeps.Stop()
		log.Println("[boot] retention sweeps stopped")
	}
	if a.producer != nil {
		a.producer.Stop()
		log.Println("[boot] pulse producer stopped")
	}
	if a.geoSvc != nil {
		a.geoSvc.Stop()
		log.Println("[boot] geoip service stopped")
	}
	if a.engine != nil {
		a.engine.Stop()
		log.Println("[boot] escalation loop stopped")
	}

	a.queue.Stop()
	log.Println("[boot] task queue stopped")

	a.audit.Stop()
	log.Println("[boot] audit writer stopped")

	a.pulseHub.Close()
	a.healthHub.Close()
	log.Println("[boot] stream hubs closed")

	if err := a.kvStore.Close(); err != nil {
		log.Printf("[boot] kv close error: %v", err)
	}
	log.Println("[boot] shutdown complete")
}

// loadRuntimeConfig returns the persisted runtime config layered over
// defaults, or plain defaults when nothing was saved yet.
func loadRuntimeConfig(store docstore.Store) *config.RuntimeConfig {
	cfg := config.NewDefaultRuntimeConfig()
	payload, version, err := store.GetSystemConfig(context.Background())
	if err != nil {
		log.Printf("[boot] load persisted config: %v", err)
		return cfg
	}
	if len(payload) == 0 {
		return cfg
	}
	if err := json.Unmarshal(payload, cfg); err != nil {
		log.Printf("[boot] persisted config malformed, using defaults: %v", err)
		return config.NewDefaultRuntimeConfig()
	}
	log.Printf("[boot] runtime config restored (version %d)", version)
	return cfg
}
