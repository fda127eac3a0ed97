package api

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/nexus-vanguard/vanguard/internal/ratelimit"
	"github.com/nexus-vanguard/vanguard/internal/service"
	"github.com/nexus-vanguard/vanguard/internal/stream"
)

// Server wraps the HTTP server and middleware chain for the vanguard API.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
}

// NewServer creates a new API server wired with all routes. limiter and
// the hubs may be nil when the corresponding subsystem is disabled.
func NewServer(
	port int,
	adminToken string,
	cp *service.ControlPlane,
	limiter *ratelimit.Limiter,
	pulseHub *stream.Hub,
	healthHub *stream.Hub,
	apiMaxBodyBytes int64,
) *Server {
	return NewServerWithAddress("", port, adminToken, cp, limiter, pulseHub, healthHub, apiMaxBodyBytes)
}

// NewServerWithAddress creates a new API server with an explicit listen address.
func NewServerWithAddress(
	listenAddress string,
	port int,
	adminToken string,
	cp *service.ControlPlane,
	limiter *ratelimit.Limiter,
	pulseHub *stream.Hub,
	healthHub *stream.Hub,
	apiMaxBodyBytes int64,
) *Server {
	mux := http.NewServeMux()

	// Liveness and health (no auth, bypass the limiter).
	mux.Handle("GET /healthz", HandleHealthz(cp))
	mux.Handle("GET /readyz", HandleReadyz(cp))
	mux.Handle("GET /health", HandleHealth(cp))
	mux.Handle("GET /health/deps", HandleHealthDeps(cp))
	mux.Handle("GET /health/stream", HandleHealthStream(cp, healthHub))

	// Live pulse surface.
	mux.Handle("GET /live/games", HandleLiveGames(cp))
	mux.Handle("GET /live/leaders", HandleLiveLeaders(cp))
	mux.Handle("GET /live/status", HandleLiveStatus(cp))
	mux.Handle("GET /live/stream", HandleLiveStream(cp, pulseHub))
	mux.Handle("GET /live/late/{request_id}", HandleLateArrival(cp))

	// Players and teams.
	mux.Handle("GET /players/search", HandlePlayersSearch(cp))
	mux.Handle("GET /players/profile", HandlePlayerProfile(cp))
	mux.Handle("GET /teams/roster", HandleTeamRoster(cp))

	// Matchup analysis.
	mux.Handle("GET /matchup/analyze", HandleMatchupAnalyze(cp))
	mux.Handle("GET /matchup/h2h", HandleH2HGet(cp))
	mux.Handle("POST /api/h2h/populate", HandleH2HPopulate(cp))

	// Simulation and enrichment.
	mux.Handle("GET /simulation/montecarlo", HandleSimulationMontecarlo(cp))
	mux.Handle("GET /simulation/ensemble", HandleSimulationEnsemble(cp))
	mux.Handle("GET /enrichment/archetypes", HandleArchetypes(cp))
	mux.Handle("GET /external/odds", HandleGameOdds(cp))

	// Admin surface, Bearer-authed when a token is configured. Routes
	// owned by the engine answer 503 while it is disabled; reads over the
	// store and config stay up.
	engine := func(h http.Handler) http.Handler { return RequireEngine(cp, h) }
	admin := http.NewServeMux()
	admin.Handle("GET /vanguard/admin/incidents", HandleListIncidents(cp))
	admin.Handle("GET /vanguard/admin/incidents/{fp}", HandleGetIncident(cp))
	admin.Handle("POST /vanguard/admin/incidents/{fp}/resolve", engine(HandleResolveIncident(cp)))
	admin.Handle("POST /vanguard/admin/incidents/{fp}/unresolve", engine(HandleUnresolveIncident(cp)))
	admin.Handle("POST /vanguard/admin/incidents/bulk-resolve", engine(HandleBulkResolve(cp)))
	admin.Handle("POST /vanguard/admin/incidents/resolve-all", engine(HandleResolveAll(cp)))
	admin.Handle("POST /vanguard/admin/incidents/analyze-all", engine(HandleAnalyzeAll(cp)))
	admin.Handle("POST /vanguard/admin/mode", engine(HandleSetMode(cp)))
	admin.Handle("GET /vanguard/admin/stats", HandleAdminStats(cp))
	admin.Handle("GET /vanguard/admin/promotion-readiness", engine(HandlePromotionReadiness(cp)))
	admin.Handle("GET /vanguard/admin/registry", HandleRegistrySummary(cp))
	admin.Handle("GET /vanguard/admin/routing", engine(HandleRoutingSnapshot(cp)))
	admin.Handle("GET /vanguard/admin/vaccines", engine(HandleListVaccines(cp)))
	admin.Handle("GET /vanguard/admin/vaccines/{fp}", engine(HandleGetVaccine(cp)))
	admin.Handle("GET /vanguard/admin/config", HandleGetRuntimeConfig(cp))
	admin.Handle("PATCH /vanguard/admin/config", HandlePatchRuntimeConfig(cp))
	admin.Handle("GET /vanguard/admin/learning/export", HandleLearningExport(cp))
	mux.Handle("/vanguard/admin/", AuthMiddleware(adminToken, admin))

	if cp.Engine != nil {
		cp.Engine.MarkLiveRoutesMounted()
	}

	// Middleware chain, innermost first. The body limit sits outside the
	// idempotency stage so its body read is bounded; the observe stage
	// sits innermost so limiter and idempotency responses are not
	// captured as incidents.
	var handler http.Handler = mux
	handler = ObserveMiddleware(cp.Engine, cp.Requests, cp.Errors, handler)
	handler = IdempotencyMiddleware(cp.Idem, cp.Requests, handler)
	handler = RequestBodyLimitMiddleware(apiMaxBodyBytes, handler)
	handler = RateLimitMiddleware(limiter, cp.Requests, handler)
	handler = SystemStatusMiddleware(cp.Gate, handler)
	handler = RequestIDMiddleware(handler)

	srv := &http.Server{
		Addr:    net.JoinHostPort(listenAddress, strconv.Itoa(port)),
		Handler: handler,
	}

	return &Server{
		httpServer: srv,
		handler:    handler,
	}
}

// ListenAndServe starts the HTTP server. It blocks until the server stops.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the full middleware chain for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}
