package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nexus-vanguard/vanguard/internal/config"
	"github.com/nexus-vanguard/vanguard/internal/docstore"
	"github.com/nexus-vanguard/vanguard/internal/health"
	"github.com/nexus-vanguard/vanguard/internal/metrics"
	"github.com/nexus-vanguard/vanguard/internal/model"
	"github.com/nexus-vanguard/vanguard/internal/service"
	"github.com/nexus-vanguard/vanguard/internal/vanguard"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"ok": "true"})
	})
}

func decodeError(t *testing.T, body []byte) ErrorDetail {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, body)
	}
	return resp.Error
}

// --- request id ---

func TestRequestIDGenerated(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/live/games", nil))

	got := rr.Header().Get(RequestIDHeader)
	if got == "" {
		t.Fatal("expected generated X-Request-ID")
	}
	if got != seen {
		t.Fatalf("header %q != context %q", got, seen)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	h := RequestIDMiddleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/live/games", nil)
	req.Header.Set(RequestIDHeader, "client-supplied-42")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get(RequestIDHeader); got != "client-supplied-42" {
		t.Fatalf("expected inbound id echoed, got %q", got)
	}
}

func TestRequestIDRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"too long", strings.Repeat("x", 65)},
		{"control char", "abc\x01def"},
		{"non ascii", "идентификатор"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RequestIDMiddleware(okHandler())
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(RequestIDHeader, tt.id)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			got := rr.Header().Get(RequestIDHeader)
			if got == "" || got == tt.id {
				t.Fatalf("expected replacement id, got %q", got)
			}
		})
	}
}

// --- auth ---

func TestAuthMiddleware(t *testing.T) {
	h := AuthMiddleware("sekrit", okHandler())

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
		wantCode   string
	}{
		{"missing header", "", http.StatusUnauthorized, "AUTH_REQUIRED"},
		{"not bearer", "Basic abc123", http.StatusUnauthorized, "AUTH_REQUIRED"},
		{"wrong token", "Bearer nope", http.StatusUnauthorized, "INVALID_API_KEY"},
		{"valid token", "Bearer sekrit", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/vanguard/admin/stats", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if tt.wantCode != "" {
				if got := decodeError(t, rr.Body.Bytes()).Code; got != tt.wantCode {
					t.Fatalf("code = %q, want %q", got, tt.wantCode)
				}
			}
		})
	}
}

func TestAuthMiddlewareOpenWithoutToken(t *testing.T) {
	h := AuthMiddleware("", okHandler())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/vanguard/admin/stats", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected open surface without configured token, got %d", rr.Code)
	}
}

// --- system status ---

func TestSystemStatusHeader(t *testing.T) {
	gate := health.NewGate(nil)
	h := SystemStatusMiddleware(gate, okHandler())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/live/games", nil))
	if got := rr.Header().Get("X-System-Status"); got != "" {
		t.Fatalf("healthy system should not advertise status, got %q", got)
	}

	gate.EnterCooldown("nba_api", time.Minute)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/live/games", nil))
	if got := rr.Header().Get("X-System-Status"); got != "degraded" {
		t.Fatalf("X-System-Status = %q, want degraded", got)
	}
}

// --- body limit ---

func TestRequestBodyLimit(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var v map[string]any
		if !decodeBodyOrWriteError(w, r, &v) {
			return
		}
		WriteJSON(w, http.StatusOK, v)
	})
	h := RequestBodyLimitMiddleware(32, inner)

	req := httptest.NewRequest(http.MethodPost, "/api/h2h/populate",
		strings.NewReader(`{"team_a":"BOS","team_b":"MIA","max_players":12}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rr.Code)
	}
	if got := decodeError(t, rr.Body.Bytes()).Code; got != "PAYLOAD_TOO_LARGE" {
		t.Fatalf("code = %q", got)
	}
}

// --- observe ---

func newObserveFixture(t *testing.T) (*vanguard.Engine, docstore.Store) {
	t.Helper()
	store := docstore.NewMemory()
	t.Cleanup(func() { _ = store.Close() })
	engine := vanguard.New(vanguard.Options{
		Config: func() *config.RuntimeConfig { return config.NewDefaultRuntimeConfig() },
		Store:  store,
	})
	return engine, store
}

func listIncidents(t *testing.T, store docstore.Store) []model.Incident {
	t.Helper()
	incidents, err := store.ListIncidents(context.Background(), "", 50)
	if err != nil {
		t.Fatalf("list incidents: %v", err)
	}
	return incidents
}

func TestObserveCapturesTaggedClientError(t *testing.T) {
	engine, store := newObserveFixture(t)
	ring := metrics.NewErrorRing(10)

	svcErr := service.NewDomainError(service.CodeCalculationError, "/matchup/analyze", "missing key: player_id")
	svcErr.Details = map[string]any{"error_type": "KeyError", "key": "player_id"}

	h := ObserveMiddleware(engine, nil, ring, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeServiceError(w, r, svcErr)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/matchup/analyze?team_a=BOS&team_b=MIA", nil))

	incidents := listIncidents(t, store)
	if len(incidents) != 1 {
		t.Fatalf("incidents = %d, want 1", len(incidents))
	}
	if incidents[0].ErrorType != "KeyError" {
		t.Fatalf("error type = %q, want KeyError", incidents[0].ErrorType)
	}
	if got := ring.Recent(10); len(got) != 1 {
		t.Fatalf("ring events = %d, want 1", len(got))
	}
}

func TestObserveSkipsPlainValidationError(t *testing.T) {
	engine, store := newObserveFixture(t)

	h := ObserveMiddleware(engine, nil, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeServiceError(w, r, service.NewDomainError(service.CodeMissingParam, "/players/search", "q: query parameter required"))
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/players/search", nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if got := listIncidents(t, store); len(got) != 0 {
		t.Fatalf("validation miss captured as incident: %+v", got)
	}
}

func TestObserveRecoversPanic(t *testing.T) {
	engine, store := newObserveFixture(t)

	h := ObserveMiddleware(engine, nil, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/simulation/montecarlo", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if got := decodeError(t, rr.Body.Bytes()).Code; got != string(service.CodeUnknownError) {
		t.Fatalf("code = %q, want UNKNOWN_ERROR", got)
	}
	incidents := listIncidents(t, store)
	if len(incidents) != 1 {
		t.Fatalf("incidents = %d, want 1", len(incidents))
	}
	if incidents[0].Severity != model.SeverityRed {
		t.Fatalf("panic severity = %q, want RED", incidents[0].Severity)
	}
}

func TestObserveBypassesStreams(t *testing.T) {
	engine, store := newObserveFixture(t)
	collector := metrics.NewCollector(25, 2000)

	h := ObserveMiddleware(engine, collector, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/live/stream", nil))

	if got := listIncidents(t, store); len(got) != 0 {
		t.Fatalf("stream path should not be captured, got %+v", got)
	}
	if got := collector.Snapshot().Requests; got != 0 {
		t.Fatalf("stream path should not be counted, got %d requests", got)
	}
}

// --- engine gate ---

func TestEngineDisabledSurface(t *testing.T) {
	ts := newTestStack(t)
	ts.CP.Engine = nil
	h := ts.handler(t, nil, "")

	// Liveness answers with the fallback mode instead of panicking.
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", rr.Code)
	}

	// Stats still report the request plane; the vanguard block stays zero.
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/vanguard/admin/stats", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("stats status = %d, want 200", rr.Code)
	}

	// Engine-owned routes refuse cleanly.
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/vanguard/admin/mode"},
		{http.MethodPost, "/vanguard/admin/incidents/abc/resolve"},
		{http.MethodGet, "/vanguard/admin/routing"},
		{http.MethodGet, "/vanguard/admin/vaccines"},
	} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s %s status = %d, want 503", tc.method, tc.path, rr.Code)
		}
		if got := decodeError(t, rr.Body.Bytes()).Code; got != string(service.CodeServiceDown) {
			t.Fatalf("%s %s code = %q, want SERVICE_DOWN", tc.method, tc.path, got)
		}
	}
}
