package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/nexus-vanguard/vanguard/internal/health"
	"github.com/nexus-vanguard/vanguard/internal/service"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestIDHeader carries the correlation id on requests and responses.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 64

// RequestIDFromContext returns the correlation id stamped by
// RequestIDMiddleware, or "" outside the middleware chain.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// validRequestID accepts printable ASCII ids up to maxRequestIDLength.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= 0x20 || id[i] >= 0x7f {
			return false
		}
	}
	return true
}

// RequestIDMiddleware stamps every request with a correlation id before
// anything else runs. A well-formed inbound X-Request-ID is honored;
// anything else is replaced with a fresh UUID. The id is echoed on the
// response and stored in the request context.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SystemStatusMiddleware advertises aggregate degradation on every
// response while any dependency is below healthy.
func SystemStatusMiddleware(gate *health.Gate, next http.Handler) http.Handler {
	if gate == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gate.CheckAll().Status != health.SystemHealthy {
			w.Header().Set("X-System-Status", "degraded")
		}
		next.ServeHTTP(w, r)
	})
}

// AuthMiddleware validates the Bearer token in the Authorization header
// against the configured admin token. With no token configured the
// surface is open and the middleware passes through.
func AuthMiddleware(adminToken string, next http.Handler) http.Handler {
	if adminToken == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			WriteError(w, http.StatusUnauthorized, string(service.CodeAuthRequired), "missing Authorization header")
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) {
			WriteError(w, http.StatusUnauthorized, string(service.CodeAuthRequired), "invalid Authorization header format")
			return
		}

		if auth[len(prefix):] != adminToken {
			WriteError(w, http.StatusUnauthorized, string(service.CodeInvalidAPIKey), "invalid admin token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireEngine answers 503 on routes owned by the vanguard engine while
// it is disabled.
func RequireEngine(cp *service.ControlPlane, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cp.Engine == nil {
			WriteError(w, http.StatusServiceUnavailable, string(service.CodeServiceDown), "vanguard engine disabled")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestBodyLimitMiddleware enforces a max request body size for downstream handlers.
func RequestBodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	if maxBytes <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r != nil && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}
