package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/nexus-vanguard/vanguard/internal/metrics"
	"github.com/nexus-vanguard/vanguard/internal/ratelimit"
	"github.com/nexus-vanguard/vanguard/internal/service"
	"github.com/nexus-vanguard/vanguard/internal/vanguard"
)

// errorNote carries the structured error a handler wrote, so the capture
// stage can classify the failure without re-parsing the response body.
type errorNote struct {
	svcErr *service.ServiceError
}

const errorNoteKey contextKey = "error_note"

func withErrorNote(ctx context.Context, n *errorNote) context.Context {
	return context.WithValue(ctx, errorNoteKey, n)
}

// noteError records err for the in-flight request. No-op outside the
// observed chain.
func noteError(r *http.Request, err *service.ServiceError) {
	if n, ok := r.Context().Value(errorNoteKey).(*errorNote); ok {
		n.svcErr = err
	}
}

// statusRecorder tracks the response status for metrics and capture.
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (s *statusRecorder) WriteHeader(status int) {
	if !s.wrote {
		s.status = status
		s.wrote = true
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	s.wrote = true
	return s.ResponseWriter.Write(p)
}

// observeBypass lists paths outside capture: streams hold the connection
// open until the client leaves, and liveness probes are noise.
func observeBypass(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/favicon.ico":
		return true
	}
	return strings.HasSuffix(path, "/stream")
}

// ObserveMiddleware is the innermost stage: it times the request, recovers
// panics, and turns failures into incidents. It sits inside the limiter
// and idempotency stages, so their denials never reach the capture path.
func ObserveMiddleware(engine *vanguard.Engine, collector *metrics.Collector, ring *metrics.ErrorRing, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if observeBypass(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		note := &errorNote{}
		r = r.WithContext(withErrorNote(r.Context(), note))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		defer func() {
			p := recover()
			if p == nil {
				return
			}
			stack := debug.Stack()
			log.Printf("[api] panic serving %s %s: %v", r.Method, r.URL.Path, p)
			if engine != nil {
				engine.Capture(r.Context(), vanguard.Failure{
					Endpoint:   r.URL.Path,
					Method:     r.Method,
					RequestID:  RequestIDFromContext(r.Context()),
					ErrorType:  panicErrorType(p),
					Message:    fmt.Sprint(p),
					StatusCode: http.StatusInternalServerError,
					Panic:      true,
					Stack:      stack,
					RemoteIP:   ratelimit.ClientIP(r),
				})
			}
			if ring != nil {
				ring.Push(metrics.ErrorEvent{
					Code:      string(service.CodeUnknownError),
					Endpoint:  r.URL.Path,
					RequestID: RequestIDFromContext(r.Context()),
					Message:   fmt.Sprint(p),
				})
			}
			if collector != nil {
				collector.RecordRequest(r.URL.Path, http.StatusInternalServerError, time.Since(start).Milliseconds())
			}
			if !rec.wrote {
				WriteError(w, http.StatusInternalServerError, string(service.CodeUnknownError), "internal server error")
			}
		}()

		next.ServeHTTP(rec, r)

		if collector != nil {
			collector.RecordRequest(r.URL.Path, rec.status, time.Since(start).Milliseconds())
		}
		observeFailure(engine, ring, r, note, rec.status)
	})
}

// observeFailure pushes the ring event for every noted error and captures
// an incident when the response warrants one: any 5xx, or a 4xx whose
// handler tagged a concrete failure type. Plain validation misses stay
// out of the incident store.
func observeFailure(engine *vanguard.Engine, ring *metrics.ErrorRing, r *http.Request, note *errorNote, status int) {
	if status < 400 {
		return
	}

	svcErr := note.svcErr
	if ring != nil && svcErr != nil {
		endpoint := svcErr.Endpoint
		if endpoint == "" {
			endpoint = r.URL.Path
		}
		ring.Push(metrics.ErrorEvent{
			Code:      svcErr.Code,
			Endpoint:  endpoint,
			RequestID: RequestIDFromContext(r.Context()),
			Message:   svcErr.Message,
		})
	}

	if engine == nil || !captureWorthy(svcErr, status) {
		return
	}
	errType := string(service.CodeUnknownError)
	message := http.StatusText(status)
	if svcErr != nil {
		errType = failureErrorType(svcErr)
		message = svcErr.Message
	}
	engine.Capture(r.Context(), vanguard.Failure{
		Endpoint:   r.URL.Path,
		Method:     r.Method,
		RequestID:  RequestIDFromContext(r.Context()),
		ErrorType:  errType,
		Message:    message,
		StatusCode: status,
		RemoteIP:   ratelimit.ClientIP(r),
	})
}

func captureWorthy(svcErr *service.ServiceError, status int) bool {
	if status >= 500 {
		return true
	}
	if svcErr == nil {
		return false
	}
	_, tagged := svcErr.Details["error_type"]
	return tagged
}

// failureErrorType prefers the upstream exception class recorded by the
// service layer over the taxonomy code, so repeats of the same data-shape
// bug fingerprint together.
func failureErrorType(svcErr *service.ServiceError) string {
	if et, ok := svcErr.Details["error_type"].(string); ok && et != "" {
		return et
	}
	return svcErr.Code
}

func panicErrorType(p any) string {
	if err, ok := p.(error); ok {
		return fmt.Sprintf("%T", err)
	}
	return "panic"
}
