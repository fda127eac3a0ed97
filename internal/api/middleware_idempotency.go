package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/nexus-vanguard/vanguard/internal/idempotency"
	"github.com/nexus-vanguard/vanguard/internal/metrics"
	"github.com/nexus-vanguard/vanguard/internal/service"
)

// IdempotencyHeader carries the caller's mutation key.
const IdempotencyHeader = "Idempotency-Key"

func idempotentMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// IdempotencyMiddleware makes keyed mutations replay-safe. Requests
// without an Idempotency-Key pass straight through. For keyed requests
// the whole body is read up front so retries can be matched by hash:
// a completed key replays the stored response bytes, an in-flight key
// conflicts, and a reused key with a different body is rejected.
func IdempotencyMiddleware(store *idempotency.Store, collector *metrics.Collector, next http.Handler) http.Handler {
	if store == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(IdempotencyHeader)
		if key == "" || !idempotentMethod(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		var body []byte
		if r.Body != nil {
			var err error
			body, err = io.ReadAll(r.Body)
			if err != nil {
				var maxErr *http.MaxBytesError
				if errors.As(err, &maxErr) {
					writePayloadTooLarge(w, maxErr.Limit)
					return
				}
				writeInvalidArgument(w, r, "failed to read body")
				return
			}
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		cacheKey := idempotency.CacheKey(r.URL.Path, key)
		outcome, rec := store.Begin(r.Context(), cacheKey, idempotency.BodyHash(body))
		switch outcome {
		case idempotency.OutcomeMismatch:
			WriteError(w, http.StatusUnprocessableEntity, string(service.CodeInvalidParam),
				"Idempotency-Key was reused with a different request body")
			return
		case idempotency.OutcomeInFlight:
			if collector != nil {
				collector.RecordConflict(r.URL.Path)
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(idempotency.RetryAfter.Seconds())))
			WriteError(w, http.StatusConflict, "CONFLICT",
				"a request with this Idempotency-Key is still in flight")
			return
		case idempotency.OutcomeReplay:
			if collector != nil {
				collector.RecordReplay(r.URL.Path)
			}
			writeReplay(w, rec)
			return
		}

		buf := newBufferRecorder(w)
		next.ServeHTTP(buf, r)

		switch status := buf.status; {
		case status >= 200 && status < 400:
			store.Complete(r.Context(), cacheKey, rec, status, buf.Header().Get("Content-Type"), buf.body.Bytes())
		case status >= 500:
			store.Fail(r.Context(), cacheKey, rec)
		default:
			// Client errors are not replayable; a corrected retry may
			// reuse the key immediately.
			store.Evict(r.Context(), cacheKey)
		}
		buf.flush()
	})
}

// writeReplay serves a stored response snapshot byte for byte. Responses
// too large to store replay as an acknowledgement instead.
func writeReplay(w http.ResponseWriter, rec idempotency.Record) {
	w.Header().Set("X-Idempotency-Status", "Replayed")
	if rec.Oversize {
		WriteJSON(w, http.StatusAccepted, map[string]string{"status": "replayed-fingerprint"})
		return
	}
	if rec.ContentType != "" {
		w.Header().Set("Content-Type", rec.ContentType)
	}
	w.WriteHeader(rec.ResponseCode)
	_, _ = w.Write(rec.ResponseBody)
}

// bufferRecorder buffers the downstream response so the middleware can
// snapshot it before anything reaches the wire.
type bufferRecorder struct {
	dst         http.ResponseWriter
	status      int
	body        bytes.Buffer
	wroteHeader bool
}

func newBufferRecorder(dst http.ResponseWriter) *bufferRecorder {
	return &bufferRecorder{dst: dst, status: http.StatusOK}
}

func (b *bufferRecorder) Header() http.Header { return b.dst.Header() }

func (b *bufferRecorder) WriteHeader(status int) {
	if b.wroteHeader {
		return
	}
	b.wroteHeader = true
	b.status = status
}

func (b *bufferRecorder) Write(p []byte) (int, error) {
	if !b.wroteHeader {
		b.WriteHeader(http.StatusOK)
	}
	return b.body.Write(p)
}

func (b *bufferRecorder) flush() {
	b.dst.WriteHeader(b.status)
	_, _ = b.dst.Write(b.body.Bytes())
}
