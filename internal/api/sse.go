package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-vanguard/vanguard/internal/service"
	"github.com/nexus-vanguard/vanguard/internal/stream"
)

// serveStream subscribes the connection to hub and relays events until
// the client goes away or the hub closes. Heartbeats are SSE comments so
// idle proxies keep the connection open.
func serveStream(hub *stream.Hub, heartbeat time.Duration, w http.ResponseWriter, r *http.Request) {
	if hub == nil {
		writeServiceError(w, r, service.NewDomainError(service.CodeServiceDown, r.URL.Path, "stream hub not running"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, string(service.CodeConfigurationError),
			"response writer does not support streaming")
		return
	}

	id := RequestIDFromContext(r.Context())
	if id == "" {
		id = uuid.NewString()
	}
	events := hub.Register(id)
	defer hub.Unregister(id)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	// The heartbeat goes out after registration, so a client that has seen
	// it is guaranteed to receive every event pushed from then on.
	if stream.WriteHeartbeat(w) != nil {
		return
	}
	flusher.Flush()

	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			if stream.WriteEvent(w, ev) != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if stream.WriteHeartbeat(w) != nil {
				return
			}
			flusher.Flush()
		}
	}
}
