package stream

import (
	"context"
	"log"
	"time"
)

const presenceOpTimeout = 2 * time.Second

// touchPresence mirrors a listener registration into the shared presence
// set. Best effort: failures are logged, never surfaced to the listener.
func (h *Hub) touchPresence(id string) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceOpTimeout)
	defer cancel()
	if err := h.presence.Touch(ctx, h.name, id, time.Now()); err != nil {
		log.Printf("[stream] %s: presence touch %s: %v", h.name, id, err)
	}
}

func (h *Hub) removePresence(id string) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceOpTimeout)
	defer cancel()
	if err := h.presence.Remove(ctx, h.name, id); err != nil {
		log.Printf("[stream] %s: presence remove %s: %v", h.name, id, err)
	}
}

// RefreshPresence re-touches every registered listener so long-lived
// streams survive the sweep cutoff.
func (h *Hub) RefreshPresence(ctx context.Context) {
	if h.presence == nil {
		return
	}
	now := time.Now()
	h.listeners.Range(func(id string, _ chan Event) bool {
		if err := h.presence.Touch(ctx, h.name, id, now); err != nil {
			log.Printf("[stream] %s: presence refresh %s: %v", h.name, id, err)
			return false
		}
		return true
	})
}

// SweepPresence trims presence entries older than maxAge. Run periodically
// so sessions from crashed replicas do not accumulate.
func (h *Hub) SweepPresence(ctx context.Context, maxAge time.Duration) {
	if h.presence == nil {
		return
	}
	trimmed, err := h.presence.TrimBefore(ctx, h.name, time.Now().Add(-maxAge))
	if err != nil {
		log.Printf("[stream] %s: presence sweep: %v", h.name, err)
		return
	}
	if trimmed > 0 {
		log.Printf("[stream] %s: swept %d stale presence entries", h.name, trimmed)
	}
}
