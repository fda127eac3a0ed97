// Package stream implements the SSE broadcast hub shared by the live pulse,
// health, and late-arrival surfaces.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/nexus-vanguard/vanguard/internal/kv"
)

// Event is one server-sent event. Data is the JSON-encoded payload.
type Event struct {
	Type string
	Data []byte
}

// DefaultListenerBuffer is the per-listener channel depth.
const DefaultListenerBuffer = 64

// Hub fans events out to registered listeners. Producers never block: a
// full listener buffer drops its oldest event to admit the new one.
type Hub struct {
	name      string
	buffer    int
	listeners *xsync.Map[string, chan Event]
	closed    atomic.Bool
	presence  *kv.Presence

	dropped atomic.Int64
}

// NewHub creates a hub named name (also the presence stream key).
// presence may be nil; buffer <= 0 uses DefaultListenerBuffer.
func NewHub(name string, buffer int, presence *kv.Presence) *Hub {
	if buffer <= 0 {
		buffer = DefaultListenerBuffer
	}
	return &Hub{
		name:      name,
		buffer:    buffer,
		listeners: xsync.NewMap[string, chan Event](),
		presence:  presence,
	}
}

// Name returns the hub's stream name.
func (h *Hub) Name() string { return h.name }

// Register adds a listener and returns its event channel. Registering on a
// closed hub returns an already-closed channel.
func (h *Hub) Register(id string) <-chan Event {
	ch := make(chan Event, h.buffer)
	if h.closed.Load() {
		close(ch)
		return ch
	}
	if old, loaded := h.listeners.LoadAndStore(id, ch); loaded {
		close(old)
	}
	h.touchPresence(id)
	return ch
}

// Unregister removes a listener and closes its channel.
func (h *Hub) Unregister(id string) {
	h.listeners.Compute(id, func(ch chan Event, loaded bool) (chan Event, xsync.ComputeOp) {
		if loaded {
			close(ch)
			return ch, xsync.DeleteOp
		}
		return ch, xsync.CancelOp
	})
	h.removePresence(id)
}

// Push JSON-encodes payload and fans it out to every listener.
func (h *Hub) Push(eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[stream] %s: encode %s event: %v", h.name, eventType, err)
		return
	}
	h.PushRaw(eventType, data)
}

// PushRaw fans a pre-encoded event out to every listener without blocking.
func (h *Hub) PushRaw(eventType string, data []byte) {
	if h.closed.Load() {
		return
	}
	ev := Event{Type: eventType, Data: data}
	h.listeners.Range(func(id string, ch chan Event) bool {
		select {
		case ch <- ev:
		default:
			// Full buffer: drop the oldest event, then try once more.
			select {
			case <-ch:
				h.dropped.Add(1)
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
		return true
	})
}

// ListenerCount returns the number of registered listeners.
func (h *Hub) ListenerCount() int {
	return h.listeners.Size()
}

// Dropped returns the count of events dropped to slow listeners.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close marks the hub closed and closes every listener channel.
func (h *Hub) Close() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}
	h.listeners.Range(func(id string, ch chan Event) bool {
		h.listeners.Compute(id, func(c chan Event, loaded bool) (chan Event, xsync.ComputeOp) {
			if loaded {
				close(c)
				return c, xsync.DeleteOp
			}
			return c, xsync.CancelOp
		})
		return true
	})
}

// WriteEvent writes ev in text/event-stream framing.
func WriteEvent(w io.Writer, ev Event) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, ev.Data)
	return err
}

// WriteHeartbeat writes an SSE comment heartbeat.
func WriteHeartbeat(w io.Writer) error {
	_, err := io.WriteString(w, ":ping\n\n")
	return err
}
