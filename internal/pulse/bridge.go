package pulse

import (
	"time"

	"github.com/nexus-vanguard/vanguard/internal/scanloop"
	"github.com/nexus-vanguard/vanguard/internal/stream"
)

// Bridge forwards fresh pulse snapshots to an SSE hub. It checks once a
// second but pushes only when the producer's cycle counter has advanced,
// so listeners see one event per completed cycle.
type Bridge struct {
	producer *Producer
	hub      *stream.Hub
	interval time.Duration

	last uint64
}

// NewBridge wires a producer to a hub. interval <= 0 defaults to one
// second.
func NewBridge(producer *Producer, hub *stream.Hub, interval time.Duration) *Bridge {
	if interval <= 0 {
		interval = time.Second
	}
	return &Bridge{producer: producer, hub: hub, interval: interval}
}

// Run blocks until stopCh closes, forwarding snapshots as cycles land.
func (b *Bridge) Run(stopCh <-chan struct{}) {
	scanloop.RunEvery(stopCh, b.interval, b.tick)
}

func (b *Bridge) tick() {
	cycle := b.producer.Cycle()
	if cycle == 0 || cycle == b.last {
		return
	}
	b.last = cycle
	b.hub.Push("pulse", b.producer.Snapshot())
}
