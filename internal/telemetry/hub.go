package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/smartbin/internal/monitoring"
)

// DefaultSubscriberBuffer is the per-subscriber channel size.
const DefaultSubscriberBuffer = 16

// Hub fans events out to in-process subscribers such as the SSE and
// WebSocket handlers. Slow subscribers drop events rather than stall the
// publisher. The latest event of each kind is kept for late joiners.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	last   map[string]Event
	buffer int
	closed bool
	drops  uint64
}

// NewHub returns an open hub.
func NewHub() *Hub {
	return &Hub{
		subs:   make(map[chan Event]struct{}),
		last:   make(map[string]Event),
		buffer: DefaultSubscriberBuffer,
	}
}

// Subscribe registers a new subscriber. The returned function unsubscribes
// and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Event, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Last returns the most recent event of each kind, in kind order.
func (h *Hub) Last() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Event
	for _, kind := range []string{KindStatus, KindBins, KindDetection} {
		if ev, ok := h.last[kind]; ok {
			out = append(out, ev)
		}
	}
	return out
}

// Drops returns the number of events dropped for slow subscribers.
func (h *Hub) Drops() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.drops
}

func (h *Hub) broadcast(kind string, at time.Time, payload any) error {
	ev := Event{Kind: kind, Time: at, Payload: payload}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrNotConnected
	}
	h.last[kind] = ev
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.drops++
			monitoring.Debugf("hub: dropped %s event for slow subscriber", kind)
		}
	}
	return nil
}

func (h *Hub) Connect(context.Context) error {
	h.mu.Lock()
	h.closed = false
	h.mu.Unlock()
	return nil
}

func (h *Hub) PublishDetection(e DetectionEvent) error {
	return h.broadcast(KindDetection, e.Time, e)
}

func (h *Hub) PublishBinStatus(s BinStatus) error {
	return h.broadcast(KindBins, s.Time, s)
}

func (h *Hub) PublishSystemStatus(s SystemStatus) error {
	return h.broadcast(KindStatus, s.Time, s)
}

// Disconnect closes every subscriber channel. Later publishes fail with
// ErrNotConnected until Connect is called again.
func (h *Hub) Disconnect() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		close(ch)
		delete(h.subs, ch)
	}
	h.closed = true
	return nil
}
