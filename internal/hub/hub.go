// Package hub provides the in-process event bus that fans events out to
// stream sessions.
package hub

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/relay/internal/domain"
	"github.com/xiaot623/gogo/relay/internal/metrics"
)

// DefaultBufferSize is the per-subscriber queue length.
const DefaultBufferSize = 256

// Subscription is one registered consumer of the bus. Events arrive on
// Send; the channel is closed when the subscription ends, either by
// Unsubscribe or because the subscriber fell behind.
type Subscription struct {
	ID   string
	Send chan domain.Event

	hub     *Hub
	closed  bool
	dropped bool
}

// Dropped reports whether the hub removed this subscription for being full.
func (s *Subscription) Dropped() bool {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.dropped
}

// Close unsubscribes from the hub.
func (s *Subscription) Close() {
	s.hub.Unsubscribe(s)
}

// Hub delivers every published event to every subscriber in registration
// order. Publishing holds a single lock, so all subscribers observe the same
// total order of events.
type Hub struct {
	mu          sync.Mutex
	subscribers []*Subscription
	bufferSize  int
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewHub creates a new Hub.
func NewHub(bufferSize int, logger *zap.Logger, m *metrics.Metrics) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		bufferSize: bufferSize,
		logger:     logger,
		metrics:    m,
	}
}

// Subscribe registers a new subscriber. The initial events are queued ahead
// of anything published afterwards.
func (h *Hub) Subscribe(initial ...domain.Event) *Subscription {
	size := h.bufferSize
	if len(initial) > size {
		size = len(initial) + h.bufferSize
	}
	sub := &Subscription{
		ID:   "sub_" + uuid.New().String()[:8],
		Send: make(chan domain.Event, size),
		hub:  h,
	}
	for _, evt := range initial {
		sub.Send <- evt
	}

	h.mu.Lock()
	h.subscribers = append(h.subscribers, sub)
	h.mu.Unlock()

	h.logger.Debug("subscriber registered", zap.String("subscription_id", sub.ID))
	return sub
}

// Unsubscribe removes the subscriber and closes its channel. It is safe to
// call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscription) {
	if sub.closed {
		return
	}
	for i, s := range h.subscribers {
		if s == sub {
			h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
			break
		}
	}
	sub.closed = true
	close(sub.Send)
}

// Publish delivers evt to every current subscriber without blocking. A
// subscriber whose buffer is full is dropped, not retried.
func (h *Hub) Publish(evt domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var full []*Subscription
	for _, sub := range h.subscribers {
		select {
		case sub.Send <- evt:
		default:
			full = append(full, sub)
		}
	}
	for _, sub := range full {
		h.logger.Warn("subscriber buffer full, dropping", zap.String("subscription_id", sub.ID))
		sub.dropped = true
		h.removeLocked(sub)
		h.metrics.SubscriberDropped()
	}
	h.metrics.EventPublished(string(evt.Type))
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
