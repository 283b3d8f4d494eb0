// Package notify fans finalized human and system messages out to
// notification sinks without blocking the chat path.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/relay/internal/domain"
	"github.com/xiaot623/gogo/relay/internal/metrics"
)

// Sink receives finalized messages.
type Sink interface {
	Notify(ctx context.Context, msg domain.Message) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, msg domain.Message) error

// Notify calls f.
func (f SinkFunc) Notify(ctx context.Context, msg domain.Message) error { return f(ctx, msg) }

// LogSink writes every message to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Notify logs msg.
func (s *LogSink) Notify(_ context.Context, msg domain.Message) error {
	s.logger.Info("message notification",
		zap.String("message_id", msg.ID),
		zap.String("author", msg.AuthorName),
		zap.String("kind", string(msg.Kind)),
		zap.Int("length", len(msg.Content)),
	)
	return nil
}

// Multi delivers to every sink and joins their errors.
type Multi []Sink

// Notify calls every sink in order.
func (m Multi) Notify(ctx context.Context, msg domain.Message) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher hands messages to a Sink on a background goroutine.
type Dispatcher struct {
	sink    Sink
	queue   chan domain.Message
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher creates a Dispatcher with a bounded queue.
func NewDispatcher(sink Sink, queueSize int, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Dispatcher{
		sink:    sink,
		queue:   make(chan domain.Message, queueSize),
		logger:  logger,
		metrics: m,
		done:    make(chan struct{}),
	}
}

// Enqueue schedules msg for delivery. It never blocks; when the queue is
// full or the dispatcher is closed the message is dropped.
func (d *Dispatcher) Enqueue(msg domain.Message) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- msg:
		return true
	default:
		d.metrics.Notification("dropped")
		d.logger.Warn("notification queue full, dropping", zap.String("message_id", msg.ID))
		return false
	}
}

// Run delivers queued messages until Close is called and the queue drains.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for msg := range d.queue {
		d.deliver(ctx, msg)
	}
}

// Close stops accepting messages and waits for Run to drain the queue.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) deliver(ctx context.Context, msg domain.Message) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.Notification("failed")
			d.logger.Error("notification sink panicked", zap.String("message_id", msg.ID), zap.String("panic", fmt.Sprint(r)))
		}
	}()
	if err := d.sink.Notify(ctx, msg); err != nil {
		d.metrics.Notification("failed")
		d.logger.Warn("notification failed", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	d.metrics.Notification("delivered")
}
