// Package metrics exposes Prometheus collectors for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the relay collectors. A nil *Metrics is valid and records
// nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	ActiveStreams       prometheus.Gauge
	EventsPublished     *prometheus.CounterVec
	SubscribersDropped  prometheus.Counter
	BotReplies          *prometheus.CounterVec
	ReconnectsThrottled prometheus.Counter
	Notifications       *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_streams",
			Help: "Number of active stream sessions.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_events_published_total",
			Help: "Events published on the bus, by type.",
		}, []string{"type"}),
		SubscribersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_subscribers_dropped_total",
			Help: "Subscribers dropped because their buffer was full.",
		}),
		BotReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_bot_replies_total",
			Help: "Bot replies by bot and terminal status.",
		}, []string{"bot", "status"}),
		ReconnectsThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_reconnects_throttled_total",
			Help: "Stream connection attempts rejected by admission control.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_notifications_total",
			Help: "Notification hook deliveries by outcome.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ActiveStreams,
			m.EventsPublished,
			m.SubscribersDropped,
			m.BotReplies,
			m.ReconnectsThrottled,
			m.Notifications,
		)
	}
	return m
}

func (m *Metrics) StreamOpened() {
	if m != nil {
		m.ActiveStreams.Inc()
	}
}

func (m *Metrics) StreamClosed() {
	if m != nil {
		m.ActiveStreams.Dec()
	}
}

func (m *Metrics) EventPublished(eventType string) {
	if m != nil {
		m.EventsPublished.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) SubscriberDropped() {
	if m != nil {
		m.SubscribersDropped.Inc()
	}
}

func (m *Metrics) BotReply(bot, status string) {
	if m != nil {
		m.BotReplies.WithLabelValues(bot, status).Inc()
	}
}

func (m *Metrics) ReconnectThrottled() {
	if m != nil {
		m.ReconnectsThrottled.Inc()
	}
}

func (m *Metrics) Notification(status string) {
	if m != nil {
		m.Notifications.WithLabelValues(status).Inc()
	}
}
