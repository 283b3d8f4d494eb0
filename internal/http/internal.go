package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xiaot623/gogo/relay/internal/domain"
)

// Outbox is the notification store polled by external pushers.
type Outbox interface {
	Ping(ctx context.Context) error
	ListNotifications(ctx context.Context, pendingOnly bool, limit int) ([]domain.Notification, error)
	MarkDelivered(ctx context.Context, id string) error
}

// SessionCounter is satisfied by *session.Manager.
type SessionCounter interface {
	ActiveSessions() int
}

// SubscriberCounter is satisfied by *hub.Hub.
type SubscriberCounter interface {
	SubscriberCount() int
}

// InternalHandler handles operator requests.
type InternalHandler struct {
	outbox      Outbox
	sessions    SessionCounter
	subscribers SubscriberCounter
	gatherer    prometheus.Gatherer
}

// NewInternalHandler creates a new internal handler. A nil outbox disables
// the notification routes; a nil gatherer disables /metrics.
func NewInternalHandler(outbox Outbox, sessions SessionCounter, subscribers SubscriberCounter, gatherer prometheus.Gatherer) *InternalHandler {
	return &InternalHandler{
		outbox:      outbox,
		sessions:    sessions,
		subscribers: subscribers,
		gatherer:    gatherer,
	}
}

// RegisterRoutes registers internal routes with the echo server.
func (h *InternalHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	if h.gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}

	// Notification outbox
	e.GET("/internal/notifications", h.ListNotifications)
	e.POST("/internal/notifications/:id/ack", h.AckNotification)
}

// Health returns health status.
func (h *InternalHandler) Health(c echo.Context) error {
	body := map[string]interface{}{
		"status": "healthy",
	}
	if h.sessions != nil {
		body["sessions"] = h.sessions.ActiveSessions()
	}
	if h.subscribers != nil {
		body["subscribers"] = h.subscribers.SubscriberCount()
	}
	if h.outbox != nil {
		if err := h.outbox.Ping(c.Request().Context()); err != nil {
			body["status"] = "degraded"
			body["outbox"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, body)
		}
	}
	return c.JSON(http.StatusOK, body)
}

// ListNotifications returns outbox rows oldest first.
// GET /internal/notifications?pending=true&limit=100
func (h *InternalHandler) ListNotifications(c echo.Context) error {
	if h.outbox == nil {
		return outboxDisabled(c)
	}
	pending := true
	if p := c.QueryParam("pending"); p != "" {
		if val, err := strconv.ParseBool(p); err == nil {
			pending = val
		}
	}
	limit := 100
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}

	notifications, err := h.outbox.ListNotifications(c.Request().Context(), pending, limit)
	if err != nil {
		return writeError(c, err)
	}
	if notifications == nil {
		notifications = []domain.Notification{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"notifications": notifications,
	})
}

// AckNotification marks a notification delivered.
// POST /internal/notifications/:id/ack
func (h *InternalHandler) AckNotification(c echo.Context) error {
	if h.outbox == nil {
		return outboxDisabled(c)
	}
	if err := h.outbox.MarkDelivered(c.Request().Context(), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func outboxDisabled(c echo.Context) error {
	return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "notification outbox disabled", Code: domain.CodeInternal})
}
