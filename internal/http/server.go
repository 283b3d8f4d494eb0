// Package http provides the public and internal HTTP servers for the relay.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// WebSocketHandler serves the websocket stream.
type WebSocketHandler interface {
	HandleWebSocket(c echo.Context) error
}

// NewPublicServer creates the client-facing server: REST, SSE and websocket
// streams.
func NewPublicServer(h *Handler, ws WebSocketHandler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	h.RegisterRoutes(e)
	if ws != nil {
		e.GET("/ws", ws.HandleWebSocket)
	}
	return e
}

// NewInternalServer creates the operator-facing server: health, metrics and
// the notification outbox.
func NewInternalServer(h *InternalHandler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	h.RegisterRoutes(e)
	return e
}
