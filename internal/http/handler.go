package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/relay/internal/adapter/llm"
	"github.com/xiaot623/gogo/relay/internal/domain"
	"github.com/xiaot623/gogo/relay/internal/service"
	"github.com/xiaot623/gogo/relay/internal/session"
)

// Chat is the service surface the public API needs. *service.Service
// satisfies it.
type Chat interface {
	SubmitMessage(ctx context.Context, req service.SubmitRequest) (service.SubmitResult, error)
	SetTyping(ctx context.Context, participantID string, isTyping bool) error
	Ready(ctx context.Context, participantID string) (domain.HistoryPayload, error)
	History() domain.HistoryPayload
	Participants() []domain.Participant
	ListBots() []domain.BotDefinition
	ListModels(ctx context.Context) ([]llm.Model, error)
	ToggleBot(ctx context.Context, name string, enabled bool) (domain.BotState, error)
}

// Sessions runs stream sessions. *session.Manager satisfies it.
type Sessions interface {
	Admit(participantID string) error
	Serve(ctx context.Context, participantID, displayName string, t session.Transport) error
}

// Handler handles public HTTP requests.
type Handler struct {
	ctx      context.Context
	chat     Chat
	sessions Sessions
	logger   *zap.Logger
}

// NewHandler creates a new handler. Event streams end when ctx is done.
func NewHandler(ctx context.Context, chat Chat, sessions Sessions, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		ctx:      ctx,
		chat:     chat,
		sessions: sessions,
		logger:   logger,
	}
}

// RegisterRoutes registers public routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Streams
	e.GET("/api/events", h.StreamEvents)

	// Messages and presence
	e.POST("/api/messages", h.PostMessage)
	e.POST("/api/typing", h.PostTyping)
	e.POST("/api/ready", h.PostReady)
	e.POST("/api/clear", h.PostClear)
	e.GET("/api/history", h.GetHistory)
	e.GET("/api/participants", h.GetParticipants)

	// Bots
	e.GET("/api/bots", h.ListBots)
	e.POST("/api/bots/:name/toggle", h.ToggleBot)
	e.GET("/api/models", h.ListModels)
}

// TypingRequest is the body of POST /api/typing.
type TypingRequest struct {
	ParticipantID string `json:"participantId"`
	IsTyping      bool   `json:"isTyping"`
}

// ParticipantRequest identifies the caller.
type ParticipantRequest struct {
	ParticipantID string `json:"participantId"`
	AuthorName    string `json:"authorName,omitempty"`
}

// ToggleRequest is the body of POST /api/bots/:name/toggle.
type ToggleRequest struct {
	Enabled *bool `json:"enabled"`
}

// PostMessage submits a chat message or command.
// POST /api/messages
func (h *Handler) PostMessage(c echo.Context) error {
	var req service.SubmitRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	res, err := h.chat.SubmitMessage(c.Request().Context(), req)
	if err != nil {
		return writeError(c, err)
	}
	if res.Message != nil && res.Command == "" && !res.Duplicate {
		return c.JSON(http.StatusCreated, res)
	}
	return c.JSON(http.StatusOK, res)
}

// PostTyping updates the caller's typing indicator.
// POST /api/typing
func (h *Handler) PostTyping(c echo.Context) error {
	var req TypingRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.ParticipantID == "" {
		return badRequest(c, "participantId is required")
	}

	if err := h.chat.SetTyping(c.Request().Context(), req.ParticipantID, req.IsTyping); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// PostReady marks the caller active and returns a fresh snapshot.
// POST /api/ready
func (h *Handler) PostReady(c echo.Context) error {
	var req ParticipantRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.ParticipantID == "" {
		return badRequest(c, "participantId is required")
	}

	history, err := h.chat.Ready(c.Request().Context(), req.ParticipantID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, history)
}

// PostClear clears the conversation on behalf of the caller.
// POST /api/clear
func (h *Handler) PostClear(c echo.Context) error {
	var req ParticipantRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	res, err := h.chat.SubmitMessage(c.Request().Context(), service.SubmitRequest{
		ParticipantID: req.ParticipantID,
		AuthorName:    req.AuthorName,
		Content:       "/clear",
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// GetHistory returns the current snapshot.
// GET /api/history
func (h *Handler) GetHistory(c echo.Context) error {
	return c.JSON(http.StatusOK, h.chat.History())
}

// GetParticipants lists online participants.
// GET /api/participants
func (h *Handler) GetParticipants(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"participants": h.chat.Participants(),
	})
}

// ListBots lists the configured bots.
// GET /api/bots
func (h *Handler) ListBots(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"bots": h.chat.ListBots(),
	})
}

// ToggleBot enables or disables a bot.
// POST /api/bots/:name/toggle
func (h *Handler) ToggleBot(c echo.Context) error {
	var req ToggleRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Enabled == nil {
		return badRequest(c, "enabled is required")
	}

	state, err := h.chat.ToggleBot(c.Request().Context(), c.Param("name"), *req.Enabled)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, state)
}

// ListModels reports the models offered by the provider.
// GET /api/models
func (h *Handler) ListModels(c echo.Context) error {
	models, err := h.chat.ListModels(c.Request().Context())
	if err != nil {
		h.logger.Warn("failed to list models", zap.Error(err))
		return writeError(c, err)
	}
	if models == nil {
		models = []llm.Model{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"object": "list",
		"data":   models,
	})
}

// StreamEvents serves the event stream as Server-Sent Events.
// GET /api/events?participantId=&name=
func (h *Handler) StreamEvents(c echo.Context) error {
	participantID := strings.TrimSpace(c.QueryParam("participantId"))
	name := strings.TrimSpace(c.QueryParam("name"))
	if name == "" {
		return badRequest(c, "name is required")
	}
	if participantID == "" {
		participantID = "p_" + uuid.New().String()[:8]
	}
	if err := h.sessions.Admit(participantID); err != nil {
		return writeError(c, err)
	}

	// Set SSE headers
	res := c.Response()
	res.Header().Set("Content-Type", "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.Header().Set("X-Participant-Id", participantID)
	res.WriteHeader(http.StatusOK)
	res.Flush()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	stop := context.AfterFunc(h.ctx, cancel)
	defer stop()

	err := h.sessions.Serve(ctx, participantID, name, newSSETransport(ctx, res))
	if err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Info("event stream ended", zap.String("participant_id", participantID), zap.Error(err))
	}
	return nil
}
