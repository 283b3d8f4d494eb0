// Package ws provides the WebSocket stream transport.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/relay/internal/domain"
	"github.com/xiaot623/gogo/relay/internal/service"
	"github.com/xiaot623/gogo/relay/internal/session"
)

// Chat is the set of client operations reachable over the socket.
type Chat interface {
	SubmitMessage(ctx context.Context, req service.SubmitRequest) (service.SubmitResult, error)
	SetTyping(ctx context.Context, participantID string, isTyping bool) error
	Ready(ctx context.Context, participantID string) (domain.HistoryPayload, error)
}

// Config holds socket limits.
type Config struct {
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
	RequestTimeout time.Duration
}

// Server handles WebSocket connections.
type Server struct {
	ctx      context.Context
	cfg      Config
	chat     Chat
	sessions SessionManager
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// SessionManager is satisfied by *session.Manager.
type SessionManager interface {
	Admit(participantID string) error
	Serve(ctx context.Context, participantID, displayName string, t session.Transport) error
}

// NewServer creates a new WebSocket server. Sessions end when ctx is done.
func NewServer(ctx context.Context, cfg Config, chat Chat, sessions SessionManager, logger *zap.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Server{
		ctx:      ctx,
		cfg:      cfg,
		chat:     chat,
		sessions: sessions,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Participants self-declare; there is no origin to trust.
				return true
			},
		},
	}
}

// HandleWebSocket upgrades the request and serves the stream until the
// client goes away. Query: participantId (generated when empty), name.
func (s *Server) HandleWebSocket(c echo.Context) error {
	participantID := strings.TrimSpace(c.QueryParam("participantId"))
	name := strings.TrimSpace(c.QueryParam("name"))
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	if participantID == "" {
		participantID = "p_" + uuid.New().String()[:8]
	}
	if err := s.sessions.Admit(participantID); err != nil {
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", zap.Error(err))
		return nil
	}
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	conn := newConn(ws, s.cfg.WriteTimeout)
	go s.readPump(conn, participantID)

	err = s.sessions.Serve(s.ctx, participantID, name, conn)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Info("websocket session ended", zap.String("participant_id", participantID), zap.Error(err))
	}
	conn.Close()
	return nil
}

// readPump reads client frames until the connection fails.
func (s *Server) readPump(conn *Conn, participantID string) {
	defer conn.markDone()

	conn.ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", zap.String("participant_id", participantID), zap.Error(err))
			}
			return
		}
		conn.ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		s.handleFrame(conn, participantID, message)
	}
}

// handleFrame dispatches incoming frames to the chat service.
func (s *Server) handleFrame(conn *Conn, participantID string, data []byte) {
	var base BaseFrame
	if err := json.Unmarshal(data, &base); err != nil {
		s.sendError(conn, "", domain.CodeValidation, "invalid JSON frame")
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RequestTimeout)
	defer cancel()

	switch base.Type {
	case TypeMessage:
		s.handleMessage(ctx, conn, participantID, data)
	case TypeTyping:
		var frame TypingFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.sendError(conn, base.RequestID, domain.CodeValidation, "invalid typing frame")
			return
		}
		if err := s.chat.SetTyping(ctx, participantID, frame.IsTyping); err != nil {
			s.sendError(conn, base.RequestID, domain.ErrorCode(err), err.Error())
		}
	case TypeReady:
		history, err := s.chat.Ready(ctx, participantID)
		if err != nil {
			s.sendError(conn, base.RequestID, domain.ErrorCode(err), err.Error())
			return
		}
		if err := conn.Send(ctx, domain.NewEvent(history)); err != nil {
			s.logger.Debug("failed to send history", zap.Error(err))
		}
	default:
		s.sendError(conn, base.RequestID, domain.CodeValidation, "unknown frame type: "+base.Type)
	}
}

func (s *Server) handleMessage(ctx context.Context, conn *Conn, participantID string, data []byte) {
	var frame MessageFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.sendError(conn, "", domain.CodeValidation, "invalid message frame")
		return
	}

	res, err := s.chat.SubmitMessage(ctx, service.SubmitRequest{
		ID:            frame.ID,
		ParticipantID: participantID,
		Content:       frame.Content,
	})
	if err != nil {
		s.sendError(conn, frame.RequestID, domain.ErrorCode(err), err.Error())
		return
	}

	now := time.Now().UnixMilli()
	if res.Command != "" {
		conn.SendJSON(CommandReplyFrame{
			BaseFrame: BaseFrame{Type: TypeCommandReply, RequestID: frame.RequestID},
			Ts:        now,
			Command:   res.Command,
			Reply:     res.Reply,
		})
		return
	}
	conn.SendJSON(AckFrame{
		BaseFrame: BaseFrame{Type: TypeAck, RequestID: frame.RequestID},
		Ts:        now,
		Message:   res.Message,
		Duplicate: res.Duplicate,
	})
}

// sendError sends an error frame to a connection.
func (s *Server) sendError(conn *Conn, requestID, code, message string) {
	err := conn.SendJSON(ErrorFrame{
		BaseFrame: BaseFrame{Type: TypeError, RequestID: requestID},
		Ts:        time.Now().UnixMilli(),
		Code:      code,
		Message:   message,
	})
	if err != nil {
		s.logger.Debug("failed to send error frame", zap.Error(err))
	}
}
