package ws

import "github.com/xiaot623/gogo/relay/internal/domain"

// Frame types from client to server.
const (
	TypeMessage = "message"
	TypeTyping  = "typing"
	TypeReady   = "ready"
)

// Frame types sent only to the requesting connection.
const (
	TypeAck          = "ack"
	TypeCommandReply = "command-reply"
	TypeError        = "error"
)

// BaseFrame contains common fields for all client frames.
type BaseFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
}

// MessageFrame submits a chat message. ID makes resubmission idempotent.
type MessageFrame struct {
	BaseFrame
	ID      string `json:"id,omitempty"`
	Content string `json:"content"`
}

// TypingFrame reports a typing change.
type TypingFrame struct {
	BaseFrame
	IsTyping bool `json:"isTyping"`
}

// AckFrame confirms a submitted message.
type AckFrame struct {
	BaseFrame
	Ts        int64           `json:"ts"`
	Message   *domain.Message `json:"message,omitempty"`
	Duplicate bool            `json:"duplicate,omitempty"`
}

// CommandReplyFrame carries output meant only for the sender.
type CommandReplyFrame struct {
	BaseFrame
	Ts      int64  `json:"ts"`
	Command string `json:"command"`
	Reply   string `json:"reply,omitempty"`
}

// ErrorFrame reports a rejected client frame.
type ErrorFrame struct {
	BaseFrame
	Ts      int64  `json:"ts"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
