// Package domain defines the core domain models for the relay.
package domain

// MessageKind represents who authored a message.
type MessageKind string

const (
	MessageKindUser   MessageKind = "user"
	MessageKindSystem MessageKind = "system"
	MessageKindAI     MessageKind = "ai"
)

// MessageStatus represents the delivery state of a message.
type MessageStatus string

const (
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusFailed    MessageStatus = "failed"
	MessageStatusStreaming MessageStatus = "streaming"
)

// Terminal reports whether no further transition is allowed.
func (s MessageStatus) Terminal() bool {
	return s == MessageStatusSent || s == MessageStatusFailed
}

// EventType represents the kind of an event fanned out to stream sessions.
type EventType string

const (
	EventTypeHistory    EventType = "history"
	EventTypeMessage    EventType = "message"
	EventTypePresence   EventType = "presence"
	EventTypeTyping     EventType = "typing"
	EventTypeBotState   EventType = "bot-state"
	EventTypeAIStart    EventType = "ai-start"
	EventTypeAIChunk    EventType = "ai-chunk"
	EventTypeAIComplete EventType = "ai-complete"
	EventTypeAIError    EventType = "ai-error"
	EventTypeCleared    EventType = "cleared"
	EventTypeKeepAlive  EventType = "keep-alive"
)

// ReplyMode selects which prompt/temperature pair a bot uses.
type ReplyMode string

const (
	ReplyModeNormal       ReplyMode = "normal"
	ReplyModeInterjection ReplyMode = "interjection"
)
