package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is implemented by exactly one struct per EventType.
type Payload interface {
	EventType() EventType
}

// Event is a typed state change delivered to stream sessions.
type Event struct {
	Type    EventType `json:"type"`
	Ts      int64     `json:"ts"`
	Payload Payload   `json:"payload"`
}

// NewEvent stamps a payload with its type and the current time.
func NewEvent(p Payload) Event {
	return Event{
		Type:    p.EventType(),
		Ts:      time.Now().UnixMilli(),
		Payload: p,
	}
}

// HistoryPayload is the initial snapshot sent to a newly active session.
type HistoryPayload struct {
	Messages     []Message     `json:"messages"`
	Participants []Participant `json:"participants"`
	Bots         []BotState    `json:"bots"`
}

// MessagePayload carries a newly appended human or system message.
type MessagePayload struct {
	Message Message `json:"message"`
}

// PresencePayload carries the online participant list after a change.
type PresencePayload struct {
	Participants []Participant `json:"participants"`
	Joined       string        `json:"joined,omitempty"`
	Left         string        `json:"left,omitempty"`
}

// TypingPayload carries a typing state change.
type TypingPayload struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	IsTyping      bool   `json:"isTyping"`
}

// BotStatePayload carries a bot enable/disable toggle.
type BotStatePayload struct {
	Bot BotState `json:"bot"`
}

// AIStartPayload announces a new streaming bot reply.
type AIStartPayload struct {
	Message      Message `json:"message"`
	Interjection bool    `json:"interjection"`
}

// AIChunkPayload carries one generation delta.
type AIChunkPayload struct {
	MessageID string `json:"messageId"`
	BotName   string `json:"botName"`
	Delta     string `json:"delta"`
	Seq       int    `json:"seq"`
}

// AICompletePayload carries the finalized bot message.
type AICompletePayload struct {
	Message Message `json:"message"`
}

// AIErrorPayload carries a failed bot message and the failure reason.
type AIErrorPayload struct {
	Message Message `json:"message"`
	Error   string  `json:"error"`
}

// ClearedPayload announces that history was emptied.
type ClearedPayload struct {
	ClearedBy string  `json:"clearedBy"`
	Message   Message `json:"message"`
}

// KeepAlivePayload lets clients detect silent transport failures.
type KeepAlivePayload struct{}

func (HistoryPayload) EventType() EventType    { return EventTypeHistory }
func (MessagePayload) EventType() EventType    { return EventTypeMessage }
func (PresencePayload) EventType() EventType   { return EventTypePresence }
func (TypingPayload) EventType() EventType     { return EventTypeTyping }
func (BotStatePayload) EventType() EventType   { return EventTypeBotState }
func (AIStartPayload) EventType() EventType    { return EventTypeAIStart }
func (AIChunkPayload) EventType() EventType    { return EventTypeAIChunk }
func (AICompletePayload) EventType() EventType { return EventTypeAIComplete }
func (AIErrorPayload) EventType() EventType    { return EventTypeAIError }
func (ClearedPayload) EventType() EventType    { return EventTypeCleared }
func (KeepAlivePayload) EventType() EventType  { return EventTypeKeepAlive }

// EncodeEvent serializes an event, refusing payloads whose kind does not
// match the declared type.
func EncodeEvent(e Event) ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("%w: %q has no payload", ErrUnknownEvent, e.Type)
	}
	switch e.Type {
	case EventTypeHistory, EventTypeMessage, EventTypePresence, EventTypeTyping,
		EventTypeBotState, EventTypeAIStart, EventTypeAIChunk, EventTypeAIComplete,
		EventTypeAIError, EventTypeCleared, EventTypeKeepAlive:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, e.Type)
	}
	if e.Payload.EventType() != e.Type {
		return nil, fmt.Errorf("%w: payload %q declared as %q", ErrUnknownEvent, e.Payload.EventType(), e.Type)
	}
	return json.Marshal(e)
}

type rawEvent struct {
	Type    EventType       `json:"type"`
	Ts      int64           `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeEvent parses a serialized event into its concrete payload.
func DecodeEvent(data []byte) (Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	var (
		p   Payload
		err error
	)
	switch raw.Type {
	case EventTypeHistory:
		p, err = decodeInto[HistoryPayload](raw.Payload)
	case EventTypeMessage:
		p, err = decodeInto[MessagePayload](raw.Payload)
	case EventTypePresence:
		p, err = decodeInto[PresencePayload](raw.Payload)
	case EventTypeTyping:
		p, err = decodeInto[TypingPayload](raw.Payload)
	case EventTypeBotState:
		p, err = decodeInto[BotStatePayload](raw.Payload)
	case EventTypeAIStart:
		p, err = decodeInto[AIStartPayload](raw.Payload)
	case EventTypeAIChunk:
		p, err = decodeInto[AIChunkPayload](raw.Payload)
	case EventTypeAIComplete:
		p, err = decodeInto[AICompletePayload](raw.Payload)
	case EventTypeAIError:
		p, err = decodeInto[AIErrorPayload](raw.Payload)
	case EventTypeCleared:
		p, err = decodeInto[ClearedPayload](raw.Payload)
	case EventTypeKeepAlive:
		p = KeepAlivePayload{}
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, raw.Type)
	}
	if err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal %s payload: %w", raw.Type, err)
	}

	return Event{Type: raw.Type, Ts: raw.Ts, Payload: p}, nil
}

func decodeInto[T Payload](data json.RawMessage) (Payload, error) {
	var v T
	if len(data) == 0 || string(data) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
