package domain

import "time"

// Message is a single entry of the conversation log.
type Message struct {
	ID         string        `json:"id"`
	ClientID   string        `json:"clientId,omitempty"`
	AuthorID   string        `json:"authorId"`
	AuthorName string        `json:"authorName"`
	Content    string        `json:"content"`
	CreatedAt  time.Time     `json:"createdAt"`
	Kind       MessageKind   `json:"kind"`
	Status     MessageStatus `json:"status"`
}

// Participant is a connected human viewer.
type Participant struct {
	ID             string    `json:"id"`
	DisplayName    string    `json:"displayName"`
	JoinedAt       time.Time `json:"joinedAt"`
	IsTyping       bool      `json:"isTyping"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// ModeSettings holds one value per reply mode.
type ModeSettings[T any] struct {
	Normal       T `json:"normal" yaml:"normal"`
	Interjection T `json:"interjection" yaml:"interjection"`
}

// For returns the value for the given mode.
func (m ModeSettings[T]) For(mode ReplyMode) T {
	if mode == ReplyModeInterjection {
		return m.Interjection
	}
	return m.Normal
}

// BotDefinition describes an automated participant.
type BotDefinition struct {
	Name              string                `json:"name" yaml:"name"`
	Role              string                `json:"role" yaml:"role"`
	TriggerWords      []string              `json:"triggerWords" yaml:"trigger_words"`
	Model             string                `json:"model" yaml:"model"`
	Shyness           float64               `json:"shyness" yaml:"shyness"`
	Temperature       ModeSettings[float64] `json:"temperature" yaml:"temperature"`
	PersonalityPrompt ModeSettings[string]  `json:"personalityPrompt" yaml:"personality_prompt"`
	Tools             []string              `json:"tools" yaml:"tools"`
	Enabled           bool                  `json:"enabled" yaml:"-"`
}

// BotState is the public view of a bot's runtime switch.
type BotState struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// StreamingReply tracks one in-flight bot generation.
type StreamingReply struct {
	MessageID     string    `json:"messageId"`
	BotName       string    `json:"botName"`
	ChunksEmitted int       `json:"chunksEmitted"`
	StartedAt     time.Time `json:"startedAt"`
}

// BotConversationThread counts bot exchanges chained from one human message.
type BotConversationThread struct {
	OriginMessageID string `json:"originMessageId"`
	ExchangeCount   int    `json:"exchangeCount"`
}
