package domain

import "time"

// Notification is an outbox record for a human or system message that
// external integrations may pick up.
type Notification struct {
	ID          string      `json:"id"`
	MessageID   string      `json:"messageId"`
	AuthorID    string      `json:"authorId"`
	AuthorName  string      `json:"authorName"`
	Content     string      `json:"content"`
	Kind        MessageKind `json:"kind"`
	CreatedAt   time.Time   `json:"createdAt"`
	DeliveredAt *time.Time  `json:"deliveredAt,omitempty"`
}
