package models

import (
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageFile     MessageType = "file"
	MessageLocation MessageType = "location"
	MessageSystem   MessageType = "system"
)

// Message is one entry in a conversation's append-ordered feed. Rows are
// immutable once created except for the EditedAt/Content pair. IsRead is
// derived per viewer by joining message_read_status; SenderName is resolved
// at the service boundary and never stored.
type Message struct {
	ID             uuid.UUID   `json:"id"`
	ConversationID uuid.UUID   `json:"conversation_id"`
	SenderID       uuid.UUID   `json:"sender_id"`
	SenderRole     UserRole    `json:"sender_role"`
	SenderName     string      `json:"sender_name,omitempty"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	AttachmentURL  string      `json:"attachment_url,omitempty"`
	IsSystem       bool        `json:"is_system"`
	EditedAt       *time.Time  `json:"edited_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	IsRead         bool        `json:"is_read"`
}
