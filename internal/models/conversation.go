package models

import (
	"time"

	"github.com/google/uuid"
)

type ConversationType string

const (
	ConversationBookingSupport ConversationType = "booking_support"
	ConversationGeneralSupport ConversationType = "general_support"
	ConversationPackInquiry    ConversationType = "pack_inquiry"
	ConversationPaymentIssue   ConversationType = "payment_issue"
	ConversationEmergency      ConversationType = "emergency"
)

type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationResolved  ConversationStatus = "resolved"
	ConversationClosed    ConversationStatus = "closed"
	ConversationEscalated ConversationStatus = "escalated"
)

type ConversationPriority string

const (
	PriorityLow    ConversationPriority = "low"
	PriorityNormal ConversationPriority = "normal"
	PriorityHigh   ConversationPriority = "high"
	PriorityUrgent ConversationPriority = "urgent"
)

// Conversation is a support thread between one traveler and, optionally,
// one assigned admin. UserID is immutable once set. LastMessageAt and
// LastMessagePreview are denormalized; UnreadCount is recomputed per viewer
// from the read-receipt relation, never trusted as stored truth.
type Conversation struct {
	ID                 uuid.UUID            `json:"id"`
	Type               ConversationType     `json:"type"`
	Title              string               `json:"title,omitempty"`
	UserID             uuid.UUID            `json:"user_id"`
	AdminID            *uuid.UUID           `json:"admin_id,omitempty"`
	BookingID          *uuid.UUID           `json:"booking_id,omitempty"`
	PackID             *uuid.UUID           `json:"pack_id,omitempty"`
	Status             ConversationStatus   `json:"status"`
	Priority           ConversationPriority `json:"priority"`
	LastMessageAt      *time.Time           `json:"last_message_at,omitempty"`
	LastMessagePreview string               `json:"last_message_preview,omitempty"`
	UnreadCount        int                  `json:"unread_count"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
}
