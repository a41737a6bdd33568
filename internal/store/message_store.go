package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gasyway/gasyway-backend/internal/models"
)

// MessageStore persists messages and per-viewer read receipts.
type MessageStore struct{ DB *sql.DB }

func NewMessageStore(db *sql.DB) *MessageStore { return &MessageStore{DB: db} }

// ListWithReadState returns a conversation's full feed ordered by creation
// time ascending, with is_read resolved for the viewer. The viewer's own
// messages are always read.
func (s *MessageStore) ListWithReadState(ctx context.Context, conversationID, viewerID uuid.UUID) ([]models.Message, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, m.sender_role, m.content, m.type,
			m.attachment_url, m.is_system, m.edited_at, m.created_at,
			(m.sender_id = $2 OR r.message_id IS NOT NULL) AS is_read
		FROM messages m
		LEFT JOIN message_read_status r ON r.message_id = m.id AND r.user_id = $2
		WHERE m.conversation_id = $1
		ORDER BY m.created_at ASC
	`, conversationID, viewerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		var attachment sql.NullString
		var editedAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderRole, &m.Content,
			&m.Type, &attachment, &m.IsSystem, &editedAt, &m.CreatedAt, &m.IsRead); err != nil {
			return nil, err
		}
		m.AttachmentURL = attachment.String
		if editedAt.Valid {
			t := editedAt.Time
			m.EditedAt = &t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Insert appends a message and bumps the conversation's denormalized
// preview in the same transaction. Fills ID and CreatedAt on the model.
func (s *MessageStore) Insert(ctx context.Context, m *models.Message) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Type == "" {
		m.Type = models.MessageText
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, sender_role, content, type,
			attachment_url, is_system)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
		RETURNING created_at
	`, m.ID, m.ConversationID, m.SenderID, m.SenderRole, m.Content, m.Type,
		m.AttachmentURL, m.IsSystem).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET last_message_at = $2, last_message_preview = LEFT($3, 120),
			updated_at = NOW()
		WHERE id = $1
	`, m.ConversationID, m.CreatedAt, m.Content)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// UnreadCount counts messages in the conversation authored by others that
// the viewer has no receipt for.
func (s *MessageStore) UnreadCount(ctx context.Context, conversationID, viewerID uuid.UUID) (int, error) {
	var count int
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages m
		LEFT JOIN message_read_status r ON r.message_id = m.id AND r.user_id = $2
		WHERE m.conversation_id = $1 AND m.sender_id <> $2 AND r.message_id IS NULL
	`, conversationID, viewerID).Scan(&count)
	return count, err
}

// MarkConversationRead bulk-inserts receipts for every unread message in
// the conversation, one statement, idempotent.
func (s *MessageStore) MarkConversationRead(ctx context.Context, conversationID, viewerID uuid.UUID) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO message_read_status (message_id, user_id, read_at)
		SELECT m.id, $2, NOW()
		FROM messages m
		WHERE m.conversation_id = $1 AND m.sender_id <> $2
		ON CONFLICT (message_id, user_id) DO NOTHING
	`, conversationID, viewerID)
	return err
}

// MarkRead upserts a single (message, viewer) receipt. Safe to call any
// number of times.
func (s *MessageStore) MarkRead(ctx context.Context, messageID, viewerID uuid.UUID) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO message_read_status (message_id, user_id, read_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id) DO NOTHING
	`, messageID, viewerID, time.Now().UTC())
	return err
}
