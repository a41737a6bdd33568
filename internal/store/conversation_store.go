package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/gasyway/gasyway-backend/internal/models"
)

// ConversationStore persists support threads.
type ConversationStore struct{ DB *sql.DB }

func NewConversationStore(db *sql.DB) *ConversationStore { return &ConversationStore{DB: db} }

const conversationColumns = `id, type, title, user_id, admin_id, booking_id, pack_id, status,
	priority, last_message_at, last_message_preview, created_at, updated_at`

func scanConversations(rows *sql.Rows) ([]models.Conversation, error) {
	var out []models.Conversation
	for rows.Next() {
		var c models.Conversation
		var title, preview sql.NullString
		var adminID, bookingID, packID uuid.NullUUID
		var lastMessageAt sql.NullTime

		if err := rows.Scan(&c.ID, &c.Type, &title, &c.UserID, &adminID, &bookingID, &packID,
			&c.Status, &c.Priority, &lastMessageAt, &preview, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}

		c.Title = title.String
		c.LastMessagePreview = preview.String
		if adminID.Valid {
			id := adminID.UUID
			c.AdminID = &id
		}
		if bookingID.Valid {
			id := bookingID.UUID
			c.BookingID = &id
		}
		if packID.Valid {
			id := packID.UUID
			c.PackID = &id
		}
		if lastMessageAt.Valid {
			t := lastMessageAt.Time
			c.LastMessageAt = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListForUser returns a traveler's own conversations, most recent activity
// first, never-messaged threads last.
func (s *ConversationStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE user_id = $1
		ORDER BY last_message_at DESC NULLS LAST, created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConversations(rows)
}

// ListAll returns every conversation (admin view), same ordering.
func (s *ConversationStore) ListAll(ctx context.Context) ([]models.Conversation, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		ORDER BY last_message_at DESC NULLS LAST, created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConversations(rows)
}

// Get fetches one conversation. Returns (nil, nil) on miss.
func (s *ConversationStore) Get(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations WHERE id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list, err := scanConversations(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

// Create atomically inserts a conversation plus its seed message in one
// transaction and returns the new conversation id.
func (s *ConversationStore) Create(ctx context.Context, conv *models.Conversation, firstMessage string) (uuid.UUID, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback()

	convID := uuid.New()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, type, title, user_id, booking_id, pack_id, status, priority)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, 'active', $7)
	`, convID, conv.Type, conv.Title, conv.UserID, conv.BookingID, conv.PackID, conv.Priority)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert conversation: %w", err)
	}

	msgID := uuid.New()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, sender_role, content, type)
		VALUES ($1, $2, $3, 'traveler', $4, 'text')
	`, msgID, convID, conv.UserID, firstMessage)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert seed message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET last_message_at = NOW(), last_message_preview = LEFT($2, 120),
			updated_at = NOW()
		WHERE id = $1
	`, convID, firstMessage)
	if err != nil {
		return uuid.Nil, err
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, err
	}
	return convID, nil
}

// UpdateStatus moves a thread through the status lifecycle.
func (s *ConversationStore) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ConversationStatus) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE conversations SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	return err
}

// UpdatePriority changes the triage priority.
func (s *ConversationStore) UpdatePriority(ctx context.Context, id uuid.UUID, priority models.ConversationPriority) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE conversations SET priority = $2, updated_at = NOW() WHERE id = $1
	`, id, priority)
	return err
}

// AssignAdmin attaches an admin to the thread.
func (s *ConversationStore) AssignAdmin(ctx context.Context, id, adminID uuid.UUID) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE conversations SET admin_id = $2, updated_at = NOW() WHERE id = $1
	`, id, adminID)
	return err
}
