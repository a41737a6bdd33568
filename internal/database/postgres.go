package database

import (
	"database/sql"
	"log"
	"time"

	_ "github.com/lib/pq"
)

var PostgresDB *sql.DB

// ConnectPostgres connects to PostgreSQL database
func ConnectPostgres(postgresURI string) error {
	var err error

	PostgresDB, err = sql.Open("postgres", postgresURI)
	if err != nil {
		return err
	}

	PostgresDB.SetMaxOpenConns(25)
	PostgresDB.SetMaxIdleConns(5)
	PostgresDB.SetConnMaxLifetime(5 * time.Minute)

	if err = PostgresDB.Ping(); err != nil {
		return err
	}

	log.Println("✅ Connected to PostgreSQL")

	if err = InitPostgresTables(); err != nil {
		return err
	}

	return nil
}

// InitPostgresTables creates all necessary tables if they don't exist
func InitPostgresTables() error {
	queries := []string{
		// Auth identities: the provider's own registry. Kept separate from
		// users so "authenticated" and "has an application user row" stay
		// two independent conditions.
		`CREATE TABLE IF NOT EXISTS auth_identities (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			email VARCHAR(255) NOT NULL UNIQUE,
			password_hash VARCHAR(255) NOT NULL,
			email_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// Users: one application profile per principal once reconciliation
		// succeeds. Created lazily on first sign-in.
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			email VARCHAR(255) NOT NULL UNIQUE,
			status VARCHAR(20) NOT NULL DEFAULT 'active',
			role VARCHAR(20) NOT NULL DEFAULT 'traveler',
			first_name VARCHAR(100),
			last_name VARCHAR(100),
			phone VARCHAR(50),
			bio TEXT,
			avatar_url TEXT,
			interests TEXT[] NOT NULL DEFAULT '{}',
			first_login_completed BOOLEAN NOT NULL DEFAULT FALSE,
			consent BOOLEAN NOT NULL DEFAULT TRUE,
			locale VARCHAR(10) NOT NULL DEFAULT 'fr',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_login_at TIMESTAMPTZ
		)`,

		// Conversations: one traveler, optionally one assigned admin.
		// user_id is immutable once set. last_message_* are denormalized.
		`CREATE TABLE IF NOT EXISTS conversations (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			type VARCHAR(30) NOT NULL DEFAULT 'general_support',
			title VARCHAR(255),
			user_id UUID NOT NULL REFERENCES users(id),
			admin_id UUID REFERENCES users(id),
			booking_id UUID,
			pack_id UUID,
			status VARCHAR(20) NOT NULL DEFAULT 'active',
			priority VARCHAR(10) NOT NULL DEFAULT 'normal',
			last_message_at TIMESTAMPTZ,
			last_message_preview TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// Messages: append-ordered by created_at within a conversation.
		`CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			sender_id UUID NOT NULL REFERENCES users(id),
			sender_role VARCHAR(20) NOT NULL DEFAULT 'traveler',
			content TEXT NOT NULL,
			type VARCHAR(20) NOT NULL DEFAULT 'text',
			attachment_url TEXT,
			is_system BOOLEAN NOT NULL DEFAULT FALSE,
			edited_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// Read receipts: one row per (message, reader). Unread counts are
		// always recomputed from this relation.
		`CREATE TABLE IF NOT EXISTS message_read_status (
			message_id UUID NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			read_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (message_id, user_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_auth_identities_email ON auth_identities(LOWER(email))`,
		`CREATE INDEX IF NOT EXISTS idx_users_email ON users(LOWER(email))`,
		`CREATE INDEX IF NOT EXISTS idx_users_status ON users(status)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user_id ON conversations(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_last_message_at ON conversations(last_message_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages(conversation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_message_read_status_user_id ON message_read_status(user_id)`,
	}

	for _, query := range queries {
		if _, err := PostgresDB.Exec(query); err != nil {
			return err
		}
	}

	log.Println("✅ PostgreSQL tables initialized")
	return nil
}

// DisconnectPostgres closes the PostgreSQL connection
func DisconnectPostgres() error {
	if PostgresDB != nil {
		return PostgresDB.Close()
	}
	return nil
}
