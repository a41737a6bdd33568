package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/gasyway/gasyway-backend/internal/identity"
)

// IdentityStore persists auth_identities rows for the identity provider.
type IdentityStore struct{ DB *sql.DB }

func NewIdentityStore(db *sql.DB) *IdentityStore { return &IdentityStore{DB: db} }

// GetByEmail fetches an identity by normalized email. Returns (nil, nil)
// when no identity exists.
func (s *IdentityStore) GetByEmail(ctx context.Context, email string) (*identity.Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var ident identity.Identity
	var metadata []byte
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, email_confirmed, metadata, created_at
		FROM auth_identities WHERE LOWER(email) = $1
	`, email).Scan(&ident.ID, &ident.Email, &ident.PasswordHash, &ident.EmailConfirmed, &metadata, &ident.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &ident.Metadata); err != nil {
			ident.Metadata = nil
		}
	}
	return &ident, nil
}

// Create inserts a new identity.
func (s *IdentityStore) Create(ctx context.Context, ident *identity.Identity) error {
	metadata, err := json.Marshal(ident.Metadata)
	if err != nil {
		return err
	}
	if ident.Metadata == nil {
		metadata = []byte("{}")
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO auth_identities (id, email, password_hash, email_confirmed, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`, ident.ID, ident.Email, ident.PasswordHash, ident.EmailConfirmed, metadata)
	return err
}

// ConfirmEmail marks an identity as confirmed.
func (s *IdentityStore) ConfirmEmail(ctx context.Context, id uuid.UUID) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE auth_identities SET email_confirmed = TRUE WHERE id = $1
	`, id)
	return err
}
