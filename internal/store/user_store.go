package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/gasyway/gasyway-backend/internal/models"
)

// UserStore persists application user profiles.
type UserStore struct{ DB *sql.DB }

func NewUserStore(db *sql.DB) *UserStore { return &UserStore{DB: db} }

const userColumns = `id, email, status, role, first_name, last_name, phone, bio, avatar_url,
	interests, first_login_completed, consent, locale, created_at, updated_at, last_login_at`

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	var firstName, lastName, phone, bio, avatarURL sql.NullString
	var lastLogin sql.NullTime

	err := row.Scan(&u.ID, &u.Email, &u.Status, &u.Role, &firstName, &lastName, &phone, &bio,
		&avatarURL, pq.Array(&u.Interests), &u.FirstLoginCompleted, &u.Consent, &u.Locale,
		&u.CreatedAt, &u.UpdatedAt, &lastLogin)
	if err != nil {
		return nil, err
	}

	u.FirstName = firstName.String
	u.LastName = lastName.String
	u.Phone = phone.String
	u.Bio = bio.String
	u.AvatarURL = avatarURL.String
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}

// GetByID fetches a user by principal id. Returns (nil, nil) when no row
// exists: a lookup miss is not an error, it triggers lazy creation.
func (s *UserStore) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// Create inserts a synthesized user row. The id comes from the principal,
// never generated here.
func (s *UserStore) Create(ctx context.Context, u *models.User) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO users (id, email, status, role, first_name, last_name, phone, interests,
			first_login_completed, consent, locale)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10, $11)
	`, u.ID, u.Email, u.Status, u.Role, u.FirstName, u.LastName, u.Phone,
		pq.Array(u.Interests), u.FirstLoginCompleted, u.Consent, u.Locale)
	return err
}

// TouchLastLogin records the sign-in time.
func (s *UserStore) TouchLastLogin(ctx context.Context, id uuid.UUID) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE users SET last_login_at = NOW(), updated_at = NOW() WHERE id = $1
	`, id)
	return err
}

// CompleteOnboarding applies the first-run profile and flips the flag that
// gates every other screen.
func (s *UserStore) CompleteOnboarding(ctx context.Context, id uuid.UUID, bio string, interests []string, consent bool, locale string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE users SET bio = NULLIF($2, ''), interests = $3, consent = $4,
			locale = COALESCE(NULLIF($5, ''), locale),
			first_login_completed = TRUE, updated_at = NOW()
		WHERE id = $1
	`, id, bio, pq.Array(interests), consent, locale)
	return err
}

// SetAvatar stores the uploaded avatar reference.
func (s *UserStore) SetAvatar(ctx context.Context, id uuid.UUID, url string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE users SET avatar_url = $2, updated_at = NOW() WHERE id = $1
	`, id, url)
	return err
}

// SetStatus blocks or reactivates an account (admin operation).
func (s *UserStore) SetStatus(ctx context.Context, id uuid.UUID, status models.UserStatus) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE users SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	return err
}

// List returns all users, newest first (admin back-office).
func (s *UserStore) List(ctx context.Context) ([]models.User, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		var u models.User
		var firstName, lastName, phone, bio, avatarURL sql.NullString
		var lastLogin sql.NullTime
		if err := rows.Scan(&u.ID, &u.Email, &u.Status, &u.Role, &firstName, &lastName, &phone,
			&bio, &avatarURL, pq.Array(&u.Interests), &u.FirstLoginCompleted, &u.Consent,
			&u.Locale, &u.CreatedAt, &u.UpdatedAt, &lastLogin); err != nil {
			return nil, err
		}
		u.FirstName = firstName.String
		u.LastName = lastName.String
		u.Phone = phone.String
		u.Bio = bio.String
		u.AvatarURL = avatarURL.String
		if lastLogin.Valid {
			t := lastLogin.Time
			u.LastLoginAt = &t
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
