package models

import (
	"time"

	"github.com/google/uuid"
)

// UserStatus controls routing: a blocked user never reaches the app.
type UserStatus string

const (
	StatusActive  UserStatus = "active"
	StatusBlocked UserStatus = "blocked"
	StatusPending UserStatus = "pending"
)

// UserRole distinguishes travelers from back-office admins.
type UserRole string

const (
	RoleTraveler UserRole = "traveler"
	RoleAdmin    UserRole = "admin"
)

// User is the application-level profile behind an authenticated principal.
// A valid identity session and an existing users row are two independent
// conditions; the session service reconciles them.
type User struct {
	ID                  uuid.UUID  `json:"id"`
	Email               string     `json:"email"`
	Status              UserStatus `json:"status"`
	Role                UserRole   `json:"role"`
	FirstName           string     `json:"first_name,omitempty"`
	LastName            string     `json:"last_name,omitempty"`
	Phone               string     `json:"phone,omitempty"`
	Bio                 string     `json:"bio,omitempty"`
	AvatarURL           string     `json:"avatar_url,omitempty"`
	Interests           []string   `json:"interests,omitempty"`
	FirstLoginCompleted bool       `json:"first_login_completed"`
	Consent             bool       `json:"consent"`
	Locale              string     `json:"locale"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
}

// Normalize fills nullable columns with the documented defaults so the rest
// of the app never sees a half-populated profile.
func (u *User) Normalize() {
	if u.Status == "" {
		u.Status = StatusActive
	}
	if u.Role == "" {
		u.Role = RoleTraveler
	}
	if u.Locale == "" {
		u.Locale = "fr"
	}
}

// DisplayName returns the best human-readable name for the user.
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Email
	}
}

// IsBlocked reports whether the blocked screen is the only reachable view.
func (u *User) IsBlocked() bool {
	return u.Status == StatusBlocked
}
