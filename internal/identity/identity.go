// Package identity is the self-hosted authentication provider: it owns the
// auth_identities relation, issues JWT access tokens paired with opaque
// refresh tokens stored in Redis, and emits auth state change events.
//
// An authenticated principal here is independent from the application users
// row; the session package reconciles the two.
package identity

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrEmailNotConfirmed  = errors.New("email not confirmed")
	ErrRateLimited        = errors.New("too many sign-in attempts, try again later")
	ErrSessionInvalid     = errors.New("session invalid or expired")
	ErrEmailExists        = errors.New("email already registered")
)

// Principal is the provider-side identity. Metadata carries the hints
// captured at signup (role, name, phone, consent, locale) that user
// synthesis falls back on.
type Principal struct {
	ID       uuid.UUID         `json:"id"`
	Email    string            `json:"email"`
	Metadata map[string]string `json:"user_metadata,omitempty"`
}

// Session is the transient proof of authentication: a signed access token,
// an opaque refresh token persisted in Redis, and the principal it proves.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Principal    Principal `json:"user"`
}

// AuthEventKind classifies auth state changes.
type AuthEventKind string

const (
	EventSignedIn       AuthEventKind = "SIGNED_IN"
	EventSignedOut      AuthEventKind = "SIGNED_OUT"
	EventTokenRefreshed AuthEventKind = "TOKEN_REFRESHED"
)

// AuthEvent is delivered to OnAuthStateChange subscribers. Session is nil
// for sign-out events; PrincipalID identifies who the event is about so
// subscribers bound to another principal can ignore it. It stays Nil when
// a sign-out could not resolve its principal.
type AuthEvent struct {
	Kind        AuthEventKind
	PrincipalID uuid.UUID
	Session     *Session
}
