package identity

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	p := Principal{
		ID:       uuid.New(),
		Email:    "ana@example.com",
		Metadata: map[string]string{"role": "traveler", "locale": "fr"},
	}

	token, expiresAt, err := IssueAccessToken(secret, p, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Until(expiresAt) < 55*time.Minute {
		t.Fatalf("unexpected expiry: %v", expiresAt)
	}

	got, err := ParseAccessToken(secret, token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != p.ID {
		t.Fatalf("expected subject %s, got %s", p.ID, got.ID)
	}
	if got.Email != p.Email {
		t.Fatalf("expected email %s, got %s", p.Email, got.Email)
	}
	if got.Metadata["role"] != "traveler" {
		t.Fatalf("expected metadata to round-trip, got %v", got.Metadata)
	}
}

func TestParseAccessTokenWrongSecret(t *testing.T) {
	p := Principal{ID: uuid.New(), Email: "ana@example.com"}
	token, _, err := IssueAccessToken([]byte("secret-a"), p, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := ParseAccessToken([]byte("secret-b"), token); err != ErrSessionInvalid {
		t.Fatalf("expected ErrSessionInvalid, got %v", err)
	}
}

func TestParseAccessTokenExpired(t *testing.T) {
	secret := []byte("test-secret")
	p := Principal{ID: uuid.New(), Email: "ana@example.com"}
	token, _, err := IssueAccessToken(secret, p, -time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := ParseAccessToken(secret, token); err != ErrSessionInvalid {
		t.Fatalf("expected ErrSessionInvalid, got %v", err)
	}
}

func TestParseAccessTokenGarbage(t *testing.T) {
	if _, err := ParseAccessToken([]byte("test-secret"), "not-a-token"); err != ErrSessionInvalid {
		t.Fatalf("expected ErrSessionInvalid, got %v", err)
	}
}
