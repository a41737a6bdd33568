package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type accessClaims struct {
	Email    string            `json:"email"`
	Metadata map[string]string `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

// IssueAccessToken signs a short-lived HS256 JWT for the principal.
func IssueAccessToken(secret []byte, p Principal, ttl time.Duration) (string, time.Time, error) {
	expiresAt := time.Now().Add(ttl)
	claims := accessClaims{
		Email:    p.Email,
		Metadata: p.Metadata,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID.String(),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    "gasyway",
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// ParseAccessToken validates the signature and expiry and returns the
// embedded principal. Any malformed token maps to ErrSessionInvalid.
func ParseAccessToken(secret []byte, tokenString string) (*Principal, error) {
	var claims accessClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrSessionInvalid
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil || claims.Email == "" {
		return nil, ErrSessionInvalid
	}

	return &Principal{ID: id, Email: claims.Email, Metadata: claims.Metadata}, nil
}
