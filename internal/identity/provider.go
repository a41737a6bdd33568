package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// sessionKeyPrefix is the Redis key prefix for refresh sessions
	sessionKeyPrefix = "session:"
	// userSessionKeyPrefix is the Redis key prefix for user->session mapping
	userSessionKeyPrefix = "user_session:"
	// loginAttemptsKeyPrefix throttles credential sign-in per email
	loginAttemptsKeyPrefix = "login_attempts:"

	loginAttemptsWindow = 15 * time.Minute
	loginAttemptsMax    = 5
)

// Identity is one row of auth_identities, the provider's own registry.
type Identity struct {
	ID             uuid.UUID
	Email          string
	PasswordHash   string
	EmailConfirmed bool
	Metadata       map[string]string
	CreatedAt      time.Time
}

// IdentityStore is the persistence the provider needs. Lookups return
// (nil, nil) when no identity exists.
type IdentityStore interface {
	GetByEmail(ctx context.Context, email string) (*Identity, error)
	Create(ctx context.Context, ident *Identity) error
	ConfirmEmail(ctx context.Context, id uuid.UUID) error
}

// PasswordVerifier checks a plaintext password against a stored hash.
type PasswordVerifier func(password, hash string) (bool, error)

// Provider implements the identity/session surface consumed by the session
// reconciliation service: SignInWithPassword, GetSession, Refresh, SignOut
// and OnAuthStateChange.
type Provider struct {
	identities IdentityStore
	rdb        *redis.Client
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	verify     PasswordVerifier

	mu   sync.Mutex
	subs map[int]func(AuthEvent)
	next int
}

func NewProvider(identities IdentityStore, rdb *redis.Client, secret []byte, accessTTL, refreshTTL time.Duration, verify PasswordVerifier) *Provider {
	return &Provider{
		identities: identities,
		rdb:        rdb,
		secret:     secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		verify:     verify,
		subs:       make(map[int]func(AuthEvent)),
	}
}

// SignUp registers a new identity. Metadata hints (role, first_name,
// last_name, phone, consent, locale) ride along and seed user synthesis on
// first sign-in.
func (p *Provider) SignUp(ctx context.Context, email, password string, metadata map[string]string, hash func(string) (string, error)) (*Principal, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	existing, err := p.identities.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("identity lookup: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailExists
	}

	hashed, err := hash(password)
	if err != nil {
		return nil, err
	}

	ident := &Identity{
		ID:             uuid.New(),
		Email:          email,
		PasswordHash:   hashed,
		EmailConfirmed: true, // no mailer wired; confirmation flow is manual
		Metadata:       metadata,
	}
	if err := p.identities.Create(ctx, ident); err != nil {
		return nil, fmt.Errorf("identity create: %w", err)
	}

	return &Principal{ID: ident.ID, Email: ident.Email, Metadata: ident.Metadata}, nil
}

// SignInWithPassword verifies credentials and issues a new session,
// invalidating any previous one so the refresh window restarts.
func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	if err := p.checkLoginThrottle(ctx, email); err != nil {
		return nil, err
	}

	ident, err := p.identities.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("identity lookup: %w", err)
	}
	if ident == nil {
		p.recordFailedAttempt(ctx, email)
		return nil, ErrInvalidCredentials
	}

	ok, err := p.verify(password, ident.PasswordHash)
	if err != nil || !ok {
		p.recordFailedAttempt(ctx, email)
		return nil, ErrInvalidCredentials
	}
	if !ident.EmailConfirmed {
		return nil, ErrEmailNotConfirmed
	}

	p.rdb.Del(ctx, loginAttemptsKeyPrefix+email)

	principal := Principal{ID: ident.ID, Email: ident.Email, Metadata: ident.Metadata}
	session, err := p.issueSession(ctx, principal)
	if err != nil {
		return nil, err
	}

	p.emit(AuthEvent{Kind: EventSignedIn, PrincipalID: principal.ID, Session: session})
	return session, nil
}

// GetSession validates a refresh token and returns the current session with
// a freshly signed access token. A token that resolves to a malformed
// principal is treated as corrupted: the Redis entry is deleted rather than
// retried.
func (p *Provider) GetSession(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, nil
	}

	raw, err := p.rdb.Get(ctx, sessionKeyPrefix+refreshToken).Result()
	if err == redis.Nil {
		return nil, ErrSessionInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("session lookup: %w", err)
	}

	var principal Principal
	if err := json.Unmarshal([]byte(raw), &principal); err != nil || principal.ID == uuid.Nil || principal.Email == "" {
		p.rdb.Del(ctx, sessionKeyPrefix+refreshToken)
		return nil, ErrSessionInvalid
	}

	access, expiresAt, err := IssueAccessToken(p.secret, principal, p.accessTTL)
	if err != nil {
		return nil, err
	}

	return &Session{
		AccessToken:  access,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		Principal:    principal,
	}, nil
}

// Refresh extends the refresh window and emits a token-refresh event.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	session, err := p.GetSession(ctx, refreshToken)
	if err != nil || session == nil {
		return nil, err
	}

	// Extend both keys so the window restarts from now.
	p.rdb.Expire(ctx, sessionKeyPrefix+refreshToken, p.refreshTTL)
	p.rdb.Expire(ctx, userSessionKeyPrefix+session.Principal.ID.String(), p.refreshTTL)

	p.emit(AuthEvent{Kind: EventTokenRefreshed, PrincipalID: session.Principal.ID, Session: session})
	return session, nil
}

// SignOut revokes the session server-side, best effort, and always emits a
// sign-out event so local state clears regardless of Redis health.
func (p *Provider) SignOut(ctx context.Context, refreshToken string) error {
	var revokeErr error
	var principalID uuid.UUID
	if refreshToken != "" {
		raw, err := p.rdb.Get(ctx, sessionKeyPrefix+refreshToken).Result()
		if err == nil {
			var principal Principal
			if json.Unmarshal([]byte(raw), &principal) == nil && principal.ID != uuid.Nil {
				principalID = principal.ID
				p.rdb.Del(ctx, userSessionKeyPrefix+principal.ID.String())
			}
		}
		revokeErr = p.rdb.Del(ctx, sessionKeyPrefix+refreshToken).Err()
	}

	p.emit(AuthEvent{Kind: EventSignedOut, PrincipalID: principalID})
	return revokeErr
}

// OnAuthStateChange registers a subscriber; the returned func removes it.
func (p *Provider) OnAuthStateChange(fn func(AuthEvent)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.next
	p.next++
	p.subs[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

func (p *Provider) emit(evt AuthEvent) {
	p.mu.Lock()
	subs := make([]func(AuthEvent), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	for _, fn := range subs {
		fn(evt)
	}
}

// issueSession invalidates any existing session for the principal, then
// stores a fresh refresh token with the principal blob.
func (p *Provider) issueSession(ctx context.Context, principal Principal) (*Session, error) {
	p.invalidateUserSessions(ctx, principal.ID)

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, err
	}
	refreshToken := base64.URLEncoding.EncodeToString(tokenBytes)

	blob, err := json.Marshal(principal)
	if err != nil {
		return nil, err
	}

	if err := p.rdb.Set(ctx, sessionKeyPrefix+refreshToken, blob, p.refreshTTL).Err(); err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	if err := p.rdb.Set(ctx, userSessionKeyPrefix+principal.ID.String(), refreshToken, p.refreshTTL).Err(); err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}

	access, expiresAt, err := IssueAccessToken(p.secret, principal, p.accessTTL)
	if err != nil {
		return nil, err
	}

	return &Session{
		AccessToken:  access,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		Principal:    principal,
	}, nil
}

// InvalidateSessionsFor revokes the principal's refresh session, e.g. when
// an admin blocks the account.
func (p *Provider) InvalidateSessionsFor(ctx context.Context, principalID uuid.UUID) {
	p.invalidateUserSessions(ctx, principalID)
}

func (p *Provider) invalidateUserSessions(ctx context.Context, principalID uuid.UUID) {
	userKey := userSessionKeyPrefix + principalID.String()
	token, err := p.rdb.Get(ctx, userKey).Result()
	if err == nil && token != "" {
		p.rdb.Del(ctx, sessionKeyPrefix+token)
	}
	p.rdb.Del(ctx, userKey)
}

func (p *Provider) checkLoginThrottle(ctx context.Context, email string) error {
	count, err := p.rdb.Get(ctx, loginAttemptsKeyPrefix+email).Int()
	if err != nil {
		return nil // fail open, same as the rate limiter
	}
	if count >= loginAttemptsMax {
		return ErrRateLimited
	}
	return nil
}

func (p *Provider) recordFailedAttempt(ctx context.Context, email string) {
	key := loginAttemptsKeyPrefix + email
	count, err := p.rdb.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("identity: failed to record login attempt: %v", err)
		return
	}
	if count == 1 {
		p.rdb.Expire(ctx, key, loginAttemptsWindow)
	}
}
