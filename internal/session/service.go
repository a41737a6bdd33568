// Package session reconciles the two independently-failing conditions
// behind "logged in": a valid identity-provider session and an existing
// application users row. It exposes a single {user, session, loading}
// snapshot, lazily synthesizes missing user rows, and reacts to auth state
// changes through a debounced event stream with an immediate sign-out path.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gasyway/gasyway-backend/internal/audit"
	"github.com/gasyway/gasyway-backend/internal/identity"
	"github.com/gasyway/gasyway-backend/internal/models"
)

// User-facing sign-in error categories. Anything else is wrapped generic.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailNotConfirmed  = errors.New("please confirm your email before signing in")
	ErrTooManyAttempts    = errors.New("too many attempts, try again in a few minutes")
)

// Provider is the slice of the identity provider the service consumes.
type Provider interface {
	GetSession(ctx context.Context, refreshToken string) (*identity.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error)
	SignOut(ctx context.Context, refreshToken string) error
	OnAuthStateChange(fn func(identity.AuthEvent)) func()
}

// UserStore is the persistence slice the service consumes. GetByID returns
// (nil, nil) on a lookup miss.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	Create(ctx context.Context, u *models.User) error
	TouchLastLogin(ctx context.Context, id uuid.UUID) error
}

// Snapshot is the stable view published to the rest of the application.
type Snapshot struct {
	User    *models.User
	Session *identity.Session
	Loading bool
}

// Service owns one actor's reconciliation state. Create one per client
// connection; Close tears down the auth subscription and any pending
// debounce timer.
type Service struct {
	provider Provider
	users    UserStore
	auditor  *audit.Recorder
	debounce time.Duration
	cacheTTL time.Duration
	now      func() time.Time

	mu         sync.Mutex
	user       *models.User
	session    *identity.Session
	loading    bool
	boundID    uuid.UUID
	boundEmail string
	cached     *models.User
	cachedID   uuid.UUID
	cachedAt   time.Time
	subs       map[int]func(Snapshot)
	nextSub    int
	timer      *time.Timer
	pending    *identity.AuthEvent
	unsub      func()
	closed     bool
}

func NewService(provider Provider, users UserStore, auditor *audit.Recorder, debounce, cacheTTL time.Duration) *Service {
	s := &Service{
		provider: provider,
		users:    users,
		auditor:  auditor,
		debounce: debounce,
		cacheTTL: cacheTTL,
		now:      time.Now,
		subs:     make(map[int]func(Snapshot)),
	}
	s.unsub = provider.OnAuthStateChange(s.onAuthEvent)
	return s
}

// Snapshot returns the current view.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{User: s.user, Session: s.session, Loading: s.loading}
}

// Subscribe registers an observer for published snapshots; the returned
// func removes it.
func (s *Service) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Close detaches from the provider event stream and cancels any pending
// debounce so no state is written after teardown.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = nil
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// Initialize fetches the current provider session on startup. An invalid
// or corrupted session is discarded and the service settles logged out; it
// never retries.
func (s *Service) Initialize(ctx context.Context, refreshToken string) {
	s.setLoading(true)

	sess, err := s.provider.GetSession(ctx, refreshToken)
	if err != nil {
		if !errors.Is(err, identity.ErrSessionInvalid) {
			log.Printf("session: session fetch failed, treating as corrupted: %v", err)
		}
		s.auditor.Record(audit.KindSessionInvalidated, "", "", "session discarded during initialize")
		s.clearState()
		return
	}
	if sess == nil {
		s.clearState()
		return
	}

	s.mu.Lock()
	s.session = sess
	s.boundID = sess.Principal.ID
	s.boundEmail = sess.Principal.Email
	s.mu.Unlock()

	s.LoadUserData(ctx, sess.Principal)
}

// LoadUserData resolves the application user behind a principal: cache hit
// within TTL short-circuits, a lookup miss synthesizes and persists a new
// row, and every failure degrades to "stop loading, keep prior state".
func (s *Service) LoadUserData(ctx context.Context, principal identity.Principal) {
	if principal.ID == uuid.Nil || principal.Email == "" {
		s.setLoading(false)
		return
	}

	s.mu.Lock()
	if s.cached != nil && s.cachedID == principal.ID && s.now().Sub(s.cachedAt) < s.cacheTTL {
		s.user = s.cached
		s.loading = false
		s.mu.Unlock()
		s.notify()
		return
	}
	s.mu.Unlock()

	user, err := s.users.GetByID(ctx, principal.ID)
	if err != nil {
		// Ambiguous failure: do not attempt creation this cycle.
		log.Printf("session: user lookup failed for %s: %v", principal.ID, err)
		s.setLoading(false)
		return
	}

	if user == nil {
		user = synthesizeUser(principal)
		if err := s.users.Create(ctx, user); err != nil {
			// Fail soft: valid provider session, no app user. Next auth
			// event or Initialize retries synthesis.
			log.Printf("session: user creation failed for %s: %v", principal.ID, err)
			s.setLoading(false)
			return
		}
		s.auditor.Record(audit.KindUserSynthesized, principal.ID.String(), principal.Email, "user row created on first sign-in")

		created, err := s.users.GetByID(ctx, principal.ID)
		if err != nil || created == nil {
			log.Printf("session: re-fetch after creation failed for %s: %v", principal.ID, err)
			s.setLoading(false)
			return
		}
		user = created
	}

	user.Normalize()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.user = user
	s.loading = false
	s.cached = user
	s.cachedID = principal.ID
	s.cachedAt = s.now()
	s.mu.Unlock()
	s.notify()
}

// Reconcile adopts an already-validated provider session and synchronously
// resolves the user behind it. Request-scoped callers use this instead of
// waiting for the event stream.
func (s *Service) Reconcile(ctx context.Context, sess *identity.Session) Snapshot {
	if sess == nil {
		s.clearState()
		return s.Snapshot()
	}

	s.mu.Lock()
	s.session = sess
	s.boundID = sess.Principal.ID
	s.boundEmail = sess.Principal.Email
	s.loading = true
	s.mu.Unlock()

	s.LoadUserData(ctx, sess.Principal)
	return s.Snapshot()
}

// Flush collapses any pending debounced auth event immediately. Used by
// request-scoped callers that cannot wait out the debounce window.
func (s *Service) Flush() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	s.flushPending()
}

// RefreshUser re-runs the load for the current principal. Within the cache
// TTL this still serves the cached row; callers needing a guaranteed-fresh
// read must wait out the window.
func (s *Service) RefreshUser(ctx context.Context) {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil {
		return
	}
	s.setLoading(true)
	s.LoadUserData(ctx, sess.Principal)
}

// SignIn authenticates with credentials. Re-entry with the same email is a
// no-op; a session for a different email is signed out first. Provider
// errors map to user-facing categories.
func (s *Service) SignIn(ctx context.Context, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	s.mu.Lock()
	current := s.session
	s.mu.Unlock()

	if current != nil {
		if strings.EqualFold(current.Principal.Email, email) {
			return nil
		}
		s.Logout(ctx)
	}

	// Bind before the provider call so the synchronous sign-in event passes
	// the principal filter while concurrent strangers' events do not.
	s.mu.Lock()
	s.boundEmail = email
	s.mu.Unlock()

	sess, err := s.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return mapSignInError(err)
	}

	// State is published via the auth event subscription, not here; only
	// the sign-in bookkeeping happens inline.
	if err := s.users.TouchLastLogin(ctx, sess.Principal.ID); err != nil {
		log.Printf("session: failed to record last login: %v", err)
	}
	s.auditor.Record(audit.KindSignIn, sess.Principal.ID.String(), sess.Principal.Email, "")
	return nil
}

// Logout revokes the provider session best-effort and always clears local
// state and the cache synchronously.
func (s *Service) Logout(ctx context.Context) {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()

	refreshToken := ""
	actorID, email := "", ""
	if sess != nil {
		refreshToken = sess.RefreshToken
		actorID = sess.Principal.ID.String()
		email = sess.Principal.Email
	}

	if err := s.provider.SignOut(ctx, refreshToken); err != nil {
		log.Printf("session: server-side sign-out failed (clearing local state anyway): %v", err)
	}
	s.auditor.Record(audit.KindSignOut, actorID, email, "")
	s.clearState()
}

// onAuthEvent is the debounced reaction to the provider event stream: a
// burst collapses to the last event, except sign-out which wins instantly.
// Events about other principals are dropped; the provider stream is shared
// across every live service.
func (s *Service) onAuthEvent(evt identity.AuthEvent) {
	if !s.wants(evt) {
		return
	}

	if evt.Kind == identity.EventSignedOut {
		s.mu.Lock()
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.pending = nil
		s.mu.Unlock()
		s.clearState()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	e := evt
	s.pending = &e
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, s.flushPending)
}

func (s *Service) flushPending() {
	s.mu.Lock()
	evt := s.pending
	s.pending = nil
	s.timer = nil
	closed := s.closed
	s.mu.Unlock()

	if closed || evt == nil || evt.Session == nil {
		return
	}

	s.mu.Lock()
	s.session = evt.Session
	s.boundID = evt.Session.Principal.ID
	s.boundEmail = evt.Session.Principal.Email
	s.loading = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.LoadUserData(ctx, evt.Session.Principal)
}

// wants reports whether an event concerns this service's principal. An
// unbound service accepts everything; a sign-out with no resolved
// principal only reaches unbound services.
func (s *Service) wants(evt identity.AuthEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.boundID == uuid.Nil && s.boundEmail == "" {
		return true
	}
	if evt.PrincipalID != uuid.Nil && evt.PrincipalID == s.boundID {
		return true
	}
	if evt.Session != nil && strings.EqualFold(evt.Session.Principal.Email, s.boundEmail) {
		return true
	}
	return false
}

func (s *Service) clearState() {
	s.mu.Lock()
	s.user = nil
	s.session = nil
	s.boundID = uuid.Nil
	s.boundEmail = ""
	s.loading = false
	s.cached = nil
	s.cachedID = uuid.Nil
	s.cachedAt = time.Time{}
	s.mu.Unlock()
	s.notify()
}

func (s *Service) setLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()
	s.notify()
}

func (s *Service) notify() {
	s.mu.Lock()
	snapshot := Snapshot{User: s.user, Session: s.session, Loading: s.loading}
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}

// synthesizeUser builds a user row from provider metadata hints. Role
// defaults to traveler, consent to true, locale to "fr"; onboarding is
// always unfinished for a fresh row.
func synthesizeUser(p identity.Principal) *models.User {
	md := p.Metadata

	role := models.RoleTraveler
	if models.UserRole(md["role"]) == models.RoleAdmin {
		role = models.RoleAdmin
	}
	consent := true
	if md["consent"] == "false" {
		consent = false
	}
	locale := md["locale"]
	if locale == "" {
		locale = "fr"
	}

	return &models.User{
		ID:                  p.ID,
		Email:               p.Email,
		Status:              models.StatusActive,
		Role:                role,
		FirstName:           md["first_name"],
		LastName:            md["last_name"],
		Phone:               md["phone"],
		FirstLoginCompleted: false,
		Consent:             consent,
		Locale:              locale,
	}
}

func mapSignInError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials) || strings.Contains(msg, "invalid login credentials"):
		return ErrInvalidCredentials
	case errors.Is(err, identity.ErrEmailNotConfirmed) || strings.Contains(msg, "email not confirmed"):
		return ErrEmailNotConfirmed
	case errors.Is(err, identity.ErrRateLimited) || strings.Contains(msg, "too many"):
		return ErrTooManyAttempts
	default:
		return fmt.Errorf("sign-in failed: %w", err)
	}
}
