package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/gasyway/gasyway-backend/internal/identity"
	"github.com/gasyway/gasyway-backend/internal/models"
)

type contextKey string

const (
	userKey      contextKey = "user"
	principalKey contextKey = "principal"
)

// UserLookup resolves a principal id to an application user; (nil, nil)
// means the row does not exist yet.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Authenticator validates bearer access tokens and loads the acting user.
type Authenticator struct {
	Secret []byte
	Users  UserLookup
}

// RequireUser rejects unauthenticated requests and enforces the blocked
// short-circuit: a blocked account never reaches any handler, regardless
// of role.
func (a *Authenticator) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, user, ok := a.resolve(w, r)
		if !ok {
			return
		}
		if user == nil {
			http.Error(w, "user profile not provisioned", http.StatusForbidden)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		ctx = context.WithValue(ctx, userKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin is RequireUser plus a role check.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return a.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := UserFrom(r.Context()); user == nil || user.Role != models.RoleAdmin {
			http.Error(w, "admin access required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// RequirePrincipal only validates the token; the user row may not exist
// yet. Used by the reconciliation endpoint itself.
func (a *Authenticator) RequirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, user, ok := a.resolve(w, r)
		if !ok {
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		if user != nil {
			ctx = context.WithValue(ctx, userKey, user)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) resolve(w http.ResponseWriter, r *http.Request) (*identity.Principal, *models.User, bool) {
	token := ExtractBearerToken(r)
	if token == "" {
		http.Error(w, "missing access token", http.StatusUnauthorized)
		return nil, nil, false
	}

	principal, err := identity.ParseAccessToken(a.Secret, token)
	if err != nil {
		http.Error(w, "invalid access token", http.StatusUnauthorized)
		return nil, nil, false
	}

	user, err := a.Users.GetByID(r.Context(), principal.ID)
	if err != nil {
		http.Error(w, "database error", http.StatusInternalServerError)
		return nil, nil, false
	}
	if user != nil {
		user.Normalize()
		if user.IsBlocked() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"success":false,"blocked":true,"message":"Your account has been blocked. Contact support."}`))
			return nil, nil, false
		}
	}
	return principal, user, true
}

// ExtractBearerToken reads the Authorization header, falling back to the
// token query parameter for browser WebSocket clients.
func ExtractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

// UserFrom returns the acting user stored by the auth middleware.
func UserFrom(ctx context.Context) *models.User {
	u, _ := ctx.Value(userKey).(*models.User)
	return u
}

// PrincipalFrom returns the authenticated principal.
func PrincipalFrom(ctx context.Context) *identity.Principal {
	p, _ := ctx.Value(principalKey).(*identity.Principal)
	return p
}
