package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gasyway/gasyway-backend/internal/identity"
	"github.com/gasyway/gasyway-backend/internal/middleware"
	"github.com/gasyway/gasyway-backend/internal/models"
	"github.com/gasyway/gasyway-backend/internal/session"
	"github.com/gasyway/gasyway-backend/pkg/utils"
)

type SignupRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Consent   *bool  `json:"consent,omitempty"`
	Locale    string `json:"locale,omitempty"`
}

type SigninRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type AuthResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	User    *models.User      `json:"user,omitempty"`
	Session *identity.Session `json:"session,omitempty"`
	Route   string            `json:"route,omitempty"`
}

// Signup registers a new identity. Profile fields ride along as metadata
// hints and seed the user row synthesized on first sign-in. The role hint
// is always traveler here; admin accounts are provisioned directly.
func (h *API) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" || len(req.Password) < 8 {
		http.Error(w, "Email and a password of at least 8 characters are required", http.StatusBadRequest)
		return
	}

	metadata := map[string]string{"role": string(models.RoleTraveler)}
	if req.FirstName != "" {
		metadata["first_name"] = req.FirstName
	}
	if req.LastName != "" {
		metadata["last_name"] = req.LastName
	}
	if req.Phone != "" {
		metadata["phone"] = req.Phone
	}
	if req.Consent != nil && !*req.Consent {
		metadata["consent"] = "false"
	}
	if req.Locale != "" {
		metadata["locale"] = req.Locale
	}

	principal, err := h.Provider.SignUp(r.Context(), req.Email, req.Password, metadata, utils.HashPassword)
	if err != nil {
		if errors.Is(err, identity.ErrEmailExists) {
			http.Error(w, "An account with this email already exists", http.StatusConflict)
			return
		}
		http.Error(w, "Failed to create account", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, AuthResponse{
		Success: true,
		Message: "Account created, you can sign in now",
		User:    &models.User{ID: principal.ID, Email: principal.Email},
	})
}

// Signin authenticates with credentials and synchronously reconciles the
// application user so the client gets session, user and routing in one
// round trip.
func (h *API) Signin(w http.ResponseWriter, r *http.Request) {
	var req SigninRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		http.Error(w, "Email and password are required", http.StatusBadRequest)
		return
	}

	svc := h.newSessionService()
	defer svc.Close()

	if err := svc.SignIn(r.Context(), req.Email, req.Password); err != nil {
		status := http.StatusUnauthorized
		switch {
		case errors.Is(err, session.ErrTooManyAttempts):
			status = http.StatusTooManyRequests
		case errors.Is(err, session.ErrInvalidCredentials), errors.Is(err, session.ErrEmailNotConfirmed):
		default:
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, AuthResponse{Success: false, Message: err.Error()})
		return
	}

	// Collapse the debounced sign-in event so the snapshot is ready now.
	svc.Flush()
	snap := svc.Snapshot()
	if snap.User == nil {
		// Valid provider session, no app user: documented fail-soft state.
		writeJSON(w, http.StatusOK, AuthResponse{Success: false, Message: "Profile unavailable, try again", Session: snap.Session})
		return
	}

	writeJSON(w, http.StatusOK, AuthResponse{
		Success: true,
		User:    snap.User,
		Session: snap.Session,
		Route:   routeFor(snap.User),
	})
}

// Refresh extends the refresh window and returns a fresh access token.
func (h *API) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		http.Error(w, "refresh_token is required", http.StatusBadRequest)
		return
	}

	sess, err := h.Provider.Refresh(r.Context(), req.RefreshToken)
	if err != nil || sess == nil {
		http.Error(w, "invalid session", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, AuthResponse{Success: true, Session: sess})
}

// Logout revokes the session server-side, best effort; the client clears
// its state regardless.
func (h *API) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.Provider.SignOut(r.Context(), req.RefreshToken); err != nil {
		// Best effort: report success anyway so the client still clears.
		writeJSON(w, http.StatusOK, AuthResponse{Success: true, Message: "Signed out locally, server-side revocation failed"})
		return
	}
	writeJSON(w, http.StatusOK, AuthResponse{Success: true})
}

// Me runs reconciliation for the authenticated principal: it heals the
// missing-user-row case by synthesizing one, and returns the routing
// decision (onboarding, admin or traveler; blocked is cut off earlier).
func (h *API) Me(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFrom(r.Context())
	if principal == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	svc := h.newSessionService()
	defer svc.Close()

	snap := svc.Reconcile(r.Context(), &identity.Session{
		AccessToken: middleware.ExtractBearerToken(r),
		Principal:   *principal,
	})
	if snap.User == nil {
		writeJSON(w, http.StatusOK, AuthResponse{Success: false, Message: "Profile unavailable, try again"})
		return
	}
	if snap.User.IsBlocked() {
		writeJSON(w, http.StatusForbidden, AuthResponse{Success: false, Message: "Your account has been blocked. Contact support.", Route: "blocked"})
		return
	}

	writeJSON(w, http.StatusOK, AuthResponse{Success: true, User: snap.User, Route: routeFor(snap.User)})
}

type OnboardingRequest struct {
	Bio       string   `json:"bio,omitempty"`
	Interests []string `json:"interests,omitempty"`
	Consent   *bool    `json:"consent,omitempty"`
	Locale    string   `json:"locale,omitempty"`
}

// CompleteOnboarding applies the first-run profile and unlocks the rest of
// the app.
func (h *API) CompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())

	var req OnboardingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	consent := user.Consent
	if req.Consent != nil {
		consent = *req.Consent
	}
	interests := make([]string, 0, len(req.Interests))
	for _, it := range req.Interests {
		if it = strings.TrimSpace(it); it != "" {
			interests = append(interests, it)
		}
	}

	if err := h.Users.CompleteOnboarding(r.Context(), user.ID, req.Bio, interests, consent, req.Locale); err != nil {
		http.Error(w, "Failed to save profile", http.StatusInternalServerError)
		return
	}

	updated, err := h.Users.GetByID(r.Context(), user.ID)
	if err != nil || updated == nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	updated.Normalize()

	writeJSON(w, http.StatusOK, AuthResponse{Success: true, User: updated, Route: routeFor(updated)})
}

// routeFor decides the first reachable screen for a user. Blocked is
// handled before this is ever called.
func routeFor(u *models.User) string {
	switch {
	case !u.FirstLoginCompleted:
		return "onboarding"
	case u.Role == models.RoleAdmin:
		return "admin"
	default:
		return "traveler"
	}
}
