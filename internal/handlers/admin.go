package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gasyway/gasyway-backend/internal/audit"
	"github.com/gasyway/gasyway-backend/internal/middleware"
	"github.com/gasyway/gasyway-backend/internal/models"
)

// ListUsers returns every user for the admin console.
func (h *API) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Users.List(r.Context())
	if err != nil {
		http.Error(w, "Failed to load users", http.StatusInternalServerError)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "users": users})
}

type SetUserStatusRequest struct {
	Status models.UserStatus `json:"status"`
}

// SetUserStatus blocks or reinstates an account. Blocking also revokes the
// user's refresh session so open clients lose access on their next refresh.
func (h *API) SetUserStatus(w http.ResponseWriter, r *http.Request) {
	admin := middleware.UserFrom(r.Context())

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	var req SetUserStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	switch req.Status {
	case models.StatusActive, models.StatusBlocked, models.StatusPending:
	default:
		http.Error(w, "Invalid status", http.StatusBadRequest)
		return
	}
	if userID == admin.ID && req.Status == models.StatusBlocked {
		http.Error(w, "You cannot block yourself", http.StatusBadRequest)
		return
	}

	target, err := h.Users.GetByID(r.Context(), userID)
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	if target == nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	if err := h.Users.SetStatus(r.Context(), userID, req.Status); err != nil {
		http.Error(w, "Failed to update status", http.StatusInternalServerError)
		return
	}

	if req.Status == models.StatusBlocked {
		h.Provider.InvalidateSessionsFor(r.Context(), userID)
		h.Auditor.Record(audit.KindUserBlocked, userID.String(), target.Email, "blocked by "+admin.Email)
	} else if target.Status == models.StatusBlocked {
		h.Auditor.Record(audit.KindUserUnblocked, userID.String(), target.Email, "unblocked by "+admin.Email)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// ListAuditEvents returns the most recent audit trail entries. Empty when
// the audit store is not connected.
func (h *API) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	limit := int64(100)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	events, err := h.Auditor.List(r.Context(), limit)
	if err != nil {
		http.Error(w, "Failed to load audit events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "events": events})
}

type UnblockIPRequest struct {
	IP string `json:"ip"`
}

// UnblockIP lifts a rate-limit ban early.
func (h *API) UnblockIP(w http.ResponseWriter, r *http.Request) {
	var req UnblockIPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IP == "" {
		http.Error(w, "ip is required", http.StatusBadRequest)
		return
	}

	if err := middleware.UnblockIP(req.IP); err != nil {
		http.Error(w, "Failed to unblock IP", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
