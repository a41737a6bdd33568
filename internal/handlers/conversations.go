package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/gasyway/gasyway-backend/internal/messaging"
	"github.com/gasyway/gasyway-backend/internal/middleware"
	"github.com/gasyway/gasyway-backend/internal/models"
)

type ConversationListResponse struct {
	Success       bool                  `json:"success"`
	Conversations []models.Conversation `json:"conversations"`
}

type MessageListResponse struct {
	Success  bool             `json:"success"`
	Messages []models.Message `json:"messages"`
}

type CreateConversationRequest struct {
	Title        string     `json:"title,omitempty"`
	FirstMessage string     `json:"first_message"`
	BookingID    *uuid.UUID `json:"booking_id,omitempty"`
	PackID       *uuid.UUID `json:"pack_id,omitempty"`
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

// newMessagingService builds a request-scoped messaging service for the
// authenticated user. REST handlers never Start it; the bus subscription
// only matters for long-lived connections.
func (h *API) newMessagingService(u *models.User) *messaging.Service {
	return messaging.NewService(u.ID, u.Role, h.Convs, h.Msgs, h.Hub, h.Notifier, nil)
}

// ListConversations returns the viewer's threads with unread counts,
// scoped by role. Listing never touches read receipts.
func (h *API) ListConversations(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())

	svc := h.newMessagingService(user)
	defer svc.Close()

	list, err := svc.ListConversations(r.Context())
	if err != nil {
		http.Error(w, "Failed to load conversations", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []models.Conversation{}
	}
	writeJSON(w, http.StatusOK, ConversationListResponse{Success: true, Conversations: list})
}

// CreateConversation opens a thread with its seed message. The type is
// inferred from the attached booking or pack reference.
func (h *API) CreateConversation(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	svc := h.newMessagingService(user)
	defer svc.Close()

	convID, err := svc.CreateConversation(r.Context(), req.BookingID, req.PackID, req.Title, req.FirstMessage)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conv, err := h.Convs.Get(r.Context(), convID)
	if err != nil || conv == nil {
		http.Error(w, "Failed to load conversation", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "conversation": conv})
}

// GetMessages returns the full ordered feed for one thread and marks it
// read for the viewer.
func (h *API) GetMessages(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())

	convID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	svc := h.newMessagingService(user)
	defer svc.Close()

	feed, err := svc.LoadMessages(r.Context(), convID)
	if err != nil {
		if errors.Is(err, messaging.ErrNotParticipant) {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		http.Error(w, "Failed to load messages", http.StatusInternalServerError)
		return
	}
	if feed == nil {
		feed = []models.Message{}
	}
	writeJSON(w, http.StatusOK, MessageListResponse{Success: true, Messages: feed})
}

// SendMessage appends a text message to a thread. Activation runs first so
// the access check and the active-thread invariant both hold.
func (h *API) SendMessage(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())

	convID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	svc := h.newMessagingService(user)
	defer svc.Close()

	if err := svc.Activate(r.Context(), convID); err != nil {
		if errors.Is(err, messaging.ErrNotParticipant) {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		http.Error(w, "Failed to open conversation", http.StatusInternalServerError)
		return
	}
	if err := svc.SendMessage(r.Context(), req.Content); err != nil {
		http.Error(w, "Failed to send message", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// MarkConversationRead bulk-receipts every message in a thread for the
// viewer.
func (h *API) MarkConversationRead(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())

	convID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	if user.Role != models.RoleAdmin {
		conv, err := h.Convs.Get(r.Context(), convID)
		if err != nil {
			http.Error(w, "Database error", http.StatusInternalServerError)
			return
		}
		if conv == nil || conv.UserID != user.ID {
			http.Error(w, messaging.ErrNotParticipant.Error(), http.StatusForbidden)
			return
		}
	}

	if err := h.Msgs.MarkConversationRead(r.Context(), convID, user.ID); err != nil {
		http.Error(w, "Failed to mark as read", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

type UpdateConversationRequest struct {
	Status   models.ConversationStatus   `json:"status,omitempty"`
	Priority models.ConversationPriority `json:"priority,omitempty"`
	AdminID  *uuid.UUID                  `json:"admin_id,omitempty"`
}

// UpdateConversation lets an admin change status, priority or assignment.
// Each applied change pokes the owner's conversation topic so open clients
// refetch.
func (h *API) UpdateConversation(w http.ResponseWriter, r *http.Request) {
	convID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	var req UpdateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	conv, err := h.Convs.Get(r.Context(), convID)
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	if conv == nil {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}

	if req.Status != "" {
		if err := h.Convs.UpdateStatus(r.Context(), convID, req.Status); err != nil {
			http.Error(w, "Failed to update status", http.StatusInternalServerError)
			return
		}
	}
	if req.Priority != "" {
		if err := h.Convs.UpdatePriority(r.Context(), convID, req.Priority); err != nil {
			http.Error(w, "Failed to update priority", http.StatusInternalServerError)
			return
		}
	}
	if req.AdminID != nil {
		if err := h.Convs.AssignAdmin(r.Context(), convID, *req.AdminID); err != nil {
			http.Error(w, "Failed to assign admin", http.StatusInternalServerError)
			return
		}
	}

	if err := h.Hub.Publish(r.Context(), messaging.ConversationTopic(conv.UserID), messaging.Event{
		Kind:           messaging.EventUpdate,
		Table:          "conversations",
		ConversationID: convID,
		UserID:         conv.UserID,
	}); err != nil {
		http.Error(w, "Failed to notify subscribers", http.StatusInternalServerError)
		return
	}

	updated, err := h.Convs.Get(r.Context(), convID)
	if err != nil || updated == nil {
		http.Error(w, "Failed to load conversation", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "conversation": updated})
}
