package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gasyway/gasyway-backend/internal/identity"
	"github.com/gasyway/gasyway-backend/internal/messaging"
	"github.com/gasyway/gasyway-backend/internal/middleware"
	"github.com/gasyway/gasyway-backend/internal/session"
)

var messagesUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS for WebSocket is handled at the HTTP layer already.
		return true
	},
}

// wsClientFrame is what the frontend sends over the socket.
type wsClientFrame struct {
	Type           string     `json:"type"` // "activate", "message", "read", "create", "ping"
	ConversationID string     `json:"conversation_id,omitempty"`
	Text           string     `json:"text,omitempty"`
	MessageID      string     `json:"message_id,omitempty"`
	Title          string     `json:"title,omitempty"`
	BookingID      *uuid.UUID `json:"booking_id,omitempty"`
	PackID         *uuid.UUID `json:"pack_id,omitempty"`
}

type wsErrorFrame struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// MessagesWebSocket is the live messaging connection. One messaging service
// lives for the duration of the socket: conversation updates stream out,
// client frames drive activation and sends. A sign-out observed on the
// session stream closes the connection.
func (h *API) MessagesWebSocket(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())
	principal := middleware.PrincipalFrom(r.Context())
	if user == nil || principal == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := messagesUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// All socket writes go through this channel: the websocket permits one
	// writer only. A full buffer drops the frame; clients recover on the
	// next refetch.
	outbound := make(chan interface{}, 32)
	send := func(v interface{}) {
		select {
		case outbound <- v:
		default:
		}
	}

	msgSvc := messaging.NewService(user.ID, user.Role, h.Convs, h.Msgs, h.Hub, h.Notifier, func(u messaging.Update) {
		send(u)
	})
	defer msgSvc.Close()

	// Watch the auth stream so a sign-out anywhere tears this socket down.
	sessSvc := h.newSessionService()
	defer sessSvc.Close()
	sessSvc.Reconcile(ctx, &identity.Session{
		AccessToken: middleware.ExtractBearerToken(r),
		Principal:   *principal,
	})
	unwatch := sessSvc.Subscribe(func(snap session.Snapshot) {
		if snap.Session == nil && !snap.Loading {
			cancel()
			conn.Close()
		}
	})
	defer unwatch()

	go func() {
		for {
			select {
			case v := <-outbound:
				if err := conn.WriteJSON(v); err != nil {
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	msgSvc.Start(ctx)
	if err := msgSvc.LoadConversations(ctx); err != nil {
		send(wsErrorFrame{Kind: "error", Error: "failed to load conversations"})
	}

	conn.SetReadLimit(64 * 1024)
	_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))

		var frame wsClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		switch frame.Type {
		case "activate":
			convID, err := uuid.Parse(frame.ConversationID)
			if err != nil {
				continue
			}
			if err := msgSvc.Activate(ctx, convID); err != nil {
				send(wsErrorFrame{Kind: "error", Error: err.Error()})
			}
		case "message":
			if err := msgSvc.SendMessage(ctx, frame.Text); err != nil {
				send(wsErrorFrame{Kind: "error", Error: "failed to send message"})
			}
		case "read":
			msgID, err := uuid.Parse(frame.MessageID)
			if err != nil {
				continue
			}
			_ = msgSvc.MarkAsRead(ctx, msgID)
		case "create":
			if _, err := msgSvc.CreateConversation(ctx, frame.BookingID, frame.PackID, frame.Title, frame.Text); err != nil {
				send(wsErrorFrame{Kind: "error", Error: err.Error()})
			}
		case "ping":
			send(map[string]string{"kind": "pong"})
		default:
			// Ignore unknown types
		}
	}
}
