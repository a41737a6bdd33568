package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/gasyway/gasyway-backend/internal/handlers"
	"github.com/gasyway/gasyway-backend/internal/middleware"
)

func SetupRoutes(r *chi.Mux, api *handlers.API, auth *middleware.Authenticator) {
	// Auth routes
	r.Post("/api/auth/signup", api.Signup)
	r.Post("/api/auth/signin", api.Signin)
	r.Post("/api/auth/refresh", api.Refresh)
	r.Post("/api/auth/logout", api.Logout)

	// Reconciliation endpoint: token required, user row may not exist yet
	r.Group(func(r chi.Router) {
		r.Use(auth.RequirePrincipal)
		r.Get("/api/auth/me", api.Me)
	})

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser)

		r.Post("/api/auth/onboarding", api.CompleteOnboarding)

		// Messaging routes
		r.Get("/api/conversations", api.ListConversations)
		r.Post("/api/conversations", api.CreateConversation)
		r.Get("/api/conversations/{conversationID}/messages", api.GetMessages)
		r.Post("/api/conversations/{conversationID}/messages", api.SendMessage)
		r.Post("/api/conversations/{conversationID}/read", api.MarkConversationRead)

		// File upload routes
		r.Post("/api/upload/avatar", api.UploadAvatar)
		r.Post("/api/upload/attachment", api.UploadAttachment)

		// Live messaging socket
		r.Get("/ws/messages", api.MessagesWebSocket)
	})

	// Admin routes
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAdmin)

		r.Get("/api/admin/users", api.ListUsers)
		r.Put("/api/admin/users/{userID}/status", api.SetUserStatus)
		r.Patch("/api/admin/conversations/{conversationID}", api.UpdateConversation)
		r.Get("/api/admin/audit", api.ListAuditEvents)
		r.Put("/api/admin/unblock-ip", api.UnblockIP)
	})
}
