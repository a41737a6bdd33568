package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gasyway/gasyway-backend/internal/audit"
	"github.com/gasyway/gasyway-backend/internal/config"
	"github.com/gasyway/gasyway-backend/internal/identity"
	"github.com/gasyway/gasyway-backend/internal/messaging"
	"github.com/gasyway/gasyway-backend/internal/queue"
	"github.com/gasyway/gasyway-backend/internal/session"
	"github.com/gasyway/gasyway-backend/internal/store"
	"github.com/gasyway/gasyway-backend/internal/uploads"
)

// API bundles the dependencies every handler needs.
type API struct {
	Cfg        *config.Config
	Provider   *identity.Provider
	Users      *store.UserStore
	Convs      *store.ConversationStore
	Msgs       *store.MessageStore
	Hub        *messaging.Hub
	Auditor    *audit.Recorder
	Notifier   *queue.Publisher
	Cloudinary *uploads.CloudinaryService
}

// newSessionService builds a request- or connection-scoped reconciliation
// service; callers must Close it.
func (h *API) newSessionService() *session.Service {
	return session.NewService(h.Provider, h.Users, h.Auditor, h.Cfg.AuthDebounce, h.Cfg.UserCacheTTL)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
