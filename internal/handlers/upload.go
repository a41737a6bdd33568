package handlers

import (
	"net/http"

	"github.com/gasyway/gasyway-backend/internal/middleware"
)

type UploadResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	URL     string `json:"url,omitempty"`
}

// UploadAvatar stores a profile picture on Cloudinary and saves its URL on
// the user row.
func (h *API) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	if h.Cloudinary == nil {
		http.Error(w, "Uploads are not configured", http.StatusServiceUnavailable)
		return
	}
	user := middleware.UserFrom(r.Context())

	// Parse multipart form (max 10MB)
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Failed to parse form: "+err.Error(), http.StatusBadRequest)
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "No file provided: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	url, err := h.Cloudinary.UploadFileFromHeader(r.Context(), fileHeader, "gasyway/avatars")
	if err != nil {
		http.Error(w, "Failed to upload file: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if err := h.Users.SetAvatar(r.Context(), user.ID, url); err != nil {
		http.Error(w, "Failed to save avatar", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{
		Success: true,
		Message: "File uploaded successfully",
		URL:     url,
	})
}

// UploadAttachment stores a message attachment and returns its URL; the
// client then sends it as message content.
func (h *API) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	if h.Cloudinary == nil {
		http.Error(w, "Uploads are not configured", http.StatusServiceUnavailable)
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Failed to parse form: "+err.Error(), http.StatusBadRequest)
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "No file provided: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	url, err := h.Cloudinary.UploadFileFromHeader(r.Context(), fileHeader, "gasyway/attachments")
	if err != nil {
		http.Error(w, "Failed to upload file: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{
		Success: true,
		Message: "File uploaded successfully",
		URL:     url,
	})
}
