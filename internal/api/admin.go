package api

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"perepiska/internal/auth"
	"perepiska/internal/content"
	"perepiska/internal/gateway"
)

// AdminHandler serves the moderation surface. It only ever binds to the
// admin listener, which stays on localhost; there is no token check.
type AdminHandler struct {
	authService *auth.Service
	gateway     *gateway.Gateway
}

func NewAdminHandler(authService *auth.Service, gw *gateway.Gateway) *AdminHandler {
	return &AdminHandler{authService: authService, gateway: gw}
}

type AddUserRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	Admin       bool   `json:"admin,omitempty"`
}

type AddUserResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
	// Password is generated server-side and shown exactly once.
	Password string `json:"password,omitempty"`
}

func (h *AdminHandler) AddUserHandler(w http.ResponseWriter, r *http.Request) {
	var req AddUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := content.ValidateUsername(req.Username); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.Username
	}

	password, err := generatePassword()
	if err != nil {
		http.Error(w, "Failed to generate password", http.StatusInternalServerError)
		return
	}

	user, err := h.authService.AddUser(req.Username, displayName, password, req.Admin)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, AddUserResponse{
		Success:  true,
		UserID:   user.ID,
		Username: user.UserName,
		Password: password,
	})
}

// ModerationDeleteHandler removes a message for everyone on behalf of
// an administrative actor, bypassing the deletion window.
func (h *AdminHandler) ModerationDeleteHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MessageID string `json:"messageId"`
		ActorID   string `json:"actorId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.MessageID == "" || req.ActorID == "" {
		http.Error(w, "messageId and actorId are required", http.StatusBadRequest)
		return
	}
	if !h.authService.IsAdmin(req.ActorID) {
		http.Error(w, "actor is not an administrator", http.StatusForbidden)
		return
	}

	if err := h.gateway.Delete(r.Context(), "", req.MessageID, req.ActorID, true); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func generatePassword() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
