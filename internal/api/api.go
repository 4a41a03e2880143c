package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"perepiska/internal/auth"
	"perepiska/internal/gateway"
	"perepiska/internal/hub"
	"perepiska/internal/media"
	"perepiska/internal/models"
	"perepiska/internal/push"

	"github.com/go-playground/validator/v10"
)

// ChatCreator persists new chats.
type ChatCreator interface {
	CreateChat(chat models.Chat) error
}

type API struct {
	auth     *auth.Service
	gateway  *gateway.Gateway
	hub      *hub.Hub
	media    *media.Service
	push     *push.Service
	chats    ChatCreator
	validate *validator.Validate
}

func New(authService *auth.Service, gw *gateway.Gateway, h *hub.Hub, mediaService *media.Service, pushService *push.Service, chats ChatCreator) *API {
	return &API{
		auth:     authService,
		gateway:  gw,
		hub:      h,
		media:    mediaService,
		push:     pushService,
		chats:    chats,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) getToken(r *http.Request) string {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}
	return token
}

// userID resolves the verified user behind the request. Every mutation
// trusts this ID; credentials are never re-verified here.
func (a *API) userID(r *http.Request) (string, error) {
	return a.auth.GetUserID(a.getToken(r))
}

// RequireSameOrigin rejects cross-origin browser requests on mutating
// endpoints.
func RequireSameOrigin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			u, err := url.Parse(origin)
			if err != nil || !strings.EqualFold(u.Host, r.Host) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps the gateway's typed errors onto HTTP statuses. The
// window and already-deleted conditions keep their specific messages so
// the client can show something better than a generic failure.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrEditWindowClosed):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "messages can no longer be edited"})
	case errors.Is(err, models.ErrDeleteWindowClosed):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "messages can no longer be deleted"})
	case errors.Is(err, models.ErrAlreadyDeleted):
		writeJSON(w, http.StatusConflict, errorResponse{Error: models.ErrAlreadyDeleted.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "unexpected error"})
	}
}
