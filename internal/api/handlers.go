package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"perepiska/internal/auth"
	"perepiska/internal/models"
)

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest

	// Support both JSON and Form (since frontend uses x-www-form-urlencoded)
	if r.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Failed to parse form", http.StatusBadRequest)
			return
		}
		req.Username = r.FormValue("username")
		req.Password = r.FormValue("password")
	}

	loginResp, _ := a.auth.Login(req)
	if !loginResp.Success {
		writeJSON(w, http.StatusUnauthorized, loginResp)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    loginResp.Token,
		HttpOnly: true,
		Path:     "/",
		Expires:  time.Unix(loginResp.TokenExpiry, 0),
	})

	writeJSON(w, http.StatusOK, loginResp)
}

func (a *API) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	token := a.getToken(r)
	if token != "" {
		_ = a.auth.Logoff(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})

	w.WriteHeader(http.StatusOK)
}

func (a *API) MeHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	user, ok := a.auth.GetUser(userID)
	if !ok {
		writeError(w, models.ErrNotFound)
		return
	}
	user.Presence = a.hub.Presence(user.ID)
	writeJSON(w, http.StatusOK, user)
}

func (a *API) UsersHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := a.userID(r); err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	users := a.auth.ListUsers()
	for i := range users {
		users[i].Presence = a.hub.Presence(users[i].ID)
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) ChatsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	chats, err := a.gateway.Chats(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

type pushSubscribeRequest struct {
	Endpoint string `json:"endpoint" validate:"required,url"`
	Keys     struct {
		P256dh string `json:"p256dh" validate:"required"`
		Auth   string `json:"auth" validate:"required"`
	} `json:"keys"`
}

func (a *API) PushSubscribeHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req pushSubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := a.validate.Struct(req); err != nil {
		writeError(w, fmt.Errorf("%w: %s", models.ErrValidation, err))
		return
	}
	if err := a.push.Subscribe(userID, req.Endpoint, req.Keys.P256dh, req.Keys.Auth); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) PushUnsubscribeHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := a.push.Unsubscribe(userID, req.Endpoint); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) UploadMediaHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := a.userID(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 33<<20)
	descriptor, err := a.media.Save(r.Body, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, descriptor)
}

func (a *API) GetMediaHandler(w http.ResponseWriter, r *http.Request) {
	rc, meta, err := a.media.Open(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer func() { _ = rc.Close() }()
	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(w, r, meta.ID, time.Unix(meta.CreatedAt, 0), rs)
		return
	}
	if _, err := io.Copy(w, rc); err != nil {
		slog.Error("failed to stream media", "media_id", meta.ID, "error", err)
	}
}
