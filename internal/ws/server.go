package ws

import (
	"log/slog"
	"net/http"

	"perepiska/internal/auth"
	"perepiska/internal/hub"

	"github.com/gorilla/websocket"
)

type Server struct {
	auth     *auth.Service
	hub      *hub.Hub
	upgrader *websocket.Upgrader
}

func NewServer(authService *auth.Service, h *hub.Hub) *Server {
	return &Server{
		auth: authService,
		hub:  h,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Same-origin is enforced at the API layer
			},
		},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}
	userID, err := s.auth.GetUserID(token)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("error upgrading to websocket", "error", err)
		return
	}

	sess := s.hub.Attach(userID)
	conn := NewConnection(s.hub, ws, sess)
	if err := conn.Handle(r.Context()); err != nil {
		slog.Debug("websocket session ended", "user_id", userID, "error", err)
	}
}
