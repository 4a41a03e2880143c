package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"perepiska/internal/api"
	"perepiska/internal/auth"
	"perepiska/internal/gateway"
	"perepiska/internal/hub"
	"perepiska/internal/media"
	"perepiska/internal/push"
	"perepiska/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(
	authService *auth.Service,
	gw *gateway.Gateway,
	h *hub.Hub,
	mediaService *media.Service,
	pushService *push.Service,
	chats api.ChatCreator,
	addr string,
) *APIServer {
	server := ws.NewServer(authService, h)
	apiHandlers := api.New(authService, gw, h, mediaService, pushService, chats)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/login", api.RequireSameOrigin(apiHandlers.LoginHandler))
	mux.HandleFunc("POST /api/logoff", api.RequireSameOrigin(apiHandlers.LogoffHandler))
	mux.HandleFunc("GET /api/me", apiHandlers.MeHandler)
	mux.HandleFunc("GET /api/users", apiHandlers.UsersHandler)

	mux.HandleFunc("GET /api/chats", apiHandlers.ChatsHandler)
	mux.HandleFunc("POST /api/chats", api.RequireSameOrigin(apiHandlers.CreateChatHandler))
	mux.HandleFunc("GET /api/chats/{chatID}/messages", apiHandlers.ListMessagesHandler)
	mux.HandleFunc("POST /api/chats/{chatID}/messages", api.RequireSameOrigin(apiHandlers.SendMessageHandler))
	mux.HandleFunc("PATCH /api/chats/{chatID}/messages/{messageID}", api.RequireSameOrigin(apiHandlers.EditMessageHandler))
	mux.HandleFunc("DELETE /api/chats/{chatID}/messages/{messageID}", api.RequireSameOrigin(apiHandlers.DeleteMessageHandler))
	mux.HandleFunc("POST /api/chats/{chatID}/read", api.RequireSameOrigin(apiHandlers.MarkReadHandler))

	mux.HandleFunc("POST /api/upload", api.RequireSameOrigin(apiHandlers.UploadMediaHandler))
	mux.HandleFunc("GET /api/media/{id}", apiHandlers.GetMediaHandler)

	mux.HandleFunc("POST /api/push/subscribe", api.RequireSameOrigin(apiHandlers.PushSubscribeHandler))
	mux.HandleFunc("POST /api/push/unsubscribe", api.RequireSameOrigin(apiHandlers.PushUnsubscribeHandler))

	// WebSocket endpoint
	mux.HandleFunc("/api/chat", server.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *APIServer) Start() error {
	slog.Info("API server started", "addr", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
