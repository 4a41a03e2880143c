package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"perepiska/internal/api"
	"perepiska/internal/auth"
	"perepiska/internal/gateway"
	"perepiska/internal/metrics"
)

// AdminServer listens on a local-only address and exposes endpoints
// that never reach the public API: user provisioning, moderation and
// Prometheus metrics.
type AdminServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAdminServer(authService *auth.Service, gw *gateway.Gateway, addr string) *AdminServer {
	handlers := api.NewAdminHandler(authService, gw)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/users", handlers.AddUserHandler)
	mux.HandleFunc("POST /admin/messages/delete", handlers.ModerationDeleteHandler)
	mux.Handle("GET /metrics", metrics.Handler())

	if addr == "" {
		addr = "127.0.0.1:8081"
	}

	return &AdminServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *AdminServer) Start() error {
	slog.Info("admin server started", "addr", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
