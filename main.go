package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"perepiska/internal/auth"
	"perepiska/internal/bridge"
	"perepiska/internal/commands"
	"perepiska/internal/config"
	"perepiska/internal/filestore"
	"perepiska/internal/gateway"
	"perepiska/internal/http"
	"perepiska/internal/hub"
	"perepiska/internal/media"
	"perepiska/internal/push"
	"perepiska/internal/storage"
)

func run(ctx context.Context) error {
	addUser := flag.String("add-user", "", "Username to create (creates user with random password and prints details)")
	addAdmin := flag.Bool("admin", false, "Make the created user an administrator")
	flag.Parse()

	cfg, err := config.Load(*addUser != "")
	if err != nil {
		return err
	}

	setupLogging(cfg.LogLevel)

	if *addUser != "" {
		return commands.AddUser(*addUser, *addAdmin, cfg)
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	authService, err := auth.NewService(ctx, auth.Config{TokenExpiry: cfg.TokenExpiry}, bbStorage)
	if err != nil {
		return err
	}

	messageHub := hub.New(bbStorage)

	g, gCtx := errgroup.WithContext(ctx)

	var redisBridge *bridge.RedisBridge
	if cfg.RedisAddr != "" {
		redisBridge, err = bridge.New(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer func() { _ = redisBridge.Close() }()

		messageHub.SetRelay(redisBridge)
		g.Go(func() error {
			return redisBridge.Run(gCtx, messageHub)
		})
	}

	files, err := filestore.NewLocalBlobStore(cfg.UploadsPath)
	if err != nil {
		return err
	}

	mediaService := media.NewService(files, bbStorage, cfg.BaseURL)

	pushService := push.NewService(push.Config{
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		Subscriber:      cfg.PushSubscriber,
	}, bbStorage)

	gw := gateway.New(gateway.Config{
		EditWindow:   cfg.EditWindow,
		DeleteWindow: cfg.DeleteWindow,
		PageSize:     cfg.PageSize,
	}, bbStorage, messageHub, pushService, authService)

	adminServer := http.NewAdminServer(authService, gw, cfg.AdminAddr)
	apiServer := http.NewAPIServer(authService, gw, messageHub, mediaService, pushService, bbStorage, cfg.APIAddr)

	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("admin server shutdown error", "error", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("API server shutdown error", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
