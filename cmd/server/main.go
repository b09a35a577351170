package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiprono234/chat-verse/internal/auth"
	"github.com/kiprono234/chat-verse/internal/blob"
	"github.com/kiprono234/chat-verse/internal/config"
	"github.com/kiprono234/chat-verse/internal/handlers"
	"github.com/kiprono234/chat-verse/internal/logging"
	"github.com/kiprono234/chat-verse/internal/metrics"
	"github.com/kiprono234/chat-verse/internal/presence"
	"github.com/kiprono234/chat-verse/internal/services"
	"github.com/kiprono234/chat-verse/internal/session"
	"github.com/kiprono234/chat-verse/internal/store"
	"github.com/kiprono234/chat-verse/internal/supabase"
	"github.com/kiprono234/chat-verse/internal/websocket"
	"go.uber.org/zap"
)

func main() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server_failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	messageStore, err := store.Open(ctx, store.Options{
		Driver:      cfg.StoreDriver,
		Path:        cfg.StorePath,
		DatabaseURL: cfg.DatabaseURL,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer messageStore.Close()

	blobs, uploads, err := openBlobStore(cfg, logger)
	if err != nil {
		return err
	}
	if sweeper, ok := blobs.(services.Sweeper); ok {
		cleanup := services.NewCleanupService(sweeper, 10*time.Minute, time.Hour, logger.Named("cleanup"))
		go cleanup.Start()
		defer cleanup.Stop()
	}

	var authenticator auth.Authenticator
	if cfg.AuthEnabled() {
		authenticator = auth.NewJWT(cfg.AuthKey, auth.DefaultIssuer)
	}

	// Hub run loop owns fan-out to every websocket connection
	hub := websocket.NewHub(cfg.SendBuffer, m, logger.Named("hub"))
	go hub.Run()

	registry := presence.NewRegistry()
	registry.TrackSize(m.PresenceEntries)
	messageService := services.NewMessageService(messageStore, blobs, hub, cfg.MaxUploadSize, m, logger.Named("messages"))

	wsHandler := websocket.NewHandler(session.Deps{
		Hub:       hub,
		Presence:  registry,
		Messages:  messageService,
		Auth:      authenticator,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
		Metrics:   m,
	}, cfg.MaxUploadSize, logger.Named("session"))

	router := handlers.NewRouter(handlers.RouterConfig{
		Messages:    messageService,
		Presence:    registry,
		Auth:        authenticator,
		WebSocket:   wsHandler.ServeWS,
		Metrics:     m.Handler(),
		Uploads:     uploads,
		CORSOrigins: cfg.CORSOrigins,
		MaxUpload:   cfg.MaxUploadSize,
		Logger:      logger.Named("http"),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_starting",
			zap.String("addr", srv.Addr),
			zap.String("store", cfg.StoreDriver),
			zap.String("blobs", cfg.BlobDriver),
			zap.Bool("auth", cfg.AuthEnabled()),
			zap.Strings("cors_origins", cfg.CORSOrigins))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting_down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown", zap.Error(err))
	}
	// Closing every queue makes the write pumps close their sockets
	hub.Stop()

	// Sends already accepted finish before the store closes
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelDrain()
	if err := wsHandler.Drain(drainCtx); err != nil {
		logger.Warn("websocket_drain", zap.Error(err))
	}
	return nil
}

// openBlobStore returns the configured attachment store and, for the local
// driver, the handler serving its files.
func openBlobStore(cfg *config.Config, logger *zap.Logger) (blob.Store, http.Handler, error) {
	switch cfg.BlobDriver {
	case "supabase":
		client := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseKey, cfg.SupabaseBucket, logger.Named("supabase"))
		return client, nil, nil
	default:
		local, err := blob.NewLocalStore(cfg.UploadDir, cfg.PublicBaseURL, logger.Named("blob"))
		if err != nil {
			return nil, nil, err
		}
		return local, local.Handler(), nil
	}
}
