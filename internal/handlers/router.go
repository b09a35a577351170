package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/kiprono234/chat-verse/internal/auth"
	"github.com/kiprono234/chat-verse/internal/services"
	"go.uber.org/zap"
)

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Messages *services.MessageService
	Presence PresenceSource

	// Auth guards /api when set
	Auth auth.Authenticator

	// WebSocket serves GET /ws
	WebSocket http.HandlerFunc

	// Metrics serves GET /metrics when set
	Metrics http.Handler

	// Uploads serves GET /uploads/* when set (local blob driver)
	Uploads http.Handler

	CORSOrigins []string
	MaxUpload   int64
	Logger      *zap.Logger
}

// NewRouter builds the chi router with the middleware stack and every route.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	messageHandler := NewMessageHandler(cfg.Messages, log)
	uploadHandler := NewUploadHandler(cfg.Messages, cfg.MaxUpload, log)
	presenceHandler := NewPresenceHandler(cfg.Presence)
	healthHandler := NewHealthHandler(cfg.Presence)

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", healthHandler.HealthCheck)

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	if cfg.WebSocket != nil {
		r.Get("/ws", cfg.WebSocket)
	}
	if cfg.Uploads != nil {
		r.Method(http.MethodGet, "/uploads/*", cfg.Uploads)
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(RequireAuth(cfg.Auth))

		r.Route("/messages", func(r chi.Router) {
			r.Get("/", messageHandler.GetMessages)
			r.Post("/", messageHandler.SendMessage)
			r.Get("/{id}", messageHandler.GetMessage)
			r.Post("/{id}/archive", messageHandler.ArchiveMessage)
		})
		r.Post("/upload", uploadHandler.Upload)
		r.Get("/presence", presenceHandler.GetPresence)
	})

	return r
}
