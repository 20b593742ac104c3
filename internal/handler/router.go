package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/listing-chat/internal/auth"
	"github.com/capitalize-ai/listing-chat/internal/middleware"
	"github.com/capitalize-ai/listing-chat/pkg/logger"
)

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Auth           auth.Provider
	CookieName     string
	AllowedOrigins []string
	RateLimit      int
	RateWindow     time.Duration

	Health   *HealthHandler
	Rooms    *RoomHandler
	Messages *MessageHandler
	WS       *WSHandler

	Logger *logger.Logger
}

// NewRouter builds the HTTP handler.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Live connection, authenticated before upgrade
	r.Get("/ws", cfg.WS.Serve)

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Auth, cfg.CookieName))
		if cfg.RateLimit > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimit, cfg.RateWindow))
		}

		r.Route("/rooms", func(r chi.Router) {
			r.Get("/", cfg.Rooms.List)
			r.Get("/{peerId}/messages", cfg.Rooms.History)
			r.Post("/{peerId}/read", cfg.Rooms.MarkRead)
		})

		r.Delete("/messages/{id}", cfg.Messages.Delete)
	})

	return r
}
