// Package main is the entry point for the chat server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/listing-chat/internal/auth"
	"github.com/capitalize-ai/listing-chat/internal/catalog"
	"github.com/capitalize-ai/listing-chat/internal/config"
	"github.com/capitalize-ai/listing-chat/internal/events"
	"github.com/capitalize-ai/listing-chat/internal/handler"
	natsclient "github.com/capitalize-ai/listing-chat/internal/nats"
	"github.com/capitalize-ai/listing-chat/internal/presence"
	"github.com/capitalize-ai/listing-chat/internal/service"
	"github.com/capitalize-ai/listing-chat/internal/session"
	"github.com/capitalize-ai/listing-chat/internal/store"
	"github.com/capitalize-ai/listing-chat/pkg/logger"
	"github.com/capitalize-ai/listing-chat/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := run(cfg, log); err != nil {
		log.Error("server failed", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	log.Info("starting chat server",
		zap.String("store", cfg.StoreDriver),
		zap.String("events", cfg.EventsDriver),
	)

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "listing-chat", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Message store
	raw, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	st := store.Instrument(raw)
	defer st.Close()

	// Event feed
	publisher, natsClient, err := openPublisher(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer publisher.Close()
	if natsClient != nil {
		defer natsClient.Close()
	}

	// Catalog enrichment
	var lookup catalog.Lookup = catalog.None{}
	if cfg.CatalogURL != "" {
		httpLookup, err := catalog.NewHTTPLookup(cfg.CatalogURL, cfg.CatalogTimeout, cfg.CatalogCacheTTL, log)
		if err != nil {
			return err
		}
		defer httpLookup.Close()
		lookup = httpLookup
	}

	// Initialize services
	provider := auth.NewJWTProvider(cfg.JWTSecret, cfg.JWTIssuer)
	registry := presence.NewMap()
	coordinator := service.NewCoordinator(st, registry, publisher, service.Policy{
		MaxTextLength:     cfg.MaxTextLength,
		AllowSelfMessages: cfg.AllowSelfMessages,
		PublishTimeout:    cfg.EventsPublishTimeout,
	}, log)
	rooms := service.NewRoomService(st, lookup, service.HistoryLimits{
		Default: cfg.HistoryDefaultLimit,
		Max:     cfg.HistoryMaxLimit,
	}, log)
	sessions := session.NewManager(registry, coordinator, log)

	// Initialize handlers
	router := handler.NewRouter(handler.RouterConfig{
		Auth:           provider,
		CookieName:     cfg.JWTCookie,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimit:      cfg.RateLimitRequests,
		RateWindow:     cfg.RateLimitWindow,
		Health:         handler.NewHealthHandler(st, natsClient),
		Rooms:          handler.NewRoomHandler(rooms, log),
		Messages:       handler.NewMessageHandler(rooms, log),
		WS: handler.NewWSHandler(provider, sessions, handler.WSOptions{
			SendBuffer:      cfg.WSSendBuffer,
			WriteTimeout:    cfg.WSWriteTimeout,
			PongWait:        cfg.WSPongWait,
			PingPeriod:      cfg.PingPeriod(),
			DeliveryTimeout: cfg.WSDeliveryTimeout,
			MaxMessageBytes: cfg.WSMaxMessageBytes,
			AllowedOrigins:  cfg.CORSAllowedOrigins,
			CookieName:      cfg.JWTCookie,
		}, log),
		Logger: log,
	})

	// Create HTTP server. WriteTimeout does not apply to hijacked
	// WebSocket connections.
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	}

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

// openPublisher connects the configured event feed. The NATS client is
// returned separately so readiness can report on it.
func openPublisher(ctx context.Context, cfg *config.Config, log *logger.Logger) (events.Publisher, *natsclient.Client, error) {
	switch cfg.EventsDriver {
	case config.EventsNATS:
		client, err := natsclient.Connect(ctx, natsclient.Config{
			Name:     "listing-chat",
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to NATS: %w", err)
		}
		pub := natsclient.NewPublisher(client, log)
		if err := pub.EnsureStream(ctx); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("ensure stream: %w", err)
		}
		return pub, client, nil
	case config.EventsAMQP:
		pub, err := events.NewAMQPPublisher(ctx, cfg.AMQPURL, cfg.AMQPExchange, log)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to AMQP: %w", err)
		}
		return pub, nil, nil
	default:
		return events.Nop{}, nil, nil
	}
}
