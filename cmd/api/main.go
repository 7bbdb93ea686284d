// Package main is the entry point for the calendar assistant server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/daybook-ai/calendar-assistant/internal/bulkimport"
	"github.com/daybook-ai/calendar-assistant/internal/calendar"
	"github.com/daybook-ai/calendar-assistant/internal/classifier"
	"github.com/daybook-ai/calendar-assistant/internal/config"
	"github.com/daybook-ai/calendar-assistant/internal/guard"
	"github.com/daybook-ai/calendar-assistant/internal/handler"
	"github.com/daybook-ai/calendar-assistant/internal/llm"
	"github.com/daybook-ai/calendar-assistant/internal/messaging"
	"github.com/daybook-ai/calendar-assistant/internal/middleware"
	natsclient "github.com/daybook-ai/calendar-assistant/internal/nats"
	"github.com/daybook-ai/calendar-assistant/internal/orchestrator"
	"github.com/daybook-ai/calendar-assistant/internal/session"
	"github.com/daybook-ai/calendar-assistant/pkg/logger"
	"github.com/daybook-ai/calendar-assistant/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting calendar assistant")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "calendar-assistant", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Resolve the assistant timezone
	tz, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Error("invalid timezone", zap.String("timezone", cfg.Timezone), zap.Error(err))
		os.Exit(1)
	}

	// Connect to NATS
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer natsClient.Close()

	// Ensure the session bucket and audit stream exist
	kv, err := session.EnsureBucket(ctx, natsClient.JetStream())
	if err != nil {
		log.Error("failed to ensure session bucket", zap.Error(err))
		os.Exit(1)
	}
	store := session.NewKVStore(kv, log)

	auditPublisher := natsclient.NewAuditPublisher(natsClient)
	if err := auditPublisher.EnsureStream(ctx); err != nil {
		log.Error("failed to ensure audit stream", zap.Error(err))
		os.Exit(1)
	}

	// Initialize the LLM-backed intent classifier
	llmClient, err := llm.NewClient(llm.Provider(cfg.ClassifierProvider), classifierKey(cfg))
	if err != nil {
		log.Error("failed to create LLM client", zap.Error(err))
		os.Exit(1)
	}
	cls := classifier.NewLLMClassifier(llmClient, cfg.ClassifierModel, tz, log)

	// Initialize outbound clients
	channel := messaging.NewHTTPChannel(messaging.ClientConfig{
		BaseURL:     cfg.ChannelAPIURL,
		AccessToken: cfg.ChannelAccessToken,
	})
	backend := calendar.NewClient(calendar.ClientConfig{
		BaseURL: cfg.CalendarAPIURL,
		Token:   cfg.CalendarAPIToken,
	})

	// Wire the conversation pipeline
	g := guard.New(backend, log)
	engine := bulkimport.New(g, backend, store, channel, auditPublisher, log)
	orch := orchestrator.New(store, backend, cls, channel, g, engine, auditPublisher, orchestrator.Config{
		Whitelist: cfg.WhitelistedUsers,
		Timezone:  tz,
	}, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient)
	webhookHandler := handler.NewWebhookHandler(orch, log)
	sessionHandler := handler.NewSessionHandler(store, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Channel webhook
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		r.Use(middleware.VerifySignature(cfg.ChannelSecret))
		r.Post("/webhook", webhookHandler.Receive)
	})

	// Operator API
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CORS())
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.OperatorRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/sessions/{userID}/{chatID}", func(r chi.Router) {
			r.Get("/", sessionHandler.Get)
			r.With(middleware.RequireScope("sessions:write")).Delete("/", sessionHandler.Delete)
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

func classifierKey(cfg *config.Config) string {
	if llm.Provider(cfg.ClassifierProvider) == llm.ProviderOpenAI {
		return cfg.OpenAIAPIKey
	}
	return cfg.AnthropicAPIKey
}
