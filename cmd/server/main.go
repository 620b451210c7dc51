// hfchat - browser chat client for a hosted Phi-4 model
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/hfchat/internal/api"
	"github.com/ashureev/hfchat/internal/config"
	"github.com/ashureev/hfchat/internal/identity"
	"github.com/ashureev/hfchat/internal/inference"
	"github.com/ashureev/hfchat/internal/middleware"
	"github.com/ashureev/hfchat/internal/session"
	"github.com/ashureev/hfchat/internal/stream"
	"github.com/ashureev/hfchat/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	level.Set(cfg.LogLevel)

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"model", cfg.Completion.ModelID,
		"endpoint", cfg.Completion.URL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Outstanding completions run under rootCtx so they outlive the HTTP
	// request that started them and end only at shutdown.
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// Initialize services.
	client := inference.NewClient(cfg.Completion.URL, cfg.Completion.ModelID).
		WithMaxResponseSize(cfg.Completion.MaxResponseSize).
		WithLogger(logger)
	registry := session.NewRegistry(rootCtx, client, logger)
	registry.StartSweeper(ctx, cfg.Session.SweepInterval, cfg.Session.IdleTTL)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	limiter.StartEviction(ctx)

	// Initialize handlers.
	chatHandler := api.NewHandler(registry, cfg)
	healthHandler := api.NewHealthHandler(registry)
	wsHandler := stream.NewWebSocketHandler(registry, cfg.FrontendURL, cfg.IsDevelopment())

	allowedOrigins := []string{"*"}
	if cfg.FrontendURL != "" {
		allowedOrigins = []string{cfg.FrontendURL}
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Chat API, charged per device.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(limiter, rateLimitKey))
		chatHandler.RegisterRoutes(r)
	})

	// WebSocket endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// No WriteTimeout: the view stream is long-lived.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	cancelRoot()
	registry.Wait()

	slog.Info("Server stopped successfully")
}

func rateLimitKey(r *http.Request) string {
	if deviceID := identity.DeviceIDFromContext(r.Context()); deviceID != "" {
		return deviceID
	}
	return identity.IPFromRequest(r)
}
