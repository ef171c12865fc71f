// Assistant conversation engine server.
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/assist-engine/internal/api"
	"github.com/ashureev/assist-engine/internal/chat"
	"github.com/ashureev/assist-engine/internal/config"
	"github.com/ashureev/assist-engine/internal/greeting"
	"github.com/ashureev/assist-engine/internal/identity"
	"github.com/ashureev/assist-engine/internal/middleware"
	"github.com/ashureev/assist-engine/internal/store"
	"github.com/ashureev/assist-engine/internal/summary"
	"github.com/ashureev/assist-engine/internal/transcript"
	"github.com/ashureev/assist-engine/internal/widget"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "chat_transport", cfg.Chat.Transport)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	chatClient, closeChat, err := newChatClient(cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize chat client", "error", err)
		os.Exit(1)
	}
	defer closeChat()

	conversationLogger, err := transcript.NewConversationLogger(transcript.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	summaries := newSummariesFactory(cfg)
	if summaries == nil {
		slog.Info("Smart greetings disabled (SUMMARY_BASE_URL not set)")
	}

	// Initialize services.
	mounts := widget.NewMountManager()
	registry := widget.NewRegistry(repo, cfg.LocationParam, logger)

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, mounts, cfg.LocationParam, cfg.Timing.StaleWindow)
	healthHandler := api.NewHealthHandler(repo, cfg.HealthCheckTimeout)
	assistantHandler := api.NewAssistantHandler(baseHandler)
	copyText := widget.DefaultCopy().WithClarifications(cfg.Clarifications)
	wsHandler := widget.NewHandler(widget.HandlerConfig{
		Repo:      repo,
		Registry:  registry,
		Mounts:    mounts,
		Chat:      chatClient,
		Summaries: summaries,
		Timing: widget.Timing{
			AckDelay:           cfg.Timing.AckDelay,
			NavigateDelay:      cfg.Timing.NavigateDelay,
			FollowUpDelay:      cfg.Timing.FollowUpDelay,
			MountFollowUpDelay: cfg.Timing.MountFollowUpDelay,
			SupportDelay:       cfg.Timing.SupportDelay,
			StaleWindow:        cfg.Timing.StaleWindow,
		},
		Copy:          copyText,
		Log:           conversationLogger,
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
		Logger:        logger,
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Device-scoped routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		assistantHandler.RegisterRoutes(r)
		r.Get("/ws/assistant", wsHandler.ServeHTTP)
	})

	// WebSocket mounts are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	slog.Info("Server stopped successfully", "active_mounts", mounts.Count())
}

func newChatClient(cfg *config.Config, logger *slog.Logger) (chat.Client, func(), error) {
	if cfg.Chat.Transport == config.TransportGRPC {
		gc := chat.DefaultGrpcClientConfig()
		gc.Address = cfg.Chat.GrpcAddr
		gc.RequestTimeout = cfg.Chat.Timeout
		client, err := chat.NewGrpcClient(gc, logger)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	}

	client, err := chat.NewHTTPClient(cfg.Chat.URL, chat.WithTimeout(cfg.Chat.Timeout))
	if err != nil {
		return nil, nil, err
	}
	return client, func() {}, nil
}

func newSummariesFactory(cfg *config.Config) widget.SummariesFactory {
	if cfg.Summary.BaseURL == "" {
		return nil
	}
	httpClient := &http.Client{Timeout: cfg.Summary.Timeout}
	return func(bearer string) greeting.Summaries {
		client, err := summary.NewClient(cfg.Summary.BaseURL,
			summary.WithHTTPClient(httpClient),
			summary.WithBearer(bearer),
		)
		if err != nil {
			slog.Warn("Failed to create summary client", "error", err)
			return nil
		}
		return client
	}
}
