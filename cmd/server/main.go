// Mentor Labs - AI learning mentor server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashureev/mentor-labs/internal/agent"
	"github.com/ashureev/mentor-labs/internal/api"
	"github.com/ashureev/mentor-labs/internal/config"
	"github.com/ashureev/mentor-labs/internal/expiry"
	"github.com/ashureev/mentor-labs/internal/mentor"
	"github.com/ashureev/mentor-labs/internal/middleware"
	"github.com/ashureev/mentor-labs/internal/shared"
	"github.com/ashureev/mentor-labs/internal/store"
	"github.com/ashureev/mentor-labs/web"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"store", cfg.Store.Driver,
		"provider", cfg.Generation.Provider,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	backend, err := openStore(cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize session store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := backend.Close(); closeErr != nil {
			slog.Error("Failed to close session store", "error", closeErr)
		}
	}()

	if err := backend.Ping(ctx); err != nil {
		slog.Error("Session store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Session store connected")

	gen, err := newGenerator(ctx, cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize generator", "error", err)
		os.Exit(1)
	}

	transcript, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.Transcript.Enabled,
		Dir:           cfg.Transcript.Dir,
		GlobalEnabled: cfg.Transcript.GlobalEnabled,
		GlobalPath:    cfg.Transcript.GlobalPath,
		QueueSize:     cfg.Transcript.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize transcript logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := transcript.Close(); closeErr != nil {
			slog.Error("Failed to close transcript logger", "error", closeErr)
		}
	}()

	// Initialize services.
	service := agent.NewService(gen, agent.Config{
		Provider:       cfg.Generation.Provider,
		Timeout:        cfg.Generation.Timeout,
		MaxRetries:     cfg.Generation.MaxRetries,
		RetryBaseDelay: cfg.Generation.RetryBaseDelay,
	}, transcript, logger)

	sessions := store.NewSessions(backend, logger)
	flow := mentor.NewFlow(sessions, service, mentor.Options{
		StrictPathCount: cfg.Flow.StrictPathCount,
		EnrichAnalysis:  cfg.Flow.AnalyzeEnrich,
	}, logger)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, 10*time.Minute)
	limiter.StartEviction(ctx)

	// Setup router.
	router := api.NewRouter(api.RouterConfig{
		Mentor:         api.NewMentorHandler(flow, logger),
		Health:         api.NewHealthHandler(backend, 5*time.Second),
		RateLimiter:    limiter,
		AllowedOrigins: cfg.AllowedOrigins(),
		IsDevelopment:  cfg.IsDevelopment(),
		Frontend:       web.SPAHandler(),
		RequestLogging: true,
	})

	// Generation calls can take up to the configured timeout per attempt.
	writeTimeout := cfg.Generation.Timeout*time.Duration(cfg.Generation.MaxRetries+1) + 30*time.Second
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start TTL worker.
	expiry.StartTTLWorker(ctx, backend, cfg.Store.SessionTTL, cfg.Store.SweepInterval)

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
		return
	}

	slog.Info("Server stopped successfully")
}

func openStore(cfg *config.Config, logger *slog.Logger) (store.Backend, error) {
	retry := shared.RetryPolicy{
		MaxAttempts: cfg.Store.MaxRetries + 1,
		BaseDelay:   cfg.Store.RetryBaseDelay,
	}
	switch cfg.Store.Driver {
	case config.StoreSQLite:
		db, err := store.NewSQLite(cfg.Store.DBPath, retry)
		if err != nil {
			return nil, err
		}
		return db, nil
	case config.StoreBadger:
		db, err := store.NewBadger(store.BadgerConfig{
			Dir:    cfg.Store.BadgerDir,
			TTL:    cfg.Store.SessionTTL,
			Retry:  retry,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		return db, nil
	case config.StoreMemory:
		slog.Warn("Using in-memory session store, sessions are lost on restart")
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func newGenerator(ctx context.Context, cfg *config.Config, logger *slog.Logger) (agent.Generator, error) {
	switch cfg.Generation.Provider {
	case config.ProviderGemini:
		client, err := agent.NewGeminiClient(ctx, cfg.Generation.GeminiAPIKey, cfg.Generation.GeminiModel, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.ProviderOpenAI:
		return agent.NewOpenAIClient(
			cfg.Generation.OpenAIAPIKey,
			cfg.Generation.OpenAIBaseURL,
			cfg.Generation.OpenAIModel,
			logger,
		), nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Generation.Provider)
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
