package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Reddit-Lies/multi-user-ai-chat/internal/ai"
	"github.com/Reddit-Lies/multi-user-ai-chat/internal/api"
	"github.com/Reddit-Lies/multi-user-ai-chat/internal/api/middleware"
	"github.com/Reddit-Lies/multi-user-ai-chat/internal/chat"
	"github.com/Reddit-Lies/multi-user-ai-chat/internal/config"
	"github.com/Reddit-Lies/multi-user-ai-chat/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Initialize the AI gateway
	var gateway ai.Gateway
	if cfg.AIAPIKey != "" {
		gateway = ai.NewOpenAIGateway(cfg.AIBaseURL, cfg.AIAPIKey, cfg.AIModel, cfg.AITimeout, logger)
		logger.Info().Str("model", cfg.AIModel).Msg("using completion backend")
	} else {
		gateway = ai.EchoGateway{}
		logger.Warn().Msg("no AI_API_KEY set, using echo gateway")
	}

	// Initialize Redis store (optional, backs rate limiting)
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	// Create the room and start its background sweep
	room := chat.NewRoom(chat.Config{
		HistoryCap:         cfg.HistoryCap,
		PromptPoolCap:      cfg.PromptPoolCap,
		PromptMaxLen:       cfg.PromptMaxLen,
		VotingWindow:       cfg.VotingWindow,
		RoundTick:          cfg.RoundTick,
		StaleSweepInterval: cfg.StaleSweepInterval,
		StaleAfter:         cfg.StaleAfter,
		IdleTimeout:        cfg.IdleTimeout,
		ClearVoteWindow:    cfg.ClearVoteWindow,
		ContextTurns:       cfg.ContextTurns,
	}, logger, gateway)
	room.Start()
	defer room.Close()

	// Create router
	router := api.NewRouter(logger, room, redisStore, middleware.RateLimiterConfig{
		Whitelist:        cfg.RateLimitWhitelist,
		AutoBlockEnabled: cfg.AutoBlockEnabled,
	})

	// Create server
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: it would sever long-lived WebSocket connections.
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting chat server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	room.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
