package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/astralink/server/internal/auth"
	"github.com/astralink/server/internal/chat"
	"github.com/astralink/server/internal/config"
	"github.com/astralink/server/internal/db"
	httphandler "github.com/astralink/server/internal/http"
	"github.com/astralink/server/internal/http/handlers"
	"github.com/astralink/server/internal/metering"
	"github.com/astralink/server/internal/repo"
	"github.com/astralink/server/internal/scheduler"
	"github.com/astralink/server/internal/ws"

	_ "github.com/lib/pq"
)

func main() {
	_ = godotenv.Load(".env")

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.DevMode {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	ctx := context.Background()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer database.Close()

	if err := runMigrations(database); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Repositories
	userRepo := repo.NewUserRepo(database)
	walletRepo := repo.NewWalletRepo(database)
	sessionRepo := repo.NewSessionRepo(database)
	advisorRepo := repo.NewAdvisorRepo(database)
	feedbackRepo := repo.NewFeedbackRepo(database)
	sweepStore := repo.NewSweepStore(database)

	// Chat transcript store: redis when configured, memory otherwise
	var transcripts chat.TranscriptStore
	if cfg.RedisAddr != "" {
		redisStore, err := chat.NewRedisTranscriptStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, "astralink")
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to redis")
		}
		defer redisStore.Close()
		transcripts = redisStore
	} else {
		log.Warn().Msg("REDIS_ADDR not set, using in-memory transcript store")
		transcripts = chat.NewMemoryTranscriptStore()
	}

	// Core services
	engine := metering.NewEngine(userRepo, walletRepo, sessionRepo, cfg.TrialDuration)
	chatService := chat.NewService(engine, advisorRepo, transcripts, chat.CannedGenerator{})
	jwtService := auth.NewJWTService(cfg.JWTSecret)

	// Real-time broadcaster and metering sweeps
	hub := ws.NewHub()
	sweeps := scheduler.New(sweepStore, hub, scheduler.Config{Interval: time.Second})
	sweeps.Start()
	defer sweeps.Stop()

	router := httphandler.NewRouter(httphandler.Handlers{
		Auth:     handlers.NewAuthHandler(jwtService, userRepo),
		Session:  handlers.NewSessionHandler(engine),
		Chat:     handlers.NewChatHandler(chatService),
		Wallet:   handlers.NewWalletHandler(walletRepo),
		Advisor:  handlers.NewAdvisorHandler(advisorRepo),
		Feedback: handlers.NewFeedbackHandler(feedbackRepo, hub),
		WS:       handlers.NewWSHandler(hub),
	}, jwtService, userRepo, cfg.FrontendURL)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// runMigrations runs database migrations using goose
func runMigrations(database *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	migrationDir := "internal/db/migrations"
	if info, err := os.Stat(migrationDir); err != nil || !info.IsDir() {
		return fmt.Errorf("migrations directory not found (run from the repo root)")
	}

	if err := goose.Up(database, migrationDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
