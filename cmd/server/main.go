// Alfred - personal chat assistant server
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"alfred-chat/internal/auth"
	"alfred-chat/internal/chat"
	"alfred-chat/internal/config"
	"alfred-chat/internal/llm"
	"alfred-chat/internal/profile"
	"alfred-chat/internal/session"
	"alfred-chat/internal/speech"
	"alfred-chat/internal/storage"
	"alfred-chat/internal/store"
	"alfred-chat/internal/web"
)

const sessionTTL = 24 * time.Hour

func main() {
	_ = godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.DevMode)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting server", zap.String("addr", cfg.ListenAddr), zap.Bool("dev", cfg.DevMode))

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Error("failed to close database", zap.Error(err))
		}
	}()
	if err := repo.Ping(context.Background()); err != nil {
		logger.Fatal("database health check failed", zap.Error(err))
	}
	logger.Info("database connected", zap.String("path", cfg.DBPath))

	factory := llm.NewFactory(cfg)
	model, err := factory.CreateClient(string(cfg.LLMProvider), cfg.OpenAIModel)
	if err != nil {
		logger.Fatal("failed to create llm client", zap.Error(err))
	}
	if !factory.Configured(string(cfg.LLMProvider)) {
		logger.Warn("llm provider has no credentials, model calls will fail",
			zap.String("provider", string(cfg.LLMProvider)))
	}

	speechClient := speech.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL,
		cfg.TranscribeModel, cfg.SpeechModel, cfg.SpeechVoice)

	recorder, err := storage.NewFileRecorder(cfg.EventsLogPath)
	if err != nil {
		logger.Fatal("failed to initialize event log", zap.Error(err))
	}

	authSvc := auth.New(repo, cfg.AllowedUsernames, cfg.AdminUsernames)
	profiles := profile.New(repo, logger)
	pipeline := chat.NewPipeline(model, repo, profiles, speechClient, speechClient,
		recorder, logger, chat.Options{
			ContextWindow:   cfg.ContextWindow,
			DeleteBatchSize: cfg.DeleteBatchSize,
		})
	sessions := session.NewManager(cfg.SecretKey, sessionTTL, !cfg.DevMode)

	caps := web.Capabilities{
		Model:  factory.Configured(string(cfg.LLMProvider)),
		Speech: cfg.OpenAIAPIKey != "",
	}
	srv, err := web.NewServer(authSvc, profiles, pipeline, sessions, repo, caps, logger)
	if err != nil {
		logger.Fatal("failed to initialize server", zap.Error(err))
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
		}
	}
}

func newLogger(dev bool) *zap.Logger {
	var logger *zap.Logger
	var err error
	if dev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	return logger
}
