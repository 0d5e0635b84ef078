package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/gita-chat/backend/internal/config"
	"github.com/zhouzirui/gita-chat/backend/internal/handler"
	"github.com/zhouzirui/gita-chat/backend/internal/service/chat"
	"github.com/zhouzirui/gita-chat/backend/internal/service/knowledge"
	"github.com/zhouzirui/gita-chat/backend/internal/service/relay"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	setupLogger(cfg.Log)

	if envErr != nil {
		log.Warn().Err(envErr).Msg("failed to load .env file, continuing with system environment variables only")
	}

	chatService := chat.NewService()

	// The relay stays up without a knowledge base and reports the problem per request.
	var upstream relay.Upstream
	if cfg.KnowledgeBase.Configured() {
		kbService, err := knowledge.NewService(ctx, cfg.KnowledgeBase)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize knowledge base client")
		} else {
			upstream = kbService
			log.Info().
				Str("region", cfg.KnowledgeBase.Region).
				Str("knowledge_base", cfg.KnowledgeBase.KnowledgeBaseID).
				Bool("static_credentials", cfg.KnowledgeBase.StaticCredentials()).
				Msg("knowledge base client initialized")
		}
	} else {
		log.Warn().Msg("AWS_BEDROCK_KNOWLEDGE_BASE_ID is not set, chat requests will fail")
	}

	rel := relay.New(upstream, chatService, relay.Options{
		KnowledgeBaseID: cfg.KnowledgeBase.KnowledgeBaseID,
		FallbackMessage: cfg.Relay.FallbackMessage,
	})

	router := handler.NewRouter(rel, chatService, cfg.Relay.ErrorMessage)

	startServer(ctx, cfg.Server, router)
}

func setupLogger(cfg config.LogConfig) {
	zerolog.SetGlobalLevel(cfg.Level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.Console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("Gita chat backend listening")
	if err := runServer(ctx, srv); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
