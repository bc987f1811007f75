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

	"github.com/docport/chat-relay/internal/config"
	"github.com/docport/chat-relay/internal/handler"
	"github.com/docport/chat-relay/internal/relay"
	chatservice "github.com/docport/chat-relay/internal/service/chat"
	"github.com/docport/chat-relay/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Server)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	conversations, messages, profiles, cleanup, err := buildStores(ctx, cfg.Mongo, logger)
	if err != nil {
		logger.Fatal("store initialization failed", zap.Error(err))
	}
	defer cleanup()

	chatSvc := chatservice.NewService(conversations, messages, profiles, logger)
	hub := relay.NewHub(logger)

	router := handler.NewRouter(chatSvc, hub, handler.RouterConfig{
		JWTSecret:  cfg.Auth.JWTSecret,
		CORSOrigin: cfg.CORS.Origin,
		Relay:      cfg.Relay,
	}, logger)

	startServer(ctx, cfg.Server, router, logger)
}

func newLogger(server config.ServerConfig) (*zap.Logger, error) {
	if server.Development() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// buildStores selects Mongo when a URI is configured and falls back to the
// in-memory stores otherwise, so the relay runs standalone in development.
func buildStores(ctx context.Context, cfg config.MongoConfig, logger *zap.Logger) (store.ConversationStore, store.MessageStore, store.ProfileStore, func(), error) {
	if cfg.URI == "" {
		logger.Warn("MONGODB_URI not set, using in-memory stores")
		return store.NewMemoryConversations(), store.NewMemoryMessages(), store.NewMemoryProfiles(), func() {}, nil
	}

	client, err := store.Connect(ctx, cfg.URI)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	db := client.Database(cfg.Database)
	if err := store.EnsureIndexes(ctx, db); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, nil, nil, err
	}

	cleanup := func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(disconnectCtx)
	}
	logger.Info("connected to mongodb", zap.String("database", cfg.Database))
	return store.NewMongoConversations(db), store.NewMongoMessages(db), store.NewMongoProfiles(db), cleanup, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *zap.Logger) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("chat relay listening", zap.String("addr", serverCfg.Addr))
	if err := runServer(ctx, srv); err != nil {
		logger.Fatal("server error", zap.Error(err))
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
