// Package internal assembles the linkd application from its components.
package internal

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgellow/linkd/internal/config"
	"github.com/dgellow/linkd/internal/crypto"
	"github.com/dgellow/linkd/internal/flow"
	"github.com/dgellow/linkd/internal/idp"
	"github.com/dgellow/linkd/internal/log"
	"github.com/dgellow/linkd/internal/notify"
	"github.com/dgellow/linkd/internal/server"
	"github.com/dgellow/linkd/internal/storage"
)

// Linkd represents the complete identity-linking application
type Linkd struct {
	config     *config.Config
	httpServer *server.HTTPServer
	cleanup    *storage.CleanupManager
	store      storage.Store
}

// NewLinkd creates the application with all dependencies built
func NewLinkd(ctx context.Context, cfg *config.Config) (*Linkd, error) {
	log.LogInfoWithFields("linkd", "Building linkd application", map[string]any{
		"addr":    cfg.Addr,
		"storage": string(cfg.Storage),
	})

	store, err := setupStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	provider := idp.NewTwitchProvider(cfg.TwitchClientID, string(cfg.TwitchClientSecret), cfg.TwitchRedirectURL)

	var messenger notify.Messenger = notify.NoopMessenger{}
	if cfg.TelegramBotToken != "" {
		messenger = notify.NewTelegramMessenger(string(cfg.TelegramBotToken))
	} else {
		log.LogWarn("TELEGRAM_BOT_TOKEN not set, user notifications disabled")
	}

	flows := flow.NewService(store, provider, messenger, cfg.StateTTL)
	handlers := server.NewHandlers(flows)
	mux := server.NewRouter(handlers)

	return &Linkd{
		config:     cfg,
		httpServer: server.NewHTTPServer(mux, cfg.Addr),
		cleanup:    storage.NewCleanupManager(store, cfg.CleanupInterval),
		store:      store,
	}, nil
}

// Run starts the application and blocks until shutdown
func (l *Linkd) Run() error {
	log.LogInfoWithFields("linkd", "Starting linkd", map[string]any{
		"addr": l.config.Addr,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l.cleanup.Start(ctx)

	errChan := make(chan error, 1)
	go func() {
		if err := l.httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var shutdownReason string
	select {
	case sig := <-sigChan:
		shutdownReason = fmt.Sprintf("signal %v", sig)
		log.LogInfoWithFields("linkd", "Received shutdown signal", map[string]any{
			"signal": sig.String(),
		})
	case err := <-errChan:
		shutdownReason = fmt.Sprintf("error: %v", err)
		log.LogErrorWithFields("linkd", "Shutting down due to error", map[string]any{
			"error": err.Error(),
		})
	}

	log.LogInfoWithFields("linkd", "Starting graceful shutdown", map[string]any{
		"reason": shutdownReason,
	})
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := l.httpServer.Stop(shutdownCtx); err != nil {
		log.LogErrorWithFields("linkd", "HTTP server shutdown error", map[string]any{
			"error": err.Error(),
		})
		return err
	}

	l.cleanup.Stop()

	if err := l.store.Close(); err != nil {
		log.LogErrorWithFields("linkd", "Storage close error", map[string]any{
			"error": err.Error(),
		})
	}

	log.LogInfoWithFields("linkd", "Shutdown complete", map[string]any{
		"reason": shutdownReason,
	})
	return nil
}

// setupStorage creates the storage backend based on configuration
func setupStorage(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage {
	case config.StorageKindFirestore:
		log.LogInfoWithFields("storage", "Using Firestore storage", map[string]any{
			"project":  cfg.FirestoreProjectID,
			"database": cfg.FirestoreDatabase,
		})
		encryptor, err := crypto.NewAESEncryptor(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
		return storage.NewFirestoreStore(ctx, cfg.FirestoreProjectID, cfg.FirestoreDatabase, encryptor)
	default:
		log.LogInfoWithFields("storage", "Using in-memory storage", map[string]any{})
		return storage.NewMemoryStore(), nil
	}
}
