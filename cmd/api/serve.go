package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/chat-relay/backend/internal/auth"
	"github.com/zhouzirui/chat-relay/backend/internal/bus"
	"github.com/zhouzirui/chat-relay/backend/internal/config"
	"github.com/zhouzirui/chat-relay/backend/internal/handler"
	"github.com/zhouzirui/chat-relay/backend/internal/logging"
	"github.com/zhouzirui/chat-relay/backend/internal/service/chat"
	"github.com/zhouzirui/chat-relay/backend/internal/service/session"
	"github.com/zhouzirui/chat-relay/backend/internal/service/webhook"
	"github.com/zhouzirui/chat-relay/backend/internal/sessionid"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	// 会话存储：配置了 SESSION_STORE_PATH 时使用 SQLite，否则使用内存
	var store session.Store
	if cfg.Sessions.StorePath != "" {
		sqlStore, err := session.OpenSQLStore(ctx, cfg.Sessions.StorePath)
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		defer sqlStore.Close()
		store = sqlStore
		logger.Info("session store opened", zap.String("path", cfg.Sessions.StorePath))
	} else {
		store = session.NewMemoryStore()
		logger.Info("using in-memory session store")
	}

	events := bus.NewEventBus(logger)
	sessions := session.NewService(store, sessionid.NewDeriver(nil), events, logger)

	hook := webhook.NewClient(webhook.Config{
		BaseURL:     cfg.Webhook.URL,
		HistoryPath: cfg.Webhook.HistoryPath,
		Timeout:     cfg.Webhook.Timeout,
		Logger:      logger,
	})
	if !cfg.Webhook.Enabled() {
		logger.Warn("N8N_WEBHOOK_URL not configured, chat replies run in demo mode")
	}

	chatSvc := chat.NewService(hook, sessions, chat.Options{
		RequireAuth: cfg.Auth.Required,
		Logger:      logger,
	})

	var authenticator *auth.Authenticator
	if cfg.Auth.Secret != "" {
		authenticator = auth.New(cfg.Auth.Secret)
	}

	router := handler.NewRouter(handler.Deps{
		Chat:           chatSvc,
		Sessions:       sessions,
		Events:         events,
		Auth:           authenticator,
		RequireAuth:    cfg.Auth.Required,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})

	return startServer(ctx, logger, cfg.Server, router)
}

func startServer(ctx context.Context, logger *zap.Logger, serverCfg config.ServerConfig, router http.Handler) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("chat relay backend listening", zap.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("server stopped")
	return nil
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
