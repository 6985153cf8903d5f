package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/studyrelay/internal/agent"
	"github.com/ashureev/studyrelay/internal/api"
	"github.com/ashureev/studyrelay/internal/dispatch"
	"github.com/ashureev/studyrelay/internal/feed"
	"github.com/ashureev/studyrelay/internal/identity"
	"github.com/ashureev/studyrelay/internal/store"
	"github.com/ashureev/studyrelay/internal/whatsapp"
	"github.com/spf13/cobra"
)

const feedHistorySize = 100

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server (default)",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	for _, name := range cfg.MissingCredentials() {
		slog.Warn("Required credential is not set", "env", name)
	}
	slog.Info("Starting server",
		"port", cfg.Port,
		"store", cfg.Store.Driver,
		"ai_provider", cfg.AI.Provider,
		"login_required", cfg.Relay.LoginRequired)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("store health check: %w", err)
	}
	slog.Info("Store connected", "driver", cfg.Store.Driver, "path", cfg.Store.Path)

	store.StartRetentionWorker(ctx, repo, cfg.Store.LogRetention)

	provider, err := agent.NewProvider(ctx, agentConfig(cfg))
	if err != nil {
		slog.Warn("Answer engine unavailable, replies will be degraded", "error", err)
	}
	answers := agent.NewService(provider, cfg.AI.Timeout)
	defer answers.Close()
	slog.Info("Answer engine ready", "provider", answers.ProviderName())

	convLog, err := agent.NewConversationLogger(transcriptConfig(cfg), slog.Default())
	if err != nil {
		return fmt.Errorf("initialize conversation logger: %w", err)
	}
	defer func() {
		if closeErr := convLog.Close(); closeErr != nil {
			slog.Warn("Failed to close conversation logger", "error", closeErr)
		}
	}()

	hub := feed.NewHub(feedHistorySize)
	gateway := whatsapp.NewClient(whatsAppConfig(cfg),
		whatsapp.WithErrorHandler(func(to string, sendErr *whatsapp.SendError) {
			hub.Publish(feed.Event{
				Type:   feed.EventSendFailed,
				Sender: identity.Mask(to),
				Detail: sendErr.Error(),
			})
		}))

	dispatcher := dispatch.New(repo, gateway, answers, dispatchConfig(cfg),
		dispatch.WithPublisher(hub),
		dispatch.WithConversationLogger(convLog))

	webhook := api.NewWebhookHandler(dispatcher, cfg.WhatsApp.VerifyToken)
	router := api.NewRouter(api.RouterConfig{
		Handler:    api.NewHandler(repo),
		Webhook:    webhook,
		AppSecret:  cfg.WhatsApp.AppSecret,
		AdminToken: cfg.Admin.Token,
		Feed:       feed.NewWebSocketHandler(hub),
	})
	if cfg.Admin.Token == "" {
		slog.Info("Activity feed disabled (ADMIN_TOKEN not set)")
	}

	if cfg.GRPCHealthAddr != "" {
		grpcHealth, err := api.NewGRPCHealth(cfg.GRPCHealthAddr, repo)
		if err != nil {
			return err
		}
		go func() {
			if err := grpcHealth.Serve(ctx); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
		defer grpcHealth.Stop()
	}

	// WebSocket feed connections are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownBudget(cfg.AI.Timeout))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if err := webhook.Wait(shutdownCtx); err != nil {
		slog.Warn("In-flight deliveries did not finish before shutdown", "error", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}
