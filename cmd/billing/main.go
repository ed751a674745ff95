// Package main запускает HTTP-сервер биллинга мини-приложения.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ankudinov/miniapp-billing/internal/config"
	"github.com/ankudinov/miniapp-billing/internal/handler"
	"github.com/ankudinov/miniapp-billing/internal/notify"
	"github.com/ankudinov/miniapp-billing/internal/repository"
	"github.com/ankudinov/miniapp-billing/internal/service"
	"github.com/ankudinov/miniapp-billing/internal/tbank"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	gateway := tbank.NewClient(cfg.GatewayURL, cfg.TerminalKey, cfg.TerminalPassword)

	var notifier service.Notifier
	if tg := notify.NewTelegram(cfg.BotToken, logger); tg != nil {
		notifier = tg
	}

	urls := service.CallbackURLs{
		Notification: cfg.NotificationURL,
		Success:      cfg.SuccessURL,
	}

	svc := service.NewService(repo, gateway, notifier, urls, logger)
	defer svc.Close()

	h := handler.NewHandler(svc, logger)

	r := h.SetupRouter(cfg.AllowedOrigin)

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting billing server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
