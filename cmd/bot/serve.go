package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"paygate-bot/config"
	"paygate-bot/internal/access"
	"paygate-bot/internal/bot"
	"paygate-bot/internal/metrics"
	"paygate-bot/internal/payment"
	"paygate-bot/internal/reconciler"
	"paygate-bot/internal/server"
)

var setTelegramWebhook bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&setTelegramWebhook, "set-webhook", false, "register /telegram_callback with Telegram on startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	l.Infow("Starting payment bot", "messenger", cfg.Messenger.Provider, "payment", cfg.Payment.Provider, "db", cfg.DB.Driver)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	newToken, err := access.NewTokenFunc()
	if err != nil {
		return err
	}
	m := metrics.New()
	accessService := access.NewService(store, newToken, m)

	deps := server.Deps{
		Verifier: accessService,
		Stats:    store,
		Metrics:  m,
	}

	var messenger bot.Messenger
	viaVK := cfg.Messenger.Provider == config.MessengerVK
	if viaVK {
		messenger = bot.NewVKClient(cfg.VK, cfg.Messenger)
	} else {
		tg, err := bot.NewTelegramClient(cfg.Telegram, cfg.Messenger, l)
		if err != nil {
			return err
		}
		if setTelegramWebhook {
			if err := tg.SetWebhook(strings.TrimSuffix(cfg.Server.BaseURL, "/") + "/telegram_callback"); err != nil {
				return err
			}
		}
		messenger = tg
		deps.Telegram = tg
	}

	var creator payment.Creator
	if cfg.Payment.Provider == config.ProviderStripe {
		stripeClient := payment.NewStripeClient(cfg.Stripe, cfg.Payment, cfg.Server.BaseURL)
		creator = stripeClient
		deps.Stripe = stripeClient
	} else {
		creator = payment.NewYooKassaClient(cfg.YooKassa, cfg.Payment, cfg.Server.BaseURL)
	}

	amount, err := cfg.Payment.AmountDecimal()
	if err != nil {
		return fmt.Errorf("invalid payment amount: %w", err)
	}
	link := func(token string) string {
		return bot.AccessLink(cfg.Server.BaseURL, token, viaVK)
	}

	handlers := bot.NewHandlers(store, creator, messenger, bot.Price{Amount: amount, Currency: cfg.Payment.Currency}, link, l.With("component", "bot"))
	deps.Router = bot.NewRouter(l.With("component", "router"), messenger, handlers.All()...)
	deps.Reconciler = reconciler.New(accessService, store, messenger, link, l.With("component", "reconciler"), m)

	httpServer := server.NewServer(cfg.Server.Port, deps, server.SettingsFromConfig(cfg), l)
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for termination signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	l.Info("Shutting down bot...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Stop(ctx); err != nil {
		l.Errorw("Error during HTTP server shutdown", "error", err)
	}

	l.Info("Bot stopped successfully")
	return nil
}
