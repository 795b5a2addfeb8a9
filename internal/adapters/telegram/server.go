package telegram

import (
	"SelamBot/internal/core/ports"
	"SelamBot/internal/shared/config"
	"context"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TopicUpdate is the event bus topic every incoming Telegram update is
// published on. The dispatcher subscribes to it in main.
const TopicUpdate = "telegram:update"

// BotServer receives updates from Telegram (polling or webhook) and
// publishes them onto the event bus. It does no routing itself; the bus
// fans each update out to the subscribed dispatcher.
type BotServer struct {
	api *tgbotapi.BotAPI
	bus ports.EventBus
	cfg *config.BotConfig
	log zerolog.Logger
}

// NewBotServer creates a new server instance
func NewBotServer(
	api *tgbotapi.BotAPI,
	bus ports.EventBus,
	cfg *config.BotConfig,
	baseLogger *zerolog.Logger,
) *BotServer {
	return &BotServer{
		api: api,
		bus: bus,
		cfg: cfg,
		log: baseLogger.With().Str("component", "bot_server").Logger(),
	}
}

// Start begins the bot server based on the config mode
func (s *BotServer) Start(ctx context.Context) error {
	s.log.Info().Str("mode", s.cfg.Mode).Msg("Starting bot server...")

	switch s.cfg.Mode {
	case "polling":
		// startPolling will block until the context is cancelled
		return s.startPolling(ctx)
	case "webhook":
		// startWebhook will block until the context is cancelled
		return s.startWebhook(ctx)
	default:
		return fmt.Errorf("unknown bot mode: %s", s.cfg.Mode)
	}
}

// publish hands one update to the bus. Publish failures are logged, not
// fatal; the next update must still flow.
func (s *BotServer) publish(ctx context.Context, update tgbotapi.Update) {
	if err := s.bus.Publish(ctx, TopicUpdate, &update); err != nil {
		s.log.Error().Err(err).Int("update_id", update.UpdateID).Msg("Failed to publish update")
	}
}

// startPolling starts the bot in long polling mode
func (s *BotServer) startPolling(ctx context.Context) error {
	s.log.Info().Int("timeout", s.cfg.PollTimeout).Msg("Starting bot in POLLING mode")

	// 1. Clear any existing webhook
	deleteWebhookConfig := tgbotapi.DeleteWebhookConfig{
		DropPendingUpdates: false,
	}
	if _, err := s.api.Request(deleteWebhookConfig); err != nil {
		s.log.Warn().Err(err).Msg("Failed to delete webhook (continuing anyway)")
	} else {
		s.log.Info().Msg("Webhook deleted successfully")
	}

	// 2. Create the channel for updates
	u := tgbotapi.NewUpdate(0)
	u.Timeout = s.cfg.PollTimeout
	updates := s.api.GetUpdatesChan(u)

	s.log.Info().Msg("Polling update listener started")

	// 3. Main loop: Listen for updates and publish them
	for {
		select {
		case <-ctx.Done(): // Shutdown signal received
			s.api.StopReceivingUpdates()
			s.log.Info().Msg("Polling stopped gracefully")
			return nil
		case update := <-updates:
			s.publish(ctx, update)
		}
	}
}

// startWebhook starts the bot in webhook mode (for production)
func (s *BotServer) startWebhook(ctx context.Context) error {
	s.log.Info().
		Int("port", s.cfg.WebhookListen).
		Msg("Starting bot in WEBHOOK mode")

	// 1. Set the webhook
	webhookURL := fmt.Sprintf("%s/webhook/%s", s.cfg.WebhookURL, s.api.Token)
	s.log.Info().Str("url", webhookURL).Msg("Setting webhook...")

	wh, err := tgbotapi.NewWebhook(webhookURL)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to create webhook config")
		return err
	}

	_, err = s.api.Request(wh)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to set webhook")
		return err
	}

	// 2. Add GetWebhookInfo check
	info, err := s.api.GetWebhookInfo()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to get webhook info")
		return err
	}
	if info.LastErrorDate != 0 {
		s.log.Error().
			Str("error_message", info.LastErrorMessage).
			Msg("Telegram webhook has a last error")
	} else {
		s.log.Info().Msg("Webhook set successfully, no last error")
	}

	// 3. Get the update channel from the bot library
	// This sets up the http.DefaultServeMux
	updates := s.api.ListenForWebhook("/webhook/" + s.api.Token)

	// 4. Start the HTTP server in a goroutine
	// We use ListenAndServe, not ListenAndServeTLS,
	// assuming a reverse proxy (Nginx, Caddy) is handling SSL.
	listenAddr := fmt.Sprintf("127.0.0.1:%d", s.cfg.WebhookListen)
	s.log.Info().Str("addr", listenAddr).Msg("Starting HTTP server for webhook")

	httpServer := &http.Server{Addr: listenAddr}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("Webhook HTTP server failed")
		}
	}()

	// 5. Main loop: Listen for updates and publish them
	s.log.Info().Msg("Webhook update listener started")
	for {
		select {
		case <-ctx.Done(): // Shutdown signal received
			s.log.Info().Msg("Shutting down HTTP server...")
			if err := httpServer.Shutdown(context.Background()); err != nil {
				s.log.Error().Err(err).Msg("HTTP server shutdown error")
			}
			s.log.Info().Msg("Webhook server stopped gracefully")
			return nil
		case update := <-updates:
			s.publish(ctx, update)
		}
	}
}
