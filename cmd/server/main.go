package main

import (
	"SelamBot/internal/adapters/eventbus"
	"SelamBot/internal/adapters/gemini"
	"SelamBot/internal/adapters/httpapi"
	"SelamBot/internal/adapters/mobilemoney"
	"SelamBot/internal/adapters/postgres"
	"SelamBot/internal/adapters/security"
	"SelamBot/internal/adapters/telegram"
	"SelamBot/internal/bot"
	"SelamBot/internal/core/payment"
	"SelamBot/internal/core/ports"
	"SelamBot/internal/core/quota"
	"SelamBot/internal/scheduler"
	"SelamBot/internal/shared/config"
	"SelamBot/internal/shared/locker"
	"SelamBot/internal/shared/logger"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	// Handlers self-register via init().
	_ "SelamBot/internal/bot/handlers"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize Logger
	isDevMode := cfg.AppEnv == "dev"
	baseLogger := logger.New(isDevMode)
	baseLogger.Info().
		Str("app_env", cfg.AppEnv).
		Str("bot_mode", cfg.Bot.Mode).
		Str("timezone", cfg.Timezone).
		Msg("Configuration loaded")

	// Shutdown context: first SIGINT/SIGTERM starts a graceful stop.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Initialize the Security Service
	keyBytes, err := hex.DecodeString(cfg.EncryptionKey)
	if err != nil {
		baseLogger.Fatal().Err(err).Msg("Failed to decode ENCRYPTION_KEY. It must be hex-encoded.")
	}
	secSvc, err := security.NewAESService(keyBytes, &baseLogger)
	if err != nil {
		baseLogger.Fatal().Err(err).Msg("Failed to initialize security service")
	}

	// 4. Initialize Database and Repository
	db, err := postgres.NewDB(ctx, cfg.DatabaseURL, &baseLogger)
	if err != nil {
		baseLogger.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	userRepo := postgres.NewUserRepository(db, secSvc, &baseLogger)

	// 5. Telegram API and outbound client
	api, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		baseLogger.Fatal().Err(err).Msg("Failed to connect to Telegram")
	}
	baseLogger.Info().Str("bot_username", api.Self.UserName).Msg("Authorized on Telegram")

	botClient := telegram.NewClient(api, &baseLogger)
	if err := botClient.SetMenuCommands(ctx); err != nil {
		baseLogger.Warn().Err(err).Msg("Failed to set menu commands (continuing)")
	}

	// 6. Core services. One keyed mutex serializes all per-user work
	// across the dispatcher, the callback reconciler and the sweeper.
	locks := locker.NewKeyedMutex()
	quotaTracker := quota.NewTracker(cfg.Quota.TrialDailyCap, cfg.Quota.SubscriptionDailyCap, cfg.Loc, &baseLogger)

	momoClient := mobilemoney.NewClient(cfg.Payment.BaseURL, cfg.Payment.APIKey, &baseLogger)
	orchestrator := payment.NewOrchestrator(cfg, userRepo, momoClient, botClient, locks, &baseLogger)
	sweeper := payment.NewSweeper(cfg, userRepo, momoClient, botClient, locks, &baseLogger)

	aiClient, err := gemini.NewClient(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model, &baseLogger)
	if err != nil {
		baseLogger.Fatal().Err(err).Msg("Failed to initialize Gemini client")
	}
	defer aiClient.Close()

	// 7. Dispatcher and handler plugins
	router := bot.NewRouter(userRepo, botClient, locks, &baseLogger)
	bot.RegisterAllHandlers(&bot.HandlerDeps{
		Cfg:      cfg,
		UserRepo: userRepo,
		Bot:      botClient,
		Quota:    quotaTracker,
		Payments: orchestrator,
		AI:       aiClient,
		Security: secSvc,
		Logger:   &baseLogger,
	}, router)

	// 8. Event bus: the bot server publishes raw updates, the dispatcher
	// consumes them.
	bus := eventbus.NewInMemoryEventBus(&baseLogger)
	bus.Subscribe(telegram.TopicUpdate, func(ctx context.Context, event ports.Event) error {
		update, ok := event.Data.(*tgbotapi.Update)
		if !ok {
			return fmt.Errorf("unexpected payload on %s: %T", event.Topic, event.Data)
		}
		router.HandleUpdate(ctx, update)
		return nil
	})

	// 9. Background jobs
	sched := scheduler.NewScheduler(cfg, sweeper, userRepo, quotaTracker, &baseLogger)
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	// 10. HTTP API (payment callback + health)
	apiServer := httpapi.NewServer(cfg.HTTPListen, orchestrator, &baseLogger)
	go func() {
		if err := apiServer.Start(ctx); err != nil {
			baseLogger.Error().Err(err).Msg("HTTP API server stopped with error")
			stop()
		}
	}()

	// 11. Bot server blocks until shutdown
	botServer := telegram.NewBotServer(api, bus, &cfg.Bot, &baseLogger)
	baseLogger.Info().Msg("All services initialized, starting bot server")
	if err := botServer.Start(ctx); err != nil {
		baseLogger.Fatal().Err(err).Msg("Bot server failed")
	}

	baseLogger.Info().Msg("Shutdown complete")
}
