package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"SelamBot/internal/core/domain"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// PlanConfig describes one purchasable plan.
type PlanConfig struct {
	Amount       int64 // smallest currency unit
	DurationDays int
}

// BotConfig holds the Telegram connection settings.
type BotConfig struct {
	Token         string
	Mode          string // "polling" or "webhook"
	PollTimeout   int    // seconds, polling mode
	WebhookURL    string
	WebhookListen int // port, webhook mode
}

// QuotaConfig holds the daily message caps.
type QuotaConfig struct {
	TrialDailyCap        int
	SubscriptionDailyCap int
}

// PaymentConfig holds the mobile-money provider and sweep settings.
type PaymentConfig struct {
	BaseURL        string
	APIKey         string
	CallbackURL    string
	Currency       string
	Timeout        time.Duration // pending session older than this is stale
	SweepSpec      string        // cron spec for the timeout sweep
	DailyResetSpec string        // cron spec for the bulk counter reset
}

// GeminiConfig holds the AI backend settings.
type GeminiConfig struct {
	APIKey string
	Model  string
}

// Config holds all configuration for the application.
type Config struct {
	AppEnv        string
	DatabaseURL   string
	EncryptionKey string
	Timezone      string
	HTTPListen    string // callback/health HTTP server

	Bot     BotConfig
	Quota   QuotaConfig
	Payment PaymentConfig
	Gemini  GeminiConfig
	Plans   map[domain.PlanType]PlanConfig

	// Loc is resolved from Timezone at load time.
	Loc *time.Location
}

// bindings maps viper keys to environment variable names.
var bindings = map[string]string{
	"app.env":              "APP_ENV",
	"database.url":         "DATABASE_URL",
	"encryption.key":       "ENCRYPTION_KEY",
	"app.timezone":         "APP_TIMEZONE",
	"http.listen":          "HTTP_LISTEN_ADDR",
	"bot.token":            "BOT_TOKEN",
	"bot.mode":             "BOT_MODE",
	"bot.poll_timeout":     "BOT_POLL_TIMEOUT",
	"bot.webhook_url":      "BOT_WEBHOOK_URL",
	"bot.webhook_listen":   "BOT_WEBHOOK_LISTEN_PORT",
	"quota.trial_cap":      "TRIAL_DAILY_CAP",
	"quota.daily_cap":      "SUBSCRIPTION_DAILY_CAP",
	"payment.base_url":     "MOMO_BASE_URL",
	"payment.api_key":      "MOMO_API_KEY",
	"payment.callback_url": "MOMO_CALLBACK_URL",
	"payment.currency":     "MOMO_CURRENCY",
	"payment.timeout":      "PAYMENT_TIMEOUT",
	"payment.sweep_spec":   "PAYMENT_SWEEP_SPEC",
	"payment.reset_spec":   "DAILY_RESET_SPEC",
	"gemini.api_key":       "GEMINI_API_KEY",
	"gemini.model":         "GEMINI_MODEL",
	"plan.weekly.amount":   "PLAN_WEEKLY_AMOUNT",
	"plan.weekly.days":     "PLAN_WEEKLY_DAYS",
	"plan.monthly.amount":  "PLAN_MONTHLY_AMOUNT",
	"plan.monthly.days":    "PLAN_MONTHLY_DAYS",
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {

	// Load .env into the process environment. A missing file is fine in
	// prod; any other error should surface.
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("could not bind %s: %w", key, err)
		}
	}

	viper.SetDefault("app.env", "dev")
	viper.SetDefault("app.timezone", "Africa/Addis_Ababa")
	viper.SetDefault("http.listen", ":8080")
	viper.SetDefault("bot.mode", "polling")
	viper.SetDefault("bot.poll_timeout", 60)
	viper.SetDefault("bot.webhook_listen", 8443)
	viper.SetDefault("quota.trial_cap", 3)
	viper.SetDefault("quota.daily_cap", 50)
	viper.SetDefault("payment.currency", "ETB")
	viper.SetDefault("payment.timeout", "15m")
	viper.SetDefault("payment.sweep_spec", "*/5 * * * *")
	viper.SetDefault("payment.reset_spec", "5 0 * * *")
	viper.SetDefault("gemini.model", "gemini-1.5-flash")
	viper.SetDefault("plan.weekly.amount", 10000) // 100.00 ETB in cents
	viper.SetDefault("plan.weekly.days", 7)
	viper.SetDefault("plan.monthly.amount", 35000)
	viper.SetDefault("plan.monthly.days", 30)

	cfg := Config{
		AppEnv:        viper.GetString("app.env"),
		DatabaseURL:   viper.GetString("database.url"),
		EncryptionKey: viper.GetString("encryption.key"),
		Timezone:      viper.GetString("app.timezone"),
		HTTPListen:    viper.GetString("http.listen"),
		Bot: BotConfig{
			Token:         viper.GetString("bot.token"),
			Mode:          viper.GetString("bot.mode"),
			PollTimeout:   viper.GetInt("bot.poll_timeout"),
			WebhookURL:    viper.GetString("bot.webhook_url"),
			WebhookListen: viper.GetInt("bot.webhook_listen"),
		},
		Quota: QuotaConfig{
			TrialDailyCap:        viper.GetInt("quota.trial_cap"),
			SubscriptionDailyCap: viper.GetInt("quota.daily_cap"),
		},
		Payment: PaymentConfig{
			BaseURL:        viper.GetString("payment.base_url"),
			APIKey:         viper.GetString("payment.api_key"),
			CallbackURL:    viper.GetString("payment.callback_url"),
			Currency:       viper.GetString("payment.currency"),
			Timeout:        viper.GetDuration("payment.timeout"),
			SweepSpec:      viper.GetString("payment.sweep_spec"),
			DailyResetSpec: viper.GetString("payment.reset_spec"),
		},
		Gemini: GeminiConfig{
			APIKey: viper.GetString("gemini.api_key"),
			Model:  viper.GetString("gemini.model"),
		},
		Plans: map[domain.PlanType]PlanConfig{
			domain.PlanWeekly: {
				Amount:       viper.GetInt64("plan.weekly.amount"),
				DurationDays: viper.GetInt("plan.weekly.days"),
			},
			domain.PlanMonthly: {
				Amount:       viper.GetInt64("plan.monthly.amount"),
				DurationDays: viper.GetInt("plan.monthly.days"),
			},
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE %q: %w", cfg.Timezone, err)
	}
	cfg.Loc = loc

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Bot.Token == "" {
		return errors.New("BOT_TOKEN is not set in environment or .env file")
	}
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set in environment or .env file")
	}
	if len(c.EncryptionKey) != 64 {
		return fmt.Errorf("ENCRYPTION_KEY must be a 64-character hex string (32 bytes), but got %d chars", len(c.EncryptionKey))
	}
	if c.Bot.Mode != "polling" && c.Bot.Mode != "webhook" {
		return fmt.Errorf("BOT_MODE must be 'polling' or 'webhook', got %q", c.Bot.Mode)
	}
	if c.Payment.Timeout <= 0 {
		return errors.New("PAYMENT_TIMEOUT must be a positive duration")
	}
	for plan, p := range c.Plans {
		if p.Amount <= 0 || p.DurationDays <= 0 {
			return fmt.Errorf("plan %q must have a positive amount and duration", plan)
		}
	}
	return nil
}
