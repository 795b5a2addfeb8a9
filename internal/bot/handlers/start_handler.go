package handlers

import (
	"context"
	"fmt"
	"time"

	"SelamBot/internal/bot"
	"SelamBot/internal/core/domain"
	"SelamBot/internal/core/ports"
	"SelamBot/internal/core/quota"
	"SelamBot/internal/shared/config"
	"SelamBot/internal/shared/messages"

	"github.com/rs/zerolog"
)

func init() {
	bot.RegisterCommand(NewStartHandler)
}

// startHandler is the plugin for the /start command. It never moves the
// stage; it re-prompts whatever the current stage is waiting for.
type startHandler struct {
	log      zerolog.Logger
	bot      ports.BotClientPort
	quota    *quota.Tracker
	plans    map[domain.PlanType]config.PlanConfig
	currency string
}

// NewStartHandler creates a new handler for the /start command.
func NewStartHandler(deps *bot.HandlerDeps) ports.CommandHandler {
	return &startHandler{
		log:      deps.Logger.With().Str("component", "start_handler").Logger(),
		bot:      deps.Bot,
		quota:    deps.Quota,
		plans:    deps.Cfg.Plans,
		currency: deps.Cfg.Payment.Currency,
	}
}

// Command returns the command string (without the "/")
func (h *startHandler) Command() string {
	return "start"
}

// Handle greets the user and repeats the prompt for their current stage.
func (h *startHandler) Handle(ctx context.Context, update *ports.BotUpdate, user *domain.User) error {
	ctxLogger := h.log.With().Int64("user_id", update.UserID).Str("stage", string(user.Stage)).Logger()
	ctxLogger.Info().Msg("Handling /start")

	var msg ports.SendMessageParams

	switch user.Stage {
	case domain.StageInitial:
		text := "👋 Welcome to SelamBot\\!\n\nI'm an AI assistant you can chat with right here\\. " +
			"Before we begin, please agree to our terms of service and data policy\\."
		msg = messages.NewBuilder(update.ChatID).WithText(text).WithConsentButtons().Build()

	case domain.StageAwaitingPhone:
		msg = messages.NewBuilder(update.ChatID).
			WithText("Please share your *Phone Number* by pressing the button below, or type it \\(e\\.g\\. 0921234567\\)\\.").
			WithContactButton("Share My Phone Number").
			Build()

	case domain.StageTrial:
		remaining := h.quota.TrialRemaining(user, time.Now())
		msg = messages.NewBuilder(update.ChatID).
			WithText(fmt.Sprintf("Welcome back! You have %d free messages left today. Just type your question.", remaining)).
			WithParseMode("").
			Build()

	case domain.StageAwaitingPhoneForPayment:
		if user.SelectedPlanType == nil {
			msg = messages.NewBuilder(update.ChatID).
				WithText("Pick a plan to continue:").
				WithParseMode("").
				WithPlanButtons(h.plans, h.currency).
				Build()
		} else {
			msg = messages.NewBuilder(update.ChatID).
				WithText("Send the mobile money number to pay from, or share a contact.").
				WithParseMode("").
				WithContactButton("Use My Phone Number").
				Build()
		}

	case domain.StageAwaitingPayment:
		msg = messages.NewBuilder(update.ChatID).
			WithText("Your payment is still being confirmed. Approve it on your phone, or send /cancel to abort.").
			WithParseMode("").
			Build()

	case domain.StageSubscriptionActive:
		msg = messages.NewBuilder(update.ChatID).
			WithText(fmt.Sprintf("👋 Welcome back! Your %s plan is active until %s.",
				user.Subscription.PlanType, user.Subscription.ExpiryDate.Format("Jan 2, 2006"))).
			WithParseMode("").
			Build()

	case domain.StageSubscriptionExpired:
		msg = messages.NewBuilder(update.ChatID).
			WithText("Your subscription has expired. Pick a plan to keep chatting:").
			WithParseMode("").
			WithPlanButtons(h.plans, h.currency).
			Build()

	case domain.StagePaymentFailed:
		msg = messages.NewBuilder(update.ChatID).
			WithText("Your last payment didn't go through. Pick a plan to try again:").
			WithParseMode("").
			WithPlanButtons(h.plans, h.currency).
			Build()

	default:
		ctxLogger.Warn().Msg("Unknown stage on /start")
		msg = messages.NewBuilder(update.ChatID).
			WithText("Just type a message to get started.").
			WithParseMode("").
			Build()
	}

	return h.bot.SendMessage(ctx, msg)
}
