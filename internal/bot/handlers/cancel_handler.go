package handlers

import (
	"context"

	"SelamBot/internal/bot"
	"SelamBot/internal/core/domain"
	"SelamBot/internal/core/ports"
	"SelamBot/internal/shared/config"
	"SelamBot/internal/shared/messages"

	"github.com/rs/zerolog"
)

func init() {
	bot.RegisterCommand(NewCancelHandler)
}

// cancelHandler aborts an in-flight payment session.
type cancelHandler struct {
	log      zerolog.Logger
	userRepo ports.UserRepository
	bot      ports.BotClientPort
	plans    map[domain.PlanType]config.PlanConfig
	currency string
}

func NewCancelHandler(deps *bot.HandlerDeps) ports.CommandHandler {
	return &cancelHandler{
		log:      deps.Logger.With().Str("component", "cancel_handler").Logger(),
		userRepo: deps.UserRepo,
		bot:      deps.Bot,
		plans:    deps.Cfg.Plans,
		currency: deps.Cfg.Payment.Currency,
	}
}

func (h *cancelHandler) Command() string {
	return "cancel"
}

func (h *cancelHandler) Handle(ctx context.Context, update *ports.BotUpdate, user *domain.User) error {
	if user.Stage != domain.StageAwaitingPayment || user.PendingPayment == nil {
		msg := messages.NewBuilder(update.ChatID).
			WithText("There's nothing to cancel right now.").
			WithParseMode("").
			Build()
		return h.bot.SendMessage(ctx, msg)
	}
	return cancelPendingPayment(ctx, h.userRepo, h.bot, update.ChatID, user, h.plans, h.currency, &h.log)
}

// cancelPendingPayment clears the session and restores the recovery
// stage. Shared with the conversation handler ("cancel" typed as plain
// text while a payment is pending).
func cancelPendingPayment(
	ctx context.Context,
	userRepo ports.UserRepository,
	botClient ports.BotClientPort,
	chatID int64,
	user *domain.User,
	plans map[domain.PlanType]config.PlanConfig,
	currency string,
	log *zerolog.Logger,
) error {
	reference := user.PendingPayment.Reference
	user.PendingPayment = nil
	user.ApplyTransition(domain.EventPaymentCancelled)

	if err := userRepo.Update(ctx, user); err != nil {
		return err
	}
	log.Info().
		Int64("telegram_id", user.TelegramID).
		Str("reference", reference).
		Str("stage", string(user.Stage)).
		Msg("User cancelled pending payment")

	msg := messages.NewBuilder(chatID).
		WithText("Payment cancelled. You can pick a plan whenever you're ready.").
		WithParseMode("").
		WithPlanButtons(plans, currency).
		Build()
	return botClient.SendMessage(ctx, msg)
}
