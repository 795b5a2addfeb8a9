package handlers

import (
	"context"
	"time"

	"SelamBot/internal/bot"
	"SelamBot/internal/core/domain"
	"SelamBot/internal/core/ports"
	"SelamBot/internal/shared/messages"

	"github.com/rs/zerolog"
)

func init() {
	bot.RegisterCallback(NewConsentHandler)
}

// consentHandler processes the accept/decline consent buttons. Nothing
// else is processed for a user until consent is recorded.
type consentHandler struct {
	log      zerolog.Logger
	userRepo ports.UserRepository
	bot      ports.BotClientPort
}

func NewConsentHandler(deps *bot.HandlerDeps) ports.CallbackHandler {
	return &consentHandler{
		log:      deps.Logger.With().Str("component", "consent_handler").Logger(),
		userRepo: deps.UserRepo,
		bot:      deps.Bot,
	}
}

func (h *consentHandler) Prefix() string {
	return "consent_"
}

func (h *consentHandler) Handle(ctx context.Context, update *ports.BotUpdate, user *domain.User) error {
	log := h.log.With().Str("user_id", user.ID.String()).Logger()

	// Stop the button spinner regardless of outcome.
	if err := h.bot.AnswerCallbackQuery(ctx, ports.AnswerCallbackParams{CallbackQueryID: update.CallbackQueryID}); err != nil {
		log.Warn().Err(err).Msg("Failed to answer callback query")
	}

	if update.CallbackData == nil {
		return nil
	}

	if *update.CallbackData == "consent_decline" {
		msg := messages.NewBuilder(update.ChatID).
			WithText("No problem. I can't chat with you until you agree to the terms. Send /start whenever you change your mind.").
			WithParseMode("").
			Build()
		return h.bot.SendMessage(ctx, msg)
	}

	// Accept. A duplicate tap in any later stage is a no-op prompt.
	if !user.ApplyTransition(domain.EventConsentAccepted) {
		log.Info().Str("stage", string(user.Stage)).Msg("Consent tapped outside initial stage, ignoring")
		msg := messages.NewBuilder(update.ChatID).
			WithText("You're already set up. Just type a message.").
			WithParseMode("").
			Build()
		return h.bot.SendMessage(ctx, msg)
	}

	now := time.Now()
	user.ConsentGivenAt = &now
	if err := h.userRepo.Update(ctx, user); err != nil {
		return err
	}
	log.Info().Msg("Consent recorded")

	msg := messages.NewBuilder(update.ChatID).
		WithText("Great\\! To unlock your free trial, please share your *Phone Number* by pressing the button below, or type it \\(e\\.g\\. 0921234567\\)\\.").
		WithContactButton("Share My Phone Number").
		Build()
	return h.bot.SendMessage(ctx, msg)
}
