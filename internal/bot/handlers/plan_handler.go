package handlers

import (
	"context"
	"strings"

	"SelamBot/internal/bot"
	"SelamBot/internal/core/domain"
	"SelamBot/internal/core/ports"
	"SelamBot/internal/shared/config"
	"SelamBot/internal/shared/messages"

	"github.com/rs/zerolog"
)

func init() {
	bot.RegisterCallback(NewPlanHandler)
}

// planHandler processes plan-selection buttons ("plan_weekly" etc.).
type planHandler struct {
	log      zerolog.Logger
	userRepo ports.UserRepository
	bot      ports.BotClientPort
	plans    map[domain.PlanType]config.PlanConfig
}

func NewPlanHandler(deps *bot.HandlerDeps) ports.CallbackHandler {
	return &planHandler{
		log:      deps.Logger.With().Str("component", "plan_handler").Logger(),
		userRepo: deps.UserRepo,
		bot:      deps.Bot,
		plans:    deps.Cfg.Plans,
	}
}

func (h *planHandler) Prefix() string {
	return "plan_"
}

func (h *planHandler) Handle(ctx context.Context, update *ports.BotUpdate, user *domain.User) error {
	log := h.log.With().Str("user_id", user.ID.String()).Logger()

	if err := h.bot.AnswerCallbackQuery(ctx, ports.AnswerCallbackParams{CallbackQueryID: update.CallbackQueryID}); err != nil {
		log.Warn().Err(err).Msg("Failed to answer callback query")
	}

	if update.CallbackData == nil {
		return nil
	}

	plan := domain.PlanType(strings.TrimPrefix(*update.CallbackData, "plan_"))
	if _, ok := h.plans[plan]; !ok || !domain.ValidPlan(plan) {
		log.Warn().Str("plan", string(plan)).Msg("Button named an unknown plan")
		return nil
	}

	// Plan selection is only legal from trial, expired, payment_failed,
	// or a re-pick while already awaiting the payment phone. Anywhere
	// else it is a no-op prompt.
	if !user.ApplyTransition(domain.EventPlanSelected) {
		log.Info().Str("stage", string(user.Stage)).Msg("Plan tapped in a stage that doesn't allow it")
		msg := messages.NewBuilder(update.ChatID).
			WithText("You can't switch plans right now. Send /status to see where you are.").
			WithParseMode("").
			Build()
		return h.bot.SendMessage(ctx, msg)
	}

	user.SelectedPlanType = &plan
	if err := h.userRepo.Update(ctx, user); err != nil {
		return err
	}
	log.Info().Str("plan", string(plan)).Msg("Plan selected")

	msg := messages.NewBuilder(update.ChatID).
		WithText("Send the mobile money number to pay from, or share a contact. You'll get a confirmation prompt on that phone.").
		WithParseMode("").
		WithContactButton("Use My Phone Number").
		Build()
	return h.bot.SendMessage(ctx, msg)
}
