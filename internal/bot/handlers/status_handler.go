package handlers

import (
	"context"
	"fmt"
	"time"

	"SelamBot/internal/bot"
	"SelamBot/internal/core/domain"
	"SelamBot/internal/core/ports"
	"SelamBot/internal/core/quota"
	"SelamBot/internal/shared/messages"

	"github.com/rs/zerolog"
)

func init() {
	bot.RegisterCommand(NewStatusHandler)
}

// statusHandler reports quota and subscription standing without
// consuming anything.
type statusHandler struct {
	log   zerolog.Logger
	bot   ports.BotClientPort
	quota *quota.Tracker
}

func NewStatusHandler(deps *bot.HandlerDeps) ports.CommandHandler {
	return &statusHandler{
		log:   deps.Logger.With().Str("component", "status_handler").Logger(),
		bot:   deps.Bot,
		quota: deps.Quota,
	}
}

func (h *statusHandler) Command() string {
	return "status"
}

func (h *statusHandler) Handle(ctx context.Context, update *ports.BotUpdate, user *domain.User) error {
	now := time.Now()

	var text string
	switch {
	case user.Subscription.IsActive(now):
		text = fmt.Sprintf("📊 Plan: %s\nExpires: %s\nMessages left today: %d",
			user.Subscription.PlanType,
			user.Subscription.ExpiryDate.Format("Jan 2, 2006"),
			h.quota.SubscriptionRemaining(user, now))
	case user.Stage == domain.StageAwaitingPayment && user.PendingPayment != nil:
		text = fmt.Sprintf("📊 A %s-plan payment is awaiting confirmation (ref %s).\nSend /cancel to abort it.",
			user.PendingPayment.PlanType, user.PendingPayment.Reference)
	case user.HasUsedTrial:
		text = fmt.Sprintf("📊 Free trial\nMessages left today: %d\nUpgrade any time by picking a plan.",
			h.quota.TrialRemaining(user, now))
	default:
		text = "📊 You haven't started yet. Send /start to begin."
	}

	msg := messages.NewBuilder(update.ChatID).WithText(text).WithParseMode("").Build()
	return h.bot.SendMessage(ctx, msg)
}
