package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"SelamBot/internal/bot"
	"SelamBot/internal/core/domain"
	"SelamBot/internal/core/payment"
	"SelamBot/internal/core/ports"
	"SelamBot/internal/core/quota"
	"SelamBot/internal/shared/config"
	"SelamBot/internal/shared/messages"

	"github.com/rs/zerolog"
)

func init() {
	bot.RegisterMessage(NewConversationHandler)
}

// conversationHandler is the main entry point for all plain messages.
// It routes logic based on the user's stage.
type conversationHandler struct {
	log      zerolog.Logger
	userRepo ports.UserRepository
	bot      ports.BotClientPort
	quota    *quota.Tracker
	payments *payment.Orchestrator
	ai       ports.CompletionPort
	security ports.SecurityPort
	plans    map[domain.PlanType]config.PlanConfig
	currency string
}

// NewConversationHandler creates the stage-machine message handler.
func NewConversationHandler(deps *bot.HandlerDeps) ports.MessageHandler {
	return &conversationHandler{
		log:      deps.Logger.With().Str("component", "conversation_handler").Logger(),
		userRepo: deps.UserRepo,
		bot:      deps.Bot,
		quota:    deps.Quota,
		payments: deps.Payments,
		ai:       deps.AI,
		security: deps.Security,
		plans:    deps.Cfg.Plans,
		currency: deps.Cfg.Payment.Currency,
	}
}

// Handle dispatches on the user's stage.
func (h *conversationHandler) Handle(ctx context.Context, update *ports.BotUpdate, user *domain.User) error {

	// --- THE STATE MACHINE ---
	switch user.Stage {
	case domain.StageInitial:
		return h.handleInitial(ctx, update)
	case domain.StageAwaitingPhone:
		return h.handleTrialPhone(ctx, update, user)
	case domain.StageTrial:
		return h.handleTrialMessage(ctx, update, user)
	case domain.StageAwaitingPhoneForPayment:
		return h.handlePaymentPhone(ctx, update, user)
	case domain.StageAwaitingPayment:
		return h.handleAwaitingPayment(ctx, update, user)
	case domain.StageSubscriptionActive:
		return h.handleSubscriberMessage(ctx, update, user)
	case domain.StageSubscriptionExpired:
		return h.handleNeedsPlan(ctx, update, "Your subscription has expired. Pick a plan to keep chatting:")
	case domain.StagePaymentFailed:
		return h.handleNeedsPlan(ctx, update, "Your last payment didn't go through. Pick a plan to try again:")
	default:
		h.log.Warn().Str("stage", string(user.Stage)).Msg("Received message in unhandled stage")
		return nil
	}
}

// handleInitial re-prompts for consent; nothing else is processed first.
func (h *conversationHandler) handleInitial(ctx context.Context, update *ports.BotUpdate) error {
	msg := messages.NewBuilder(update.ChatID).
		WithText("Before we can chat, please agree to our terms of service and data policy.").
		WithParseMode("").
		WithConsentButtons().
		Build()
	return h.bot.SendMessage(ctx, msg)
}

// handleTrialPhone processes the phone number that unlocks the free
// trial. A phone that already funded a trial (for anyone) skips straight
// to the subscription pitch.
func (h *conversationHandler) handleTrialPhone(ctx context.Context, update *ports.BotUpdate, user *domain.User) error {
	log := h.log.With().Str("user_id", user.ID.String()).Logger()

	raw := update.Text
	if update.Contact != nil {
		raw = update.Contact.PhoneNumber
	}

	phone, ok := normalizePhone(raw)
	if !ok {
		msg := messages.NewBuilder(update.ChatID).
			WithText("That doesn't look like a valid phone number. Please send it like 0921234567, or use the button below.").
			WithParseMode("").
			WithContactButton("Share My Phone Number").
			Build()
		return h.bot.SendMessage(ctx, msg)
	}

	// Trial-reuse check by deterministic hash; the plaintext never hits
	// the database.
	owner, err := h.userRepo.GetByPhoneHash(ctx, h.security.Hash(phone))
	if err != nil {
		log.Error().Err(err).Msg("Phone lookup failed")
		return h.sendErrorMessage(ctx, update.ChatID)
	}
	if owner != nil && owner.ID != user.ID {
		return h.rejectUsedPhone(ctx, update, user)
	}

	user.PhoneNumber = &phone
	user.HasUsedTrial = true
	user.TrialMessagesUsedToday = 0
	user.TrialResetDate = h.quota.Today(time.Now())
	user.ApplyTransition(domain.EventTrialPhoneAccepted)

	if err := h.userRepo.Update(ctx, user); err != nil {
		if errors.Is(err, domain.ErrPhoneInUse) {
			// Lost the race for this phone; first write wins.
			log.Info().Msg("Phone claimed concurrently by another identity")
			user.PhoneNumber = nil
			user.HasUsedTrial = false
			user.Stage = domain.StageAwaitingPhone
			return h.rejectUsedPhone(ctx, update, user)
		}
		return err
	}
	log.Info().Msg("Trial started")

	remaining := h.quota.TrialRemaining(user, time.Now())
	msg := messages.NewBuilder(update.ChatID).
		WithText(fmt.Sprintf("✅ Your free trial is active: %d messages per day. Ask me anything!", remaining)).
		WithParseMode("").
		WithRemoveKeyboard().
		Build()
	return h.bot.SendMessage(ctx, msg)
}

// rejectUsedPhone blocks trial reuse and moves the user to the
// subscription pitch.
func (h *conversationHandler) rejectUsedPhone(ctx context.Context, update *ports.BotUpdate, user *domain.User) error {
	user.ApplyTransition(domain.EventTrialPhoneRejected)
	if err := h.userRepo.Update(ctx, user); err != nil {
		return err
	}

	msg := messages.NewBuilder(update.ChatID).
		WithText("This phone number has already used its free trial. You can subscribe to keep chatting:").
		WithParseMode("").
		WithPlanButtons(h.plans, h.currency).
		Build()
	return h.bot.SendMessage(ctx, msg)
}

// handleTrialMessage gates a trial chat message through the quota, then
// forwards it to the AI backend.
func (h *conversationHandler) handleTrialMessage(ctx context.Context, update *ports.BotUpdate, user *domain.User) error {
	log := h.log.With().Str("user_id", user.ID.String()).Logger()

	if update.Text == "" {
		msg := messages.NewBuilder(update.ChatID).
			WithText("Just send me a text message and I'll answer.").
			WithParseMode("").
			Build()
		return h.bot.SendMessage(ctx, msg)
	}

	res := h.quota.ConsumeTrial(user, time.Now())
	if !res.Allowed {
		user.ApplyTransition(domain.EventTrialQuotaExhausted)
		if err := h.userRepo.Update(ctx, user); err != nil {
			return err
		}
		log.Info().Msg("Trial quota exhausted")

		msg := messages.NewBuilder(update.ChatID).
			WithText("You've used all your free messages for today. Subscribe for a bigger daily allowance:").
			WithParseMode("").
			WithPlanButtons(h.plans, h.currency).
			Build()
		return h.bot.SendMessage(ctx, msg)
	}

	// Persist the counter before the (slow, fallible) AI call.
	if err := h.userRepo.Update(ctx, user); err != nil {
		return err
	}

	return h.answer(ctx, update, res.Remaining, true)
}

// handlePaymentPhone captures the payer phone and kicks off the payment.
func (h *conversationHandler) handlePaymentPhone(ctx context.Context, update *ports.BotUpdate, user *domain.User) error {
	log := h.log.With().Str("user_id", user.ID.String()).Logger()

	if user.SelectedPlanType == nil {
		return h.handleNeedsPlan(ctx, update, "Pick a plan first:")
	}

	raw := update.Text
	if update.Contact != nil {
		raw = update.Contact.PhoneNumber
	}
	phone, ok := normalizePhone(raw)
	if !ok {
		msg := messages.NewBuilder(update.ChatID).
			WithText("That doesn't look like a valid phone number. Please send it like 0921234567, or use the button below.").
			WithParseMode("").
			WithContactButton("Use My Phone Number").
			Build()
		return h.bot.SendMessage(ctx, msg)
	}

	user.PaymentPhoneNumber = &phone

	session, err := h.payments.Initiate(ctx, user, *user.SelectedPlanType)
	if err != nil {
		if errors.Is(err, domain.ErrStorageConflict) {
			return err // router retries from a fresh read
		}
		// Initiation failures are recoverable: the stage did not move.
		log.Error().Err(err).Msg("Payment initiation failed")
		msg := messages.NewBuilder(update.ChatID).
			WithText("We couldn't start the payment right now. Please try again in a few minutes.").
			WithParseMode("").
			Build()
		return h.bot.SendMessage(ctx, msg)
	}

	log.Info().Str("reference", session.Reference).Msg("Payment initiated from conversation")
	msg := messages.NewBuilder(update.ChatID).
		WithText(fmt.Sprintf(
			"💳 A payment request for %d %s was sent to %s. Approve it on your phone.\n\nSend /cancel to abort.",
			session.Amount/100, h.currency, phone)).
		WithParseMode("").
		WithRemoveKeyboard().
		Build()
	return h.bot.SendMessage(ctx, msg)
}

// handleAwaitingPayment holds the user while the callback is outstanding.
// Typing "cancel" works the same as /cancel.
func (h *conversationHandler) handleAwaitingPayment(ctx context.Context, update *ports.BotUpdate, user *domain.User) error {
	if strings.EqualFold(strings.TrimSpace(update.Text), "cancel") && user.PendingPayment != nil {
		return cancelPendingPayment(ctx, h.userRepo, h.bot, update.ChatID, user, h.plans, h.currency, &h.log)
	}

	msg := messages.NewBuilder(update.ChatID).
		WithText("Your payment is still being confirmed. Approve it on your phone, or send /cancel to abort.").
		WithParseMode("").
		Build()
	return h.bot.SendMessage(ctx, msg)
}

// handleSubscriberMessage gates a paid message through the daily cap.
// Expiry was already checked by the router before we got here.
func (h *conversationHandler) handleSubscriberMessage(ctx context.Context, update *ports.BotUpdate, user *domain.User) error {
	if update.Text == "" {
		msg := messages.NewBuilder(update.ChatID).
			WithText("Just send me a text message and I'll answer.").
			WithParseMode("").
			Build()
		return h.bot.SendMessage(ctx, msg)
	}

	res := h.quota.ConsumeSubscription(user, time.Now())
	if !res.Allowed {
		// Stage does not change; the allowance is back tomorrow.
		msg := messages.NewBuilder(update.ChatID).
			WithText("You've reached today's message limit. Your allowance resets tomorrow.").
			WithParseMode("").
			Build()
		return h.bot.SendMessage(ctx, msg)
	}

	if err := h.userRepo.Update(ctx, user); err != nil {
		return err
	}

	return h.answer(ctx, update, res.Remaining, false)
}

// handleNeedsPlan prompts with the plan keyboard.
func (h *conversationHandler) handleNeedsPlan(ctx context.Context, update *ports.BotUpdate, text string) error {
	msg := messages.NewBuilder(update.ChatID).
		WithText(text).
		WithParseMode("").
		WithPlanButtons(h.plans, h.currency).
		Build()
	return h.bot.SendMessage(ctx, msg)
}

// answer forwards the message to the AI backend and relays the reply.
// Trial users get a remaining-count footer on their last free message.
func (h *conversationHandler) answer(ctx context.Context, update *ports.BotUpdate, remaining int, trial bool) error {
	completion, err := h.ai.GetCompletion(ctx, update.Text)
	if err != nil {
		// The quota message is already spent; degrade gracefully.
		h.log.Error().Err(err).Msg("AI completion failed")
		return h.sendErrorMessage(ctx, update.ChatID)
	}

	text := completion
	if trial && remaining == 0 {
		text += "\n\n(That was your last free message for today.)"
	}

	msg := messages.NewBuilder(update.ChatID).WithText(text).WithParseMode("").Build()
	return h.bot.SendMessage(ctx, msg)
}

// sendErrorMessage is a helper to send a generic error.
func (h *conversationHandler) sendErrorMessage(ctx context.Context, chatID int64) error {
	msg := messages.NewBuilder(chatID).
		WithText("An internal error occurred. Please try again later.").
		WithParseMode("").
		Build()
	return h.bot.SendMessage(ctx, msg)
}
