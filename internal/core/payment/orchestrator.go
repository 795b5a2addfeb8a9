// Package payment owns the asynchronous mobile-money handshake: starting
// a payment request, holding the pending session on the user, reconciling
// the provider's out-of-band callback, and sweeping sessions the provider
// never answered for.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SelamBot/internal/core/domain"
	"SelamBot/internal/core/ports"
	"SelamBot/internal/shared/config"
	"SelamBot/internal/shared/locker"
	"SelamBot/internal/shared/messages"

	"github.com/rs/zerolog"
)

// ReconcileResult describes how a callback was applied.
type ReconcileResult string

const (
	ResultActivated      ReconcileResult = "activated"
	ResultFailed         ReconcileResult = "failed"
	ResultPending        ReconcileResult = "pending"
	ResultAlreadySettled ReconcileResult = "already_settled"
)

// conflictRetries bounds how often a reconcile restarts after losing an
// optimistic-concurrency race with another process.
const conflictRetries = 3

// Orchestrator drives payment initiation and callback reconciliation.
type Orchestrator struct {
	repo        ports.UserRepository
	provider    ports.PaymentProviderPort
	bot         ports.BotClientPort
	locks       *locker.KeyedMutex
	plans       map[domain.PlanType]config.PlanConfig
	currency    string
	callbackURL string
	now         func() time.Time
	log         zerolog.Logger
}

// NewOrchestrator creates a payment orchestrator.
func NewOrchestrator(
	cfg *config.Config,
	repo ports.UserRepository,
	provider ports.PaymentProviderPort,
	bot ports.BotClientPort,
	locks *locker.KeyedMutex,
	baseLogger *zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		repo:        repo,
		provider:    provider,
		bot:         bot,
		locks:       locks,
		plans:       cfg.Plans,
		currency:    cfg.Payment.Currency,
		callbackURL: cfg.Payment.CallbackURL,
		now:         time.Now,
		log:         baseLogger.With().Str("component", "payment_orchestrator").Logger(),
	}
}

// NewReference builds a payment reference from the timestamp and the
// Telegram ID. Not guaranteed unique, but a collision needs two requests
// for the same user in the same nanosecond.
func NewReference(now time.Time, telegramID int64) string {
	return fmt.Sprintf("SB-%d-%d", now.UnixNano(), telegramID)
}

// Initiate validates the plan, resolves the payer phone, asks the provider
// to charge it, and on acceptance stores the pending session and advances
// the stage to awaiting_payment. On any failure no session is left behind
// and the stage does not move. The caller must hold the user's lock and
// must not save the user again afterwards; Initiate persists it.
func (o *Orchestrator) Initiate(ctx context.Context, user *domain.User, plan domain.PlanType) (*domain.PaymentSession, error) {
	log := o.log.With().Int64("telegram_id", user.TelegramID).Str("plan", string(plan)).Logger()

	planCfg, ok := o.plans[plan]
	if !ok || !domain.ValidPlan(plan) {
		return nil, domain.ErrInvalidPlan
	}

	payerPhone := user.PaymentPhoneNumber
	if payerPhone == nil {
		payerPhone = user.PhoneNumber
	}
	if payerPhone == nil {
		return nil, domain.ErrMissingPayerPhone
	}

	if _, ok := domain.NextStage(user.Stage, domain.EventPaymentPhoneAccepted); !ok {
		return nil, fmt.Errorf("cannot initiate payment from stage %s", user.Stage)
	}

	now := o.now()
	reference := NewReference(now, user.TelegramID)

	accepted, err := o.provider.RequestPayment(ctx, ports.PaymentRequest{
		PayerPhone:  *payerPhone,
		Amount:      planCfg.Amount,
		Currency:    o.currency,
		Reference:   reference,
		CallbackURL: o.callbackURL,
	})
	if err != nil {
		log.Error().Err(err).Msg("Provider request errored")
		return nil, fmt.Errorf("%w: %w", domain.ErrPaymentInitiationFailed, err)
	}
	if !accepted {
		log.Warn().Str("reference", reference).Msg("Provider refused the payment request")
		return nil, domain.ErrPaymentInitiationFailed
	}

	session := &domain.PaymentSession{
		PlanType:  plan,
		Amount:    planCfg.Amount,
		Reference: reference,
		StartedAt: now,
		Status:    domain.PaymentPending,
	}
	user.PendingPayment = session
	user.ApplyTransition(domain.EventPaymentPhoneAccepted)

	if err := o.repo.Update(ctx, user); err != nil {
		log.Error().Err(err).Msg("Failed to persist pending payment session")
		return nil, err
	}

	log.Info().Str("reference", reference).Int64("amount", planCfg.Amount).Msg("Payment session opened")
	return session, nil
}

// Reconcile applies a provider callback to the matching user. Unknown
// references return domain.ErrUnknownReference; duplicate callbacks for a
// session that already settled are a no-op. Non-terminal statuses mutate
// nothing.
func (o *Orchestrator) Reconcile(ctx context.Context, reference string, status domain.PaymentStatus) (ReconcileResult, error) {
	log := o.log.With().Str("reference", reference).Str("status", string(status)).Logger()

	lookup, err := o.repo.GetByPaymentReference(ctx, reference)
	if err != nil {
		return "", err
	}
	if lookup == nil {
		log.Warn().Msg("Callback for unknown reference")
		return "", domain.ErrUnknownReference
	}

	unlock := o.locks.Lock(lookup.TelegramID)
	defer unlock()

	var result ReconcileResult
	for attempt := 0; ; attempt++ {
		result, err = o.reconcileLocked(ctx, lookup.TelegramID, reference, status)
		if errors.Is(err, domain.ErrStorageConflict) && attempt < conflictRetries {
			log.Warn().Int("attempt", attempt+1).Msg("Storage conflict during reconcile, retrying")
			continue
		}
		break
	}
	return result, err
}

// reconcileLocked does one reconcile attempt from a fresh read. The
// per-user lock is already held.
func (o *Orchestrator) reconcileLocked(ctx context.Context, telegramID int64, reference string, status domain.PaymentStatus) (ReconcileResult, error) {
	log := o.log.With().Int64("telegram_id", telegramID).Str("reference", reference).Logger()

	user, err := o.repo.GetByTelegramID(ctx, telegramID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", domain.ErrUnknownReference
	}

	// The session may have settled (or been replaced) while we waited on
	// the lock. A repeat callback for a terminal session is a no-op.
	if user.PendingPayment == nil || user.PendingPayment.Reference != reference {
		log.Info().Msg("Session already settled, ignoring duplicate callback")
		return ResultAlreadySettled, nil
	}

	switch status {
	case domain.PaymentSuccessful:
		session := user.PendingPayment
		planCfg, ok := o.plans[session.PlanType]
		if !ok {
			return "", fmt.Errorf("pending session names unknown plan %q", session.PlanType)
		}
		user.PendingPayment = nil
		user.SelectedPlanType = nil
		user.ActivateSubscription(session.PlanType, session.Amount, planCfg.DurationDays, o.now())
		if err := o.repo.Update(ctx, user); err != nil {
			return "", err
		}
		log.Info().Time("expiry", user.Subscription.ExpiryDate).Msg("Subscription activated")
		o.notify(ctx, user.TelegramID, fmt.Sprintf(
			"🎉 Payment received! Your %s plan is active until %s. Just send me a message.",
			session.PlanType, user.Subscription.ExpiryDate.Format("Jan 2, 2006")))
		return ResultActivated, nil

	case domain.PaymentFailed:
		user.PendingPayment = nil
		user.ApplyTransition(domain.EventPaymentFailed)
		if err := o.repo.Update(ctx, user); err != nil {
			return "", err
		}
		log.Info().Msg("Payment failed, session cleared")
		params := messages.NewBuilder(user.TelegramID).
			WithText("Your payment didn't go through. You can pick a plan and try again.").
			WithParseMode("").
			WithPlanButtons(o.plans, o.currency).
			Build()
		if err := o.bot.SendMessage(ctx, params); err != nil {
			log.Error().Err(err).Msg("Failed to send payment-failed notice")
		}
		return ResultFailed, nil

	default:
		// Anything else means "still pending". Leave the session alone.
		log.Info().Msg("Non-terminal callback status, no action")
		return ResultPending, nil
	}
}

// notify sends a plain-text message, logging on failure. Send failures
// never abort reconciliation.
func (o *Orchestrator) notify(ctx context.Context, chatID int64, text string) {
	params := messages.NewBuilder(chatID).WithText(text).WithParseMode("").Build()
	if err := o.bot.SendMessage(ctx, params); err != nil {
		o.log.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send notification")
	}
}
