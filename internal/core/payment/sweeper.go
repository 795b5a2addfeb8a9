package payment

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"SelamBot/internal/core/domain"
	"SelamBot/internal/core/ports"
	"SelamBot/internal/shared/config"
	"SelamBot/internal/shared/locker"
	"SelamBot/internal/shared/messages"

	"github.com/rs/zerolog"
)

// Sweeper force-resolves payment sessions the provider never answered
// for. Detection latency is bounded by the sweep interval, not
// instantaneous.
type Sweeper struct {
	repo     ports.UserRepository
	provider ports.PaymentProviderPort
	bot      ports.BotClientPort
	locks    *locker.KeyedMutex
	plans    map[domain.PlanType]config.PlanConfig
	currency string
	timeout  time.Duration
	now      func() time.Time
	running  atomic.Bool
	log      zerolog.Logger
}

// NewSweeper creates a payment timeout sweeper.
func NewSweeper(
	cfg *config.Config,
	repo ports.UserRepository,
	provider ports.PaymentProviderPort,
	bot ports.BotClientPort,
	locks *locker.KeyedMutex,
	baseLogger *zerolog.Logger,
) *Sweeper {
	return &Sweeper{
		repo:     repo,
		provider: provider,
		bot:      bot,
		locks:    locks,
		plans:    cfg.Plans,
		currency: cfg.Payment.Currency,
		timeout:  cfg.Payment.Timeout,
		now:      time.Now,
		log:      baseLogger.With().Str("component", "payment_sweeper").Logger(),
	}
}

// Sweep cancels every pending session older than the timeout, restores
// the user to their recovery stage, and sends them fresh plan options.
// A sweep starting while another is still running is skipped, not run
// concurrently over the same data.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn().Msg("Previous sweep still running, skipping")
		return 0, nil
	}
	defer s.running.Store(false)

	cutoff := now.Add(-s.timeout)
	stale, err := s.repo.ListStalePaymentSessions(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list stale payment sessions")
		return 0, err
	}

	count := 0
	for _, candidate := range stale {
		if err := s.resolve(ctx, candidate.TelegramID, cutoff); err != nil {
			s.log.Error().Err(err).Int64("telegram_id", candidate.TelegramID).Msg("Failed to resolve stale session")
			continue
		}
		count++
	}

	if count > 0 {
		s.log.Info().Int("resolved", count).Msg("Timeout sweep finished")
	}
	return count, nil
}

// resolve settles one user's stale session under their lock, re-checking
// staleness from a fresh read in case a callback won the race. Before
// timing out, the provider is polled once: a lost callback for a payment
// that actually settled must not cancel it.
func (s *Sweeper) resolve(ctx context.Context, telegramID int64, cutoff time.Time) error {
	unlock := s.locks.Lock(telegramID)
	defer unlock()

	user, err := s.repo.GetByTelegramID(ctx, telegramID)
	if err != nil {
		return err
	}
	if user == nil || user.PendingPayment == nil || !user.PendingPayment.StartedAt.Before(cutoff) {
		// Settled or restarted while we waited for the lock.
		return nil
	}

	session := user.PendingPayment
	log := s.log.With().Int64("telegram_id", telegramID).Str("reference", session.Reference).Logger()

	status, err := s.provider.CheckStatus(ctx, session.Reference)
	if err != nil {
		// A provider we can't reach can't confirm anything either; the
		// timeout verdict stands.
		log.Warn().Err(err).Msg("Status poll failed, treating session as timed out")
		status = domain.PaymentPending
	}

	switch status {
	case domain.PaymentSuccessful:
		return s.settleSuccess(ctx, user, session, log)
	case domain.PaymentFailed:
		return s.settleFailure(ctx, user, log)
	default:
		return s.settleTimeout(ctx, user, log)
	}
}

// settleSuccess handles a payment whose success callback never arrived.
func (s *Sweeper) settleSuccess(ctx context.Context, user *domain.User, session *domain.PaymentSession, log zerolog.Logger) error {
	planCfg, ok := s.plans[session.PlanType]
	if !ok {
		// Config changed under a live session; fall back to cancelling it.
		log.Error().Str("plan", string(session.PlanType)).Msg("Stale session names unknown plan")
		return s.settleTimeout(ctx, user, log)
	}

	user.PendingPayment = nil
	user.SelectedPlanType = nil
	user.ActivateSubscription(session.PlanType, session.Amount, planCfg.DurationDays, s.now())
	if err := s.repo.Update(ctx, user); err != nil {
		return err
	}
	log.Info().Time("expiry", user.Subscription.ExpiryDate).Msg("Recovered lost success callback via status poll")

	s.send(ctx, user.TelegramID, messages.NewBuilder(user.TelegramID).
		WithText(fmt.Sprintf("🎉 Payment received! Your %s plan is active until %s. Just send me a message.",
			session.PlanType, user.Subscription.ExpiryDate.Format("Jan 2, 2006"))).
		WithParseMode("").
		Build())
	return nil
}

// settleFailure handles a payment the provider reports as failed.
func (s *Sweeper) settleFailure(ctx context.Context, user *domain.User, log zerolog.Logger) error {
	user.PendingPayment = nil
	user.ApplyTransition(domain.EventPaymentFailed)
	if err := s.repo.Update(ctx, user); err != nil {
		return err
	}
	log.Info().Msg("Recovered lost failure callback via status poll")

	s.send(ctx, user.TelegramID, messages.NewBuilder(user.TelegramID).
		WithText("Your payment didn't go through. You can pick a plan and try again.").
		WithParseMode("").
		WithPlanButtons(s.plans, s.currency).
		Build())
	return nil
}

// settleTimeout cancels a session that is stale and still unconfirmed.
func (s *Sweeper) settleTimeout(ctx context.Context, user *domain.User, log zerolog.Logger) error {
	user.PendingPayment = nil
	user.ApplyTransition(domain.EventPaymentTimeout)
	if err := s.repo.Update(ctx, user); err != nil {
		return err
	}
	log.Info().Str("stage", string(user.Stage)).Msg("Timed out stale payment session")

	s.send(ctx, user.TelegramID, messages.NewBuilder(user.TelegramID).
		WithText("We didn't get a confirmation for your payment in time, so it was cancelled. Pick a plan to try again.").
		WithParseMode("").
		WithPlanButtons(s.plans, s.currency).
		Build())
	return nil
}

// send delivers a notice, logging failures. A user we can't reach still
// gets their session resolved.
func (s *Sweeper) send(ctx context.Context, chatID int64, params ports.SendMessageParams) {
	if err := s.bot.SendMessage(ctx, params); err != nil {
		s.log.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send sweep notice")
	}
}
