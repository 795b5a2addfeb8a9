// Package quota tracks the trial and subscription daily message
// allowances. Counters roll over lazily: the first touch on a new
// calendar day (in the configured timezone) zeroes the counter before it
// is evaluated, so the scheduled bulk reset is a convenience, not a
// correctness requirement.
package quota

import (
	"time"

	"SelamBot/internal/core/domain"

	"github.com/rs/zerolog"
)

// Result is the outcome of a consumption attempt.
type Result struct {
	Allowed   bool
	Remaining int
}

// Tracker evaluates quota consumption against configured daily caps.
// It mutates the user in memory only; persisting is the caller's job, and
// the caller must hold the user's lock.
type Tracker struct {
	trialCap int
	dailyCap int
	loc      *time.Location
	log      zerolog.Logger
}

// NewTracker creates a quota tracker for the given caps and timezone.
func NewTracker(trialCap, dailyCap int, loc *time.Location, baseLogger *zerolog.Logger) *Tracker {
	return &Tracker{
		trialCap: trialCap,
		dailyCap: dailyCap,
		loc:      loc,
		log:      baseLogger.With().Str("component", "quota_tracker").Logger(),
	}
}

// Today returns midnight of the current calendar day in the tracker's
// timezone. All reset dates are stored at this granularity.
func (t *Tracker) Today(now time.Time) time.Time {
	local := now.In(t.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, t.loc)
}

// ConsumeTrial counts one trial message against the user, rolling the
// counter over first if its reset date is not today. Once the cap is hit
// the counter is left untouched and Allowed is false.
func (t *Tracker) ConsumeTrial(user *domain.User, now time.Time) Result {
	today := t.Today(now)
	if !user.TrialResetDate.Equal(today) {
		t.log.Debug().Int64("telegram_id", user.TelegramID).Msg("Rolling over trial counter")
		user.TrialMessagesUsedToday = 0
		user.TrialResetDate = today
	}

	if user.TrialMessagesUsedToday >= t.trialCap {
		return Result{Allowed: false, Remaining: 0}
	}

	user.TrialMessagesUsedToday++
	return Result{Allowed: true, Remaining: t.trialCap - user.TrialMessagesUsedToday}
}

// ConsumeSubscription counts one paid-tier message, with the same lazy
// rollover semantics as ConsumeTrial.
func (t *Tracker) ConsumeSubscription(user *domain.User, now time.Time) Result {
	today := t.Today(now)
	if !user.DailyCountResetDate.Equal(today) {
		t.log.Debug().Int64("telegram_id", user.TelegramID).Msg("Rolling over subscription counter")
		user.DailyMessageCount = 0
		user.DailyCountResetDate = today
	}

	if user.DailyMessageCount >= t.dailyCap {
		return Result{Allowed: false, Remaining: 0}
	}

	user.DailyMessageCount++
	return Result{Allowed: true, Remaining: t.dailyCap - user.DailyMessageCount}
}

// TrialRemaining reports how many trial messages are left today without
// consuming one or mutating the user.
func (t *Tracker) TrialRemaining(user *domain.User, now time.Time) int {
	if !user.TrialResetDate.Equal(t.Today(now)) {
		return t.trialCap
	}
	if remaining := t.trialCap - user.TrialMessagesUsedToday; remaining > 0 {
		return remaining
	}
	return 0
}

// SubscriptionRemaining reports how many paid-tier messages are left today
// without consuming one.
func (t *Tracker) SubscriptionRemaining(user *domain.User, now time.Time) int {
	if !user.DailyCountResetDate.Equal(t.Today(now)) {
		return t.dailyCap
	}
	if remaining := t.dailyCap - user.DailyMessageCount; remaining > 0 {
		return remaining
	}
	return 0
}
