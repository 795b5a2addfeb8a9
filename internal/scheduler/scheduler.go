// Package scheduler runs the periodic maintenance jobs: the stale
// payment-session sweep and the daily quota counter reset.
package scheduler

import (
	"context"
	"time"

	"SelamBot/internal/core/payment"
	"SelamBot/internal/core/ports"
	"SelamBot/internal/shared/config"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron    *cron.Cron
	sweeper *payment.Sweeper
	repo    ports.UserRepository
	quota   DayResolver
	cfg     *config.Config
	log     zerolog.Logger
}

// DayResolver maps a wall-clock instant to the calendar day the quota
// counters key on.
type DayResolver interface {
	Today(now time.Time) time.Time
}

// NewScheduler creates a scheduler whose specs run in the configured
// timezone, so "5 0 * * *" means five past midnight local time.
func NewScheduler(
	cfg *config.Config,
	sweeper *payment.Sweeper,
	repo ports.UserRepository,
	quota DayResolver,
	baseLogger *zerolog.Logger,
) *Scheduler {
	log := baseLogger.With().Str("component", "scheduler").Logger()
	c := cron.New(
		cron.WithLocation(cfg.Loc),
		cron.WithChain(cron.Recover(cron.DefaultLogger)),
	)

	return &Scheduler{
		cron:    c,
		sweeper: sweeper,
		repo:    repo,
		quota:   quota,
		cfg:     cfg,
		log:     log,
	}
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.cfg.Payment.SweepSpec, s.runSweep); err != nil {
		s.log.Error().Err(err).Str("spec", s.cfg.Payment.SweepSpec).Msg("Failed to schedule payment sweep")
	} else {
		s.log.Info().Str("spec", s.cfg.Payment.SweepSpec).Msg("Scheduled payment timeout sweep")
	}

	if _, err := s.cron.AddFunc(s.cfg.Payment.DailyResetSpec, s.runDailyReset); err != nil {
		s.log.Error().Err(err).Str("spec", s.cfg.Payment.DailyResetSpec).Msg("Failed to schedule daily counter reset")
	} else {
		s.log.Info().Str("spec", s.cfg.Payment.DailyResetSpec).Msg("Scheduled daily counter reset")
	}

	s.cron.Start()
}

// Stop halts the cron loop and returns a context that is done once any
// in-flight job finishes.
func (s *Scheduler) Stop() context.Context {
	s.log.Info().Msg("Stopping scheduler")
	return s.cron.Stop()
}

func (s *Scheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	resolved, err := s.sweeper.Sweep(ctx, time.Now())
	if err != nil {
		s.log.Error().Err(err).Msg("Payment timeout sweep failed")
		return
	}
	if resolved > 0 {
		s.log.Info().Int("resolved", resolved).Msg("Stale payment sessions resolved")
	}
}

func (s *Scheduler) runDailyReset() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	trialReset, dailyReset, err := s.repo.BulkResetDailyCounters(ctx, s.quota.Today(time.Now()))
	if err != nil {
		s.log.Error().Err(err).Msg("Daily counter reset failed")
		return
	}
	s.log.Info().Int64("trial_rows", trialReset).Int64("daily_rows", dailyReset).Msg("Daily counters reset")
}
