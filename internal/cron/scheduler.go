package cron

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/activemerchant/active-merchant-sub021/internal/metrics"
)

// Sweeper evicts expired entries and reports how many were removed.
type Sweeper interface {
	Sweep(now time.Time) int
}

// Scheduler manages the background maintenance jobs. No payment work is
// ever scheduled.
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	tokens  Sweeper
	now     func() time.Time
	entries []cron.EntryID
}

// New creates a new cron scheduler. tokens may be nil when the token cache
// lives in Redis, which expires keys itself.
func New(tokens Sweeper, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		logger: logger,
		tokens: tokens,
		now:    time.Now,
	}
}

// Start registers and starts all cron jobs.
func (s *Scheduler) Start() error {
	s.logger.Info("Starting cron scheduler...")

	if s.tokens != nil {
		// Token cache sweep - every minute
		id, err := s.cron.AddFunc("0 * * * * *", func() {
			s.logger.Debug("Running: token cache sweep")
			s.sweepTokens()
		})
		if err != nil {
			return err
		}
		s.entries = append(s.entries, id)
	}

	s.cron.Start()
	s.logger.Info("Cron scheduler started", zap.Int("jobs", len(s.entries)))
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) sweepTokens() {
	defer s.recoverFromPanic("token_sweep")

	n := s.tokens.Sweep(s.now())
	metrics.TokensSweptTotal.Add(float64(n))
	if n > 0 {
		s.logger.Info("Evicted expired tokens", zap.Int("count", n))
	}
}

func (s *Scheduler) recoverFromPanic(jobName string) {
	if r := recover(); r != nil {
		s.logger.Error("Cron job panicked", zap.String("job", jobName), zap.Any("error", r))
	}
}
