/**
 * @description
 * Cron scheduler for the service's housekeeping jobs.
 */
package app

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/transfa/settlement-service/internal/logging"
	"go.uber.org/zap"
)

// Sweeper drops expired entries from an in-process cache.
type Sweeper interface {
	Sweep() int
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron          *cron.Cron
	sweeper       Sweeper
	sweepSchedule string
	logger        *zap.Logger
}

// NewScheduler creates a new scheduler. A nil sweeper schedules nothing.
func NewScheduler(sweeper Sweeper, sweepSchedule string, logger *zap.Logger) *Scheduler {
	logger = logging.Component(logger, "scheduler")
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:          c,
		sweeper:       sweeper,
		sweepSchedule: sweepSchedule,
		logger:        logger,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if s.sweeper != nil {
		if _, err := s.cron.AddFunc(s.sweepSchedule, s.SweepTokenCache); err != nil {
			s.logger.Error("failed to schedule token cache sweep", zap.String("schedule", s.sweepSchedule), zap.Error(err))
			return err
		}
		s.logger.Info("scheduled token cache sweep", zap.String("schedule", s.sweepSchedule))
	}

	s.cron.Start()
	return nil
}

// SweepTokenCache removes expired cache entries.
func (s *Scheduler) SweepTokenCache() {
	if removed := s.sweeper.Sweep(); removed > 0 {
		s.logger.Info("token cache swept", zap.Int("removed", removed))
	}
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
