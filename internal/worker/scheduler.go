package worker

import (
	"context"
	"errors"
	"time"

	"ticketsync/internal/ingest"

	"github.com/rs/zerolog"
)

// IncrementalRunner runs one incremental import.
type IncrementalRunner interface {
	RunIncremental(ctx context.Context, lookback time.Duration) (*ingest.Report, error)
}

// Scheduler triggers incremental imports on a fixed interval.
type Scheduler struct {
	runner   IncrementalRunner
	interval time.Duration
	lookback time.Duration
	logger   *zerolog.Logger
}

func NewScheduler(runner IncrementalRunner, interval, lookback time.Duration, logger *zerolog.Logger) *Scheduler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		lookback: lookback,
		logger:   logger,
	}
}

// Start blocks until ctx is done. A tick that finds an import in progress is skipped.
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info().Msg("scheduler is disabled")
		return
	}

	s.logger.Info().Dur("interval", s.interval).Dur("lookback", s.lookback).Msg("scheduler started")
	defer s.logger.Info().Msg("scheduler stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	rep, err := s.runner.RunIncremental(ctx, s.lookback)
	switch {
	case errors.Is(err, ingest.ErrImportRunning):
		s.logger.Debug().Msg("import already running, skipping scheduled run")
	case errors.Is(err, ingest.ErrClosed):
		s.logger.Debug().Msg("importer is shutting down, skipping scheduled run")
	case err != nil:
		s.logger.Error().Err(err).Msg("scheduled incremental import failed")
	default:
		s.logger.Info().Str("run_id", rep.RunID).Int("processed", rep.Processed).Msg("scheduled incremental import finished")
	}
}
