package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ticketsync/internal/domain"
	"ticketsync/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverProgressRepository reads from primary until it fails, then from fallback,
// probing primary again once per recoveryInterval.
type FailoverProgressRepository struct {
	primary  domain.ProgressRepository
	fallback domain.ProgressRepository
	logger   *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverProgressRepository(primary, fallback domain.ProgressRepository, logger *zerolog.Logger) *FailoverProgressRepository {
	return &FailoverProgressRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverProgressRepository) markDown(err error) {
	r.logger.Error().Err(err).Msg("primary progress repository failed, falling back to memory")
	r.isDown.Store(true)
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

// shouldProbe reports whether a downed primary is due for a recovery attempt.
func (r *FailoverProgressRepository) shouldProbe() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastCheck) <= recoveryInterval {
		return false
	}
	r.lastCheck = time.Now()
	return true
}

func (r *FailoverProgressRepository) Get(ctx context.Context) (models.Progress, error) {
	if !r.isDown.Load() {
		p, err := r.primary.Get(ctx)
		if err == nil {
			return p, nil
		}
		r.markDown(err)
	} else if r.shouldProbe() {
		p, err := r.primary.Get(ctx)
		if err == nil {
			r.logger.Info().Msg("primary progress repository recovered")
			r.isDown.Store(false)
			return p, nil
		}
	}

	return r.fallback.Get(ctx)
}

// Set always updates fallback so a later failover still sees the latest record.
func (r *FailoverProgressRepository) Set(ctx context.Context, p models.Progress) error {
	if err := r.fallback.Set(ctx, p); err != nil {
		return err
	}

	if !r.isDown.Load() {
		if err := r.primary.Set(ctx, p); err != nil {
			r.markDown(err)
		}
		return nil
	}

	if r.shouldProbe() {
		if err := r.primary.Set(ctx, p); err == nil {
			r.logger.Info().Msg("primary progress repository recovered")
			r.isDown.Store(false)
		}
	}
	return nil
}
