package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"ticketsync/internal/domain"

	"github.com/rs/zerolog"
)

var (
	// ErrImportRunning is returned when an import is already in progress.
	ErrImportRunning = errors.New("an import is already running")
	// ErrClosed is returned once the orchestrator is shutting down.
	ErrClosed = errors.New("importer is shutting down")
)

// lockTTL bounds how long a crashed process can block other importers.
const lockTTL = 6 * time.Hour

// guard admits one run per process and, with a shared lock, one run per backend.
type guard struct {
	running atomic.Bool
	lock    domain.RunLock
	logger  *zerolog.Logger
}

func (g *guard) acquire(ctx context.Context, owner string) error {
	if !g.running.CompareAndSwap(false, true) {
		return ErrImportRunning
	}
	if g.lock == nil {
		return nil
	}

	ok, err := g.lock.TryAcquire(ctx, owner, lockTTL)
	if err != nil {
		// shared backend unavailable: the process-local flag still holds
		g.logger.Warn().Err(err).Msg("run lock unavailable, continuing with local guard")
		return nil
	}
	if !ok {
		g.running.Store(false)
		return ErrImportRunning
	}
	return nil
}

func (g *guard) release(ctx context.Context, owner string) {
	if g.lock != nil {
		if err := g.lock.Release(context.WithoutCancel(ctx), owner); err != nil {
			g.logger.Warn().Err(err).Msg("failed to release run lock")
		}
	}
	g.running.Store(false)
}

func (g *guard) busy() bool {
	return g.running.Load()
}
