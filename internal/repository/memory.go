package repository

import (
	"context"
	"sync"
	"time"

	"ticketsync/internal/models"
)

type MemoryProgressRepository struct {
	mu       sync.RWMutex
	progress models.Progress
}

func NewMemoryProgressRepository() *MemoryProgressRepository {
	return &MemoryProgressRepository{progress: models.IdleProgress()}
}

func (r *MemoryProgressRepository) Get(ctx context.Context) (models.Progress, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.progress, nil
}

func (r *MemoryProgressRepository) Set(ctx context.Context, p models.Progress) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	r.mu.Lock()
	r.progress = p
	r.mu.Unlock()
	return nil
}

// MemoryRunLock is a process-local RunLock.
type MemoryRunLock struct {
	mu        sync.Mutex
	owner     string
	expiresAt time.Time
}

func NewMemoryRunLock() *MemoryRunLock {
	return &MemoryRunLock{}
}

func (l *MemoryRunLock) TryAcquire(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if l.owner != "" && (l.expiresAt.IsZero() || now.Before(l.expiresAt)) {
		return false, nil
	}

	l.owner = owner
	l.expiresAt = time.Time{}
	if ttl > 0 {
		l.expiresAt = now.Add(ttl)
	}
	return true, nil
}

func (l *MemoryRunLock) Release(ctx context.Context, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner == owner {
		l.owner = ""
		l.expiresAt = time.Time{}
	}
	return nil
}
