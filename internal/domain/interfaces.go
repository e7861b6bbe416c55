package domain

import (
	"context"
	"time"

	"ticketsync/internal/google"
	"ticketsync/internal/models"
	"ticketsync/internal/zendesk"
)

// TicketSource is the remote ticketing system.
type TicketSource interface {
	FetchPage(ctx context.Context, q zendesk.PageQuery, cursor string) (*zendesk.Page, error)
	FetchByID(ctx context.Context, id int64) (*models.Ticket, error)
	Count(ctx context.Context) (int64, error)
}

// Dataset is the canonical reconciliation store.
type Dataset interface {
	Merge(ctx context.Context, tickets []models.Ticket) (string, error)
	KnownIDs() map[int64]struct{}
	Rows() [][]string
	Len() int
	Path() string
}

type ProgressRepository interface {
	Set(ctx context.Context, p models.Progress) error
	Get(ctx context.Context) (models.Progress, error)
}

// RunLock serializes imports across processes sharing the same backend.
type RunLock interface {
	TryAcquire(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, owner string) error
}

type RunRepository interface {
	CreateImportRun(ctx context.Context, run *models.ImportRun) error
	UpdateImportRun(ctx context.Context, run *models.ImportRun) error
	ListImportRuns(ctx context.Context, limit int) ([]*models.ImportRun, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload any) error
}

type SheetsWriter interface {
	EnsureSheet(ctx context.Context) error
	WriteRows(ctx context.Context, rows [][]string, mode google.WriteMode) error
	UpsertRows(ctx context.Context, rows [][]string) error
}

type SyncWorker interface {
	EnqueueMirror(ctx context.Context, runID string) error
}
