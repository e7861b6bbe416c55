package ingest

import (
	"context"
	"fmt"
	"time"

	"ticketsync/internal/domain"
	"ticketsync/internal/google"
	"ticketsync/internal/models"
	"ticketsync/internal/store"
)

// Target receives the tickets of a run.
type Target interface {
	Name() string
	// BatchSize is the flush threshold during a full pull.
	BatchSize() int
	// Begin prepares the target for a run of the given kind.
	Begin(ctx context.Context, kind string) error
	// WriteBatch stores one flushed batch of a full pull.
	WriteBatch(ctx context.Context, tickets []models.Ticket) error
	// Merge overwrites tickets by id.
	Merge(ctx context.Context, tickets []models.Ticket) error
	Location() string
}

// FileTarget writes into the canonical dataset.
type FileTarget struct {
	dataset   domain.Dataset
	detailDir string
	details   *store.DetailLog
	now       func() time.Time
}

func NewFileTarget(dataset domain.Dataset) *FileTarget {
	return &FileTarget{dataset: dataset, now: time.Now}
}

// WithDetails also writes every record of a run, with tags and custom fields,
// to a timestamped CSV under dir.
func (t *FileTarget) WithDetails(dir string) *FileTarget {
	t.detailDir = dir
	return t
}

func (t *FileTarget) Name() string   { return models.TargetFile }
func (t *FileTarget) BatchSize() int { return models.FileBatchSize }

func (t *FileTarget) Begin(_ context.Context, kind string) error {
	t.details = nil
	if t.detailDir != "" {
		t.details = store.NewDetailLog(t.detailDir, kind, t.now())
	}
	return nil
}

func (t *FileTarget) WriteBatch(ctx context.Context, tickets []models.Ticket) error {
	return t.Merge(ctx, tickets)
}

func (t *FileTarget) Merge(ctx context.Context, tickets []models.Ticket) error {
	if _, err := t.dataset.Merge(ctx, tickets); err != nil {
		return fmt.Errorf("merge into dataset: %w", err)
	}
	if t.details != nil {
		if err := t.details.Append(ctx, tickets); err != nil {
			return fmt.Errorf("write detail export: %w", err)
		}
	}
	return nil
}

func (t *FileTarget) Location() string {
	return t.dataset.Path()
}

// SheetTarget writes into a spreadsheet tab.
type SheetTarget struct {
	sheets domain.SheetsWriter
	name   string
	// a full run replaces the tab with its first non-empty batch
	replacePending bool
}

func NewSheetTarget(sheets domain.SheetsWriter, sheetName string) *SheetTarget {
	return &SheetTarget{sheets: sheets, name: sheetName}
}

func (t *SheetTarget) Name() string   { return models.TargetSheet }
func (t *SheetTarget) BatchSize() int { return models.SheetBatchSize }

// Begin only makes sure the tab exists. Existing rows stay until a full run
// has tickets to put in their place.
func (t *SheetTarget) Begin(ctx context.Context, kind string) error {
	t.replacePending = kind == models.KindFull
	return t.sheets.EnsureSheet(ctx)
}

func (t *SheetTarget) WriteBatch(ctx context.Context, tickets []models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	mode := google.ModeAppend
	if t.replacePending {
		mode = google.ModeReplace
	}
	if err := t.sheets.WriteRows(ctx, rows(tickets), mode); err != nil {
		return fmt.Errorf("write to sheet: %w", err)
	}
	t.replacePending = false
	return nil
}

func (t *SheetTarget) Merge(ctx context.Context, tickets []models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	if err := t.sheets.UpsertRows(ctx, rows(tickets)); err != nil {
		return fmt.Errorf("upsert into sheet: %w", err)
	}
	return nil
}

func (t *SheetTarget) Location() string {
	return "sheet:" + t.name
}

func rows(tickets []models.Ticket) [][]string {
	out := make([][]string, len(tickets))
	for i := range tickets {
		out[i] = tickets[i].Row()
	}
	return out
}
