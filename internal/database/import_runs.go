package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ticketsync/internal/models"
)

// ErrRunNotFound is returned when no run matches the id.
var ErrRunNotFound = errors.New("import run not found")

const importRunColumns = `id, kind, target, state, processed, expected, gap_candidates, gap_recovered,
              gap_truncated, message, error, started_at, finished_at`

func (db *DB) CreateImportRun(ctx context.Context, run *models.ImportRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	query := `INSERT INTO import_runs (` + importRunColumns + `)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		run.ID,
		run.Kind,
		run.Target,
		run.State,
		run.Processed,
		run.Expected,
		run.GapCandidates,
		run.GapRecovered,
		run.GapTruncated,
		run.Message,
		run.Error,
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create import run: %w", err)
	}
	return nil
}

func (db *DB) UpdateImportRun(ctx context.Context, run *models.ImportRun) error {
	query := `UPDATE import_runs SET state = ?, processed = ?, expected = ?, gap_candidates = ?,
              gap_recovered = ?, gap_truncated = ?, message = ?, error = ?, finished_at = ?
              WHERE id = ?`
	res, err := db.ExecContext(ctx, query,
		run.State,
		run.Processed,
		run.Expected,
		run.GapCandidates,
		run.GapRecovered,
		run.GapTruncated,
		run.Message,
		run.Error,
		run.FinishedAt,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update import run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (db *DB) GetImportRun(ctx context.Context, id string) (*models.ImportRun, error) {
	query := `SELECT ` + importRunColumns + ` FROM import_runs WHERE id = ?`
	run, err := scanImportRun(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import run: %w", err)
	}
	return run, nil
}

// ListImportRuns returns the most recent runs first.
func (db *DB) ListImportRuns(ctx context.Context, limit int) ([]*models.ImportRun, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + importRunColumns + ` FROM import_runs ORDER BY started_at DESC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list import runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.ImportRun
	for rows.Next() {
		run, err := scanImportRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan import run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// MarkInterruptedRuns closes runs left in running state by a previous process.
func (db *DB) MarkInterruptedRuns(ctx context.Context) (int64, error) {
	msg := "interrupted by restart"
	query := `UPDATE import_runs SET state = ?, error = ?, finished_at = ? WHERE state = ?`
	res, err := db.ExecContext(ctx, query, models.StateError, msg, time.Now(), models.StateRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted runs: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		db.logger.Warn().Int64("runs", n).Msg("marked interrupted import runs")
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImportRun(row rowScanner) (*models.ImportRun, error) {
	var run models.ImportRun
	err := row.Scan(
		&run.ID,
		&run.Kind,
		&run.Target,
		&run.State,
		&run.Processed,
		&run.Expected,
		&run.GapCandidates,
		&run.GapRecovered,
		&run.GapTruncated,
		&run.Message,
		&run.Error,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return &run, nil
}
