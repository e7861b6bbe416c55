// Package app assembles the import engine and its backends from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ticketsync/internal/config"
	"ticketsync/internal/database"
	"ticketsync/internal/domain"
	"ticketsync/internal/events"
	"ticketsync/internal/google"
	"ticketsync/internal/ingest"
	"ticketsync/internal/logging"
	"ticketsync/internal/models"
	"ticketsync/internal/repository"
	"ticketsync/internal/store"
	"ticketsync/internal/zendesk"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// App holds every long-lived dependency shared by the binaries.
type App struct {
	Config       *config.Config
	Logger       *zerolog.Logger
	DB           *database.DB
	Redis        *redis.Client
	Dataset      *store.Store
	Source       *zendesk.Client
	Sheets       *google.SheetsService
	Progress     domain.ProgressRepository
	Events       *events.EventBus
	Orchestrator *ingest.Orchestrator

	runLock *repository.RedisRunLock
	closers []func() error
}

// New wires the application. Redis and Sheets are optional unless the export mode needs Sheets.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	db, err := database.NewDB(cfg.Database.Path, logging.Component(logger, "database"))
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	a.Redis = initRedis(ctx, cfg, logger)
	if a.Redis != nil {
		client := a.Redis
		a.closers = append(a.closers, func() error { return repository.Close(client) })
	}

	memory := repository.NewMemoryProgressRepository()
	a.Progress = memory
	var lock domain.RunLock
	if a.Redis != nil {
		primary := repository.NewRedisProgressRepository(a.Redis, cfg.Redis.ProgressKey)
		a.Progress = repository.NewFailoverProgressRepository(primary, memory, logging.Component(logger, "progress"))
		a.runLock = repository.NewRedisRunLock(a.Redis, cfg.Redis.ProgressKey+":lock")
		lock = a.runLock
	}

	a.Dataset, err = store.Open(cfg.CanonicalPath(), logging.Component(logger, "store"))
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open canonical dataset: %w", err)
	}

	a.Source, err = zendesk.NewClient(ctx, cfg.Zendesk, logging.Component(logger, "zendesk"))
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("init ticketing client: %w", err)
	}

	a.Sheets, err = initSheets(ctx, cfg, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	fileTarget := ingest.NewFileTarget(a.Dataset)
	if cfg.Export.DetailFiles {
		fileTarget.WithDetails(cfg.Export.Dir)
	}
	var target ingest.Target = fileTarget
	if cfg.Export.Mode == models.TargetSheet {
		target = ingest.NewSheetTarget(a.Sheets, a.Sheets.SheetName())
	}

	a.Events = events.NewEventBus(logging.Component(logger, "events"))

	a.Orchestrator, err = ingest.New(ingest.Options{
		Source:     a.Source,
		Dataset:    a.Dataset,
		Target:     target,
		Progress:   a.Progress,
		Runs:       a.DB,
		Events:     a.Events,
		Lock:       lock,
		GapCeiling: cfg.Import.GapCeiling,
		GapDelay:   cfg.Import.GapDelay,
		PageSize:   cfg.Zendesk.PageSize,
		XLSXPath:   cfg.XLSXPath(),
		Logger:     logging.Component(logger, "ingest"),
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	return a, nil
}

// RecoverInterrupted closes out what a previous process left behind when it
// died mid-run: import runs still marked running, a running progress record
// and the shared run lock. Call it at startup, before any import can begin.
func (a *App) RecoverInterrupted(ctx context.Context) error {
	var errs []error

	if _, err := a.DB.MarkInterruptedRuns(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close interrupted runs: %w", err))
	}

	p, err := a.Progress.Get(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("read progress: %w", err))
	} else if p.State == models.StateRunning {
		p.State = models.StateError
		p.Message = "import interrupted by restart"
		p.Error = "interrupted by restart"
		p.UpdatedAt = time.Now()
		if err := a.Progress.Set(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("reset progress: %w", err))
		} else {
			a.Logger.Warn().Int("count", p.Count).Msg("reset stale running progress")
		}
	}

	if a.runLock != nil {
		if err := a.runLock.Reset(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases the backends in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

func initSheets(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*google.SheetsService, error) {
	if cfg.Google.CredentialsFile == "" || cfg.Google.SpreadsheetID == "" {
		return nil, nil
	}

	svc, err := google.NewSheetsService(ctx, cfg.Google, logging.Component(logger, "sheets"))
	if err != nil {
		if cfg.Export.Mode == models.TargetSheet {
			return nil, fmt.Errorf("init google sheets: %w", err)
		}
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return nil, nil
	}

	if email, err := google.ServiceAccountEmail(cfg.Google.CredentialsFile); err == nil {
		logger.Info().Str("service_account", email).Msg("google sheets connected, share the spreadsheet with this account")
	}
	return svc, nil
}
