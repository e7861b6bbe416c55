package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ticketsync/internal/domain"
	"ticketsync/internal/events"
	"ticketsync/internal/gapfill"
	"ticketsync/internal/metrics"
	"ticketsync/internal/models"
	"ticketsync/internal/repository"
	"ticketsync/internal/zendesk"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type xlsxExporter interface {
	ExportXLSX(path string) error
}

// Options wires an Orchestrator. Source and Dataset are required.
type Options struct {
	Source  domain.TicketSource
	Dataset domain.Dataset
	// Target defaults to the canonical dataset.
	Target   Target
	Progress domain.ProgressRepository
	Runs     domain.RunRepository
	Events   domain.EventPublisher
	Lock     domain.RunLock

	GapCeiling int
	GapDelay   time.Duration
	PageSize   int
	// XLSXPath, when set, receives a workbook snapshot after successful file runs.
	XLSXPath string

	Logger *zerolog.Logger
	Now    func() time.Time
}

// Orchestrator drives full and incremental imports, one at a time.
type Orchestrator struct {
	source   domain.TicketSource
	dataset  domain.Dataset
	target   Target
	progress domain.ProgressRepository
	runs     domain.RunRepository
	events   domain.EventPublisher

	gapCeiling int
	gapDelay   time.Duration
	pageSize   int
	xlsxPath   string

	guard   guard
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
	logger  *zerolog.Logger
	now     func() time.Time
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Source == nil {
		return nil, errors.New("ingest: ticket source is required")
	}
	if opts.Dataset == nil {
		return nil, errors.New("ingest: dataset is required")
	}

	o := &Orchestrator{
		source:     opts.Source,
		dataset:    opts.Dataset,
		target:     opts.Target,
		progress:   opts.Progress,
		runs:       opts.Runs,
		events:     opts.Events,
		gapCeiling: opts.GapCeiling,
		gapDelay:   opts.GapDelay,
		pageSize:   opts.PageSize,
		xlsxPath:   opts.XLSXPath,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if o.target == nil {
		o.target = NewFileTarget(opts.Dataset)
	}
	if o.progress == nil {
		o.progress = repository.NewMemoryProgressRepository()
	}
	if o.gapCeiling <= 0 {
		o.gapCeiling = models.DefaultGapCeiling
	}
	if o.gapDelay < 0 {
		o.gapDelay = models.DefaultGapDelay
	}
	if o.logger == nil {
		nop := zerolog.Nop()
		o.logger = &nop
	}
	if o.now == nil {
		o.now = time.Now
	}
	o.guard = guard{lock: opts.Lock, logger: o.logger}

	return o, nil
}

// Running reports whether this process is currently importing.
func (o *Orchestrator) Running() bool {
	return o.guard.busy()
}

// Close refuses new runs with ErrClosed and waits for the ones in flight,
// scheduled runs included.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closing = true
	o.mu.Unlock()
	o.wg.Wait()
}

// admit takes the single-flight guard and registers the run with the WaitGroup.
func (o *Orchestrator) admit(ctx context.Context, runID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closing {
		return ErrClosed
	}
	if err := o.guard.acquire(ctx, runID); err != nil {
		return err
	}
	o.wg.Add(1)
	return nil
}

func (o *Orchestrator) done(ctx context.Context, runID string) {
	o.guard.release(ctx, runID)
	o.wg.Done()
}

// RunFull pulls every ticket, fills id gaps and checks the total against the source count.
func (o *Orchestrator) RunFull(ctx context.Context) (*Report, error) {
	runID := uuid.NewString()
	if err := o.admit(ctx, runID); err != nil {
		return nil, err
	}
	defer o.done(ctx, runID)

	return o.execute(ctx, runID, models.KindFull, o.full)
}

// RunIncremental merges tickets updated within lookback.
func (o *Orchestrator) RunIncremental(ctx context.Context, lookback time.Duration) (*Report, error) {
	if lookback <= 0 {
		return nil, fmt.Errorf("lookback must be positive, got %s", lookback)
	}
	runID := uuid.NewString()
	if err := o.admit(ctx, runID); err != nil {
		return nil, err
	}
	defer o.done(ctx, runID)

	return o.execute(ctx, runID, models.KindIncremental, o.incremental(lookback))
}

// StartFull starts a full import in the background and returns its run id.
// ctx must outlive the caller's request; cancelling it aborts the run.
func (o *Orchestrator) StartFull(ctx context.Context) (string, error) {
	return o.start(ctx, models.KindFull, o.full)
}

// StartIncremental starts an incremental import in the background and returns its run id.
func (o *Orchestrator) StartIncremental(ctx context.Context, lookback time.Duration) (string, error) {
	if lookback <= 0 {
		return "", fmt.Errorf("lookback must be positive, got %s", lookback)
	}
	return o.start(ctx, models.KindIncremental, o.incremental(lookback))
}

func (o *Orchestrator) start(ctx context.Context, kind string, body func(context.Context, *Report)) (string, error) {
	runID := uuid.NewString()
	if err := o.admit(ctx, runID); err != nil {
		return "", err
	}

	go func() {
		defer o.done(ctx, runID)
		_, _ = o.execute(ctx, runID, kind, body)
	}()
	return runID, nil
}

func (o *Orchestrator) execute(ctx context.Context, runID, kind string, body func(context.Context, *Report)) (*Report, error) {
	rep := &Report{
		RunID:     runID,
		Kind:      kind,
		Target:    o.target.Name(),
		State:     models.StateRunning,
		Location:  o.target.Location(),
		Expected:  -1,
		StartedAt: o.now(),
	}
	logger := o.logger.With().Str("run_id", runID).Str("kind", kind).Str("target", rep.Target).Logger()

	logger.Info().Msg("import started")
	metrics.ImportStarted()
	o.setProgress(ctx, models.StateRunning, 0, fmt.Sprintf("%s import started", kind), "")
	o.recordStart(ctx, rep)
	o.publish(events.EventImportStarted, rep)

	body(ctx, rep)
	o.finish(ctx, rep)

	if rep.Err != nil {
		logger.Error().Err(rep.Err).Int("processed", rep.Processed).Msg("import failed")
		return rep, rep.Err
	}
	logger.Info().
		Int("processed", rep.Processed).
		Int64("expected", rep.Expected).
		Bool("partial", rep.Partial()).
		Dur("elapsed", rep.FinishedAt.Sub(rep.StartedAt)).
		Msg("import finished")
	return rep, nil
}

func (o *Orchestrator) full(ctx context.Context, rep *Report) {
	if err := o.target.Begin(ctx, models.KindFull); err != nil {
		rep.Err = fmt.Errorf("prepare %s target: %w", o.target.Name(), err)
		return
	}

	observed := make(map[int64]struct{})
	batchSize := o.target.BatchSize()
	batch := make([]models.Ticket, 0, batchSize)
	nextReport := models.ProgressEvery

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := o.target.WriteBatch(ctx, batch); err != nil {
			return fmt.Errorf("write batch: %w", err)
		}
		rep.Processed += len(batch)
		metrics.AddTickets(models.KindFull, len(batch))
		batch = batch[:0]

		if rep.Processed >= nextReport {
			o.setProgress(ctx, models.StateRunning, rep.Processed, fmt.Sprintf("Imported %d tickets", rep.Processed), "")
			nextReport = (rep.Processed/models.ProgressEvery + 1) * models.ProgressEvery
		}
		return nil
	}

	q := zendesk.PageQuery{SortBy: zendesk.SortCreated, PageSize: o.pageSize}
	cursor := ""
	for {
		page, err := o.source.FetchPage(ctx, q, cursor)
		if err != nil {
			if ctx.Err() != nil {
				rep.Err = fmt.Errorf("import cancelled: %w", ctx.Err())
				return
			}
			if !zendesk.Recoverable(err) {
				if ferr := flush(); ferr != nil {
					o.logger.Error().Err(ferr).Msg("failed to flush pending batch")
				}
				rep.Err = fmt.Errorf("fetch page: %w", err)
				return
			}
			o.logger.Warn().Err(err).Int("processed", rep.Processed+len(batch)).Msg("paging stopped early, keeping what was collected")
			rep.Interrupted = err
			break
		}

		for _, t := range page.Tickets {
			if _, seen := observed[t.ID]; seen {
				continue
			}
			observed[t.ID] = struct{}{}
			batch = append(batch, t)
			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					rep.Err = err
					return
				}
			}
		}

		if page.Next == "" {
			break
		}
		cursor = page.Next
	}

	if err := flush(); err != nil {
		rep.Err = err
		return
	}

	if err := o.fillGaps(ctx, rep, observed); err != nil {
		rep.Err = err
		return
	}

	expected, err := o.source.Count(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("could not read remote ticket count")
	} else {
		rep.Expected = expected
	}
}

func (o *Orchestrator) fillGaps(ctx context.Context, rep *Report, observed map[int64]struct{}) error {
	scanner := gapfill.NewScanner(o.source, o.gapCeiling, o.gapDelay, o.logger)
	scanner.OnProgress(func(done, total int) {
		o.setProgress(ctx, models.StateRunning, rep.Processed, fmt.Sprintf("Gap scan: %d/%d ids checked", done, total), "")
	})

	res, err := scanner.Scan(ctx, observed, o.dataset.KnownIDs())
	rep.Gap = res
	if res != nil {
		metrics.AddGap("recovered", len(res.Recovered))
		metrics.AddGap("not_found", res.NotFound)
		metrics.AddGap("failed", res.Failed)
		metrics.AddGap("skipped", res.Skipped)
	}
	if err != nil {
		return fmt.Errorf("gap scan: %w", err)
	}
	if len(res.Recovered) == 0 {
		return nil
	}

	// recovered tickets always reach the canonical dataset, whatever the target
	if _, ok := o.target.(*FileTarget); !ok {
		if _, err := o.dataset.Merge(ctx, res.Recovered); err != nil {
			return fmt.Errorf("merge recovered tickets: %w", err)
		}
	}
	if err := o.target.Merge(ctx, res.Recovered); err != nil {
		return fmt.Errorf("merge recovered tickets into %s: %w", o.target.Name(), err)
	}
	rep.Processed += len(res.Recovered)
	metrics.AddTickets(models.KindFull, len(res.Recovered))
	return nil
}

func (o *Orchestrator) incremental(lookback time.Duration) func(context.Context, *Report) {
	return func(ctx context.Context, rep *Report) {
		cutoff := o.now().Add(-lookback)

		if err := o.target.Begin(ctx, models.KindIncremental); err != nil {
			rep.Err = fmt.Errorf("prepare %s target: %w", o.target.Name(), err)
			return
		}

		var updated []models.Ticket
		index := make(map[int64]int)
		nextReport := models.ProgressEvery

		q := zendesk.PageQuery{SortBy: zendesk.SortUpdated, Since: cutoff, PageSize: o.pageSize}
		cursor := ""
		for {
			page, err := o.source.FetchPage(ctx, q, cursor)
			if err != nil {
				if ctx.Err() != nil {
					rep.Err = fmt.Errorf("import cancelled: %w", ctx.Err())
					return
				}
				if !zendesk.Recoverable(err) {
					rep.Err = fmt.Errorf("fetch page: %w", err)
					if len(updated) == 0 {
						return
					}
					if merr := o.target.Merge(ctx, updated); merr != nil {
						o.logger.Error().Err(merr).Int("collected", len(updated)).Msg("failed to merge collected tickets")
						return
					}
					rep.Processed = len(updated)
					metrics.AddTickets(models.KindIncremental, len(updated))
					return
				}
				o.logger.Warn().Err(err).Int("collected", len(updated)).Msg("paging stopped early, merging what was collected")
				rep.Interrupted = err
				break
			}

			for _, t := range page.Tickets {
				if !t.UpdatedAt.After(cutoff) {
					continue
				}
				if i, ok := index[t.ID]; ok {
					updated[i] = t
					continue
				}
				index[t.ID] = len(updated)
				updated = append(updated, t)
			}

			if len(updated) >= nextReport {
				o.setProgress(ctx, models.StateRunning, len(updated), fmt.Sprintf("Fetched %d updated tickets", len(updated)), "")
				nextReport = (len(updated)/models.ProgressEvery + 1) * models.ProgressEvery
			}

			if page.Next == "" {
				break
			}
			cursor = page.Next
		}

		if len(updated) == 0 {
			o.logger.Info().Time("cutoff", cutoff).Msg("no tickets updated since cutoff")
			return
		}
		if err := o.target.Merge(ctx, updated); err != nil {
			rep.Err = err
			return
		}
		rep.Processed = len(updated)
		metrics.AddTickets(models.KindIncremental, len(updated))
	}
}

func (o *Orchestrator) finish(ctx context.Context, rep *Report) {
	// the run must be closed out even when ctx was cancelled
	ctx = context.WithoutCancel(ctx)
	rep.FinishedAt = o.now()

	if rep.Err != nil {
		rep.State = models.StateError
		rep.Message = fmt.Sprintf("%s import failed after %d tickets", rep.Kind, rep.Processed)
		o.setProgress(ctx, rep.State, rep.Processed, rep.Message, rep.Err.Error())
	} else {
		rep.State = models.StateDone
		rep.Message = rep.summary()
		o.exportXLSX()
		o.setProgress(ctx, rep.State, rep.Processed, rep.Message, "")
	}

	metrics.ImportFinished(rep.Kind, rep.State, rep.FinishedAt.Sub(rep.StartedAt))
	metrics.SetDatasetSize(o.dataset.Len())
	o.recordFinish(ctx, rep)
	o.publish(events.EventImportFinished, rep)
}

func (o *Orchestrator) exportXLSX() {
	if o.xlsxPath == "" {
		return
	}
	if _, ok := o.target.(*FileTarget); !ok {
		return
	}
	exporter, ok := o.dataset.(xlsxExporter)
	if !ok {
		return
	}
	if err := exporter.ExportXLSX(o.xlsxPath); err != nil {
		o.logger.Error().Err(err).Str("path", o.xlsxPath).Msg("xlsx snapshot failed")
		return
	}
	o.logger.Info().Str("path", o.xlsxPath).Msg("xlsx snapshot written")
}

func (o *Orchestrator) setProgress(ctx context.Context, state string, count int, message, errMsg string) {
	p := models.Progress{
		State:     state,
		Count:     count,
		Message:   message,
		Error:     errMsg,
		UpdatedAt: o.now(),
	}
	if err := o.progress.Set(ctx, p); err != nil {
		o.logger.Warn().Err(err).Str("state", state).Msg("failed to publish progress")
	}
}

func (o *Orchestrator) recordStart(ctx context.Context, rep *Report) {
	if o.runs == nil {
		return
	}
	run := &models.ImportRun{
		ID:        rep.RunID,
		Kind:      rep.Kind,
		Target:    rep.Target,
		State:     models.StateRunning,
		Expected:  -1,
		StartedAt: rep.StartedAt,
	}
	if err := o.runs.CreateImportRun(ctx, run); err != nil {
		o.logger.Warn().Err(err).Str("run_id", rep.RunID).Msg("failed to record import run")
	}
}

func (o *Orchestrator) recordFinish(ctx context.Context, rep *Report) {
	if o.runs == nil {
		return
	}
	finished := rep.FinishedAt
	run := &models.ImportRun{
		ID:         rep.RunID,
		Kind:       rep.Kind,
		Target:     rep.Target,
		State:      rep.State,
		Processed:  rep.Processed,
		Expected:   rep.Expected,
		Message:    rep.Message,
		StartedAt:  rep.StartedAt,
		FinishedAt: &finished,
	}
	if rep.Gap != nil {
		run.GapCandidates = len(rep.Gap.Candidates)
		run.GapRecovered = len(rep.Gap.Recovered)
		run.GapTruncated = rep.Gap.Total - len(rep.Gap.Candidates)
	}
	if rep.Err != nil {
		msg := rep.Err.Error()
		run.Error = &msg
	}
	if err := o.runs.UpdateImportRun(ctx, run); err != nil {
		o.logger.Warn().Err(err).Str("run_id", rep.RunID).Msg("failed to update import run")
	}
}

func (o *Orchestrator) publish(eventType string, rep *Report) {
	if o.events == nil {
		return
	}
	payload := events.ImportEventPayload{
		RunID:     rep.RunID,
		Kind:      rep.Kind,
		Target:    rep.Target,
		State:     rep.State,
		Processed: int64(rep.Processed),
		Message:   rep.Message,
		Location:  rep.Location,
	}
	if err := o.events.PublishJSON(eventType, payload); err != nil {
		o.logger.Warn().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}
