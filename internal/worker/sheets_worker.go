package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ticketsync/internal/database"
	"ticketsync/internal/domain"
	"ticketsync/internal/events"
	"ticketsync/internal/metrics"
	"ticketsync/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// TaskMirror replaces the spreadsheet contents with the canonical dataset.
const TaskMirror = "mirror"

// mirrorPayload is persisted in SyncTask.Payload as JSON.
type mirrorPayload struct {
	RunID string `json:"run_id,omitempty"`
	Sheet string `json:"sheet"`
}

// SheetsClient is the part of the spreadsheet transport the worker needs.
type SheetsClient interface {
	ReplaceAll(ctx context.Context, header []string, rows [][]string) error
	SheetName() string
}

// RowSource yields the rows to mirror.
type RowSource interface {
	Rows() [][]string
}

// SheetsWorker consumes sync_queue tasks and mirrors the dataset into Google Sheets.
type SheetsWorker struct {
	db            *database.DB
	sheets        SheetsClient
	rows          RowSource
	redis         *redis.Client
	events        domain.EventPublisher
	retryPolicy   RetryPolicy
	queue         chan models.SyncTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

// NewSheetsWorker builds a worker with sane defaults.
func NewSheetsWorker(db *database.DB, sheets SheetsClient, rows RowSource, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *SheetsWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &SheetsWorker{
		db:            db,
		sheets:        sheets,
		rows:          rows,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan models.SyncTask, 128),
		redisQueueKey: "ticketsync:sheets:queue",
		deadLetterKey: "ticketsync:sheets:deadletter",
		pollInterval:  2 * time.Second,
		batchSize:     20,
		logger:        logger,
	}
}

// SetEventPublisher enables sheet.synced events.
func (w *SheetsWorker) SetEventPublisher(p domain.EventPublisher) {
	w.events = p
}

// EnqueueMirror persists a mirror task and schedules it via redis or the in-memory queue.
func (w *SheetsWorker) EnqueueMirror(ctx context.Context, runID string) error {
	payloadBytes, err := json.Marshal(mirrorPayload{RunID: runID, Sheet: w.sheets.SheetName()})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	task := models.SyncTask{
		TaskType: TaskMirror,
		RunID:    runID,
		Payload:  string(payloadBytes),
		Status:   database.SyncStatusPending,
	}
	if err := w.db.CreateSyncTask(ctx, &task); err != nil {
		return fmt.Errorf("persist sync task: %w", err)
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, task); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("redis push failed, falling back to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("in-memory queue full, task left to polling")
	}
	return nil
}

// HandleImportFinished queues a mirror after every successful file import.
func (w *SheetsWorker) HandleImportFinished(e *events.Event) error {
	var p events.ImportEventPayload
	if err := e.Decode(&p); err != nil {
		return fmt.Errorf("decode import event: %w", err)
	}
	if p.State != models.StateDone || p.Target != models.TargetFile {
		return nil
	}
	return w.EnqueueMirror(context.Background(), p.RunID)
}

// Start launches the main loop; it stops when ctx is done.
func (w *SheetsWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("sheets worker started")
	defer w.logger.Info().Msg("sheets worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		tasks, err := w.db.GetPendingSyncTasks(ctx, w.batchSize)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("fetch pending sync tasks")
			}
			w.sleep(ctx)
			continue
		}
		if len(tasks) == 0 {
			w.sleep(ctx)
			continue
		}

		for i := range tasks {
			w.processTask(ctx, &tasks[i])
		}
	}
}

func (w *SheetsWorker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.pollInterval):
	}
}

func (w *SheetsWorker) tryLocalQueue() (models.SyncTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.SyncTask{}, false
	}
}

func (w *SheetsWorker) tryRedis(ctx context.Context) (models.SyncTask, bool) {
	if w.redis == nil {
		return models.SyncTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return models.SyncTask{}, false
		}
		w.logger.Warn().Err(err).Msg("redis BRPOP failed")
		return models.SyncTask{}, false
	}
	if len(res) != 2 {
		return models.SyncTask{}, false
	}
	var task models.SyncTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("decode redis task")
		return models.SyncTask{}, false
	}
	return task, true
}

func (w *SheetsWorker) processTask(ctx context.Context, task *models.SyncTask) {
	if task.TaskType != TaskMirror {
		w.failTask(ctx, task, fmt.Errorf("unknown task type: %s", task.TaskType))
		return
	}

	var payload mirrorPayload
	if err := json.Unmarshal([]byte(task.Payload), &payload); err != nil {
		w.failTask(ctx, task, fmt.Errorf("decode payload: %w", err))
		return
	}

	rows := w.rows.Rows()
	if err := w.sheets.ReplaceAll(ctx, models.CanonicalHeader, rows); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.db.UpdateSyncTaskStatus(ctx, task.ID, database.SyncStatusCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark completed")
	}
	metrics.IncSyncTask(database.SyncStatusCompleted)
	w.logger.Info().Int64("task_id", task.ID).Int("rows", len(rows)).Str("sheet", w.sheets.SheetName()).Msg("sheet mirrored")

	if w.events != nil {
		err := w.events.PublishJSON(events.EventSheetSynced, events.SheetSyncPayload{
			RunID: payload.RunID,
			Rows:  len(rows),
			Sheet: w.sheets.SheetName(),
		})
		if err != nil {
			w.logger.Warn().Err(err).Msg("publish sheet.synced")
		}
	}
}

func (w *SheetsWorker) retryOrFail(ctx context.Context, task *models.SyncTask, cause error) {
	attempt := task.RetryCount + 1
	if attempt >= w.retryPolicy.MaxRetries {
		w.failTask(ctx, task, cause)
		return
	}

	nextTime := time.Now().Add(w.retryPolicy.DelayFor(attempt, cause))
	if err := w.db.UpdateSyncTaskStatus(ctx, task.ID, database.SyncStatusRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark retry")
	}
	metrics.IncSyncTask(database.SyncStatusRetry)
	w.logger.Warn().Err(cause).Int64("task_id", task.ID).Int("attempt", attempt).Time("next_retry_at", nextTime).Msg("sheet mirror failed, will retry")
}

func (w *SheetsWorker) failTask(ctx context.Context, task *models.SyncTask, cause error) {
	if err := w.db.UpdateSyncTaskStatus(ctx, task.ID, database.SyncStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark failed")
	}
	metrics.IncSyncTask(database.SyncStatusFailed)
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Msg("sheet mirror failed permanently")
	w.pushDeadLetter(ctx, task)
}

func (w *SheetsWorker) pushRedis(ctx context.Context, task models.SyncTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, w.redisQueueKey, data).Err()
}

func (w *SheetsWorker) pushDeadLetter(ctx context.Context, task *models.SyncTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("encode deadletter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("deadletter push")
	}
}
