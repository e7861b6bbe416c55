package database

import (
	"context"
	"testing"
	"time"

	"ticketsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportRunLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	run := &models.ImportRun{
		ID:     "run-1",
		Kind:   models.KindFull,
		Target: models.TargetFile,
		State:  models.StateRunning,
	}
	require.NoError(t, db.CreateImportRun(ctx, run))
	assert.False(t, run.StartedAt.IsZero())

	got, err := db.GetImportRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateRunning, got.State)
	assert.Nil(t, got.FinishedAt)
	assert.Nil(t, got.Error)

	finished := time.Now()
	run.State = models.StateDone
	run.Processed = 120
	run.Expected = 125
	run.GapCandidates = 5
	run.GapRecovered = 3
	run.Message = "done with discrepancy"
	run.FinishedAt = &finished
	require.NoError(t, db.UpdateImportRun(ctx, run))

	got, err = db.GetImportRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateDone, got.State)
	assert.Equal(t, 120, got.Processed)
	assert.Equal(t, int64(125), got.Expected)
	assert.Equal(t, 3, got.GapRecovered)
	assert.Equal(t, "done with discrepancy", got.Message)
	require.NotNil(t, got.FinishedAt)
	assert.WithinDuration(t, finished, *got.FinishedAt, time.Second)
}

func TestImportRunNotFound(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.GetImportRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	err = db.UpdateImportRun(ctx, &models.ImportRun{ID: "missing", State: models.StateDone})
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListImportRuns(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, db.CreateImportRun(ctx, &models.ImportRun{
			ID:        id,
			Kind:      models.KindIncremental,
			Target:    models.TargetFile,
			State:     models.StateDone,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	runs, err := db.ListImportRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
}

func TestMarkInterruptedRuns(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateImportRun(ctx, &models.ImportRun{ID: "stale", Kind: models.KindFull, Target: models.TargetFile, State: models.StateRunning}))
	require.NoError(t, db.CreateImportRun(ctx, &models.ImportRun{ID: "ok", Kind: models.KindFull, Target: models.TargetFile, State: models.StateDone}))

	n, err := db.MarkInterruptedRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stale, err := db.GetImportRun(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, models.StateError, stale.State)
	require.NotNil(t, stale.Error)
	assert.Contains(t, *stale.Error, "interrupted")

	ok, err := db.GetImportRun(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, models.StateDone, ok.State)
}
