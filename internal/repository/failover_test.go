package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"ticketsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) Get(ctx context.Context) (models.Progress, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.Progress), args.Error(1)
}

func (m *mockRepo) Set(ctx context.Context, p models.Progress) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func TestFailoverProgressRepository(t *testing.T) {
	primary := new(mockRepo)
	fallback := new(mockRepo)
	logger := zerolog.New(io.Discard)
	repo := NewFailoverProgressRepository(primary, fallback, &logger)
	ctx := context.Background()

	running := models.Progress{State: models.StateRunning, Count: 1}
	done := models.Progress{State: models.StateDone, Count: 2}

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("Get", ctx).Return(running, nil).Once()

		got, err := repo.Get(ctx)
		assert.NoError(t, err)
		assert.Equal(t, running, got)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		primary.On("Get", ctx).Return(models.Progress{}, errors.New("fail")).Once()
		fallback.On("Get", ctx).Return(done, nil).Once()

		got, err := repo.Get(ctx)
		assert.NoError(t, err)
		assert.Equal(t, done, got)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("DownSkipsPrimary", func(t *testing.T) {
		repo.isDown.Store(true)
		repo.lastCheck = time.Now()
		fallback.On("Get", ctx).Return(done, nil).Once()

		_, err := repo.Get(ctx)
		assert.NoError(t, err)
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		repo.isDown.Store(true)
		repo.lastCheck = time.Now().Add(-2 * time.Minute)
		primary.On("Get", ctx).Return(running, nil).Once()

		got, err := repo.Get(ctx)
		assert.NoError(t, err)
		assert.Equal(t, running, got)
		assert.False(t, repo.isDown.Load())
		primary.AssertExpectations(t)
	})

	t.Run("RecoveryAttemptFail", func(t *testing.T) {
		repo.isDown.Store(true)
		repo.lastCheck = time.Now().Add(-2 * time.Minute)
		primary.On("Get", ctx).Return(models.Progress{}, errors.New("still fail")).Once()
		fallback.On("Get", ctx).Return(done, nil).Once()

		_, err := repo.Get(ctx)
		assert.NoError(t, err)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("SetWritesBoth", func(t *testing.T) {
		repo.isDown.Store(false)
		fallback.On("Set", ctx, running).Return(nil).Once()
		primary.On("Set", ctx, running).Return(nil).Once()

		assert.NoError(t, repo.Set(ctx, running))
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("SetFailover", func(t *testing.T) {
		repo.isDown.Store(false)
		fallback.On("Set", ctx, done).Return(nil).Once()
		primary.On("Set", ctx, done).Return(errors.New("fail")).Once()

		assert.NoError(t, repo.Set(ctx, done))
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("SetFallbackError", func(t *testing.T) {
		fallback.On("Set", ctx, running).Return(errors.New("memory full")).Once()
		assert.Error(t, repo.Set(ctx, running))
		fallback.AssertExpectations(t)
	})
}
