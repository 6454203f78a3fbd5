package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mailcanary/renderq/pkg/core"
	"github.com/mailcanary/renderq/pkg/storage"
)

func setupStore(t *testing.T) *storage.GormStorage {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store := storage.NewGormStorage(db)
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func makeJob(t *testing.T, store *storage.GormStorage, id string, priority int) *core.RenderJob {
	t.Helper()
	job := &core.RenderJob{
		ID:            id,
		HTML:          "<html><body>hello</body></html>",
		TargetClients: core.ClientList{"gmail-web", "outlook-web"},
		Priority:      priority,
	}
	require.NoError(t, store.CreateJob(context.Background(), job))
	return job
}

func makeWorker(t *testing.T, store *storage.GormStorage, id string, slots int) *core.WorkerNode {
	t.Helper()
	worker := &core.WorkerNode{
		ID:                id,
		Type:              core.WorkerDocker,
		Capabilities:      core.ClientList{"gmail-web", "outlook-web", "apple-mail"},
		MaxConcurrentJobs: slots,
		LastHeartbeat:     time.Now(),
	}
	require.NoError(t, store.UpsertWorker(context.Background(), worker))
	return worker
}

// dispatchJob drives a job to processing state on the given worker.
func dispatchJob(t *testing.T, store *storage.GormStorage, jobID, workerID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.EnqueueJob(ctx, jobID))
	require.NoError(t, store.AssignJob(ctx, jobID, workerID))
}

func TestGormStorage_CreateJobDefaults(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	job := &core.RenderJob{
		HTML:          "<html></html>",
		TargetClients: core.ClientList{"gmail-web"},
	}
	require.NoError(t, store.CreateJob(ctx, job))
	require.NotEmpty(t, job.ID)

	loaded, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, loaded.Status)
	assert.Equal(t, 3, loaded.MaxRetries)
	assert.Equal(t, core.DefaultViewport, loaded.Viewport)
	assert.Equal(t, 0, loaded.Progress)
	assert.Equal(t, core.ClientList{"gmail-web"}, loaded.TargetClients)
}

func TestGormStorage_GetJobNotFound(t *testing.T) {
	store := setupStore(t)

	_, err := store.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrJobNotFound)
}

func TestGormStorage_CompleteJobRequiresProcessing(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	job := makeJob(t, store, "job-1", 0)

	// Still pending, not processing.
	err := store.CompleteJob(ctx, job.ID)
	assert.ErrorIs(t, err, core.ErrSchedulingConflict)
}

func TestGormStorage_CompleteJobLifecycle(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	job := makeJob(t, store, "job-1", 10)
	makeWorker(t, store, "worker-1", 1)
	dispatchJob(t, store, job.ID, "worker-1")

	require.NoError(t, store.CompleteJob(ctx, job.ID))

	loaded, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, loaded.Status)
	assert.Equal(t, 100, loaded.Progress)
	assert.NotNil(t, loaded.CompletedAt)
	assert.Greater(t, int64(loaded.ActualDuration), int64(0))

	// Queue entry is gone.
	pos, err := store.QueuePosition(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, -1, pos)

	// Completing twice is a conflict, never a double write.
	err = store.CompleteJob(ctx, job.ID)
	assert.ErrorIs(t, err, core.ErrSchedulingConflict)
}

func TestGormStorage_FailJobRecordsMessage(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	job := makeJob(t, store, "job-1", 0)
	require.NoError(t, store.EnqueueJob(ctx, job.ID))

	require.NoError(t, store.FailJob(ctx, job.ID, "driver crashed"))

	loaded, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, loaded.Status)
	assert.Equal(t, "driver crashed", loaded.ErrorMessage)

	entries, err := store.PendingEntries(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Terminal jobs cannot fail again.
	err = store.FailJob(ctx, job.ID, "again")
	assert.ErrorIs(t, err, core.ErrSchedulingConflict)
}

func TestGormStorage_CancelJobReturnsPreviousStatus(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	job := makeJob(t, store, "job-1", 0)
	require.NoError(t, store.EnqueueJob(ctx, job.ID))

	previous, err := store.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusQueued, previous)

	loaded, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusCancelled, loaded.Status)
	assert.NotNil(t, loaded.CancelledAt)
}

func TestGormStorage_CancelTerminalJob(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	job := makeJob(t, store, "job-1", 0)
	require.NoError(t, store.EnqueueJob(ctx, job.ID))
	require.NoError(t, store.FailJob(ctx, job.ID, "boom"))

	_, err := store.CancelJob(ctx, job.ID)
	assert.ErrorIs(t, err, core.ErrCannotCancel)
}

func TestGormStorage_ProgressNeverDecreases(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	job := makeJob(t, store, "job-1", 0)
	makeWorker(t, store, "worker-1", 1)
	dispatchJob(t, store, job.ID, "worker-1")

	require.NoError(t, store.SetJobProgress(ctx, job.ID, 60))
	require.NoError(t, store.SetJobProgress(ctx, job.ID, 30)) // stale write, ignored

	loaded, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, loaded.Progress)
}

func TestGormStorage_RequeueJobReturnsToQueue(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	job := makeJob(t, store, "job-1", 20)
	makeWorker(t, store, "worker-1", 1)
	dispatchJob(t, store, job.ID, "worker-1")

	requeued, err := store.RequeueJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, requeued)

	loaded, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusQueued, loaded.Status)
	assert.Equal(t, 1, loaded.RetryCount)
	assert.Empty(t, loaded.AssignedWorker)

	entries, err := store.PendingEntries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, job.ID, entries[0].JobID)
}

func TestGormStorage_RequeueJobExhaustsRetries(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	job := &core.RenderJob{
		ID:            "job-1",
		HTML:          "<html></html>",
		TargetClients: core.ClientList{"gmail-web"},
		MaxRetries:    1,
	}
	require.NoError(t, store.CreateJob(ctx, job))
	makeWorker(t, store, "worker-1", 2)

	dispatchJob(t, store, job.ID, "worker-1")
	requeued, err := store.RequeueJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, requeued)

	// Second loss exceeds the budget.
	require.NoError(t, store.AssignJob(ctx, job.ID, "worker-1"))
	requeued, err = store.RequeueJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, requeued)

	loaded, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, loaded.Status)
	assert.Equal(t, "worker unavailable", loaded.ErrorMessage)
}

func TestGormStorage_RequeueJobIdempotent(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	job := makeJob(t, store, "job-1", 0)
	require.NoError(t, store.EnqueueJob(ctx, job.ID))

	// Not processing; requeue is a no-op, not an error.
	requeued, err := store.RequeueJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, requeued)

	loaded, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusQueued, loaded.Status)
	assert.Equal(t, 0, loaded.RetryCount)
}
