package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailcanary/renderq/pkg/core"
)

func TestUpsertWorkerKeepsJobCount(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	makeWorker(t, store, "worker-1", 2)
	job := makeJob(t, store, "job-1", 0)
	dispatchJob(t, store, job.ID, "worker-1")

	// Re-registration refreshes capabilities but not the live count.
	err := store.UpsertWorker(ctx, &core.WorkerNode{
		ID:                "worker-1",
		Type:              core.WorkerVM,
		Capabilities:      core.ClientList{"gmail-web"},
		MaxConcurrentJobs: 4,
		LastHeartbeat:     time.Now(),
	})
	require.NoError(t, err)

	worker, err := store.GetWorker(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, core.WorkerVM, worker.Type)
	assert.Equal(t, 4, worker.MaxConcurrentJobs)
	assert.Equal(t, 1, worker.CurrentJobCount)
}

func TestGetWorkerNotFound(t *testing.T) {
	store := setupStore(t)

	_, err := store.GetWorker(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrWorkerNotFound)
}

func TestAvailableWorkersFiltersCapacityAndStatus(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	makeWorker(t, store, "idle", 1)
	makeWorker(t, store, "full", 1)
	makeWorker(t, store, "gone", 1)

	job := makeJob(t, store, "job-1", 0)
	dispatchJob(t, store, job.ID, "full")
	require.NoError(t, store.MarkWorkerOffline(ctx, "gone"))

	available, err := store.AvailableWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, "idle", available[0].ID)
}

func TestHeartbeatRevivesOfflineWorker(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	makeWorker(t, store, "worker-1", 1)
	require.NoError(t, store.MarkWorkerOffline(ctx, "worker-1"))

	require.NoError(t, store.HeartbeatWorker(ctx, "worker-1", time.Now()))

	worker, err := store.GetWorker(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, core.WorkerIdle, worker.Status)
}

func TestHeartbeatUnknownWorker(t *testing.T) {
	store := setupStore(t)

	err := store.HeartbeatWorker(context.Background(), "missing", time.Now())
	assert.ErrorIs(t, err, core.ErrWorkerNotFound)
}

func TestStaleWorkers(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	stale := &core.WorkerNode{
		ID:                "stale",
		MaxConcurrentJobs: 1,
		LastHeartbeat:     time.Now().Add(-10 * time.Minute),
	}
	require.NoError(t, store.UpsertWorker(ctx, stale))
	makeWorker(t, store, "fresh", 1)

	// Already-offline workers are not reported again.
	gone := &core.WorkerNode{
		ID:                "gone",
		MaxConcurrentJobs: 1,
		LastHeartbeat:     time.Now().Add(-10 * time.Minute),
	}
	require.NoError(t, store.UpsertWorker(ctx, gone))
	require.NoError(t, store.MarkWorkerOffline(ctx, "gone"))

	workers, err := store.StaleWorkers(ctx, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, "stale", workers[0].ID)
}

func TestAssignJobTransitionsEverything(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	job := makeJob(t, store, "job-1", 0)
	makeWorker(t, store, "worker-1", 1)
	require.NoError(t, store.EnqueueJob(ctx, job.ID))

	require.NoError(t, store.AssignJob(ctx, job.ID, "worker-1"))

	loaded, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusProcessing, loaded.Status)
	assert.Equal(t, "worker-1", loaded.AssignedWorker)
	assert.NotNil(t, loaded.StartedAt)

	worker, err := store.GetWorker(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, core.WorkerBusy, worker.Status)
	assert.Equal(t, 1, worker.CurrentJobCount)

	assigned, err := store.JobsAssignedTo(ctx, "worker-1")
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, job.ID, assigned[0].ID)
}

func TestAssignJobRespectsCapacity(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	makeWorker(t, store, "worker-1", 1)
	jobA := makeJob(t, store, "job-a", 0)
	jobB := makeJob(t, store, "job-b", 0)
	require.NoError(t, store.EnqueueJob(ctx, jobA.ID))
	require.NoError(t, store.EnqueueJob(ctx, jobB.ID))

	require.NoError(t, store.AssignJob(ctx, jobA.ID, "worker-1"))
	err := store.AssignJob(ctx, jobB.ID, "worker-1")
	assert.ErrorIs(t, err, core.ErrSchedulingConflict)

	// The failed assignment rolled back completely.
	worker, err := store.GetWorker(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, 1, worker.CurrentJobCount)

	loaded, err := store.GetJob(ctx, jobB.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusQueued, loaded.Status)
	assert.Empty(t, loaded.AssignedWorker)
}

func TestAssignJobOnlyOnce(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	job := makeJob(t, store, "job-1", 0)
	makeWorker(t, store, "worker-1", 2)
	makeWorker(t, store, "worker-2", 2)
	require.NoError(t, store.EnqueueJob(ctx, job.ID))

	require.NoError(t, store.AssignJob(ctx, job.ID, "worker-1"))
	err := store.AssignJob(ctx, job.ID, "worker-2")
	assert.ErrorIs(t, err, core.ErrSchedulingConflict)

	// The loser's worker holds no slot.
	worker, err := store.GetWorker(ctx, "worker-2")
	require.NoError(t, err)
	assert.Equal(t, 0, worker.CurrentJobCount)
	assert.Equal(t, core.WorkerIdle, worker.Status)
}

func TestReleaseWorker(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	job := makeJob(t, store, "job-1", 0)
	makeWorker(t, store, "worker-1", 1)
	dispatchJob(t, store, job.ID, "worker-1")

	require.NoError(t, store.ReleaseWorker(ctx, "worker-1"))

	worker, err := store.GetWorker(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, 0, worker.CurrentJobCount)
	assert.Equal(t, core.WorkerIdle, worker.Status)

	// Releasing an empty worker is a no-op.
	require.NoError(t, store.ReleaseWorker(ctx, "worker-1"))
	worker, err = store.GetWorker(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, 0, worker.CurrentJobCount)
}

func TestFleetHealth(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	makeWorker(t, store, "idle-1", 2)
	makeWorker(t, store, "busy-1", 2)
	makeWorker(t, store, "gone-1", 2)

	job := makeJob(t, store, "job-1", 0)
	dispatchJob(t, store, job.ID, "busy-1")
	require.NoError(t, store.MarkWorkerOffline(ctx, "gone-1"))

	health, err := store.FleetHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), health.Idle)
	assert.Equal(t, int64(1), health.Busy)
	assert.Equal(t, int64(1), health.Offline)
	assert.Equal(t, int64(4), health.Capacity) // offline capacity excluded
	assert.Equal(t, int64(1), health.InFlight)
	assert.InDelta(t, 0.25, health.Utilization, 0.001)
}

func TestUpsertAndActiveClients(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertClient(ctx, &core.EmailClient{
		ID: "gmail-web", Vendor: "Google", Engine: "blink", Platform: "web", Active: true,
	}))
	require.NoError(t, store.UpsertClient(ctx, &core.EmailClient{
		ID: "legacy-client", Vendor: "Legacy", Engine: "trident", Platform: "desktop", Active: false,
	}))

	active, err := store.ActiveClients(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "gmail-web", active[0].ID)

	// Update flips activity off.
	require.NoError(t, store.UpsertClient(ctx, &core.EmailClient{
		ID: "gmail-web", Vendor: "Google", Engine: "blink", Platform: "web", Active: false,
	}))
	active, err = store.ActiveClients(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = store.GetClient(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrClientNotFound)
}
