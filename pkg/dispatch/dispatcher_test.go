package dispatch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mailcanary/renderq/pkg/core"
	"github.com/mailcanary/renderq/pkg/dispatch"
	"github.com/mailcanary/renderq/pkg/storage"
)

// recordingStarter captures the jobs handed to it in dispatch order.
type recordingStarter struct {
	mu   sync.Mutex
	jobs []string
}

func (r *recordingStarter) StartJob(ctx context.Context, job *core.RenderJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job.ID)
	return nil
}

func (r *recordingStarter) started() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.jobs...)
}

func setupDispatcher(t *testing.T) (*dispatch.Dispatcher, *storage.GormStorage, *recordingStarter, *core.Bus) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store := storage.NewGormStorage(db)
	require.NoError(t, store.Migrate(context.Background()))

	starter := &recordingStarter{}
	bus := core.NewBus()
	dispatcher := dispatch.New(store, starter, bus, dispatch.PollInterval(10*time.Millisecond))
	return dispatcher, store, starter, bus
}

func submitJob(t *testing.T, store *storage.GormStorage, id string, priority int, targets ...string) {
	t.Helper()
	ctx := context.Background()
	if len(targets) == 0 {
		targets = []string{"gmail-web"}
	}
	job := &core.RenderJob{
		ID:            id,
		HTML:          "<html></html>",
		TargetClients: core.ClientList(targets),
		Priority:      priority,
	}
	require.NoError(t, store.CreateJob(ctx, job))
	require.NoError(t, store.EnqueueJob(ctx, id))
}

func addWorker(t *testing.T, store *storage.GormStorage, id string, slots int, capabilities ...string) {
	t.Helper()
	if len(capabilities) == 0 {
		capabilities = []string{"gmail-web", "outlook-web"}
	}
	require.NoError(t, store.UpsertWorker(context.Background(), &core.WorkerNode{
		ID:                id,
		Capabilities:      core.ClientList(capabilities),
		MaxConcurrentJobs: slots,
		LastHeartbeat:     time.Now(),
	}))
}

func TestDispatchOnce_PriorityOrder(t *testing.T) {
	dispatcher, store, starter, _ := setupDispatcher(t)
	ctx := context.Background()

	submitJob(t, store, "low", 10)
	time.Sleep(2 * time.Millisecond)
	submitJob(t, store, "high", 90)
	addWorker(t, store, "worker-1", 1)

	dispatched, err := dispatcher.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, dispatched)
	assert.Equal(t, []string{"high"}, starter.started())

	// The low-priority job kept its place.
	job, err := store.GetJob(ctx, "low")
	require.NoError(t, err)
	assert.Equal(t, core.StatusQueued, job.Status)
}

func TestDispatchOnce_FIFOWithinPriority(t *testing.T) {
	dispatcher, store, starter, _ := setupDispatcher(t)

	submitJob(t, store, "first", 50)
	time.Sleep(2 * time.Millisecond)
	submitJob(t, store, "second", 50)
	addWorker(t, store, "worker-1", 2)

	dispatched, err := dispatcher.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, dispatched)
	assert.Equal(t, []string{"first", "second"}, starter.started())
}

func TestDispatchOnce_NoWorkers(t *testing.T) {
	dispatcher, store, starter, _ := setupDispatcher(t)

	submitJob(t, store, "job-1", 50)

	dispatched, err := dispatcher.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, dispatched)
	assert.Empty(t, starter.started())
}

func TestDispatchOnce_CapabilityGating(t *testing.T) {
	dispatcher, store, starter, _ := setupDispatcher(t)
	ctx := context.Background()

	submitJob(t, store, "job-1", 50, "gmail-web", "apple-mail")
	addWorker(t, store, "limited", 2, "gmail-web")

	// No worker can render apple-mail; the job stays queued.
	dispatched, err := dispatcher.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, dispatched)

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusQueued, job.Status)

	// A capable worker joins; the job dispatches on the next pass.
	addWorker(t, store, "capable", 2, "gmail-web", "apple-mail")
	dispatched, err = dispatcher.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, dispatched)
	assert.Equal(t, []string{"job-1"}, starter.started())
}

func TestDispatchOnce_DoesNotOversubscribeWithinPass(t *testing.T) {
	dispatcher, store, starter, _ := setupDispatcher(t)

	submitJob(t, store, "job-a", 50)
	time.Sleep(2 * time.Millisecond)
	submitJob(t, store, "job-b", 50)
	addWorker(t, store, "worker-1", 1)

	dispatched, err := dispatcher.DispatchOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, dispatched)
	assert.Equal(t, []string{"job-a"}, starter.started())
}

func TestDispatchOnce_LeastLoadedWorkerWins(t *testing.T) {
	dispatcher, store, starter, _ := setupDispatcher(t)
	ctx := context.Background()

	addWorker(t, store, "loaded", 4)
	addWorker(t, store, "empty", 4)
	submitJob(t, store, "warmup", 50)
	_, err := dispatcher.DispatchOnce(ctx)
	require.NoError(t, err)
	require.Len(t, starter.started(), 1)

	warmup, err := store.GetJob(ctx, "warmup")
	require.NoError(t, err)

	submitJob(t, store, "next", 50)
	_, err = dispatcher.DispatchOnce(ctx)
	require.NoError(t, err)

	next, err := store.GetJob(ctx, "next")
	require.NoError(t, err)
	assert.NotEqual(t, warmup.AssignedWorker, next.AssignedWorker)
}

func TestDispatchCreatesScreenshotsOnce(t *testing.T) {
	dispatcher, store, _, _ := setupDispatcher(t)
	ctx := context.Background()

	submitJob(t, store, "job-1", 50, "gmail-web", "outlook-web")
	addWorker(t, store, "worker-1", 2)

	_, err := dispatcher.DispatchOnce(ctx)
	require.NoError(t, err)

	shots, err := store.ScreenshotsForJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Len(t, shots, 2)

	// Requeue and redispatch; the rows are reused, not duplicated.
	requeued, err := store.RequeueJob(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, requeued)

	_, err = dispatcher.DispatchOnce(ctx)
	require.NoError(t, err)

	shots, err = store.ScreenshotsForJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Len(t, shots, 2)
}

func TestDispatchEmitsEvent(t *testing.T) {
	dispatcher, store, _, bus := setupDispatcher(t)
	events := bus.Subscribe()
	defer bus.Unsubscribe(events)

	submitJob(t, store, "job-1", 50)
	addWorker(t, store, "worker-1", 1)

	_, err := dispatcher.DispatchOnce(context.Background())
	require.NoError(t, err)

	select {
	case e := <-events:
		ev, ok := e.(*core.JobDispatched)
		require.True(t, ok)
		assert.Equal(t, "job-1", ev.Job.ID)
		assert.Equal(t, "worker-1", ev.WorkerID)
	case <-time.After(time.Second):
		t.Fatal("no JobDispatched event")
	}
}

func TestDispatchSkipsCancelledJob(t *testing.T) {
	dispatcher, store, starter, _ := setupDispatcher(t)
	ctx := context.Background()

	submitJob(t, store, "job-1", 50)
	addWorker(t, store, "worker-1", 1)
	_, err := store.CancelJob(ctx, "job-1")
	require.NoError(t, err)

	dispatched, err := dispatcher.DispatchOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, dispatched)
	assert.Empty(t, starter.started())
}
