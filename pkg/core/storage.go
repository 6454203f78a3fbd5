package core

import (
	"context"
	"time"
)

// FleetHealth is a derived view of the worker fleet for operational monitoring.
type FleetHealth struct {
	Idle    int64 `json:"idle"`
	Busy    int64 `json:"busy"`
	Offline int64 `json:"offline"`
	Error   int64 `json:"error"`

	// Capacity is the summed MaxConcurrentJobs of schedulable workers;
	// InFlight the summed CurrentJobCount. Utilization = InFlight/Capacity.
	Capacity    int64   `json:"capacity"`
	InFlight    int64   `json:"in_flight"`
	Utilization float64 `json:"utilization"`
}

// PriorityCount is one bucket of the queue-status view.
type PriorityCount struct {
	Priority int   `json:"priority"`
	Count    int64 `json:"count"`
}

// QueueStatus is a derived view of the pending queue.
type QueueStatus struct {
	Depth      int64           `json:"depth"`
	ByPriority []PriorityCount `json:"by_priority"`
	OldestWait time.Duration   `json:"oldest_wait"`
}

// Storage defines the persistence layer for the scheduler. Implementations
// must make every state transition conditional (compare-and-swap or a
// serializable transaction) so concurrent dispatcher and coordinator
// instances never double-assign a job or oversubscribe a worker.
type Storage interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Job lifecycle
	CreateJob(ctx context.Context, job *RenderJob) error
	GetJob(ctx context.Context, jobID string) (*RenderJob, error)
	GetJobsByStatus(ctx context.Context, status JobStatus, limit int) ([]*RenderJob, error)
	JobsAssignedTo(ctx context.Context, workerID string) ([]*RenderJob, error)
	// CompleteJob transitions a processing job to completed, recording the
	// actual duration. Returns ErrSchedulingConflict if the job is not processing.
	CompleteJob(ctx context.Context, jobID string) error
	// FailJob transitions a non-terminal job to failed with a sanitized message.
	FailJob(ctx context.Context, jobID string, errMsg string) error
	// CancelJob transitions a cancellable job to cancelled and removes its
	// queue entry. Returns the status the job held before cancellation, or
	// ErrCannotCancel if the job is already terminal.
	CancelJob(ctx context.Context, jobID string) (JobStatus, error)
	// SetJobProgress updates progress while the job is processing. Progress
	// never decreases; stale writes are ignored.
	SetJobProgress(ctx context.Context, jobID string, progress int) error
	// RequeueJob returns a processing job to the queue after its worker was
	// lost, incrementing the job's retry count. When the retry budget is
	// exhausted the job is failed with ErrWorkerUnavailable instead; the
	// boolean reports whether the job was actually requeued. Terminal jobs
	// are left untouched.
	RequeueJob(ctx context.Context, jobID string) (bool, error)

	// Queue
	// EnqueueJob creates the queue entry and flips the job from pending to queued.
	EnqueueJob(ctx context.Context, jobID string) error
	// PendingEntries returns unassigned entries ordered by priority DESC,
	// queued_at ASC.
	PendingEntries(ctx context.Context, limit int) ([]*QueueEntry, error)
	RemoveQueueEntry(ctx context.Context, jobID string) error
	// QueuePosition returns the zero-based rank of the job among unassigned
	// entries, or -1 if the job has no pending entry.
	QueuePosition(ctx context.Context, jobID string) (int, error)
	QueueStatus(ctx context.Context) (*QueueStatus, error)

	// Workers
	UpsertWorker(ctx context.Context, worker *WorkerNode) error
	GetWorker(ctx context.Context, workerID string) (*WorkerNode, error)
	ListWorkers(ctx context.Context) ([]*WorkerNode, error)
	// AvailableWorkers returns schedulable workers with spare capacity.
	AvailableWorkers(ctx context.Context) ([]*WorkerNode, error)
	// HeartbeatWorker records liveness; an offline worker transitions back to
	// idle or busy based on its current job count.
	HeartbeatWorker(ctx context.Context, workerID string, at time.Time) error
	StaleWorkers(ctx context.Context, cutoff time.Time) ([]*WorkerNode, error)
	// MarkWorkerOffline sets the worker offline and zeroes its job count.
	MarkWorkerOffline(ctx context.Context, workerID string) error
	// AssignJob atomically increments the worker's job count, stamps the queue
	// entry, and transitions the job from queued to processing. Any condition
	// failing rolls the whole assignment back with ErrSchedulingConflict.
	AssignJob(ctx context.Context, jobID string, workerID string) error
	// ReleaseWorker returns one capacity slot, flipping the worker to idle
	// when its count reaches zero. A no-op for workers holding no slots.
	ReleaseWorker(ctx context.Context, workerID string) error

	// Email clients
	UpsertClient(ctx context.Context, client *EmailClient) error
	GetClient(ctx context.Context, clientID string) (*EmailClient, error)
	ActiveClients(ctx context.Context) ([]*EmailClient, error)

	// Screenshots
	CreateScreenshots(ctx context.Context, shots []*Screenshot) error
	ScreenshotsForJob(ctx context.Context, jobID string) ([]*Screenshot, error)
	PendingScreenshots(ctx context.Context, jobID string) ([]*Screenshot, error)
	// ClaimScreenshot transitions pending -> capturing for one attempt.
	ClaimScreenshot(ctx context.Context, screenshotID string, workerID string) error
	// MarkScreenshotProcessing transitions capturing -> processing.
	MarkScreenshotProcessing(ctx context.Context, screenshotID string) error
	// CompleteScreenshot transitions processing -> ready with the image reference.
	CompleteScreenshot(ctx context.Context, screenshotID string, imageRef string, took time.Duration) error
	// RetryScreenshot records a failed attempt. The task returns to pending
	// while retries remain (reported true) and fails permanently otherwise.
	RetryScreenshot(ctx context.Context, screenshotID string, errMsg string) (bool, error)
	// FailScreenshot fails the task immediately, bypassing remaining retries.
	FailScreenshot(ctx context.Context, screenshotID string, errMsg string) error
	// ResetScreenshots returns a job's non-terminal screenshots to pending,
	// clearing any claim. Used when a worker is reaped.
	ResetScreenshots(ctx context.Context, jobID string) (int64, error)

	// Results
	// SaveResult writes the aggregate result exactly once; a second write for
	// the same job returns ErrResultExists.
	SaveResult(ctx context.Context, result *TestResult) error
	GetResult(ctx context.Context, jobID string) (*TestResult, error)

	// Fleet view
	FleetHealth(ctx context.Context) (*FleetHealth, error)
}
