// Package fleet provides the worker registry: node registration, heartbeat
// tracking, and reaping of workers that stop responding.
package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mailcanary/renderq/pkg/core"
)

// DefaultHeartbeatTimeout is how long a worker may go without heartbeating
// before the reaper considers it offline.
const DefaultHeartbeatTimeout = 5 * time.Minute

// Registry tracks worker nodes, their capacity, and liveness.
type Registry struct {
	storage core.Storage
	bus     *core.Bus
	logger  *slog.Logger
	timeout time.Duration
}

// RegistryOption configures a Registry.
type RegistryOption interface {
	applyRegistry(*Registry)
}

type registryOptionFunc func(*Registry)

func (f registryOptionFunc) applyRegistry(r *Registry) { f(r) }

// WithHeartbeatTimeout overrides the stale-worker timeout.
func WithHeartbeatTimeout(d time.Duration) RegistryOption {
	return registryOptionFunc(func(r *Registry) {
		r.timeout = d
	})
}

// WithLogger overrides the registry logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return registryOptionFunc(func(r *Registry) {
		r.logger = l
	})
}

// NewRegistry creates a worker registry.
func NewRegistry(storage core.Storage, bus *core.Bus, opts ...RegistryOption) *Registry {
	r := &Registry{
		storage: storage,
		bus:     bus,
		logger:  slog.Default(),
		timeout: DefaultHeartbeatTimeout,
	}
	for _, opt := range opts {
		opt.applyRegistry(r)
	}
	return r
}

// Register adds a worker to the fleet or refreshes an existing registration.
func (r *Registry) Register(ctx context.Context, worker *core.WorkerNode) error {
	if worker.LastHeartbeat.IsZero() {
		worker.LastHeartbeat = time.Now()
	}
	if err := r.storage.UpsertWorker(ctx, worker); err != nil {
		return fmt.Errorf("register worker: %w", err)
	}

	r.logger.Info("worker registered",
		"worker_id", worker.ID,
		"type", worker.Type,
		"capabilities", len(worker.Capabilities),
		"max_concurrent", worker.MaxConcurrentJobs)
	r.bus.Emit(&core.WorkerRegistered{Worker: worker, Timestamp: time.Now()})
	return nil
}

// Heartbeat records a liveness signal. Offline workers come back as
// idle or busy depending on their job count.
func (r *Registry) Heartbeat(ctx context.Context, workerID string) error {
	return r.storage.HeartbeatWorker(ctx, workerID, time.Now())
}

// Workers returns every registered worker.
func (r *Registry) Workers(ctx context.Context) ([]*core.WorkerNode, error) {
	return r.storage.ListWorkers(ctx)
}

// Health returns the fleet-health view for operational monitoring.
func (r *Registry) Health(ctx context.Context) (*core.FleetHealth, error) {
	return r.storage.FleetHealth(ctx)
}

// ReapStaleWorkers marks workers whose heartbeat is older than the timeout as
// offline and requeues their in-flight jobs: non-ready screenshots return to
// pending and the job's retry count is incremented. Jobs past their retry
// budget fail with "worker unavailable". Reaping a healthy fleet, or reaping
// twice, is a no-op.
func (r *Registry) ReapStaleWorkers(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-r.timeout)
	stale, err := r.storage.StaleWorkers(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find stale workers: %w", err)
	}

	reaped := 0
	for _, worker := range stale {
		requeued, err := r.reapWorker(ctx, worker)
		if err != nil {
			r.logger.Error("failed to reap worker", "worker_id", worker.ID, "error", err)
			continue
		}
		reaped++
		r.bus.Emit(&core.WorkerLost{Worker: worker, RequeuedJobs: requeued, Timestamp: time.Now()})
	}
	return reaped, nil
}

func (r *Registry) reapWorker(ctx context.Context, worker *core.WorkerNode) (int, error) {
	jobs, err := r.storage.JobsAssignedTo(ctx, worker.ID)
	if err != nil {
		return 0, err
	}

	if err := r.storage.MarkWorkerOffline(ctx, worker.ID); err != nil {
		return 0, err
	}
	r.logger.Warn("worker offline",
		"worker_id", worker.ID,
		"last_heartbeat", worker.LastHeartbeat,
		"in_flight", len(jobs))

	requeued := 0
	for _, job := range jobs {
		if _, err := r.storage.ResetScreenshots(ctx, job.ID); err != nil {
			r.logger.Error("failed to reset screenshots", "job_id", job.ID, "error", err)
			continue
		}
		ok, err := r.storage.RequeueJob(ctx, job.ID)
		if err != nil {
			r.logger.Error("failed to requeue job", "job_id", job.ID, "error", err)
			continue
		}
		if ok {
			requeued++
			r.bus.Emit(&core.JobRequeued{
				JobID:     job.ID,
				WorkerID:  worker.ID,
				Attempt:   job.RetryCount + 1,
				Timestamp: time.Now(),
			})
		} else {
			r.logger.Warn("job exhausted worker retries", "job_id", job.ID)
			r.bus.Emit(&core.JobFailed{
				Job:       job,
				Reason:    core.ErrWorkerUnavailable.Error(),
				Timestamp: time.Now(),
			})
		}
	}
	return requeued, nil
}
