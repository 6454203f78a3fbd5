// Package dispatch provides the dispatcher: the loop matching queued jobs to
// capable, available workers under their concurrency limits.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mailcanary/renderq/pkg/core"
)

// JobStarter receives dispatched jobs; the capture coordinator implements it.
type JobStarter interface {
	StartJob(ctx context.Context, job *core.RenderJob) error
}

// Config holds dispatcher configuration.
type Config struct {
	// PollInterval is how often the pending queue is scanned.
	PollInterval time.Duration
	// BatchSize bounds how many entries one pass considers.
	BatchSize int
	// StorageRetry governs retries of failed storage reads.
	StorageRetry RetryConfig
}

// Option configures a Dispatcher.
type Option interface {
	applyDispatcher(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) applyDispatcher(c *Config) { f(c) }

// PollInterval sets the queue scan interval. Default: 250ms.
func PollInterval(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.PollInterval = d
	})
}

// BatchSize sets how many queue entries one pass considers. Default: 50.
func BatchSize(n int) Option {
	return optionFunc(func(c *Config) {
		c.BatchSize = n
	})
}

// StorageRetry overrides the storage retry policy.
func StorageRetry(cfg RetryConfig) Option {
	return optionFunc(func(c *Config) {
		c.StorageRetry = cfg
	})
}

// Dispatcher continuously pulls the highest-ranked dispatchable job and
// assigns it to a worker. Assignment is a single atomic storage operation, so
// replicated dispatchers never double-assign a job or oversubscribe a worker;
// the losing instance simply moves on and retries next pass.
type Dispatcher struct {
	storage core.Storage
	starter JobStarter
	bus     *core.Bus
	logger  *slog.Logger
	config  Config
}

// New creates a dispatcher.
func New(storage core.Storage, starter JobStarter, bus *core.Bus, opts ...Option) *Dispatcher {
	config := Config{
		PollInterval: 250 * time.Millisecond,
		BatchSize:    50,
		StorageRetry: DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt.applyDispatcher(&config)
	}
	return &Dispatcher{
		storage: storage,
		starter: starter,
		bus:     bus,
		logger:  slog.Default(),
		config:  config,
	}
}

// Start runs the dispatch loop. Blocks until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := d.DispatchOnce(ctx); err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					d.logger.Error("dispatch pass failed", "error", err)
				}
			}
		}
	}
}

// DispatchOnce runs one pass over the pending queue in priority order and
// returns how many jobs were assigned. Jobs with no capable or available
// worker stay queued; they are never dropped.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	var entries []*core.QueueEntry
	err := RetryWithBackoff(ctx, d.config.StorageRetry, func() error {
		var fetchErr error
		entries, fetchErr = d.storage.PendingEntries(ctx, d.config.BatchSize)
		return fetchErr
	})
	if err != nil {
		return 0, fmt.Errorf("fetch pending entries: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	workers, err := d.storage.AvailableWorkers(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch available workers: %w", err)
	}
	if len(workers) == 0 {
		return 0, nil
	}

	dispatched := 0
	for _, entry := range entries {
		job, err := d.storage.GetJob(ctx, entry.JobID)
		if errors.Is(err, core.ErrJobNotFound) {
			_ = d.storage.RemoveQueueEntry(ctx, entry.JobID)
			continue
		}
		if err != nil {
			return dispatched, err
		}
		if job.Status != core.StatusQueued {
			if job.Status.Terminal() {
				_ = d.storage.RemoveQueueEntry(ctx, job.ID)
			}
			continue
		}

		worker := pickWorker(workers, job.TargetClients)
		if worker == nil {
			// No capable worker right now; the job keeps its queue position.
			continue
		}

		if err := d.assign(ctx, job, worker); err != nil {
			if errors.Is(err, core.ErrSchedulingConflict) {
				// A concurrent dispatcher won this one; try again next pass.
				d.logger.Debug("assignment lost race", "job_id", job.ID, "worker_id", worker.ID)
				continue
			}
			return dispatched, err
		}
		// Track the slot locally so one pass doesn't oversubscribe the worker.
		worker.CurrentJobCount++
		dispatched++
	}
	return dispatched, nil
}

// pickWorker returns the least-loaded available worker able to render every
// target client, or nil.
func pickWorker(workers []*core.WorkerNode, targets core.ClientList) *core.WorkerNode {
	var best *core.WorkerNode
	for _, w := range workers {
		if !w.HasCapacity() || !w.CanRender(targets) {
			continue
		}
		if best == nil || w.CurrentJobCount < best.CurrentJobCount {
			best = w
		}
	}
	return best
}

func (d *Dispatcher) assign(ctx context.Context, job *core.RenderJob, worker *core.WorkerNode) error {
	if err := d.storage.AssignJob(ctx, job.ID, worker.ID); err != nil {
		return err
	}
	job.Status = core.StatusProcessing
	job.AssignedWorker = worker.ID

	if err := d.ensureScreenshots(ctx, job); err != nil {
		return fmt.Errorf("create screenshots for job %s: %w", job.ID, err)
	}

	d.logger.Info("job dispatched",
		"job_id", job.ID,
		"worker_id", worker.ID,
		"priority", job.Priority,
		"clients", len(job.TargetClients))
	d.bus.Emit(&core.JobDispatched{Job: job, WorkerID: worker.ID, Timestamp: time.Now()})

	if err := d.starter.StartJob(ctx, job); err != nil {
		return fmt.Errorf("start capture tasks for job %s: %w", job.ID, err)
	}
	return nil
}

// ensureScreenshots creates the capture tasks on first dispatch. A requeued
// job keeps its existing rows, reset to pending by the reaper.
func (d *Dispatcher) ensureScreenshots(ctx context.Context, job *core.RenderJob) error {
	existing, err := d.storage.ScreenshotsForJob(ctx, job.ID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	shots := make([]*core.Screenshot, 0, len(job.TargetClients))
	for _, clientID := range job.TargetClients {
		shots = append(shots, &core.Screenshot{
			JobID:    job.ID,
			ClientID: clientID,
			Viewport: job.Viewport,
			DarkMode: job.DarkMode,
		})
	}
	return d.storage.CreateScreenshots(ctx, shots)
}
