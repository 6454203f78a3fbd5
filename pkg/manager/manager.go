// Package manager provides the job manager: submission, cancellation, and
// status queries for render-test jobs.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mailcanary/renderq/pkg/clients"
	"github.com/mailcanary/renderq/pkg/core"
	"github.com/mailcanary/renderq/pkg/security"
)

// DefaultClientEstimate is the assumed capture duration per target client,
// used for the ETA exposed by GetStatus.
const DefaultClientEstimate = 30 * time.Second

// SubmitRequest is the inbound job description.
type SubmitRequest struct {
	SubmitterID string
	HTML        string
	ClientIDs   []string
	Viewport    core.Viewport
	DarkMode    bool
	Priority    int
	MaxRetries  int
}

// StatusReport is the snapshot returned by GetStatus.
type StatusReport struct {
	Job      *core.RenderJob
	Position int           // Zero-based queue rank; -1 once dispatched or terminal
	ETA      time.Duration // Zero once the job is terminal
}

// Manager validates submissions, owns the RenderJob lifecycle entry points,
// and hands accepted jobs to the priority queue.
type Manager struct {
	storage  core.Storage
	registry *clients.Registry
	bus      *core.Bus
	logger   *slog.Logger
	estimate time.Duration
}

// Option configures a Manager.
type Option interface {
	applyManager(*Manager)
}

type optionFunc func(*Manager)

func (f optionFunc) applyManager(m *Manager) { f(m) }

// WithClientEstimate overrides the per-client duration estimate.
func WithClientEstimate(d time.Duration) Option {
	return optionFunc(func(m *Manager) {
		m.estimate = d
	})
}

// WithLogger overrides the manager logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(m *Manager) {
		m.logger = l
	})
}

// New creates a job manager.
func New(storage core.Storage, registry *clients.Registry, bus *core.Bus, opts ...Option) *Manager {
	m := &Manager{
		storage:  storage,
		registry: registry,
		bus:      bus,
		logger:   slog.Default(),
		estimate: DefaultClientEstimate,
	}
	for _, opt := range opts {
		opt.applyManager(m)
	}
	return m
}

// Submit validates the request, persists the job, and enqueues it.
// Validation failures are returned synchronously and leave no state behind.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*core.RenderJob, error) {
	if err := security.ValidateHTML(req.HTML); err != nil {
		return nil, err
	}
	targets := core.ClientList(req.ClientIDs)
	if err := m.registry.ValidateTargets(targets); err != nil {
		return nil, err
	}

	maxRetries := req.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	job := &core.RenderJob{
		ID:                uuid.New().String(),
		SubmitterID:       req.SubmitterID,
		HTML:              req.HTML,
		TargetClients:     targets,
		Viewport:          req.Viewport,
		DarkMode:          req.DarkMode,
		Priority:          security.ClampPriority(req.Priority),
		MaxRetries:        security.ClampRetries(maxRetries),
		Status:            core.StatusPending,
		EstimatedDuration: time.Duration(len(targets)) * m.estimate,
	}
	if job.Viewport == (core.Viewport{}) {
		job.Viewport = core.DefaultViewport
	}

	if err := m.storage.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("renderq: failed to persist job: %w", err)
	}
	if err := m.storage.EnqueueJob(ctx, job.ID); err != nil {
		// The job stays pending; it can be cancelled or re-submitted.
		return nil, fmt.Errorf("renderq: failed to enqueue job %s: %w", job.ID, err)
	}
	job.Status = core.StatusQueued

	m.logger.Info("job submitted",
		"job_id", job.ID,
		"submitter", job.SubmitterID,
		"clients", len(targets),
		"priority", job.Priority)
	m.bus.Emit(&core.JobQueued{Job: job, Timestamp: time.Now()})
	return job, nil
}

// Cancel stops a pending, queued, or processing job. Cancellation is
// cooperative: captures already running on a worker finish or time out
// naturally and their results are discarded.
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	previous, err := m.storage.CancelJob(ctx, jobID)
	if err != nil {
		return err
	}

	if previous == core.StatusProcessing {
		job, err := m.storage.GetJob(ctx, jobID)
		if err == nil && job.AssignedWorker != "" {
			if err := m.storage.ReleaseWorker(ctx, job.AssignedWorker); err != nil {
				m.logger.Error("failed to release worker slot",
					"job_id", jobID, "worker_id", job.AssignedWorker, "error", err)
			}
		}
	}

	m.logger.Info("job cancelled", "job_id", jobID, "was", previous)
	if job, err := m.storage.GetJob(ctx, jobID); err == nil {
		m.bus.Emit(&core.JobCancelled{Job: job, Timestamp: time.Now()})
	}
	return nil
}

// GetStatus returns a read-only snapshot of the job, its queue position, and
// a rough ETA.
func (m *Manager) GetStatus(ctx context.Context, jobID string) (*StatusReport, error) {
	job, err := m.storage.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{Job: job, Position: -1}
	if job.Status.Terminal() {
		return report, nil
	}

	if job.Status == core.StatusQueued {
		position, err := m.storage.QueuePosition(ctx, jobID)
		if err != nil {
			return nil, err
		}
		report.Position = position
		// Jobs ahead of this one delay it by roughly their own estimate.
		report.ETA = job.EstimatedDuration + time.Duration(position)*job.EstimatedDuration
	} else {
		remaining := 100 - job.Progress
		report.ETA = job.EstimatedDuration * time.Duration(remaining) / 100
	}
	return report, nil
}

// GetResult returns the aggregate outcome for a finished job.
func (m *Manager) GetResult(ctx context.Context, jobID string) (*core.TestResult, error) {
	return m.storage.GetResult(ctx, jobID)
}
