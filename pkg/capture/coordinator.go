package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mailcanary/renderq/pkg/core"
)

// Finalizer is invoked once every screenshot of a job is terminal.
// The result aggregator implements it.
type Finalizer interface {
	Finalize(ctx context.Context, jobID string) error
}

// Config holds coordinator configuration.
type Config struct {
	// AttemptTimeout bounds one capture attempt, end to end.
	AttemptTimeout time.Duration
	// RetryDelay is the pause before re-attempting a transiently failed capture.
	RetryDelay time.Duration
}

// Option configures a Coordinator.
type Option interface {
	applyCoordinator(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) applyCoordinator(c *Config) { f(c) }

// AttemptTimeout sets the per-attempt timeout. Default: 2 minutes.
func AttemptTimeout(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.AttemptTimeout = d
	})
}

// RetryDelay sets the pause between capture attempts. Default: 2 seconds.
func RetryDelay(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.RetryDelay = d
	})
}

// Coordinator owns the Screenshot lifecycle: it claims pending tasks for a
// dispatched job, drives capture attempts through the Capturer with a
// per-attempt timeout, retries transient failures, and reports terminal tasks
// back to the job's progress. When every task is terminal it hands the job to
// the Finalizer.
type Coordinator struct {
	storage   core.Storage
	capturer  Capturer
	finalizer Finalizer
	bus       *core.Bus
	logger    *slog.Logger
	config    Config
	wg        sync.WaitGroup
}

// NewCoordinator creates a capture coordinator.
func NewCoordinator(storage core.Storage, capturer Capturer, finalizer Finalizer, bus *core.Bus, opts ...Option) *Coordinator {
	config := Config{
		AttemptTimeout: 2 * time.Minute,
		RetryDelay:     2 * time.Second,
	}
	for _, opt := range opts {
		opt.applyCoordinator(&config)
	}
	return &Coordinator{
		storage:   storage,
		capturer:  capturer,
		finalizer: finalizer,
		bus:       bus,
		logger:    slog.Default(),
		config:    config,
	}
}

// StartJob launches a capture task for every pending screenshot of a
// dispatched job. Implements dispatch.JobStarter.
func (c *Coordinator) StartJob(ctx context.Context, job *core.RenderJob) error {
	shots, err := c.storage.PendingScreenshots(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("load pending screenshots: %w", err)
	}

	for _, shot := range shots {
		c.wg.Add(1)
		go func(shot *core.Screenshot) {
			defer c.wg.Done()
			c.runTask(ctx, job, shot)
		}(shot)
	}
	return nil
}

// Wait blocks until all in-flight capture tasks have finished. Intended for
// shutdown and tests.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// runTask drives one screenshot to a terminal state, re-attempting after
// transient failures until the retry budget runs out.
func (c *Coordinator) runTask(ctx context.Context, job *core.RenderJob, shot *core.Screenshot) {
	for {
		if ctx.Err() != nil {
			return
		}

		// Cooperative cancellation: a cancelled or requeued job starts no
		// further attempts.
		current, err := c.storage.GetJob(ctx, job.ID)
		if err != nil || current.Status != core.StatusProcessing {
			return
		}

		if err := c.storage.ClaimScreenshot(ctx, shot.ID, job.AssignedWorker); err != nil {
			// Another coordinator instance holds the claim.
			return
		}
		c.bus.Emit(&core.CaptureStarted{Screenshot: shot, WorkerID: job.AssignedWorker, Timestamp: time.Now()})

		retry, done := c.attempt(ctx, job, shot)
		if done {
			c.reportTerminal(ctx, job, shot.ID)
			return
		}
		if !retry {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.config.RetryDelay):
		}
	}
}

// attempt performs one capture attempt. It returns done=true when the
// screenshot reached a terminal state and retry=true when another attempt
// should follow.
func (c *Coordinator) attempt(ctx context.Context, job *core.RenderJob, shot *core.Screenshot) (retry, done bool) {
	start := time.Now()

	attemptCtx, cancel := context.WithTimeout(ctx, c.config.AttemptTimeout)
	result, err := c.capturer.CaptureScreenshot(attemptCtx, CaptureRequest{
		JobID:    job.ID,
		ClientID: shot.ClientID,
		WorkerID: job.AssignedWorker,
		HTML:     job.HTML,
		Viewport: shot.Viewport,
		DarkMode: shot.DarkMode,
	})
	cancel()

	if err == nil && result != nil {
		// Discard results for jobs cancelled while the capture was in flight.
		current, jerr := c.storage.GetJob(ctx, job.ID)
		if jerr != nil || current.Status != core.StatusProcessing {
			c.logger.Debug("discarding capture result", "job_id", job.ID, "screenshot_id", shot.ID)
			return false, false
		}

		if err := c.storage.MarkScreenshotProcessing(ctx, shot.ID); err != nil {
			return false, false
		}
		if err := c.storage.CompleteScreenshot(ctx, shot.ID, result.ImageRef, time.Since(start)); err != nil {
			c.logger.Error("failed to complete screenshot", "screenshot_id", shot.ID, "error", err)
			return false, false
		}
		return false, true
	}

	if ctx.Err() != nil {
		return false, false
	}
	if err == nil {
		err = errors.New("capturer returned no result")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = core.Transient(fmt.Errorf("capture timed out after %v", c.config.AttemptTimeout))
	}

	if core.IsPermanentCapture(err) {
		if ferr := c.storage.FailScreenshot(ctx, shot.ID, err.Error()); ferr != nil {
			c.logger.Error("failed to fail screenshot", "screenshot_id", shot.ID, "error", ferr)
			return false, false
		}
		c.logger.Warn("capture failed permanently",
			"job_id", job.ID, "client_id", shot.ClientID, "error", err)
		return false, true
	}

	retried, rerr := c.storage.RetryScreenshot(ctx, shot.ID, err.Error())
	if rerr != nil {
		c.logger.Error("failed to record capture retry", "screenshot_id", shot.ID, "error", rerr)
		return false, false
	}
	if !retried {
		// Retry budget exhausted; the screenshot is now permanently failed.
		c.logger.Warn("capture exhausted retries",
			"job_id", job.ID, "client_id", shot.ClientID, "error", err)
		return false, true
	}

	shot.RetryCount++
	c.logger.Debug("capture retrying",
		"job_id", job.ID, "client_id", shot.ClientID, "attempt", shot.RetryCount, "error", err)
	c.bus.Emit(&core.CaptureRetrying{Screenshot: shot, Attempt: shot.RetryCount, Error: err, Timestamp: time.Now()})
	return true, false
}

// reportTerminal recomputes job progress after a screenshot finished and
// finalizes the job once every task is terminal.
func (c *Coordinator) reportTerminal(ctx context.Context, job *core.RenderJob, screenshotID string) {
	shots, err := c.storage.ScreenshotsForJob(ctx, job.ID)
	if err != nil {
		c.logger.Error("failed to load screenshots", "job_id", job.ID, "error", err)
		return
	}

	terminal := 0
	for _, s := range shots {
		if s.Status.Terminal() {
			terminal++
		}
		if s.ID == screenshotID {
			c.bus.Emit(&core.CaptureFinished{Screenshot: s, Timestamp: time.Now()})
		}
	}
	if len(shots) == 0 {
		return
	}

	progress := terminal * 100 / len(shots)
	if err := c.storage.SetJobProgress(ctx, job.ID, progress); err != nil {
		c.logger.Error("failed to update progress", "job_id", job.ID, "error", err)
	}

	if terminal == len(shots) {
		if err := c.finalizer.Finalize(ctx, job.ID); err != nil && !errors.Is(err, core.ErrResultExists) {
			c.logger.Error("failed to finalize job", "job_id", job.ID, "error", err)
		}
	}
}
