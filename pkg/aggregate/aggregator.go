// Package aggregate provides the result aggregator: it merges per-client
// capture outcomes and externally supplied analyzer scores into one
// TestResult and settles the owning job.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mailcanary/renderq/pkg/core"
)

// SubScoreFunc supplies externally produced analyzer scores for a job, if
// any. Returning nil means no analyzers ran.
type SubScoreFunc func(ctx context.Context, jobID string) *core.SubScores

// Aggregator is the sole writer of TestResult records.
type Aggregator struct {
	storage   core.Storage
	bus       *core.Bus
	logger    *slog.Logger
	policy    ScorePolicy
	subScores SubScoreFunc
}

// Option configures an Aggregator.
type Option interface {
	applyAggregator(*Aggregator)
}

type optionFunc func(*Aggregator)

func (f optionFunc) applyAggregator(a *Aggregator) { f(a) }

// WithScorePolicy overrides the score weighting.
func WithScorePolicy(p ScorePolicy) Option {
	return optionFunc(func(a *Aggregator) {
		a.policy = p
	})
}

// WithSubScores wires in an external analyzer score source.
func WithSubScores(fn SubScoreFunc) Option {
	return optionFunc(func(a *Aggregator) {
		a.subScores = fn
	})
}

// WithLogger overrides the aggregator logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(a *Aggregator) {
		a.logger = l
	})
}

// New creates a result aggregator.
func New(storage core.Storage, bus *core.Bus, opts ...Option) *Aggregator {
	a := &Aggregator{
		storage: storage,
		bus:     bus,
		logger:  slog.Default(),
		policy:  DefaultScorePolicy(),
	}
	for _, opt := range opts {
		opt.applyAggregator(a)
	}
	return a
}

// Finalize computes and writes the TestResult for a job whose screenshots are
// all terminal, settles the job's status, and releases the assigned worker's
// capacity slot. Safe to call from concurrent coordinator instances: the
// result is written exactly once and conflicting job transitions are ignored.
func (a *Aggregator) Finalize(ctx context.Context, jobID string) error {
	job, err := a.storage.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != core.StatusProcessing {
		// Cancelled or already settled; capture results are discarded.
		return nil
	}

	shots, err := a.storage.ScreenshotsForJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load screenshots: %w", err)
	}
	if len(shots) == 0 {
		return fmt.Errorf("job %s has no screenshots to aggregate", jobID)
	}

	passed := 0
	clientResults := make([]core.ClientResult, 0, len(shots))
	for _, s := range shots {
		if !s.Status.Terminal() {
			return fmt.Errorf("job %s has non-terminal screenshot %s", jobID, s.ID)
		}
		if s.Status == core.CaptureReady {
			passed++
		}
		clientResults = append(clientResults, core.ClientResult{
			ClientID:       s.ClientID,
			Status:         s.Status,
			ImageRef:       s.ImageRef,
			ProcessingTime: s.ProcessingTime,
			RetryCount:     s.RetryCount,
			Error:          s.ErrorMessage,
		})
	}

	total := len(shots)
	failed := total - passed

	var overall core.ResultStatus
	switch {
	case passed == total:
		overall = core.ResultCompleted
	case passed == 0:
		overall = core.ResultFailed
	default:
		overall = core.ResultPartial
	}

	var sub *core.SubScores
	if a.subScores != nil {
		sub = a.subScores(ctx, jobID)
	}

	result := &core.TestResult{
		JobID:         jobID,
		OverallStatus: overall,
		OverallScore:  a.policy.Score(float64(passed)/float64(total), sub),
		TotalClients:  total,
		PassedClients: passed,
		FailedClients: failed,
	}
	if sub != nil {
		result.AccessibilityScore = sub.Accessibility
		result.PerformanceScore = sub.Performance
		result.SpamScore = sub.Spam
	}
	if err := result.SetClientResults(clientResults); err != nil {
		return fmt.Errorf("encode client results: %w", err)
	}

	if err := a.storage.SaveResult(ctx, result); err != nil {
		if !errors.Is(err, core.ErrResultExists) {
			return fmt.Errorf("save result: %w", err)
		}
		// Another instance wrote the result; fall through and make sure the
		// job and worker slot are settled too.
	}

	if err := a.settleJob(ctx, job, overall, result); err != nil {
		return err
	}

	if job.AssignedWorker != "" {
		if err := a.storage.ReleaseWorker(ctx, job.AssignedWorker); err != nil {
			a.logger.Error("failed to release worker slot",
				"job_id", jobID, "worker_id", job.AssignedWorker, "error", err)
		}
	}
	return nil
}

func (a *Aggregator) settleJob(ctx context.Context, job *core.RenderJob, overall core.ResultStatus, result *core.TestResult) error {
	var err error
	if overall == core.ResultFailed {
		err = a.storage.FailJob(ctx, job.ID, "all captures failed")
	} else {
		err = a.storage.CompleteJob(ctx, job.ID)
	}
	if errors.Is(err, core.ErrSchedulingConflict) {
		// Lost the settle race against a concurrent instance.
		return nil
	}
	if err != nil {
		return fmt.Errorf("settle job %s: %w", job.ID, err)
	}

	settled, gerr := a.storage.GetJob(ctx, job.ID)
	if gerr != nil {
		settled = job
	}

	if overall == core.ResultFailed {
		a.logger.Warn("job failed", "job_id", job.ID, "failed_clients", result.FailedClients)
		a.bus.Emit(&core.JobFailed{Job: settled, Reason: "all captures failed", Timestamp: time.Now()})
	} else {
		a.logger.Info("job completed",
			"job_id", job.ID,
			"status", overall,
			"score", result.OverallScore,
			"passed", result.PassedClients,
			"failed", result.FailedClients)
		a.bus.Emit(&core.JobCompleted{
			Job:       settled,
			Result:    result,
			Duration:  settled.ActualDuration,
			Timestamp: time.Now(),
		})
	}
	return nil
}
