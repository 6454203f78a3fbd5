// Package storage provides storage implementations for the renderq package.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mailcanary/renderq/pkg/core"
	"github.com/mailcanary/renderq/pkg/security"
)

// GormStorage implements core.Storage using GORM.
type GormStorage struct {
	db *gorm.DB
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db}
}

// DB exposes the underlying connection for stats storage reuse.
func (s *GormStorage) DB() *gorm.DB {
	return s.db
}

// Migrate creates the necessary tables.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&core.RenderJob{},
		&core.QueueEntry{},
		&core.WorkerNode{},
		&core.EmailClient{},
		&core.Screenshot{},
		&core.TestResult{},
	)
}

// CreateJob persists a new render job in pending state.
func (s *GormStorage) CreateJob(ctx context.Context, job *core.RenderJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = core.StatusPending
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = 3
	}
	if job.Viewport == (core.Viewport{}) {
		job.Viewport = core.DefaultViewport
	}
	return s.db.WithContext(ctx).Create(job).Error
}

// GetJob retrieves a job by ID.
func (s *GormStorage) GetJob(ctx context.Context, jobID string) (*core.RenderJob, error) {
	var job core.RenderJob
	err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJobsByStatus retrieves jobs by status, oldest first.
func (s *GormStorage) GetJobsByStatus(ctx context.Context, status core.JobStatus, limit int) ([]*core.RenderJob, error) {
	var jobList []*core.RenderJob
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobList).Error
	return jobList, err
}

// JobsAssignedTo retrieves non-terminal jobs currently assigned to a worker.
func (s *GormStorage) JobsAssignedTo(ctx context.Context, workerID string) ([]*core.RenderJob, error) {
	var jobList []*core.RenderJob
	err := s.db.WithContext(ctx).
		Where("assigned_worker = ?", workerID).
		Where("status = ?", core.StatusProcessing).
		Find(&jobList).Error
	return jobList, err
}

// CompleteJob transitions a processing job to completed.
func (s *GormStorage) CompleteJob(ctx context.Context, jobID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job core.RenderJob
		if err := tx.First(&job, "id = ?", jobID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return core.ErrJobNotFound
			}
			return err
		}

		now := time.Now()
		updates := map[string]any{
			"status":       core.StatusCompleted,
			"progress":     100,
			"completed_at": now,
		}
		if job.StartedAt != nil {
			updates["actual_duration"] = now.Sub(*job.StartedAt)
		}

		result := tx.Model(&core.RenderJob{}).
			Where("id = ? AND status = ?", jobID, core.StatusProcessing).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return core.ErrSchedulingConflict
		}

		return tx.Where("job_id = ?", jobID).Delete(&core.QueueEntry{}).Error
	})
}

// FailJob transitions a non-terminal job to failed.
func (s *GormStorage) FailJob(ctx context.Context, jobID string, errMsg string) error {
	sanitized := security.SanitizeErrorMessage(errMsg)
	now := time.Now()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&core.RenderJob{}).
			Where("id = ?", jobID).
			Where("status NOT IN ?", []core.JobStatus{core.StatusCompleted, core.StatusFailed, core.StatusCancelled}).
			Updates(map[string]any{
				"status":        core.StatusFailed,
				"error_message": sanitized,
				"completed_at":  now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return core.ErrSchedulingConflict
		}

		return tx.Where("job_id = ?", jobID).Delete(&core.QueueEntry{}).Error
	})
}

// CancelJob transitions a cancellable job to cancelled and removes its queue
// entry. Returns the status the job held before cancellation.
func (s *GormStorage) CancelJob(ctx context.Context, jobID string) (core.JobStatus, error) {
	var previous core.JobStatus

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job core.RenderJob
		if err := tx.First(&job, "id = ?", jobID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return core.ErrJobNotFound
			}
			return err
		}
		if !job.Status.Cancellable() {
			return core.ErrCannotCancel
		}
		previous = job.Status

		now := time.Now()
		result := tx.Model(&core.RenderJob{}).
			Where("id = ? AND status = ?", jobID, previous).
			Updates(map[string]any{
				"status":       core.StatusCancelled,
				"cancelled_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// Lost a race against a concurrent transition.
			return core.ErrSchedulingConflict
		}

		return tx.Where("job_id = ?", jobID).Delete(&core.QueueEntry{}).Error
	})
	if err != nil {
		return "", err
	}
	return previous, nil
}

// SetJobProgress updates progress while the job is processing. Stale writes
// (lower than the stored value) are ignored so progress never decreases.
func (s *GormStorage) SetJobProgress(ctx context.Context, jobID string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	return s.db.WithContext(ctx).
		Model(&core.RenderJob{}).
		Where("id = ? AND status = ? AND progress <= ?", jobID, core.StatusProcessing, progress).
		Update("progress", progress).Error
}

// RequeueJob returns a processing job to the queue after its worker was lost.
func (s *GormStorage) RequeueJob(ctx context.Context, jobID string) (bool, error) {
	requeued := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job core.RenderJob
		if err := tx.First(&job, "id = ?", jobID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return core.ErrJobNotFound
			}
			return err
		}
		if job.Status != core.StatusProcessing {
			// Terminal or already requeued; reaping must be idempotent.
			return nil
		}

		retries := job.RetryCount + 1
		now := time.Now()

		if retries > job.MaxRetries {
			result := tx.Model(&core.RenderJob{}).
				Where("id = ? AND status = ?", jobID, core.StatusProcessing).
				Updates(map[string]any{
					"status":        core.StatusFailed,
					"retry_count":   retries,
					"error_message": core.ErrWorkerUnavailable.Error(),
					"completed_at":  now,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return core.ErrSchedulingConflict
			}
			return tx.Where("job_id = ?", jobID).Delete(&core.QueueEntry{}).Error
		}

		result := tx.Model(&core.RenderJob{}).
			Where("id = ? AND status = ?", jobID, core.StatusProcessing).
			Updates(map[string]any{
				"status":          core.StatusQueued,
				"retry_count":     retries,
				"assigned_worker": "",
				"queued_at":       now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return core.ErrSchedulingConflict
		}

		// The dispatch-time entry still exists; return it to the pending view.
		entry := tx.Model(&core.QueueEntry{}).
			Where("job_id = ?", jobID).
			Updates(map[string]any{
				"assigned_worker": "",
				"queued_at":       now,
			})
		if entry.Error != nil {
			return entry.Error
		}
		if entry.RowsAffected == 0 {
			if err := tx.Create(&core.QueueEntry{
				JobID:    jobID,
				Priority: job.Priority,
				QueuedAt: now,
			}).Error; err != nil {
				return err
			}
		}

		requeued = true
		return nil
	})
	return requeued, err
}
