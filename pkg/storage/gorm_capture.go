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

// CreateScreenshots persists a batch of capture tasks for a job.
func (s *GormStorage) CreateScreenshots(ctx context.Context, shots []*core.Screenshot) error {
	if len(shots) == 0 {
		return nil
	}
	for _, shot := range shots {
		if shot.ID == "" {
			shot.ID = uuid.New().String()
		}
		if shot.Status == "" {
			shot.Status = core.CapturePending
		}
		if shot.MaxRetries == 0 {
			shot.MaxRetries = 3
		}
	}
	return s.db.WithContext(ctx).Create(shots).Error
}

// ScreenshotsForJob returns all capture tasks for a job.
func (s *GormStorage) ScreenshotsForJob(ctx context.Context, jobID string) ([]*core.Screenshot, error) {
	var shots []*core.Screenshot
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("client_id ASC").
		Find(&shots).Error
	return shots, err
}

// PendingScreenshots returns the job's capture tasks awaiting an attempt.
func (s *GormStorage) PendingScreenshots(ctx context.Context, jobID string) ([]*core.Screenshot, error) {
	var shots []*core.Screenshot
	err := s.db.WithContext(ctx).
		Where("job_id = ? AND status = ?", jobID, core.CapturePending).
		Order("client_id ASC").
		Find(&shots).Error
	return shots, err
}

// ClaimScreenshot transitions pending -> capturing for one attempt.
func (s *GormStorage) ClaimScreenshot(ctx context.Context, screenshotID string, workerID string) error {
	result := s.db.WithContext(ctx).
		Model(&core.Screenshot{}).
		Where("id = ? AND status = ?", screenshotID, core.CapturePending).
		Updates(map[string]any{
			"status":      core.CaptureCapturing,
			"captured_by": workerID,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrSchedulingConflict
	}
	return nil
}

// MarkScreenshotProcessing transitions capturing -> processing.
func (s *GormStorage) MarkScreenshotProcessing(ctx context.Context, screenshotID string) error {
	result := s.db.WithContext(ctx).
		Model(&core.Screenshot{}).
		Where("id = ? AND status = ?", screenshotID, core.CaptureCapturing).
		Update("status", core.CaptureProcessing)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrSchedulingConflict
	}
	return nil
}

// CompleteScreenshot transitions processing -> ready with the image reference.
func (s *GormStorage) CompleteScreenshot(ctx context.Context, screenshotID string, imageRef string, took time.Duration) error {
	result := s.db.WithContext(ctx).
		Model(&core.Screenshot{}).
		Where("id = ? AND status = ?", screenshotID, core.CaptureProcessing).
		Updates(map[string]any{
			"status":          core.CaptureReady,
			"image_ref":       imageRef,
			"processing_time": took,
			"error_message":   "",
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrSchedulingConflict
	}
	return nil
}

// RetryScreenshot records a failed attempt. While retries remain the task
// returns to pending (reported true); otherwise it becomes permanently failed
// with the recorded error.
func (s *GormStorage) RetryScreenshot(ctx context.Context, screenshotID string, errMsg string) (bool, error) {
	sanitized := security.SanitizeErrorMessage(errMsg)
	retried := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var shot core.Screenshot
		if err := tx.First(&shot, "id = ?", screenshotID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return core.ErrSchedulingConflict
			}
			return err
		}
		if shot.Status.Terminal() {
			return nil
		}

		retries := shot.RetryCount + 1
		updates := map[string]any{
			"retry_count":   retries,
			"error_message": sanitized,
		}
		if retries >= shot.MaxRetries {
			updates["status"] = core.CaptureFailed
		} else {
			updates["status"] = core.CapturePending
			updates["captured_by"] = ""
			retried = true
		}

		result := tx.Model(&core.Screenshot{}).
			Where("id = ? AND status = ?", screenshotID, shot.Status).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			retried = false
			return core.ErrSchedulingConflict
		}
		return nil
	})
	return retried, err
}

// FailScreenshot fails the task immediately, bypassing remaining retries.
// Used for permanent capture errors such as unsupported client capabilities.
func (s *GormStorage) FailScreenshot(ctx context.Context, screenshotID string, errMsg string) error {
	result := s.db.WithContext(ctx).
		Model(&core.Screenshot{}).
		Where("id = ?", screenshotID).
		Where("status NOT IN ?", []core.CaptureStatus{core.CaptureReady, core.CaptureFailed}).
		Updates(map[string]any{
			"status":        core.CaptureFailed,
			"error_message": security.SanitizeErrorMessage(errMsg),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrSchedulingConflict
	}
	return nil
}

// ResetScreenshots returns a job's non-terminal screenshots to pending,
// clearing any claim. Used when a worker is reaped.
func (s *GormStorage) ResetScreenshots(ctx context.Context, jobID string) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&core.Screenshot{}).
		Where("job_id = ?", jobID).
		Where("status NOT IN ?", []core.CaptureStatus{core.CaptureReady, core.CaptureFailed}).
		Updates(map[string]any{
			"status":      core.CapturePending,
			"captured_by": "",
		})
	return result.RowsAffected, result.Error
}

// SaveResult writes the aggregate result exactly once per job.
func (s *GormStorage) SaveResult(ctx context.Context, result *core.TestResult) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&core.TestResult{}).
			Where("job_id = ?", result.JobID).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return core.ErrResultExists
		}
		return tx.Create(result).Error
	})
}

// GetResult retrieves the aggregate result for a job.
func (s *GormStorage) GetResult(ctx context.Context, jobID string) (*core.TestResult, error) {
	var result core.TestResult
	err := s.db.WithContext(ctx).First(&result, "job_id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrResultNotFound
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}
