package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/mailcanary/renderq/pkg/core"
)

// EnqueueJob creates the queue entry and flips the job from pending to queued.
func (s *GormStorage) EnqueueJob(ctx context.Context, jobID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job core.RenderJob
		if err := tx.First(&job, "id = ?", jobID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return core.ErrJobNotFound
			}
			return err
		}

		now := time.Now()
		result := tx.Model(&core.RenderJob{}).
			Where("id = ? AND status = ?", jobID, core.StatusPending).
			Updates(map[string]any{
				"status":    core.StatusQueued,
				"queued_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return core.ErrSchedulingConflict
		}

		return tx.Create(&core.QueueEntry{
			JobID:    jobID,
			Priority: job.Priority,
			QueuedAt: now,
		}).Error
	})
}

// PendingEntries returns unassigned entries in dispatch order:
// priority DESC, then FIFO by queued_at.
func (s *GormStorage) PendingEntries(ctx context.Context, limit int) ([]*core.QueueEntry, error) {
	var entries []*core.QueueEntry
	err := s.db.WithContext(ctx).
		Where("assigned_worker = ?", "").
		Order("priority DESC, queued_at ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// RemoveQueueEntry deletes the queue entry for a job, if any.
func (s *GormStorage) RemoveQueueEntry(ctx context.Context, jobID string) error {
	return s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Delete(&core.QueueEntry{}).Error
}

// QueuePosition returns the zero-based rank of the job among unassigned
// entries, computed lazily from the dispatch ordering. Returns -1 when the
// job has no pending entry.
func (s *GormStorage) QueuePosition(ctx context.Context, jobID string) (int, error) {
	var entry core.QueueEntry
	err := s.db.WithContext(ctx).
		Where("job_id = ? AND assigned_worker = ?", jobID, "").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return -1, nil
	}
	if err != nil {
		return -1, err
	}

	var ahead int64
	err = s.db.WithContext(ctx).
		Model(&core.QueueEntry{}).
		Where("assigned_worker = ?", "").
		Where("priority > ? OR (priority = ? AND queued_at < ?)", entry.Priority, entry.Priority, entry.QueuedAt).
		Count(&ahead).Error
	if err != nil {
		return -1, err
	}
	return int(ahead), nil
}

// QueueStatus returns the derived pending-queue view.
func (s *GormStorage) QueueStatus(ctx context.Context) (*core.QueueStatus, error) {
	status := &core.QueueStatus{}

	err := s.db.WithContext(ctx).
		Model(&core.QueueEntry{}).
		Where("assigned_worker = ?", "").
		Count(&status.Depth).Error
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).
		Model(&core.QueueEntry{}).
		Select("priority, COUNT(*) as count").
		Where("assigned_worker = ?", "").
		Group("priority").
		Order("priority DESC").
		Scan(&status.ByPriority).Error
	if err != nil {
		return nil, err
	}

	var oldest core.QueueEntry
	err = s.db.WithContext(ctx).
		Where("assigned_worker = ?", "").
		Order("queued_at ASC").
		First(&oldest).Error
	if err == nil {
		status.OldestWait = time.Since(oldest.QueuedAt)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	return status, nil
}
