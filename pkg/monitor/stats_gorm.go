package monitor

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// gormStatsStorage implements StatsStorage using GORM.
type gormStatsStorage struct {
	db *gorm.DB
}

// NewGormStatsStorage creates a GORM-backed stats storage.
func NewGormStatsStorage(db *gorm.DB) StatsStorage {
	return &gormStatsStorage{db: db}
}

func (s *gormStatsStorage) MigrateStats(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&SchedulerStat{})
}

func (s *gormStatsStorage) UpsertStatCounters(ctx context.Context, ts time.Time, queued, dispatched, completed, failed, retried int64) error {
	ts = ts.Truncate(time.Minute)

	var existing SchedulerStat
	result := s.db.WithContext(ctx).
		Where("timestamp = ?", ts).
		First(&existing)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return s.db.WithContext(ctx).Create(&SchedulerStat{
			Timestamp:  ts,
			Queued:     queued,
			Dispatched: dispatched,
			Completed:  completed,
			Failed:     failed,
			Retried:    retried,
		}).Error
	}
	if result.Error != nil {
		return result.Error
	}

	return s.db.WithContext(ctx).Model(&existing).Updates(map[string]any{
		"queued":     gorm.Expr("queued + ?", queued),
		"dispatched": gorm.Expr("dispatched + ?", dispatched),
		"completed":  gorm.Expr("completed + ?", completed),
		"failed":     gorm.Expr("failed + ?", failed),
		"retried":    gorm.Expr("retried + ?", retried),
	}).Error
}

func (s *gormStatsStorage) SnapshotGauges(ctx context.Context, ts time.Time, depth, busyWorkers int64) error {
	ts = ts.Truncate(time.Minute)

	var existing SchedulerStat
	result := s.db.WithContext(ctx).
		Where("timestamp = ?", ts).
		First(&existing)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return s.db.WithContext(ctx).Create(&SchedulerStat{
			Timestamp:   ts,
			QueueDepth:  depth,
			BusyWorkers: busyWorkers,
		}).Error
	}
	if result.Error != nil {
		return result.Error
	}

	return s.db.WithContext(ctx).Model(&existing).Updates(map[string]any{
		"queue_depth":  depth,
		"busy_workers": busyWorkers,
	}).Error
}

func (s *gormStatsStorage) GetStatsHistory(ctx context.Context, since time.Time, until time.Time) ([]SchedulerStat, error) {
	var stats []SchedulerStat
	q := s.db.WithContext(ctx).Order("timestamp ASC")

	if !since.IsZero() {
		q = q.Where("timestamp >= ?", since)
	}
	if !until.IsZero() {
		q = q.Where("timestamp <= ?", until)
	}

	return stats, q.Find(&stats).Error
}

func (s *gormStatsStorage) PruneStats(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("timestamp < ?", before).Delete(&SchedulerStat{})
	return result.RowsAffected, result.Error
}
