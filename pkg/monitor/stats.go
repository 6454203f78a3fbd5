// Package monitor provides the operational surface of the scheduler:
// minute-bucketed statistics persistence, an event-driven collector, and a
// read-only HTTP API over queue status, fleet health, and job state.
package monitor

import (
	"context"
	"time"
)

// SchedulerStat stores scheduler statistics bucketed by minute.
type SchedulerStat struct {
	ID        uint      `gorm:"primaryKey"`
	Timestamp time.Time `gorm:"index;not null"`

	// Counters accumulated within the bucket.
	Queued     int64 `gorm:"default:0"`
	Dispatched int64 `gorm:"default:0"`
	Completed  int64 `gorm:"default:0"`
	Failed     int64 `gorm:"default:0"`
	Retried    int64 `gorm:"default:0"`

	// Gauges snapshotted at flush time.
	QueueDepth  int64 `gorm:"default:0"`
	BusyWorkers int64 `gorm:"default:0"`
}

// StatsStorage is the interface for stats persistence.
type StatsStorage interface {
	MigrateStats(ctx context.Context) error
	UpsertStatCounters(ctx context.Context, ts time.Time, queued, dispatched, completed, failed, retried int64) error
	SnapshotGauges(ctx context.Context, ts time.Time, depth, busyWorkers int64) error
	GetStatsHistory(ctx context.Context, since time.Time, until time.Time) ([]SchedulerStat, error)
	PruneStats(ctx context.Context, before time.Time) (int64, error)
}
