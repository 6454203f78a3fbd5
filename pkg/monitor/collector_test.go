package monitor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mailcanary/renderq/pkg/core"
	"github.com/mailcanary/renderq/pkg/monitor"
	"github.com/mailcanary/renderq/pkg/storage"
)

func setupCollector(t *testing.T, opts ...monitor.CollectorOption) (*monitor.Collector, *core.Bus, monitor.StatsStorage) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store := storage.NewGormStorage(db)
	require.NoError(t, store.Migrate(context.Background()))

	stats := monitor.NewGormStatsStorage(db)
	require.NoError(t, stats.MigrateStats(context.Background()))

	bus := core.NewBus()
	return monitor.NewCollector(bus, store, stats, opts...), bus, stats
}

func TestCollectorFlushesCounters(t *testing.T) {
	collector, bus, stats := setupCollector(t, monitor.WithFlushInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = collector.Start(ctx)
	}()
	<-collector.Ready()

	job := &core.RenderJob{ID: "job-1"}
	bus.Emit(&core.JobQueued{Job: job, Timestamp: time.Now()})
	bus.Emit(&core.JobQueued{Job: job, Timestamp: time.Now()})
	bus.Emit(&core.JobDispatched{Job: job, Timestamp: time.Now()})
	bus.Emit(&core.JobCompleted{Job: job, Timestamp: time.Now()})
	bus.Emit(&core.JobRequeued{JobID: job.ID, Timestamp: time.Now()})

	require.Eventually(t, func() bool {
		rows, err := stats.GetStatsHistory(context.Background(), time.Time{}, time.Time{})
		if err != nil {
			return false
		}
		var sum monitor.SchedulerStat
		for _, row := range rows {
			sum.Queued += row.Queued
			sum.Dispatched += row.Dispatched
			sum.Completed += row.Completed
			sum.Retried += row.Retried
		}
		return sum.Queued == 2 && sum.Dispatched == 1 && sum.Completed == 1 && sum.Retried == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestCollectorFlushesOnShutdown(t *testing.T) {
	collector, bus, stats := setupCollector(t, monitor.WithFlushInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- collector.Start(ctx)
	}()
	<-collector.Ready()

	job := &core.RenderJob{ID: "job-1"}
	bus.Emit(&core.JobFailed{Job: job, Reason: "boom", Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)

	rows, rerr := stats.GetStatsHistory(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, rerr)
	require.NotEmpty(t, rows)
	var failed int64
	for _, row := range rows {
		failed += row.Failed
	}
	assert.Equal(t, int64(1), failed)
}

func TestCollectorPrunesOldStats(t *testing.T) {
	collector, _, stats := setupCollector(t,
		monitor.WithFlushInterval(10*time.Millisecond),
		monitor.WithRetention(time.Hour))

	// Pre-seed a row well past the retention window.
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, stats.UpsertStatCounters(context.Background(), old, 9, 0, 0, 0, 0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = collector.Start(ctx)
	}()
	<-collector.Ready()

	require.Eventually(t, func() bool {
		rows, err := stats.GetStatsHistory(context.Background(), time.Time{}, time.Time{})
		if err != nil {
			return false
		}
		for _, row := range rows {
			if row.Queued == 9 {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
