package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mailcanary/renderq/pkg/core"
)

// Collector subscribes to scheduler events and periodically flushes
// minute-bucketed counters plus queue/fleet gauges to stats storage.
type Collector struct {
	bus       *core.Bus
	storage   core.Storage
	stats     StatsStorage
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration

	mu       sync.Mutex
	counters counters

	// ready is closed once the collector has subscribed and is processing.
	ready     chan struct{}
	readyOnce sync.Once
}

type counters struct {
	queued     int64
	dispatched int64
	completed  int64
	failed     int64
	retried    int64
}

// CollectorOption configures the Collector.
type CollectorOption interface {
	applyCollector(*Collector)
}

type collectorOptionFunc func(*Collector)

func (f collectorOptionFunc) applyCollector(c *Collector) { f(c) }

// WithFlushInterval sets how often counters and gauges are flushed.
// Default: 30 seconds.
func WithFlushInterval(d time.Duration) CollectorOption {
	return collectorOptionFunc(func(c *Collector) {
		c.interval = d
	})
}

// WithRetention sets how long stats rows are kept. Default: 7 days.
func WithRetention(d time.Duration) CollectorOption {
	return collectorOptionFunc(func(c *Collector) {
		c.retention = d
	})
}

// NewCollector creates a stats collector.
func NewCollector(bus *core.Bus, storage core.Storage, stats StatsStorage, opts ...CollectorOption) *Collector {
	c := &Collector{
		bus:       bus,
		storage:   storage,
		stats:     stats,
		logger:    slog.Default(),
		interval:  30 * time.Second,
		retention: 7 * 24 * time.Hour,
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt.applyCollector(c)
	}
	return c
}

// Ready returns a channel closed once the collector is subscribed.
func (c *Collector) Ready() <-chan struct{} {
	return c.ready
}

// Start consumes events and flushes on the configured interval.
// Blocks until the context is cancelled.
func (c *Collector) Start(ctx context.Context) error {
	events := c.bus.Subscribe()
	defer c.bus.Unsubscribe(events)

	c.readyOnce.Do(func() { close(c.ready) })

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.flush(context.WithoutCancel(ctx))
			return ctx.Err()
		case e := <-events:
			c.record(e)
		case <-ticker.C:
			c.flush(ctx)
		}
	}
}

func (c *Collector) record(e core.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e.(type) {
	case *core.JobQueued:
		c.counters.queued++
	case *core.JobDispatched:
		c.counters.dispatched++
	case *core.JobCompleted:
		c.counters.completed++
	case *core.JobFailed:
		c.counters.failed++
	case *core.CaptureRetrying, *core.JobRequeued:
		c.counters.retried++
	}
}

func (c *Collector) flush(ctx context.Context) {
	c.mu.Lock()
	snapshot := c.counters
	c.counters = counters{}
	c.mu.Unlock()

	now := time.Now()
	if snapshot != (counters{}) {
		err := c.stats.UpsertStatCounters(ctx, now,
			snapshot.queued, snapshot.dispatched, snapshot.completed, snapshot.failed, snapshot.retried)
		if err != nil {
			c.logger.Error("failed to flush stat counters", "error", err)
		}
	}

	queueStatus, err := c.storage.QueueStatus(ctx)
	if err != nil {
		c.logger.Error("failed to read queue status", "error", err)
		return
	}
	health, err := c.storage.FleetHealth(ctx)
	if err != nil {
		c.logger.Error("failed to read fleet health", "error", err)
		return
	}
	if err := c.stats.SnapshotGauges(ctx, now, queueStatus.Depth, health.Busy); err != nil {
		c.logger.Error("failed to snapshot gauges", "error", err)
	}

	if c.retention > 0 {
		if _, err := c.stats.PruneStats(ctx, now.Add(-c.retention)); err != nil {
			c.logger.Error("failed to prune stats", "error", err)
		}
	}
}
