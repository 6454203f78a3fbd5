package fleet

import (
	"context"
	"log/slog"
	"time"

	"github.com/mailcanary/renderq/pkg/schedule"
)

// Reaper periodically runs ReapStaleWorkers on a schedule.
type Reaper struct {
	registry *Registry
	sched    schedule.Schedule
	logger   *slog.Logger
}

// ReaperOption configures a Reaper.
type ReaperOption interface {
	applyReaper(*Reaper)
}

type reaperOptionFunc func(*Reaper)

func (f reaperOptionFunc) applyReaper(r *Reaper) { f(r) }

// WithSchedule sets the reap cadence. Default: every minute.
func WithSchedule(s schedule.Schedule) ReaperOption {
	return reaperOptionFunc(func(r *Reaper) {
		r.sched = s
	})
}

// WithReaperLogger overrides the reaper logger.
func WithReaperLogger(l *slog.Logger) ReaperOption {
	return reaperOptionFunc(func(r *Reaper) {
		r.logger = l
	})
}

// NewReaper creates a reaper for the registry.
func NewReaper(registry *Registry, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		registry: registry,
		sched:    schedule.Every(time.Minute),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt.applyReaper(r)
	}
	return r
}

// Start runs the reap loop. Blocks until the context is cancelled.
func (r *Reaper) Start(ctx context.Context) error {
	last := time.Now()
	for {
		next := r.sched.Next(last)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(next)):
		}
		last = time.Now()

		reaped, err := r.registry.ReapStaleWorkers(ctx)
		if err != nil {
			r.logger.Error("reap pass failed", "error", err)
			continue
		}
		if reaped > 0 {
			r.logger.Info("reaped stale workers", "count", reaped)
		}
	}
}
