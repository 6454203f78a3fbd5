// Package queue provides the priority-queue view over pending jobs.
//
// Ordering is priority DESC with FIFO tie-break on queued_at. Positions are
// not persisted; they are recomputed lazily from the ordering on read.
package queue

import (
	"context"

	"github.com/mailcanary/renderq/pkg/core"
)

// Queue is a read view over the persisted queue entries. Mutation happens in
// the manager (enqueue) and dispatcher (assignment); the view exists for
// position queries and operational monitoring.
type Queue struct {
	storage core.Storage
}

// New creates a queue view.
func New(storage core.Storage) *Queue {
	return &Queue{storage: storage}
}

// Position returns the zero-based rank of a job among unassigned entries,
// or -1 if the job is not waiting.
func (q *Queue) Position(ctx context.Context, jobID string) (int, error) {
	return q.storage.QueuePosition(ctx, jobID)
}

// RankedEntry is a queue entry with its computed position.
type RankedEntry struct {
	core.QueueEntry
	Position int
}

// Pending returns up to limit unassigned entries in dispatch order with
// their positions filled in.
func (q *Queue) Pending(ctx context.Context, limit int) ([]RankedEntry, error) {
	entries, err := q.storage.PendingEntries(ctx, limit)
	if err != nil {
		return nil, err
	}
	ranked := make([]RankedEntry, len(entries))
	for i, e := range entries {
		ranked[i] = RankedEntry{QueueEntry: *e, Position: i}
	}
	return ranked, nil
}

// Status returns the derived queue view: depth, per-priority counts, and the
// longest wait.
func (q *Queue) Status(ctx context.Context) (*core.QueueStatus, error) {
	return q.storage.QueueStatus(ctx)
}
