package core

import (
	"sync"
	"time"
)

// Event is the interface for all scheduler events.
type Event interface {
	eventMarker()
}

// JobQueued is emitted when a submitted job enters the priority queue.
type JobQueued struct {
	Job       *RenderJob
	Timestamp time.Time
}

func (*JobQueued) eventMarker() {}

// JobDispatched is emitted when the dispatcher assigns a job to a worker.
type JobDispatched struct {
	Job       *RenderJob
	WorkerID  string
	Timestamp time.Time
}

func (*JobDispatched) eventMarker() {}

// JobCompleted is emitted when a job finishes with a completed or partial result.
type JobCompleted struct {
	Job       *RenderJob
	Result    *TestResult
	Duration  time.Duration
	Timestamp time.Time
}

func (*JobCompleted) eventMarker() {}

// JobFailed is emitted when a job fails permanently.
type JobFailed struct {
	Job       *RenderJob
	Reason    string
	Timestamp time.Time
}

func (*JobFailed) eventMarker() {}

// JobCancelled is emitted when a job is cancelled.
type JobCancelled struct {
	Job       *RenderJob
	Timestamp time.Time
}

func (*JobCancelled) eventMarker() {}

// JobRequeued is emitted when a job returns to the queue after its worker
// went offline.
type JobRequeued struct {
	JobID     string
	WorkerID  string
	Attempt   int
	Timestamp time.Time
}

func (*JobRequeued) eventMarker() {}

// CaptureStarted is emitted when a capture attempt begins on a worker.
type CaptureStarted struct {
	Screenshot *Screenshot
	WorkerID   string
	Timestamp  time.Time
}

func (*CaptureStarted) eventMarker() {}

// CaptureRetrying is emitted when a capture attempt fails transiently and
// the task returns to pending.
type CaptureRetrying struct {
	Screenshot *Screenshot
	Attempt    int
	Error      error
	Timestamp  time.Time
}

func (*CaptureRetrying) eventMarker() {}

// CaptureFinished is emitted when a capture task reaches a terminal state.
type CaptureFinished struct {
	Screenshot *Screenshot
	Timestamp  time.Time
}

func (*CaptureFinished) eventMarker() {}

// WorkerRegistered is emitted when a worker joins the fleet.
type WorkerRegistered struct {
	Worker    *WorkerNode
	Timestamp time.Time
}

func (*WorkerRegistered) eventMarker() {}

// WorkerLost is emitted when the reaper marks a worker offline.
type WorkerLost struct {
	Worker       *WorkerNode
	RequeuedJobs int
	Timestamp    time.Time
}

func (*WorkerLost) eventMarker() {}

// Bus fans events out to subscribers. Delivery is best-effort: events to a
// full subscriber channel are dropped rather than blocking the scheduler.
type Bus struct {
	mu   sync.RWMutex
	subs []chan Event
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a channel for receiving scheduler events.
// The caller must call Unsubscribe when done to prevent resource leaks.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, 100)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Subscribe.
// The channel is not closed; callers must stop reading before calling
// Unsubscribe. After Unsubscribe returns, no further events are sent to it.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub == ch {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Emit delivers an event to all subscribers. Nil-safe so components can treat
// the bus as optional.
func (b *Bus) Emit(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	// Copy the slice to avoid racing with Subscribe during iteration.
	subs := make([]chan Event, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			// Drop if full - slow consumers must not stall dispatch.
		}
	}
}
