// Package renderq provides a distributed render-test scheduler for email
// templates: submitted HTML is captured on a fleet of automation workers
// across real email clients and scored into a single aggregate result.
//
// This is the main package users should import. It re-exports all public
// types from the internal pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	// Create storage and the scheduler
//	db, _ := gorm.Open(sqlite.Open("renderq.db"), &gorm.Config{})
//	store := renderq.NewGormStorage(db)
//	store.Migrate(context.Background())
//	sched, _ := renderq.NewScheduler(ctx, store, myCapturer)
//
//	// Register a worker and start the scheduling loops
//	sched.Fleet.Register(ctx, &renderq.WorkerNode{ID: "worker-1", ...})
//	go sched.Start(ctx)
//
//	// Submit a job
//	job, _ := sched.Manager.Submit(ctx, renderq.SubmitRequest{
//	    HTML:      "<html>...</html>",
//	    ClientIDs: []string{"gmail-web", "outlook-desktop"},
//	    Priority:  50,
//	})
package renderq

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/mailcanary/renderq/pkg/aggregate"
	"github.com/mailcanary/renderq/pkg/capture"
	"github.com/mailcanary/renderq/pkg/clients"
	"github.com/mailcanary/renderq/pkg/core"
	"github.com/mailcanary/renderq/pkg/dispatch"
	"github.com/mailcanary/renderq/pkg/fleet"
	"github.com/mailcanary/renderq/pkg/manager"
	"github.com/mailcanary/renderq/pkg/queue"
	"github.com/mailcanary/renderq/pkg/schedule"
	"github.com/mailcanary/renderq/pkg/security"
	"github.com/mailcanary/renderq/pkg/storage"
)

// Type aliases re-exported from the internal packages.
type (
	// RenderJob is a render-test request over a set of email clients.
	RenderJob = core.RenderJob

	// QueueEntry is a pending queue row awaiting dispatch.
	QueueEntry = core.QueueEntry

	// WorkerNode is a registered automation worker.
	WorkerNode = core.WorkerNode

	// EmailClient describes a supported rendering target.
	EmailClient = core.EmailClient

	// Screenshot is a single client capture task within a job.
	Screenshot = core.Screenshot

	// TestResult is the aggregate outcome of a finished job.
	TestResult = core.TestResult

	// ClientResult is one client's outcome within a TestResult.
	ClientResult = core.ClientResult

	// SubScores holds optional per-client quality components.
	SubScores = core.SubScores

	// Viewport is the capture viewport in CSS pixels.
	Viewport = core.Viewport

	// ClientList is an ordered set of email-client IDs.
	ClientList = core.ClientList

	// JobStatus represents the current state of a render job.
	JobStatus = core.JobStatus

	// WorkerStatus represents the current state of a worker node.
	WorkerStatus = core.WorkerStatus

	// CaptureStatus represents the lifecycle state of a Screenshot.
	CaptureStatus = core.CaptureStatus

	// ResultStatus is the aggregate outcome classification.
	ResultStatus = core.ResultStatus

	// WorkerType identifies the execution environment of a worker.
	WorkerType = core.WorkerType

	// Storage defines the persistence layer for the scheduler.
	Storage = core.Storage

	// FleetHealth is the aggregate view of worker availability.
	FleetHealth = core.FleetHealth

	// QueueStatus is a derived view of the pending queue.
	QueueStatus = core.QueueStatus

	// Event is the interface for all scheduler events.
	Event = core.Event

	// Bus fans scheduler events out to subscribers.
	Bus = core.Bus

	// JobQueued is emitted when a job enters the priority queue.
	JobQueued = core.JobQueued

	// JobDispatched is emitted when a job is assigned to a worker.
	JobDispatched = core.JobDispatched

	// JobCompleted is emitted when a job finishes with a result.
	JobCompleted = core.JobCompleted

	// JobFailed is emitted when a job fails permanently.
	JobFailed = core.JobFailed

	// JobCancelled is emitted when a job is cancelled.
	JobCancelled = core.JobCancelled

	// JobRequeued is emitted when a job returns to the queue after its
	// worker went offline.
	JobRequeued = core.JobRequeued

	// WorkerLost is emitted when the reaper marks a worker offline.
	WorkerLost = core.WorkerLost

	// GormStorage implements Storage using GORM.
	GormStorage = storage.GormStorage

	// SubmitRequest is the inbound job description.
	SubmitRequest = manager.SubmitRequest

	// StatusReport is the snapshot returned by Manager.GetStatus.
	StatusReport = manager.StatusReport

	// Manager owns job submission, cancellation, and status queries.
	Manager = manager.Manager

	// Capturer executes a single screenshot capture on a worker.
	Capturer = capture.Capturer

	// CapturerFunc adapts a function to the Capturer interface.
	CapturerFunc = capture.CapturerFunc

	// CaptureRequest describes one capture attempt.
	CaptureRequest = capture.CaptureRequest

	// CaptureResult is the output of a successful capture.
	CaptureResult = capture.CaptureResult

	// ScorePolicy weights the components of the overall score.
	ScorePolicy = aggregate.ScorePolicy

	// Schedule defines when a recurring task should run next.
	Schedule = schedule.Schedule
)

// Job status constants
const (
	StatusPending    = core.StatusPending
	StatusQueued     = core.StatusQueued
	StatusProcessing = core.StatusProcessing
	StatusCompleted  = core.StatusCompleted
	StatusFailed     = core.StatusFailed
	StatusCancelled  = core.StatusCancelled
)

// Worker status constants
const (
	WorkerIdle    = core.WorkerIdle
	WorkerBusy    = core.WorkerBusy
	WorkerOffline = core.WorkerOffline
	WorkerError   = core.WorkerError
)

// Capture status constants
const (
	CapturePending    = core.CapturePending
	CaptureCapturing  = core.CaptureCapturing
	CaptureProcessing = core.CaptureProcessing
	CaptureReady      = core.CaptureReady
	CaptureFailed     = core.CaptureFailed
)

// Worker type constants
const (
	WorkerDocker  = core.WorkerDocker
	WorkerVM      = core.WorkerVM
	WorkerBrowser = core.WorkerBrowser
)

// Result status constants
const (
	ResultCompleted = core.ResultCompleted
	ResultPartial   = core.ResultPartial
	ResultFailed    = core.ResultFailed
)

// Security limits
const (
	MaxHTMLSize           = security.MaxHTMLSize
	MaxTargetClients      = security.MaxTargetClients
	MaxRetries            = security.MaxRetries
	MaxWorkerConcurrency  = security.MaxWorkerConcurrency
	MaxErrorMessageLength = security.MaxErrorMessageLength
)

// Error variables
var (
	ErrEmptyHTML          = core.ErrEmptyHTML
	ErrHTMLTooLarge       = core.ErrHTMLTooLarge
	ErrNoTargetClients    = core.ErrNoTargetClients
	ErrTooManyTargets     = core.ErrTooManyTargets
	ErrUnknownClient      = core.ErrUnknownClient
	ErrJobNotFound        = core.ErrJobNotFound
	ErrWorkerNotFound     = core.ErrWorkerNotFound
	ErrResultNotFound     = core.ErrResultNotFound
	ErrCannotCancel       = core.ErrCannotCancel
	ErrSchedulingConflict = core.ErrSchedulingConflict
)

// NewGormStorage creates a GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return storage.NewGormStorage(db)
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return core.NewBus()
}

// Transient wraps a capture error so the coordinator retries the attempt.
func Transient(err error) error {
	return core.Transient(err)
}

// Permanent wraps a capture error so the coordinator fails the task at once.
func Permanent(err error) error {
	return core.Permanent(err)
}

// DefaultScorePolicy returns the standard score weighting.
func DefaultScorePolicy() ScorePolicy {
	return aggregate.DefaultScorePolicy()
}

// AttemptTimeout bounds one capture attempt. Pass through WithCaptureOptions.
func AttemptTimeout(d time.Duration) capture.Option {
	return capture.AttemptTimeout(d)
}

// RetryDelay sets the pause between capture attempts. Pass through
// WithCaptureOptions.
func RetryDelay(d time.Duration) capture.Option {
	return capture.RetryDelay(d)
}

// Schedule functions

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return schedule.Every(d)
}

// Daily creates a schedule that runs at a specific time each day.
func Daily(hour, minute int) Schedule {
	return schedule.Daily(hour, minute)
}

// Weekly creates a schedule that runs at a specific day and time each week.
func Weekly(day time.Weekday, hour, minute int) Schedule {
	return schedule.Weekly(day, hour, minute)
}

// Cron creates a schedule from a cron expression.
func Cron(expr string) Schedule {
	return schedule.Cron(expr)
}

// Jittered spreads a schedule's run times by up to maxJitter, for replicated
// scheduler deployments.
func Jittered(s Schedule, maxJitter time.Duration) Schedule {
	return schedule.Jittered(s, maxJitter)
}

// Scheduler wires the full pipeline: clients registry, fleet registry,
// manager, dispatcher, capture coordinator, and result aggregator, all
// sharing one storage backend and one event bus.
type Scheduler struct {
	Storage Storage
	Bus     *Bus
	Clients *clients.Registry
	Fleet   *fleet.Registry
	Manager *Manager
	Queue   *queue.Queue

	dispatcher  *dispatch.Dispatcher
	coordinator *capture.Coordinator
	aggregator  *aggregate.Aggregator
	reaper      *fleet.Reaper
}

// SchedulerOption configures a Scheduler.
type SchedulerOption interface {
	applyScheduler(*schedulerConfig)
}

type schedulerConfig struct {
	dispatchOpts []dispatch.Option
	captureOpts  []capture.Option
	aggOpts      []aggregate.Option
	fleetOpts    []fleet.RegistryOption
	reapSchedule schedule.Schedule
}

type schedulerOptionFunc func(*schedulerConfig)

func (f schedulerOptionFunc) applyScheduler(c *schedulerConfig) { f(c) }

// WithDispatchOptions forwards options to the dispatcher.
func WithDispatchOptions(opts ...dispatch.Option) SchedulerOption {
	return schedulerOptionFunc(func(c *schedulerConfig) {
		c.dispatchOpts = append(c.dispatchOpts, opts...)
	})
}

// WithCaptureOptions forwards options to the capture coordinator.
func WithCaptureOptions(opts ...capture.Option) SchedulerOption {
	return schedulerOptionFunc(func(c *schedulerConfig) {
		c.captureOpts = append(c.captureOpts, opts...)
	})
}

// WithAggregateOptions forwards options to the result aggregator.
func WithAggregateOptions(opts ...aggregate.Option) SchedulerOption {
	return schedulerOptionFunc(func(c *schedulerConfig) {
		c.aggOpts = append(c.aggOpts, opts...)
	})
}

// WithFleetOptions forwards options to the fleet registry.
func WithFleetOptions(opts ...fleet.RegistryOption) SchedulerOption {
	return schedulerOptionFunc(func(c *schedulerConfig) {
		c.fleetOpts = append(c.fleetOpts, opts...)
	})
}

// WithReapSchedule overrides how often stale workers are reaped.
func WithReapSchedule(s schedule.Schedule) SchedulerOption {
	return schedulerOptionFunc(func(c *schedulerConfig) {
		c.reapSchedule = s
	})
}

// NewScheduler builds a fully wired scheduler around the given storage and
// capturer. It seeds the default email-client catalog.
func NewScheduler(ctx context.Context, store Storage, capturer Capturer, opts ...SchedulerOption) (*Scheduler, error) {
	cfg := &schedulerConfig{}
	for _, opt := range opts {
		opt.applyScheduler(cfg)
	}

	bus := core.NewBus()

	clientReg := clients.NewRegistry(store)
	if err := clientReg.Seed(ctx); err != nil {
		return nil, err
	}

	fleetReg := fleet.NewRegistry(store, bus, cfg.fleetOpts...)
	mgr := manager.New(store, clientReg, bus)

	agg := aggregate.New(store, bus, cfg.aggOpts...)
	coord := capture.NewCoordinator(store, capturer, agg, bus, cfg.captureOpts...)
	disp := dispatch.New(store, coord, bus, cfg.dispatchOpts...)

	reaperOpts := []fleet.ReaperOption{}
	if cfg.reapSchedule != nil {
		reaperOpts = append(reaperOpts, fleet.WithSchedule(cfg.reapSchedule))
	}
	reaper := fleet.NewReaper(fleetReg, reaperOpts...)

	return &Scheduler{
		Storage:     store,
		Bus:         bus,
		Clients:     clientReg,
		Fleet:       fleetReg,
		Manager:     mgr,
		Queue:       queue.New(store),
		dispatcher:  disp,
		coordinator: coord,
		aggregator:  agg,
		reaper:      reaper,
	}, nil
}

// Start runs the dispatcher loop and the stale-worker reaper until the
// context is cancelled, then waits for in-flight capture tasks to settle.
func (s *Scheduler) Start(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- s.reaper.Start(ctx)
	}()

	err := s.dispatcher.Start(ctx)
	<-done
	s.coordinator.Wait()
	return err
}

// DispatchOnce runs a single dispatch cycle. Useful in tests and for
// externally driven scheduling.
func (s *Scheduler) DispatchOnce(ctx context.Context) (int, error) {
	return s.dispatcher.DispatchOnce(ctx)
}

// Wait blocks until all in-flight capture tasks have settled.
func (s *Scheduler) Wait() {
	s.coordinator.Wait()
}
