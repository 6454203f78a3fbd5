package core

// JobStatus represents the current state of a render job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"    // Persisted, not yet accepted into the queue
	StatusQueued     JobStatus = "queued"     // Waiting in the priority queue for a worker
	StatusProcessing JobStatus = "processing" // Assigned to a worker, captures in flight
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal jobs are immutable.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Cancellable reports whether a job in this status may still be cancelled.
func (s JobStatus) Cancellable() bool {
	switch s {
	case StatusPending, StatusQueued, StatusProcessing:
		return true
	}
	return false
}

// WorkerStatus represents the current state of a worker node.
type WorkerStatus string

const (
	WorkerIdle    WorkerStatus = "idle"
	WorkerBusy    WorkerStatus = "busy"
	WorkerOffline WorkerStatus = "offline"
	WorkerError   WorkerStatus = "error"
)

// Schedulable reports whether a worker in this status may accept assignments.
func (s WorkerStatus) Schedulable() bool {
	return s == WorkerIdle || s == WorkerBusy
}

// CaptureStatus represents the lifecycle state of a Screenshot task.
type CaptureStatus string

const (
	CapturePending    CaptureStatus = "pending"
	CaptureCapturing  CaptureStatus = "capturing"  // Worker is actively rendering
	CaptureProcessing CaptureStatus = "processing" // Post-capture storage and metadata
	CaptureReady      CaptureStatus = "ready"
	CaptureFailed     CaptureStatus = "failed"
)

// Terminal reports whether the capture task is finished, successfully or not.
func (s CaptureStatus) Terminal() bool {
	return s == CaptureReady || s == CaptureFailed
}

// ResultStatus is the aggregate outcome of a render job.
type ResultStatus string

const (
	ResultCompleted ResultStatus = "completed" // Every target client rendered
	ResultPartial   ResultStatus = "partial"   // Some clients rendered, some failed
	ResultFailed    ResultStatus = "failed"    // No client rendered
)

// WorkerType identifies the execution environment of a worker node.
type WorkerType string

const (
	WorkerDocker  WorkerType = "docker"
	WorkerVM      WorkerType = "vm"
	WorkerBrowser WorkerType = "browser"
)
