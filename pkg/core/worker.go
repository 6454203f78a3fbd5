package core

import "time"

// WorkerNode is a capture-capable execution unit: a container, VM, or managed
// browser able to render emails in one or more client environments.
type WorkerNode struct {
	ID           string       `gorm:"primaryKey;size:36"`
	Type         WorkerType   `gorm:"size:20;default:'docker'"`
	Status       WorkerStatus `gorm:"index;size:20;default:'idle'"`
	Capabilities ClientList   `gorm:"type:text"`

	// CurrentJobCount never exceeds MaxConcurrentJobs; both are mutated only
	// through Storage.AssignJob and Storage.ReleaseWorker.
	MaxConcurrentJobs int `gorm:"default:1"`
	CurrentJobCount   int `gorm:"default:0"`

	LastHeartbeat time.Time `gorm:"index"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// HasCapacity reports whether the worker can take on another job.
func (w *WorkerNode) HasCapacity() bool {
	return w.Status.Schedulable() && w.CurrentJobCount < w.MaxConcurrentJobs
}

// CanRender reports whether the worker supports every client in targets.
func (w *WorkerNode) CanRender(targets ClientList) bool {
	return targets.SubsetOf(w.Capabilities)
}
