package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mailcanary/renderq/pkg/core"
	"github.com/mailcanary/renderq/pkg/security"
)

// UpsertWorker registers or refreshes a worker node.
func (s *GormStorage) UpsertWorker(ctx context.Context, worker *core.WorkerNode) error {
	if worker.ID == "" {
		worker.ID = uuid.New().String()
	}
	if worker.Status == "" {
		worker.Status = core.WorkerIdle
	}
	worker.MaxConcurrentJobs = security.ClampConcurrency(worker.MaxConcurrentJobs)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing core.WorkerNode
		err := tx.First(&existing, "id = ?", worker.ID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(worker).Error
		}
		if err != nil {
			return err
		}
		// Re-registration keeps the live job count but refreshes everything else.
		return tx.Model(&core.WorkerNode{}).
			Where("id = ?", worker.ID).
			Updates(map[string]any{
				"type":                worker.Type,
				"status":              worker.Status,
				"capabilities":        worker.Capabilities,
				"max_concurrent_jobs": worker.MaxConcurrentJobs,
				"last_heartbeat":      worker.LastHeartbeat,
			}).Error
	})
}

// GetWorker retrieves a worker by ID.
func (s *GormStorage) GetWorker(ctx context.Context, workerID string) (*core.WorkerNode, error) {
	var worker core.WorkerNode
	err := s.db.WithContext(ctx).First(&worker, "id = ?", workerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrWorkerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &worker, nil
}

// ListWorkers returns every registered worker.
func (s *GormStorage) ListWorkers(ctx context.Context) ([]*core.WorkerNode, error) {
	var workers []*core.WorkerNode
	err := s.db.WithContext(ctx).Order("id ASC").Find(&workers).Error
	return workers, err
}

// AvailableWorkers returns schedulable workers with spare capacity.
func (s *GormStorage) AvailableWorkers(ctx context.Context) ([]*core.WorkerNode, error) {
	var workers []*core.WorkerNode
	err := s.db.WithContext(ctx).
		Where("status IN ?", []core.WorkerStatus{core.WorkerIdle, core.WorkerBusy}).
		Where("current_job_count < max_concurrent_jobs").
		Order("current_job_count ASC").
		Find(&workers).Error
	return workers, err
}

// HeartbeatWorker records liveness. A worker that was offline transitions
// back to idle or busy based on its current job count.
func (s *GormStorage) HeartbeatWorker(ctx context.Context, workerID string, at time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var worker core.WorkerNode
		if err := tx.First(&worker, "id = ?", workerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return core.ErrWorkerNotFound
			}
			return err
		}

		updates := map[string]any{"last_heartbeat": at}
		if worker.Status == core.WorkerOffline {
			if worker.CurrentJobCount > 0 {
				updates["status"] = core.WorkerBusy
			} else {
				updates["status"] = core.WorkerIdle
			}
		}

		return tx.Model(&core.WorkerNode{}).
			Where("id = ?", workerID).
			Updates(updates).Error
	})
}

// StaleWorkers returns non-offline workers that have not heartbeated since cutoff.
func (s *GormStorage) StaleWorkers(ctx context.Context, cutoff time.Time) ([]*core.WorkerNode, error) {
	var workers []*core.WorkerNode
	err := s.db.WithContext(ctx).
		Where("status <> ?", core.WorkerOffline).
		Where("last_heartbeat < ?", cutoff).
		Find(&workers).Error
	return workers, err
}

// MarkWorkerOffline sets the worker offline and zeroes its job count. An
// offline worker holds no capacity slots.
func (s *GormStorage) MarkWorkerOffline(ctx context.Context, workerID string) error {
	return s.db.WithContext(ctx).
		Model(&core.WorkerNode{}).
		Where("id = ?", workerID).
		Updates(map[string]any{
			"status":            core.WorkerOffline,
			"current_job_count": 0,
		}).Error
}

// AssignJob performs the dispatcher's atomic assignment: increment the
// worker's job count, stamp the queue entry, and move the job to processing.
// Each step is a conditional update; any step losing its race rolls the whole
// assignment back with ErrSchedulingConflict.
func (s *GormStorage) AssignJob(ctx context.Context, jobID string, workerID string) error {
	now := time.Now()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		worker := tx.Model(&core.WorkerNode{}).
			Where("id = ?", workerID).
			Where("status IN ?", []core.WorkerStatus{core.WorkerIdle, core.WorkerBusy}).
			Where("current_job_count < max_concurrent_jobs").
			Updates(map[string]any{
				"current_job_count": gorm.Expr("current_job_count + 1"),
				"status":            core.WorkerBusy,
			})
		if worker.Error != nil {
			return worker.Error
		}
		if worker.RowsAffected == 0 {
			return core.ErrSchedulingConflict
		}

		entry := tx.Model(&core.QueueEntry{}).
			Where("job_id = ? AND assigned_worker = ?", jobID, "").
			Update("assigned_worker", workerID)
		if entry.Error != nil {
			return entry.Error
		}
		if entry.RowsAffected == 0 {
			return core.ErrSchedulingConflict
		}

		job := tx.Model(&core.RenderJob{}).
			Where("id = ? AND status = ?", jobID, core.StatusQueued).
			Updates(map[string]any{
				"status":          core.StatusProcessing,
				"assigned_worker": workerID,
				"started_at":      now,
			})
		if job.Error != nil {
			return job.Error
		}
		if job.RowsAffected == 0 {
			return core.ErrSchedulingConflict
		}

		return nil
	})
}

// ReleaseWorker returns one capacity slot to the worker. Workers holding no
// slots are left untouched, so releasing twice is safe.
func (s *GormStorage) ReleaseWorker(ctx context.Context, workerID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&core.WorkerNode{}).
			Where("id = ? AND current_job_count > 0", workerID).
			Update("current_job_count", gorm.Expr("current_job_count - 1"))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		return tx.Model(&core.WorkerNode{}).
			Where("id = ? AND current_job_count = 0 AND status = ?", workerID, core.WorkerBusy).
			Update("status", core.WorkerIdle).Error
	})
}

// FleetHealth returns the derived worker-fleet view.
func (s *GormStorage) FleetHealth(ctx context.Context) (*core.FleetHealth, error) {
	health := &core.FleetHealth{}

	type statusCount struct {
		Status core.WorkerStatus
		Count  int64
	}
	var counts []statusCount
	err := s.db.WithContext(ctx).
		Model(&core.WorkerNode{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	for _, c := range counts {
		switch c.Status {
		case core.WorkerIdle:
			health.Idle = c.Count
		case core.WorkerBusy:
			health.Busy = c.Count
		case core.WorkerOffline:
			health.Offline = c.Count
		case core.WorkerError:
			health.Error = c.Count
		}
	}

	type capacityRow struct {
		Capacity int64
		InFlight int64
	}
	var row capacityRow
	err = s.db.WithContext(ctx).
		Model(&core.WorkerNode{}).
		Select("COALESCE(SUM(max_concurrent_jobs),0) as capacity, COALESCE(SUM(current_job_count),0) as in_flight").
		Where("status IN ?", []core.WorkerStatus{core.WorkerIdle, core.WorkerBusy}).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	health.Capacity = row.Capacity
	health.InFlight = row.InFlight
	if health.Capacity > 0 {
		health.Utilization = float64(health.InFlight) / float64(health.Capacity)
	}

	return health, nil
}

// UpsertClient registers or updates an email-client descriptor.
func (s *GormStorage) UpsertClient(ctx context.Context, client *core.EmailClient) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing core.EmailClient
		err := tx.First(&existing, "id = ?", client.ID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(client).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&core.EmailClient{}).
			Where("id = ?", client.ID).
			Updates(map[string]any{
				"vendor":               client.Vendor,
				"engine":               client.Engine,
				"platform":             client.Platform,
				"supports_dark_mode":   client.SupportsDarkMode,
				"supports_responsive":  client.SupportsResponsive,
				"supports_interactive": client.SupportsInteractive,
				"automation_config":    client.AutomationConfig,
				"active":               client.Active,
			}).Error
	})
}

// GetClient retrieves an email client by ID.
func (s *GormStorage) GetClient(ctx context.Context, clientID string) (*core.EmailClient, error) {
	var client core.EmailClient
	err := s.db.WithContext(ctx).First(&client, "id = ?", clientID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &client, nil
}

// ActiveClients returns every active email client.
func (s *GormStorage) ActiveClients(ctx context.Context) ([]*core.EmailClient, error) {
	var clients []*core.EmailClient
	err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("id ASC").
		Find(&clients).Error
	return clients, err
}
