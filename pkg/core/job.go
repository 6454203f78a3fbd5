package core

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Viewport is the pixel dimensions a capture is rendered at.
type Viewport struct {
	Width  int `gorm:"default:600" json:"width"`
	Height int `gorm:"default:800" json:"height"`
}

// DefaultViewport is used when a submission does not specify dimensions.
// 600px is the conventional maximum width for email layouts.
var DefaultViewport = Viewport{Width: 600, Height: 800}

// ClientList is a set of email-client IDs, stored as a JSON array.
type ClientList []string

// Value implements driver.Valuer.
func (l ClientList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *ClientList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("renderq: cannot scan %T into ClientList", src)
	}
}

// Contains reports whether id is in the list.
func (l ClientList) Contains(id string) bool {
	for _, c := range l {
		if c == id {
			return true
		}
	}
	return false
}

// SubsetOf reports whether every ID in the list appears in other.
func (l ClientList) SubsetOf(other ClientList) bool {
	for _, c := range l {
		if !other.Contains(c) {
			return false
		}
	}
	return true
}

// RenderJob is a request to verify one email HTML across a set of target clients.
type RenderJob struct {
	ID            string     `gorm:"primaryKey;size:36"`
	SubmitterID   string     `gorm:"index;size:255"`
	HTML          string     `gorm:"type:text;not null"`
	TargetClients ClientList `gorm:"type:text"`
	Viewport      Viewport   `gorm:"embedded;embeddedPrefix:viewport_"`
	DarkMode      bool       `gorm:"default:false"`
	Priority      int        `gorm:"index;default:0"`
	Status        JobStatus  `gorm:"index;size:20;default:'pending'"`

	// Progress is 0-100 and non-decreasing while the job is processing.
	Progress   int `gorm:"default:0"`
	RetryCount int `gorm:"default:0"`
	MaxRetries int `gorm:"default:3"`

	EstimatedDuration time.Duration
	ActualDuration    time.Duration

	AssignedWorker string `gorm:"index;size:36"`
	ErrorMessage   string `gorm:"type:text"`

	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
	QueuedAt    *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time
}

// QueueEntry is a queue membership record for a submitted job. An entry exists
// from enqueue until the job completes, fails, or is cancelled; its position
// in the pending view is computed lazily from (priority DESC, queued_at ASC).
type QueueEntry struct {
	JobID          string    `gorm:"primaryKey;size:36"`
	Priority       int       `gorm:"index;not null"`
	QueuedAt       time.Time `gorm:"index;not null"`
	AssignedWorker string    `gorm:"index;size:36"`
}

// Assigned reports whether the entry has been dispatched to a worker.
func (e *QueueEntry) Assigned() bool {
	return e.AssignedWorker != ""
}
