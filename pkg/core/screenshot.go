package core

import "time"

// Screenshot is one capture task: an attempt to render a job on one
// client/viewport/dark-mode combination. A ready or permanently failed
// Screenshot is terminal and never mutated again.
type Screenshot struct {
	ID       string        `gorm:"primaryKey;size:36"`
	JobID    string        `gorm:"index;size:36;not null"`
	ClientID string        `gorm:"index;size:64;not null"`
	Viewport Viewport      `gorm:"embedded;embeddedPrefix:viewport_"`
	DarkMode bool          `gorm:"default:false"`
	Status   CaptureStatus `gorm:"index;size:20;default:'pending'"`

	RetryCount int `gorm:"default:0"`
	MaxRetries int `gorm:"default:3"`

	// ImageRef is a storage reference to the captured image, never raw bytes.
	ImageRef       string        `gorm:"size:512"`
	ProcessingTime time.Duration
	ErrorMessage   string        `gorm:"type:text"`
	CapturedBy     string        `gorm:"size:36"` // Worker that produced the terminal attempt

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}
