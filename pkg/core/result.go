package core

import (
	"encoding/json"
	"time"
)

// ClientResult summarizes the terminal outcome of one client's capture.
type ClientResult struct {
	ClientID       string        `json:"client_id"`
	Status         CaptureStatus `json:"status"`
	ImageRef       string        `json:"image_ref,omitempty"`
	ProcessingTime time.Duration `json:"processing_time,omitempty"`
	RetryCount     int           `json:"retry_count,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// SubScores are externally produced analyzer scores (0-100 each) merged into
// the aggregate result. Nil fields mean the analyzer did not run.
type SubScores struct {
	Accessibility *float64 `json:"accessibility,omitempty"`
	Performance   *float64 `json:"performance,omitempty"`
	Spam          *float64 `json:"spam,omitempty"`
}

// TestResult is the aggregate outcome of a RenderJob. Written exactly once,
// after every Screenshot for the job is terminal, and immutable afterward.
type TestResult struct {
	JobID         string       `gorm:"primaryKey;size:36"`
	OverallStatus ResultStatus `gorm:"size:20;not null"`
	OverallScore  float64      // 0-100

	TotalClients  int
	PassedClients int
	FailedClients int

	ClientResults []byte `gorm:"type:bytes"` // JSON-encoded []ClientResult

	AccessibilityScore *float64
	PerformanceScore   *float64
	SpamScore          *float64

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// SetClientResults serializes the per-client summaries into the record.
func (r *TestResult) SetClientResults(results []ClientResult) error {
	b, err := json.Marshal(results)
	if err != nil {
		return err
	}
	r.ClientResults = b
	return nil
}

// DecodeClientResults returns the per-client summaries stored in the record.
func (r *TestResult) DecodeClientResults() ([]ClientResult, error) {
	if len(r.ClientResults) == 0 {
		return nil, nil
	}
	var results []ClientResult
	if err := json.Unmarshal(r.ClientResults, &results); err != nil {
		return nil, err
	}
	return results, nil
}
