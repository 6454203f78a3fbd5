// Package capture provides the capture coordinator: per-(job, client) task
// lifecycle, retries, and timeouts around the worker-side screenshot call.
package capture

import (
	"context"

	"github.com/mailcanary/renderq/pkg/core"
)

// CaptureRequest is the unit of work handed to a capture worker.
type CaptureRequest struct {
	JobID    string
	ClientID string
	WorkerID string
	HTML     string
	Viewport core.Viewport
	DarkMode bool
}

// CaptureResult is what a capture worker reports back. ImageRef is a storage
// reference, never raw image bytes.
type CaptureResult struct {
	ImageRef string
}

// Capturer is the worker-side contract. Implementations run the actual
// browser automation inside a worker and are expected to report back within
// the coordinator's per-attempt timeout.
//
// Errors wrapped with core.Permanent fail the task immediately; everything
// else is treated as transient and retried.
type Capturer interface {
	CaptureScreenshot(ctx context.Context, req CaptureRequest) (*CaptureResult, error)
}

// CapturerFunc adapts a function to the Capturer interface.
type CapturerFunc func(ctx context.Context, req CaptureRequest) (*CaptureResult, error)

// CaptureScreenshot implements Capturer.
func (f CapturerFunc) CaptureScreenshot(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	return f(ctx, req)
}
