package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestJobStatusCancellable(t *testing.T) {
	assert.True(t, StatusPending.Cancellable())
	assert.True(t, StatusQueued.Cancellable())
	assert.True(t, StatusProcessing.Cancellable())
	assert.False(t, StatusCompleted.Cancellable())
	assert.False(t, StatusFailed.Cancellable())
	assert.False(t, StatusCancelled.Cancellable())
}

func TestWorkerStatusSchedulable(t *testing.T) {
	assert.True(t, WorkerIdle.Schedulable())
	assert.True(t, WorkerBusy.Schedulable())
	assert.False(t, WorkerOffline.Schedulable())
	assert.False(t, WorkerError.Schedulable())
}

func TestCaptureStatusTerminal(t *testing.T) {
	assert.False(t, CapturePending.Terminal())
	assert.False(t, CaptureCapturing.Terminal())
	assert.False(t, CaptureProcessing.Terminal())
	assert.True(t, CaptureReady.Terminal())
	assert.True(t, CaptureFailed.Terminal())
}
