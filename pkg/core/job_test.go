package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientListRoundTrip(t *testing.T) {
	list := ClientList{"gmail-web", "outlook-desktop"}

	value, err := list.Value()
	require.NoError(t, err)
	assert.Equal(t, `["gmail-web","outlook-desktop"]`, value)

	var scanned ClientList
	require.NoError(t, scanned.Scan(value))
	assert.Equal(t, list, scanned)
}

func TestClientListNil(t *testing.T) {
	var list ClientList

	value, err := list.Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", value)

	var scanned ClientList
	require.NoError(t, scanned.Scan(nil))
	assert.Nil(t, scanned)
}

func TestClientListScanBytes(t *testing.T) {
	var scanned ClientList
	require.NoError(t, scanned.Scan([]byte(`["yahoo-mail"]`)))
	assert.Equal(t, ClientList{"yahoo-mail"}, scanned)

	assert.Error(t, scanned.Scan(42))
}

func TestClientListContains(t *testing.T) {
	list := ClientList{"gmail-web", "apple-mail"}

	assert.True(t, list.Contains("gmail-web"))
	assert.False(t, list.Contains("thunderbird"))
}

func TestClientListSubsetOf(t *testing.T) {
	capabilities := ClientList{"gmail-web", "outlook-web", "apple-mail"}

	assert.True(t, ClientList{"gmail-web"}.SubsetOf(capabilities))
	assert.True(t, ClientList{"gmail-web", "apple-mail"}.SubsetOf(capabilities))
	assert.True(t, ClientList{}.SubsetOf(capabilities))
	assert.False(t, ClientList{"gmail-web", "yahoo-mail"}.SubsetOf(capabilities))
}

func TestWorkerNodeHasCapacity(t *testing.T) {
	worker := &WorkerNode{
		Status:            WorkerIdle,
		MaxConcurrentJobs: 2,
		CurrentJobCount:   1,
	}
	assert.True(t, worker.HasCapacity())

	worker.CurrentJobCount = 2
	assert.False(t, worker.HasCapacity())

	worker.CurrentJobCount = 0
	worker.Status = WorkerOffline
	assert.False(t, worker.HasCapacity())
}

func TestWorkerNodeCanRender(t *testing.T) {
	worker := &WorkerNode{Capabilities: ClientList{"gmail-web", "outlook-web"}}

	assert.True(t, worker.CanRender(ClientList{"gmail-web"}))
	assert.False(t, worker.CanRender(ClientList{"gmail-web", "apple-mail"}))
}

func TestQueueEntryAssigned(t *testing.T) {
	entry := &QueueEntry{JobID: "job-1"}
	assert.False(t, entry.Assigned())

	entry.AssignedWorker = "worker-1"
	assert.True(t, entry.Assigned())
}
