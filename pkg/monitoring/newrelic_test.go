package monitoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestApp_DisabledIsNoop tests that a disabled app swallows every
// event without touching the agent
func TestApp_DisabledIsNoop(t *testing.T) {
	app, err := New(Config{})
	require.NoError(t, err)
	assert.False(t, app.IsEnabled())

	app.RecordQueueJoined("driver-1", 3)
	app.RecordQueueLeft("driver-1", true)
	app.RecordRideCommitted("ride-1", 30, 12, 8)
	app.RecordRideBuffered("ride-2")
	app.RecordDriverDemoted("driver-1", 5*time.Minute)
	app.RecordQueueDepth(4)
	app.Shutdown(time.Second)
}

// TestApp_NilReceiverIsNoop tests that callers holding an optional
// *App can record without nil checks
func TestApp_NilReceiverIsNoop(t *testing.T) {
	var app *App
	assert.False(t, app.IsEnabled())

	app.RecordQueueJoined("driver-1", 1)
	app.RecordRideCommitted("ride-1", 30, 12, 8)
	app.RecordRideBuffered("ride-2")
	app.RecordDriverDemoted("driver-1", time.Minute)
	app.Shutdown(time.Second)
}
