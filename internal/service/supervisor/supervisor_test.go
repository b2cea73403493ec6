package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	queuesvc "github.com/todahub/paradahan/internal/service/queue"
	"github.com/todahub/paradahan/pkg/docstore"
	"github.com/todahub/paradahan/pkg/logger"
)

const waitFor = 2 * time.Second

type fakeDemoter struct {
	mu      sync.Mutex
	inRide  []string
	offline []string
}

func (d *fakeDemoter) MarkInRide(ctx context.Context, driverID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inRide = append(d.inRide, driverID)
	return nil
}

func (d *fakeDemoter) ForceOffline(ctx context.Context, driverID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.offline = append(d.offline, driverID)
	return nil
}

func (d *fakeDemoter) offlineCount(driverID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, id := range d.offline {
		if id == driverID {
			n++
		}
	}
	return n
}

func (d *fakeDemoter) inRideCount(driverID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, id := range d.inRide {
		if id == driverID {
			n++
		}
	}
	return n
}

type fakeIntents struct {
	mu       sync.Mutex
	offlined map[string]bool
}

func (f *fakeIntents) WentOffline(driverID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offlined[driverID]
}

func queueDocs(driverIDs ...string) []docstore.Document {
	docs := make([]docstore.Document, 0, len(driverIDs))
	for _, id := range driverIDs {
		docs = append(docs, docstore.Document{Key: id, Fields: map[string]interface{}{"driver_id": id}})
	}
	return docs
}

func newTestSupervisor(grace time.Duration) (*Supervisor, *docstore.MemoryStore, *fakeDemoter, *fakeIntents) {
	store := docstore.NewMemoryStore()
	demoter := &fakeDemoter{}
	intents := &fakeIntents{offlined: make(map[string]bool)}
	sup := New(store, demoter, intents, Config{GracePeriod: grace}, logger.Nop())
	return sup, store, demoter, intents
}

func hasAbsence(t *testing.T, store *docstore.MemoryStore, driverID string) bool {
	t.Helper()
	_, err := store.Get(context.Background(), AbsencesCollection, driverID)
	return err == nil
}

// TestSupervisor_DemotesAfterGracePeriod tests the core watchdog path:
// a disappeared driver is optimistically marked in ride, then demoted
// exactly once when the grace period lapses without a return
func TestSupervisor_DemotesAfterGracePeriod(t *testing.T) {
	sup, store, demoter, _ := newTestSupervisor(40 * time.Millisecond)
	ctx := context.Background()
	defer sup.Stop()

	sup.observe(ctx, queueDocs("driver-a"))
	sup.observe(ctx, queueDocs())

	assert.Equal(t, 1, demoter.inRideCount("driver-a"))
	assert.True(t, hasAbsence(t, store, "driver-a"), "deadline persisted while the timer runs")

	require.Eventually(t, func() bool {
		return demoter.offlineCount("driver-a") == 1
	}, waitFor, 5*time.Millisecond)

	assert.False(t, hasAbsence(t, store, "driver-a"), "deadline cleared after demotion")

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 1, demoter.offlineCount("driver-a"), "demotion fires exactly once")
}

// TestSupervisor_ReturnWithinGraceCancelsDemotion tests that a rejoin
// stops the timer and clears the persisted deadline
func TestSupervisor_ReturnWithinGraceCancelsDemotion(t *testing.T) {
	sup, store, demoter, _ := newTestSupervisor(60 * time.Millisecond)
	ctx := context.Background()
	defer sup.Stop()

	sup.observe(ctx, queueDocs("driver-a"))
	sup.observe(ctx, queueDocs())
	require.True(t, hasAbsence(t, store, "driver-a"))

	sup.observe(ctx, queueDocs("driver-a"))

	assert.False(t, hasAbsence(t, store, "driver-a"))
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, demoter.offlineCount("driver-a"))
}

// TestSupervisor_ManualOfflineGetsNoTimer tests that an explicit
// go-offline departure is not treated as a ride
func TestSupervisor_ManualOfflineGetsNoTimer(t *testing.T) {
	sup, store, demoter, intents := newTestSupervisor(30 * time.Millisecond)
	ctx := context.Background()
	defer sup.Stop()

	intents.mu.Lock()
	intents.offlined["driver-a"] = true
	intents.mu.Unlock()

	sup.observe(ctx, queueDocs("driver-a"))
	sup.observe(ctx, queueDocs())

	assert.Zero(t, demoter.inRideCount("driver-a"))
	assert.False(t, hasAbsence(t, store, "driver-a"))
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, demoter.offlineCount("driver-a"))
}

// TestSupervisor_FirstSnapshotNeverDemotes tests that priming the
// membership view treats nobody as disappeared
func TestSupervisor_FirstSnapshotNeverDemotes(t *testing.T) {
	sup, _, demoter, _ := newTestSupervisor(30 * time.Millisecond)
	ctx := context.Background()
	defer sup.Stop()

	sup.observe(ctx, queueDocs())
	sup.observe(ctx, queueDocs("driver-a", "driver-b"))

	time.Sleep(100 * time.Millisecond)
	demoter.mu.Lock()
	defer demoter.mu.Unlock()
	assert.Empty(t, demoter.offline)
	assert.Empty(t, demoter.inRide)
}

// TestSupervisor_ResumeExpiredDeadline tests restart recovery when the
// deadline already passed while the process was down
func TestSupervisor_ResumeExpiredDeadline(t *testing.T) {
	sup, store, demoter, _ := newTestSupervisor(time.Minute)
	ctx := context.Background()
	defer sup.Stop()

	past := time.Now().Add(-time.Second)
	require.NoError(t, store.Put(ctx, AbsencesCollection, "driver-a", map[string]interface{}{
		"driver_id": "driver-a",
		"left_at":   past.Add(-time.Minute).UnixNano(),
		"demote_at": past.UnixNano(),
	}))

	require.NoError(t, sup.Resume(ctx))

	assert.Equal(t, 1, demoter.offlineCount("driver-a"))
	assert.False(t, hasAbsence(t, store, "driver-a"))
}

// TestSupervisor_ResumeFutureDeadline tests restart recovery with time
// still on the clock
func TestSupervisor_ResumeFutureDeadline(t *testing.T) {
	sup, store, demoter, _ := newTestSupervisor(time.Minute)
	ctx := context.Background()
	defer sup.Stop()

	deadline := time.Now().Add(50 * time.Millisecond)
	require.NoError(t, store.Put(ctx, AbsencesCollection, "driver-a", map[string]interface{}{
		"driver_id": "driver-a",
		"left_at":   time.Now().UnixNano(),
		"demote_at": deadline.UnixNano(),
	}))

	require.NoError(t, sup.Resume(ctx))
	assert.Zero(t, demoter.offlineCount("driver-a"), "not before the deadline")

	require.Eventually(t, func() bool {
		return demoter.offlineCount("driver-a") == 1
	}, waitFor, 5*time.Millisecond)
	assert.False(t, hasAbsence(t, store, "driver-a"))
}

// TestSupervisor_StopCancelsTimers tests that shutdown never lets a
// stale demotion fire
func TestSupervisor_StopCancelsTimers(t *testing.T) {
	sup, _, demoter, _ := newTestSupervisor(40 * time.Millisecond)
	ctx := context.Background()

	sup.observe(ctx, queueDocs("driver-a"))
	sup.observe(ctx, queueDocs())
	sup.Stop()

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, demoter.offlineCount("driver-a"))
}

// TestSupervisor_WatchesLiveQueue tests the subscribed path end to end
// against the document store
func TestSupervisor_WatchesLiveQueue(t *testing.T) {
	sup, store, demoter, _ := newTestSupervisor(40 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer sup.Stop()

	require.NoError(t, sup.Start(ctx))

	require.NoError(t, store.Put(ctx, queuesvc.Collection, "driver-a", map[string]interface{}{"driver_id": "driver-a"}))

	// Let the membership snapshot land before the departure.
	require.Eventually(t, func() bool {
		sup.mu.Lock()
		defer sup.mu.Unlock()
		return sup.known["driver-a"]
	}, waitFor, 5*time.Millisecond)

	require.NoError(t, store.Delete(ctx, queuesvc.Collection, "driver-a"))

	require.Eventually(t, func() bool {
		return demoter.offlineCount("driver-a") == 1
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, 1, demoter.inRideCount("driver-a"))
}
