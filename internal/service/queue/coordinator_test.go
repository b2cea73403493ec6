package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domqueue "github.com/todahub/paradahan/internal/domain/queue"
	"github.com/todahub/paradahan/pkg/apperrors"
	"github.com/todahub/paradahan/pkg/docstore"
	"github.com/todahub/paradahan/pkg/logger"
)

const waitFor = 2 * time.Second

func newTestCoordinator(t *testing.T) (*Coordinator, *docstore.MemoryStore) {
	t.Helper()
	store := docstore.NewMemoryStore()
	coord := NewCoordinator(store, Config{WriteRetries: 1, RetryBackoff: time.Millisecond}, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, coord.Start(ctx))
	t.Cleanup(coord.Stop)

	return coord, store
}

func requireRank(t *testing.T, coord *Coordinator, driverID string, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		rank, ok := coord.Rank(driverID)
		return ok && rank == want
	}, waitFor, 5*time.Millisecond, "driver %s never reached rank %d", driverID, want)
}

// TestCoordinator_JoinAssignsFIFORanks tests that join order dictates rank
func TestCoordinator_JoinAssignsFIFORanks(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, coord.Join(ctx, "driver-a", "ABC-123"))
	require.NoError(t, coord.Join(ctx, "driver-b", "DEF-456"))
	require.NoError(t, coord.Join(ctx, "driver-c", "GHI-789"))

	requireRank(t, coord, "driver-a", 1)
	requireRank(t, coord, "driver-b", 2)
	requireRank(t, coord, "driver-c", 3)
}

// TestCoordinator_JoinIsIdempotent tests that a repeated join keeps the
// original position
func TestCoordinator_JoinIsIdempotent(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, coord.Join(ctx, "driver-a", "ABC-123"))
	require.NoError(t, coord.Join(ctx, "driver-b", "DEF-456"))
	requireRank(t, coord, "driver-b", 2)

	first, ok := coord.Entry("driver-a")
	require.True(t, ok)

	require.NoError(t, coord.Join(ctx, "driver-a", "ABC-123"))

	requireRank(t, coord, "driver-a", 1)
	assert.Len(t, coord.Entries(), 2)

	again, ok := coord.Entry("driver-a")
	require.True(t, ok)
	assert.Equal(t, first.JoinedAt, again.JoinedAt)
	assert.Equal(t, first.Seq, again.Seq)
}

// TestCoordinator_LeavePromotesSuccessors tests rank recomputation
// after a departure
func TestCoordinator_LeavePromotesSuccessors(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, coord.Join(ctx, "driver-a", "ABC-123"))
	require.NoError(t, coord.Join(ctx, "driver-b", "DEF-456"))
	require.NoError(t, coord.Join(ctx, "driver-c", "GHI-789"))
	requireRank(t, coord, "driver-c", 3)

	require.NoError(t, coord.Leave(ctx, "driver-a"))

	requireRank(t, coord, "driver-b", 1)
	requireRank(t, coord, "driver-c", 2)

	_, ok := coord.Rank("driver-a")
	assert.False(t, ok)
}

// TestCoordinator_LeaveAbsentDriverIsNoop tests leave on a driver that
// never joined
func TestCoordinator_LeaveAbsentDriverIsNoop(t *testing.T) {
	coord, _ := newTestCoordinator(t)

	require.NoError(t, coord.Leave(context.Background(), "driver-x"))
	assert.Empty(t, coord.Entries())
}

// TestCoordinator_ReorderRewritesRanks tests the manual dispatcher
// reorder
func TestCoordinator_ReorderRewritesRanks(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, coord.Join(ctx, "driver-a", "ABC-123"))
	require.NoError(t, coord.Join(ctx, "driver-b", "DEF-456"))
	require.NoError(t, coord.Join(ctx, "driver-c", "GHI-789"))
	requireRank(t, coord, "driver-c", 3)

	require.NoError(t, coord.Reorder(ctx, []string{"driver-b", "driver-a", "driver-c"}))

	requireRank(t, coord, "driver-b", 1)
	requireRank(t, coord, "driver-a", 2)
	requireRank(t, coord, "driver-c", 3)
}

// TestCoordinator_ReorderValidation tests incomplete and unknown
// driver lists
func TestCoordinator_ReorderValidation(t *testing.T) {
	coord, _ := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, coord.Join(ctx, "driver-a", "ABC-123"))
	require.NoError(t, coord.Join(ctx, "driver-b", "DEF-456"))
	requireRank(t, coord, "driver-b", 2)

	tests := []struct {
		name       string
		orderedIDs []string
		wantErr    error
		wantMsg    string
	}{
		{
			name:       "missing a queued driver",
			orderedIDs: []string{"driver-a"},
			wantErr:    domqueue.ErrReorderFailed,
			wantMsg:    "reorder must list every queued driver",
		},
		{
			name:       "names an unqueued driver",
			orderedIDs: []string{"driver-a", "driver-x"},
			wantErr:    domqueue.ErrNotQueued,
			wantMsg:    "reorder names a driver that is not queued",
		},
		{
			name:       "duplicate driver",
			orderedIDs: []string{"driver-a", "driver-a"},
			wantErr:    domqueue.ErrReorderFailed,
			wantMsg:    "reorder lists a driver more than once",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := coord.Reorder(ctx, tt.orderedIDs)
			require.Error(t, err)
			assert.Equal(t, 400, apperrors.StatusFor(err))
			assert.ErrorIs(t, err, tt.wantErr)
			var appErr *apperrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.wantMsg, appErr.Message)
		})
	}

	requireRank(t, coord, "driver-a", 1)
	requireRank(t, coord, "driver-b", 2)
}

// TestCoordinator_ReorderFailureLeavesOrderIntact tests batch atomicity
// when the store rejects the write
func TestCoordinator_ReorderFailureLeavesOrderIntact(t *testing.T) {
	coord, store := newTestCoordinator(t)
	ctx := context.Background()

	require.NoError(t, coord.Join(ctx, "driver-a", "ABC-123"))
	require.NoError(t, coord.Join(ctx, "driver-b", "DEF-456"))
	require.NoError(t, coord.Join(ctx, "driver-c", "GHI-789"))
	requireRank(t, coord, "driver-c", 3)

	store.FailWith(errors.New("connection reset"))
	err := coord.Reorder(ctx, []string{"driver-b", "driver-a", "driver-c"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrPersistenceWrite)
	store.FailWith(nil)

	requireRank(t, coord, "driver-a", 1)
	requireRank(t, coord, "driver-b", 2)
	requireRank(t, coord, "driver-c", 3)
}

// TestCoordinator_JoinRetriesTransientFailures tests the write retry
// path
func TestCoordinator_JoinRetriesTransientFailures(t *testing.T) {
	store := docstore.NewMemoryStore()
	coord := NewCoordinator(store, Config{WriteRetries: 5, RetryBackoff: 10 * time.Millisecond}, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, coord.Start(ctx))
	defer coord.Stop()

	// The store recovers before the retries are exhausted.
	store.FailWith(errors.New("connection reset"))
	go func() {
		time.Sleep(5 * time.Millisecond)
		store.FailWith(nil)
	}()

	require.NoError(t, coord.Join(ctx, "driver-a", "ABC-123"))
	requireRank(t, coord, "driver-a", 1)
}

// TestCoordinator_JoinExhaustedRetriesSurfacesError tests that a
// persistent failure is reported, not swallowed
func TestCoordinator_JoinExhaustedRetriesSurfacesError(t *testing.T) {
	coord, store := newTestCoordinator(t)

	store.FailWith(errors.New("connection reset"))
	err := coord.Join(context.Background(), "driver-a", "ABC-123")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrPersistenceWrite)
}

// TestCoordinator_OnChangeDeliversSnapshots tests listener fan-out
func TestCoordinator_OnChangeDeliversSnapshots(t *testing.T) {
	store := docstore.NewMemoryStore()
	coord := NewCoordinator(store, Config{WriteRetries: 1, RetryBackoff: time.Millisecond}, logger.Nop())

	changes := make(chan int, 16)
	coord.OnChange(func(entries []domqueue.Entry) {
		changes <- len(entries)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, coord.Start(ctx))
	defer coord.Stop()

	require.NoError(t, coord.Join(ctx, "driver-a", "ABC-123"))

	require.Eventually(t, func() bool {
		select {
		case n := <-changes:
			return n == 1
		default:
			return false
		}
	}, waitFor, 5*time.Millisecond)
}
