package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvSnapshot(t *testing.T, ch <-chan []Document) []Document {
	t.Helper()
	select {
	case docs := <-ch:
		return docs
	case <-time.After(time.Second):
		t.Fatal("expected a snapshot")
		return nil
	}
}

// TestMemoryStore_PutGetDelete tests the basic document lifecycle
func TestMemoryStore_PutGetDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "things", "a")
	assert.Equal(t, ErrNotFound, err)

	require.NoError(t, store.Put(ctx, "things", "a", map[string]interface{}{"n": 1}))

	doc, err := store.Get(ctx, "things", "a")
	require.NoError(t, err)
	assert.Equal(t, "a", doc.Key)
	assert.Equal(t, 1, doc.Fields["n"])

	require.NoError(t, store.Delete(ctx, "things", "a"))
	_, err = store.Get(ctx, "things", "a")
	assert.Equal(t, ErrNotFound, err)
}

// TestMemoryStore_GetReturnsCopy tests that callers cannot mutate
// stored state through a returned document
func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "things", "a", map[string]interface{}{"n": 1}))

	doc, err := store.Get(ctx, "things", "a")
	require.NoError(t, err)
	doc.Fields["n"] = 99

	doc, err = store.Get(ctx, "things", "a")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Fields["n"])
}

// TestMemoryStore_SubscribeOrderedSnapshots tests the live ordered view
func TestMemoryStore_SubscribeOrderedSnapshots(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()

	byRank := func(a, b Document) bool {
		return a.Fields["rank"].(int) < b.Fields["rank"].(int)
	}

	require.NoError(t, store.Put(ctx, "things", "b", map[string]interface{}{"rank": 2}))

	ch, cancel, err := store.Subscribe(ctx, "things", byRank)
	require.NoError(t, err)
	defer cancel()

	initial := recvSnapshot(t, ch)
	require.Len(t, initial, 1)
	assert.Equal(t, "b", initial[0].Key)

	require.NoError(t, store.Put(ctx, "things", "a", map[string]interface{}{"rank": 1}))

	require.Eventually(t, func() bool {
		docs := recvSnapshot(t, ch)
		return len(docs) == 2 && docs[0].Key == "a" && docs[1].Key == "b"
	}, time.Second, time.Millisecond)
}

// TestMemoryStore_SubscribeLatestWins tests that a slow consumer sees
// the newest snapshot rather than a backlog
func TestMemoryStore_SubscribeLatestWins(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ch, cancel, err := store.Subscribe(ctx, "things", nil)
	require.NoError(t, err)
	defer cancel()
	recvSnapshot(t, ch)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Put(ctx, "things", "a", map[string]interface{}{"n": i}))
	}

	docs := recvSnapshot(t, ch)
	require.Len(t, docs, 1)
	assert.Equal(t, 4, docs[0].Fields["n"])
}

// TestMemoryStore_ConcurrentWritesSettleOnFreshSnapshot tests that
// racing writers cannot leave a stale snapshot as the final delivery:
// once the writes quiesce, the last snapshot on the channel reflects
// every one of them
func TestMemoryStore_ConcurrentWritesSettleOnFreshSnapshot(t *testing.T) {
	ctx := context.Background()

	for round := 0; round < 100; round++ {
		store := NewMemoryStore()
		ch, cancel, err := store.Subscribe(ctx, "things", nil)
		require.NoError(t, err)

		const writers = 8
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				key := fmt.Sprintf("driver-%d", n)
				assert.NoError(t, store.Put(ctx, "things", key, map[string]interface{}{"n": n}))
			}(i)
		}
		wg.Wait()

		var last []Document
	drain:
		for {
			select {
			case docs := <-ch:
				last = docs
			default:
				break drain
			}
		}
		require.Len(t, last, writers, "final delivered snapshot must match the store")
		cancel()
	}
}

// TestMemoryStore_CancelClosesSubscription tests cleanup
func TestMemoryStore_CancelClosesSubscription(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ch, cancel, err := store.Subscribe(ctx, "things", nil)
	require.NoError(t, err)
	recvSnapshot(t, ch)

	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Writes after cancellation must not panic or block.
	require.NoError(t, store.Put(ctx, "things", "a", map[string]interface{}{"n": 1}))
}

// TestMemoryStore_ApplyBatchIsAtomic tests all-or-nothing batches
func TestMemoryStore_ApplyBatchIsAtomic(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "things", "a", map[string]interface{}{"n": 1}))

	require.NoError(t, store.ApplyBatch(ctx, []Op{
		{Kind: OpPut, Collection: "things", Key: "b", Fields: map[string]interface{}{"n": 2}},
		{Kind: OpDelete, Collection: "things", Key: "a"},
	}))

	docs, err := store.List(ctx, "things")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "b", docs[0].Key)

	store.FailWith(errors.New("connection reset"))
	err = store.ApplyBatch(ctx, []Op{
		{Kind: OpPut, Collection: "things", Key: "c", Fields: map[string]interface{}{"n": 3}},
	})
	require.Error(t, err)

	docs, err = store.List(ctx, "things")
	require.NoError(t, err)
	assert.Len(t, docs, 1, "failed batch left nothing behind")
}

// TestMemoryStore_FailWithBlocksWrites tests the fault injection used
// by connectivity tests
func TestMemoryStore_FailWithBlocksWrites(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "things", "a", map[string]interface{}{"n": 1}))

	injected := errors.New("connection reset")
	store.FailWith(injected)

	assert.Equal(t, injected, store.Put(ctx, "things", "b", nil))
	assert.Equal(t, injected, store.Delete(ctx, "things", "a"))

	// Reads still serve the last good data.
	doc, err := store.Get(ctx, "things", "a")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Fields["n"])

	store.FailWith(nil)
	require.NoError(t, store.Put(ctx, "things", "b", nil))
}
