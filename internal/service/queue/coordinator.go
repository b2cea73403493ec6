// Package queue implements the QueueCoordinator: the single source of
// truth for the paradahan wait list. Every join and leave in the
// system, whether driven by the engine or the HTTP edge, goes through
// it; ranks are derived only from its live order-subscribed view.
package queue

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/todahub/paradahan/internal/domain/queue"
	"github.com/todahub/paradahan/pkg/apperrors"
	"github.com/todahub/paradahan/pkg/docstore"
	"github.com/todahub/paradahan/pkg/logger"
)

// Collection is the document collection holding queue entries, keyed
// per driver so concurrent drivers never contend on the same key.
const Collection = "queue"

// Config tunes write retry behavior.
type Config struct {
	WriteRetries int
	RetryBackoff time.Duration
}

// Coordinator maintains the ordered wait queue on top of the document
// store and serves rank lookups from the subscribed snapshot.
type Coordinator struct {
	store docstore.Store
	cfg   Config
	log   *logger.Logger

	seq atomic.Int64

	mu        sync.RWMutex
	snapshot  []queue.Entry
	listeners []func([]queue.Entry)
	cancel    func()

	now func() time.Time
}

// NewCoordinator creates a coordinator over the given store.
func NewCoordinator(store docstore.Store, cfg Config, log *logger.Logger) *Coordinator {
	if cfg.WriteRetries < 1 {
		cfg.WriteRetries = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	return &Coordinator{
		store: store,
		cfg:   cfg,
		log:   log,
		now:   time.Now,
	}
}

// Start subscribes to the ordered queue view and keeps the snapshot
// current. Must be called before rank lookups.
func (c *Coordinator) Start(ctx context.Context) error {
	snapshots, cancel, err := c.store.Subscribe(ctx, Collection, lessDocs)
	if err != nil {
		return apperrors.PersistenceWrite("failed to subscribe to queue", err)
	}
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go func() {
		for docs := range snapshots {
			entries := decodeEntries(docs)
			c.mu.Lock()
			c.snapshot = entries
			listeners := make([]func([]queue.Entry), len(c.listeners))
			copy(listeners, c.listeners)
			c.mu.Unlock()

			for _, fn := range listeners {
				fn(entries)
			}
		}
	}()
	return nil
}

// Stop cancels the queue subscription.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// OnChange registers a listener invoked with every new ordered
// snapshot. Must be called before Start.
func (c *Coordinator) OnChange(fn func([]queue.Entry)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Join inserts an entry with a fresh server-assigned join timestamp.
// Idempotent: a driver already queued keeps the original entry.
func (c *Coordinator) Join(ctx context.Context, driverID, plate string) error {
	if _, err := c.store.Get(ctx, Collection, driverID); err == nil {
		c.log.Debug("Join no-op, driver already queued", logger.String("driver_id", driverID))
		return nil
	} else if err != docstore.ErrNotFound {
		return apperrors.PersistenceWrite("failed to check queue entry", err)
	}

	entry := queue.Entry{
		DriverID: driverID,
		Plate:    plate,
		JoinedAt: c.now().UTC(),
		Seq:      c.seq.Add(1),
	}

	err := c.withRetry(ctx, func() error {
		return c.store.Put(ctx, Collection, driverID, encodeEntry(entry))
	})
	if err != nil {
		return apperrors.PersistenceWrite("failed to join queue", err)
	}

	c.log.Info("Driver joined queue",
		logger.String("driver_id", driverID),
		logger.String("plate", plate),
	)
	return nil
}

// Leave deletes the driver's entry; a no-op if absent.
func (c *Coordinator) Leave(ctx context.Context, driverID string) error {
	err := c.withRetry(ctx, func() error {
		return c.store.Delete(ctx, Collection, driverID)
	})
	if err != nil {
		return apperrors.PersistenceWrite("failed to leave queue", err)
	}
	c.log.Info("Driver left queue", logger.String("driver_id", driverID))
	return nil
}

// Rank returns the driver's 1-based position in the ordered snapshot,
// or false if the driver is not queued.
func (c *Coordinator) Rank(driverID string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i, e := range c.snapshot {
		if e.DriverID == driverID {
			return i + 1, true
		}
	}
	return 0, false
}

// Entry returns the driver's current entry from the snapshot.
func (c *Coordinator) Entry(driverID string) (queue.Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.snapshot {
		if e.DriverID == driverID {
			return e, true
		}
	}
	return queue.Entry{}, false
}

// Entries returns a copy of the current ordered snapshot.
func (c *Coordinator) Entries() []queue.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]queue.Entry, len(c.snapshot))
	copy(out, c.snapshot)
	return out
}

// Reorder atomically rewrites explicit order indices for the full
// list. orderedIDs must name every queued driver exactly once; the
// batch is all-or-nothing so a failure leaves the original order
// intact.
func (c *Coordinator) Reorder(ctx context.Context, orderedIDs []string) error {
	docs, err := c.store.List(ctx, Collection)
	if err != nil {
		return apperrors.PersistenceWrite("failed to read queue for reorder", err)
	}

	byID := make(map[string]queue.Entry, len(docs))
	for _, e := range decodeEntries(docs) {
		byID[e.DriverID] = e
	}
	if len(orderedIDs) != len(byID) {
		return apperrors.BadRequest("reorder must list every queued driver", queue.ErrReorderFailed)
	}

	ops := make([]docstore.Op, 0, len(orderedIDs))
	seen := make(map[string]struct{}, len(orderedIDs))
	for i, id := range orderedIDs {
		if _, dup := seen[id]; dup {
			return apperrors.BadRequest("reorder lists a driver more than once", queue.ErrReorderFailed)
		}
		seen[id] = struct{}{}
		entry, ok := byID[id]
		if !ok {
			return apperrors.BadRequest("reorder names a driver that is not queued", queue.ErrNotQueued)
		}
		entry.OrderIndex = int64(i + 1)
		ops = append(ops, docstore.Op{
			Kind:       docstore.OpPut,
			Collection: Collection,
			Key:        id,
			Fields:     encodeEntry(entry),
		})
	}

	if err := c.store.ApplyBatch(ctx, ops); err != nil {
		return apperrors.PersistenceWrite("queue reorder was not applied", err)
	}
	c.log.Info("Queue reordered", logger.Int("entries", len(orderedIDs)))
	return nil
}

// withRetry retries transient write failures with growing backoff.
func (c *Coordinator) withRetry(ctx context.Context, op func() error) error {
	var err error
	backoff := c.cfg.RetryBackoff
	for attempt := 0; attempt < c.cfg.WriteRetries; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt == c.cfg.WriteRetries-1 {
			break
		}
		c.log.Warn("Queue write failed, retrying",
			logger.Err(err),
			logger.Int("attempt", attempt+1),
			logger.Duration("backoff", backoff),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

// Document codec

func encodeEntry(e queue.Entry) map[string]interface{} {
	return map[string]interface{}{
		"driver_id":   e.DriverID,
		"plate":       e.Plate,
		"joined_at":   e.JoinedAt.UnixNano(),
		"seq":         e.Seq,
		"order_index": e.OrderIndex,
	}
}

func decodeEntry(doc docstore.Document) queue.Entry {
	return queue.Entry{
		DriverID:   asString(doc.Fields["driver_id"]),
		Plate:      asString(doc.Fields["plate"]),
		JoinedAt:   time.Unix(0, asInt64(doc.Fields["joined_at"])).UTC(),
		Seq:        asInt64(doc.Fields["seq"]),
		OrderIndex: asInt64(doc.Fields["order_index"]),
	}
}

func decodeEntries(docs []docstore.Document) []queue.Entry {
	entries := make([]queue.Entry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, decodeEntry(doc))
	}
	queue.Sort(entries)
	return entries
}

func lessDocs(a, b docstore.Document) bool {
	return queue.Less(decodeEntry(a), decodeEntry(b))
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

// asInt64 tolerates the numeric types a JSON round trip produces.
func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	}
	return 0
}
