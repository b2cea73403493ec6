package docstore

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store used for tests and single-node
// deployments. Subscriptions are latest-wins: a slow consumer sees the
// newest snapshot, never a backlog of stale ones.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]interface{}
	subscribers map[string][]*memorySub
	versions    map[string]uint64
	failErr     error
}

type memorySub struct {
	mu      sync.Mutex
	ch      chan []Document
	less    OrderBy
	version uint64
	closed  bool
}

// send delivers a snapshot, replacing any undelivered older one. The
// version is assigned under the store mutex at snapshot time, so a
// delivery that lost the race to a newer snapshot is dropped here
// rather than clobbering it. The channel buffer is one deep and
// drained under the sub mutex, so the send can never block.
func (s *memorySub) send(version uint64, snap []Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || version < s.version {
		return
	}
	s.version = version
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snap
}

func (s *memorySub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// delivery is a snapshot staged for one subscriber while the store
// mutex is held.
type delivery struct {
	sub     *memorySub
	version uint64
	snap    []Document
}

func dispatch(deliveries []delivery) {
	for _, d := range deliveries {
		d.sub.send(d.version, d.snap)
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]map[string]interface{}),
		subscribers: make(map[string][]*memorySub),
		versions:    make(map[string]uint64),
	}
}

// FailWith forces every subsequent write to fail with err until called
// again with nil. Used by tests to simulate connectivity loss.
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Put stores the document and publishes a fresh snapshot.
func (m *MemoryStore) Put(ctx context.Context, collection, key string, fields map[string]interface{}) error {
	m.mu.Lock()
	if m.failErr != nil {
		err := m.failErr
		m.mu.Unlock()
		return err
	}
	coll, ok := m.collections[collection]
	if !ok {
		coll = make(map[string]map[string]interface{})
		m.collections[collection] = coll
	}
	coll[key] = copyFields(fields)
	deliveries := m.stageDeliveriesLocked(collection)
	m.mu.Unlock()

	dispatch(deliveries)
	return nil
}

// Get returns a copy of the document or ErrNotFound.
func (m *MemoryStore) Get(ctx context.Context, collection, key string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fields, ok := m.collections[collection][key]
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{Key: key, Fields: copyFields(fields)}, nil
}

// Delete removes the document and publishes a fresh snapshot.
func (m *MemoryStore) Delete(ctx context.Context, collection, key string) error {
	m.mu.Lock()
	if m.failErr != nil {
		err := m.failErr
		m.mu.Unlock()
		return err
	}
	delete(m.collections[collection], key)
	deliveries := m.stageDeliveriesLocked(collection)
	m.mu.Unlock()

	dispatch(deliveries)
	return nil
}

// List returns copies of every document in the collection.
func (m *MemoryStore) List(ctx context.Context, collection string) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked(collection, nil), nil
}

// Subscribe registers an ordered snapshot stream for the collection.
func (m *MemoryStore) Subscribe(ctx context.Context, collection string, less OrderBy) (<-chan []Document, func(), error) {
	sub := &memorySub{
		ch:   make(chan []Document, 1),
		less: less,
	}

	m.mu.Lock()
	m.subscribers[collection] = append(m.subscribers[collection], sub)
	version := m.versions[collection]
	initial := m.snapshotLocked(collection, less)
	m.mu.Unlock()

	sub.send(version, initial)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			subs := m.subscribers[collection]
			for i, s := range subs {
				if s == sub {
					m.subscribers[collection] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			m.mu.Unlock()
			sub.close()
		})
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return sub.ch, cancel, nil
}

// ApplyBatch stages every operation against a copy of the affected
// collections and swaps them in only if nothing failed, so a partial
// batch is never observable.
func (m *MemoryStore) ApplyBatch(ctx context.Context, ops []Op) error {
	m.mu.Lock()
	if m.failErr != nil {
		err := m.failErr
		m.mu.Unlock()
		return err
	}

	staged := make(map[string]map[string]map[string]interface{})
	for _, op := range ops {
		coll, ok := staged[op.Collection]
		if !ok {
			coll = make(map[string]map[string]interface{}, len(m.collections[op.Collection]))
			for k, v := range m.collections[op.Collection] {
				coll[k] = v
			}
			staged[op.Collection] = coll
		}
		switch op.Kind {
		case OpPut:
			coll[op.Key] = copyFields(op.Fields)
		case OpDelete:
			delete(coll, op.Key)
		}
	}
	var deliveries []delivery
	for name, coll := range staged {
		m.collections[name] = coll
		deliveries = append(deliveries, m.stageDeliveriesLocked(name)...)
	}
	m.mu.Unlock()

	dispatch(deliveries)
	return nil
}

// stageDeliveriesLocked bumps the collection version and snapshots it
// for every subscriber. Requires m.mu held for writing so the version
// order matches the order snapshots were taken in.
func (m *MemoryStore) stageDeliveriesLocked(collection string) []delivery {
	m.versions[collection]++
	version := m.versions[collection]
	subs := m.subscribers[collection]
	deliveries := make([]delivery, 0, len(subs))
	for _, sub := range subs {
		deliveries = append(deliveries, delivery{
			sub:     sub,
			version: version,
			snap:    m.snapshotLocked(collection, sub.less),
		})
	}
	return deliveries
}

func (m *MemoryStore) snapshotLocked(collection string, less OrderBy) []Document {
	coll := m.collections[collection]
	docs := make([]Document, 0, len(coll))
	for key, fields := range coll {
		docs = append(docs, Document{Key: key, Fields: copyFields(fields)})
	}
	if less != nil {
		sort.SliceStable(docs, func(i, j int) bool { return less(docs[i], docs[j]) })
	} else {
		sort.Slice(docs, func(i, j int) bool { return docs[i].Key < docs[j].Key })
	}
	return docs
}

func copyFields(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
