package ledger

import (
	"context"
	"sync"

	"github.com/todahub/paradahan/internal/domain/ride"
)

// MemoryBuffer is an in-process Buffer. It survives in-memory loss of
// individual commits within a session but not a process restart; the
// Redis buffer in pkg/cache is the durable option.
type MemoryBuffer struct {
	mu      sync.Mutex
	staged  map[string]*ride.Record
	failErr error
}

// NewMemoryBuffer creates an empty buffer.
func NewMemoryBuffer() *MemoryBuffer {
	return &MemoryBuffer{staged: make(map[string]*ride.Record)}
}

// FailWith forces Stage to fail with err until called again with nil.
func (b *MemoryBuffer) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failErr = err
}

// Stage stores a candidate record under its key.
func (b *MemoryBuffer) Stage(ctx context.Context, key string, rec *ride.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failErr != nil {
		return b.failErr
	}
	cp := *rec
	b.staged[key] = &cp
	return nil
}

// Drain returns every staged record without removing it.
func (b *MemoryBuffer) Drain(ctx context.Context) ([]*ride.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*ride.Record, 0, len(b.staged))
	for _, rec := range b.staged {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

// Clear removes a staged record.
func (b *MemoryBuffer) Clear(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.staged, key)
	return nil
}

// Len reports how many records are staged.
func (b *MemoryBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.staged)
}
