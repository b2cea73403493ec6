package geofence

import (
	"context"
	"sync"
	"time"

	"github.com/todahub/paradahan/internal/domain/geo"
)

// PushSource is a PositionSource fed by an external caller, typically
// the HTTP location endpoint relaying fixes from the driver's device.
type PushSource struct {
	mu       sync.Mutex
	onSample func(Sample)
	onError  func(error)
	active   bool
}

// NewPushSource creates an inactive push source.
func NewPushSource() *PushSource {
	return &PushSource{}
}

// WatchPosition registers the callbacks until cancelled.
func (p *PushSource) WatchPosition(ctx context.Context, onSample func(Sample), onError func(error)) (func(), error) {
	p.mu.Lock()
	p.onSample = onSample
	p.onError = onError
	p.active = true
	p.mu.Unlock()

	stop := func() {
		p.mu.Lock()
		p.active = false
		p.onSample = nil
		p.onError = nil
		p.mu.Unlock()
	}

	go func() {
		<-ctx.Done()
		stop()
	}()

	return stop, nil
}

// Push delivers a position fix to the watcher, if any.
func (p *PushSource) Push(position geo.Point, at time.Time) {
	p.mu.Lock()
	fn := p.onSample
	p.mu.Unlock()
	if fn != nil {
		fn(Sample{Position: position, At: at})
	}
}

// PushError delivers a location failure to the watcher, if any.
func (p *PushSource) PushError(err error) {
	p.mu.Lock()
	fn := p.onError
	p.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
