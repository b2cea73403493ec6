// Package geofence classifies a driver's position stream against the
// zone polygon and emits debounced Entered/Exited transition events.
package geofence

import (
	"context"
	"sync"
	"time"

	"github.com/todahub/paradahan/internal/domain/geo"
	"github.com/todahub/paradahan/pkg/logger"
)

// EventType discriminates transition events.
type EventType string

const (
	Entered EventType = "entered"
	Exited  EventType = "exited"
)

// Event is a debounced zone transition.
type Event struct {
	Type     EventType
	Position geo.Point
	At       time.Time
}

// Sample is one raw position fix from the location collaborator.
type Sample struct {
	Position geo.Point
	At       time.Time
}

// PositionSource is the location collaborator: it invokes onSample for
// each fix and onError when a fix cannot be obtained. The returned
// cancel func stops the watch.
type PositionSource interface {
	WatchPosition(ctx context.Context, onSample func(Sample), onError func(error)) (cancel func(), err error)
}

type classification int

const (
	classUnknown classification = iota
	classInside
	classOutside
)

// Config tunes the monitor.
type Config struct {
	Zone geo.Zone
	// DebounceSamples is how many consecutive opposite samples are
	// required before the stable classification flips. Minimum 1.
	DebounceSamples int
}

// Monitor owns one driver's geofence classification.
type Monitor struct {
	cfg    Config
	source PositionSource
	log    *logger.Logger

	mu     sync.Mutex
	stable classification
	streak int
	cancel func()

	events chan Event
	// onUnavailable, when set, surfaces LocationUnavailable to the
	// presentation layer. The stable classification is retained.
	onUnavailable func(error)
}

// NewMonitor creates a monitor for one driver.
func NewMonitor(cfg Config, source PositionSource, log *logger.Logger) *Monitor {
	if cfg.DebounceSamples < 1 {
		cfg.DebounceSamples = 1
	}
	return &Monitor{
		cfg:    cfg,
		source: source,
		log:    log,
		events: make(chan Event, 16),
	}
}

// Events is the stream of debounced transitions.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// OnUnavailable registers a callback for location failures. Must be
// called before Start.
func (m *Monitor) OnUnavailable(fn func(error)) {
	m.onUnavailable = fn
}

// Start begins watching the position source.
func (m *Monitor) Start(ctx context.Context) error {
	cancel, err := m.source.WatchPosition(ctx, m.handleSample, m.handleError)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()
	return nil
}

// Stop cancels the location subscription. Safe to call more than once.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Inside reports the current stable classification.
func (m *Monitor) Inside() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stable == classInside
}

func (m *Monitor) handleSample(s Sample) {
	current := classOutside
	if m.cfg.Zone.Contains(s.Position) {
		current = classInside
	}

	m.mu.Lock()
	var emit *Event

	switch {
	case m.stable == classUnknown:
		// First fix sets the stable state. An initial inside fix is a
		// real arrival at the paradahan; an initial outside fix is not
		// a departure from anywhere.
		m.stable = current
		m.streak = 0
		if current == classInside {
			emit = &Event{Type: Entered, Position: s.Position, At: s.At}
		}

	case current == m.stable:
		// Agreement resets any flicker streak.
		m.streak = 0

	default:
		m.streak++
		if m.streak >= m.cfg.DebounceSamples {
			m.stable = current
			m.streak = 0
			typ := Exited
			if current == classInside {
				typ = Entered
			}
			emit = &Event{Type: typ, Position: s.Position, At: s.At}
		}
	}
	m.mu.Unlock()

	if emit != nil {
		m.log.Info("Zone transition",
			logger.String("event", string(emit.Type)),
			logger.Float64("latitude", emit.Position.Latitude),
			logger.Float64("longitude", emit.Position.Longitude),
		)
		select {
		case m.events <- *emit:
		default:
			m.log.Warn("Dropping geofence event, consumer too slow",
				logger.String("event", string(emit.Type)))
		}
	}
}

// handleError retains the last stable classification rather than
// inferring "outside"; a lost fix is not a departure.
func (m *Monitor) handleError(err error) {
	m.mu.Lock()
	m.streak = 0
	m.mu.Unlock()

	m.log.Warn("Location unavailable, keeping last classification", logger.Err(err))
	if m.onUnavailable != nil {
		m.onUnavailable(err)
	}
}
