package engine

import (
	"context"
	"sync"
	"time"

	"github.com/todahub/paradahan/internal/domain/geo"
	"github.com/todahub/paradahan/internal/domain/queue"
	"github.com/todahub/paradahan/internal/domain/ride"
	"github.com/todahub/paradahan/internal/domain/session"
	"github.com/todahub/paradahan/internal/service/estimate"
	"github.com/todahub/paradahan/internal/service/geofence"
	queuesvc "github.com/todahub/paradahan/internal/service/queue"
	"github.com/todahub/paradahan/pkg/logger"
	"github.com/todahub/paradahan/pkg/monitoring"
)

// Registry hosts one engine per connected driver and adapts queue
// change notifications and supervisor actions onto them.
type Registry struct {
	coord     *queuesvc.Coordinator
	ledger    Ledger
	estimator *estimate.Estimator
	sessions  *SessionStore
	fares     ride.FareTable
	zone      geo.Zone
	debounce  int
	tick      time.Duration
	metrics   *monitoring.App
	log       *logger.Logger

	onSnapshot  func(Snapshot)
	onToast     func(driverID, message string)
	onCountdown func(driverID string, remaining time.Duration)

	mu      sync.Mutex
	engines map[string]*hostedEngine
	ctx     context.Context
	cancel  context.CancelFunc
}

type hostedEngine struct {
	engine *Engine
	source *geofence.PushSource
}

// RegistryConfig bundles registry construction parameters.
type RegistryConfig struct {
	Coord           *queuesvc.Coordinator
	Ledger          Ledger
	Estimator       *estimate.Estimator
	Sessions        *SessionStore
	Fares           ride.FareTable
	Zone            geo.Zone
	DebounceSamples int
	CountdownTick   time.Duration
	Metrics         *monitoring.App
	Log             *logger.Logger
}

// NewRegistry creates an empty registry and hooks queue change
// dispatch into the coordinator.
func NewRegistry(cfg RegistryConfig) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		coord:     cfg.Coord,
		ledger:    cfg.Ledger,
		estimator: cfg.Estimator,
		sessions:  cfg.Sessions,
		fares:     cfg.Fares,
		zone:      cfg.Zone,
		debounce:  cfg.DebounceSamples,
		tick:      cfg.CountdownTick,
		metrics:   cfg.Metrics,
		log:       cfg.Log,
		engines:   make(map[string]*hostedEngine),
		ctx:       ctx,
		cancel:    cancel,
	}
	cfg.Coord.OnChange(func(_ []queue.Entry) {
		r.DispatchQueueChange()
	})
	return r
}

// Notify registers the snapshot and toast sinks applied to every
// engine, present and future.
func (r *Registry) Notify(onSnapshot func(Snapshot), onToast func(driverID, message string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSnapshot = onSnapshot
	r.onToast = onToast
	for _, h := range r.engines {
		h.engine.Notify(onSnapshot, onToast)
	}
}

// OnCountdown registers the sink for per-driver countdown ticks.
func (r *Registry) OnCountdown(fn func(driverID string, remaining time.Duration)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCountdown = fn
}

func (r *Registry) sendCountdown(driverID string, remaining time.Duration) {
	r.mu.Lock()
	fn := r.onCountdown
	r.mu.Unlock()
	if fn != nil {
		fn(driverID, remaining)
	}
}

// DispatchQueueChange fans a queue snapshot change out to every hosted
// engine. Wired to the coordinator's OnChange in main.
func (r *Registry) DispatchQueueChange() {
	r.mu.Lock()
	hosted := make([]*hostedEngine, 0, len(r.engines))
	for _, h := range r.engines {
		hosted = append(hosted, h)
	}
	r.mu.Unlock()

	for _, h := range hosted {
		h.engine.OnQueueChange()
	}
}

// GetOrCreate returns the driver's engine, building and starting one
// on first contact.
func (r *Registry) GetOrCreate(driverID, plate string) (*Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.engines[driverID]; ok {
		return h.engine, nil
	}

	sess, err := r.sessions.Load(r.ctx, driverID, plate)
	if err != nil {
		return nil, err
	}

	source := geofence.NewPushSource()
	monitor := geofence.NewMonitor(geofence.Config{
		Zone:            r.zone,
		DebounceSamples: r.debounce,
	}, source, r.log)

	countdown := estimate.NewCountdown(r.tick, func(remaining time.Duration) {
		r.sendCountdown(driverID, remaining)
	})

	eng := New(Deps{
		Session:   sess,
		Monitor:   monitor,
		Coord:     r.coord,
		Ledger:    r.ledger,
		Estimator: r.estimator,
		Countdown: countdown,
		Fares:     r.fares,
		Sessions:  r.sessions,
		Metrics:   r.metrics,
		Log:       r.log,
	})
	eng.Notify(r.onSnapshot, r.onToast)

	if err := eng.Start(r.ctx); err != nil {
		return nil, err
	}

	r.engines[driverID] = &hostedEngine{engine: eng, source: source}
	r.log.Info("Engine created", logger.String("driver_id", driverID))
	return eng, nil
}

// Get returns a hosted engine, if any.
func (r *Registry) Get(driverID string) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.engines[driverID]
	if !ok {
		return nil, false
	}
	return h.engine, true
}

// Source returns the driver's position feed for the location endpoint.
func (r *Registry) Source(driverID string) (*geofence.PushSource, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.engines[driverID]
	if !ok {
		return nil, false
	}
	return h.source, true
}

// MarkInRide implements the supervisor's optimistic status write.
func (r *Registry) MarkInRide(ctx context.Context, driverID string) error {
	if eng, ok := r.Get(driverID); ok {
		eng.MarkInRide(ctx)
		return nil
	}
	return r.sessions.SetState(ctx, driverID, session.StateInRide)
}

// ForceOffline implements the supervisor's demotion.
func (r *Registry) ForceOffline(ctx context.Context, driverID string) error {
	if eng, ok := r.Get(driverID); ok {
		eng.ForceOffline(ctx)
		return nil
	}
	return r.sessions.SetState(ctx, driverID, session.StateOffline)
}

// WentOffline reports whether the driver's queue departure came from
// an explicit go-offline command. Consulted by the supervisor before
// arming a grace timer.
func (r *Registry) WentOffline(driverID string) bool {
	if eng, ok := r.Get(driverID); ok {
		return eng.ManualOffline()
	}
	return false
}

// Shutdown stops every engine and cancels their subscriptions.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	hosted := make([]*hostedEngine, 0, len(r.engines))
	for _, h := range r.engines {
		hosted = append(hosted, h)
	}
	r.engines = make(map[string]*hostedEngine)
	r.mu.Unlock()

	for _, h := range hosted {
		h.engine.Stop()
	}
	r.cancel()
}
