// Package engine owns the per-driver lifecycle state machine. It
// consumes debounced geofence events and manual commands, drives the
// queue coordinator and ride ledger, and exposes an observable
// snapshot for the presentation layer.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/todahub/paradahan/internal/domain/geo"
	"github.com/todahub/paradahan/internal/domain/ride"
	"github.com/todahub/paradahan/internal/domain/session"
	"github.com/todahub/paradahan/internal/service/estimate"
	"github.com/todahub/paradahan/internal/service/geofence"
	queuesvc "github.com/todahub/paradahan/internal/service/queue"
	"github.com/todahub/paradahan/pkg/apperrors"
	"github.com/todahub/paradahan/pkg/logger"
	"github.com/todahub/paradahan/pkg/monitoring"
)

// Ledger is the slice of the ride ledger the engine needs.
type Ledger interface {
	Commit(ctx context.Context, rec *ride.Record) (buffered bool, err error)
	Flush(ctx context.Context) error
}

// Snapshot is the observable state handed to the presentation layer.
type Snapshot struct {
	DriverID           string        `json:"driver_id"`
	State              session.State `json:"state"`
	Rank               int           `json:"rank,omitempty"`
	EstimateMinutes    float64       `json:"estimate_minutes"`
	CountdownRemaining time.Duration `json:"countdown_remaining"`
	InZone             bool          `json:"in_zone"`
}

// Engine is one driver's state machine.
type Engine struct {
	sess      *session.Session
	monitor   *geofence.Monitor
	coord     *queuesvc.Coordinator
	ledger    Ledger
	estimator *estimate.Estimator
	countdown *estimate.Countdown
	fares     ride.FareTable
	sessions  *SessionStore
	metrics   *monitoring.App
	log       *logger.Logger

	mu      sync.Mutex
	pending *ride.PendingRecord
	// intent carries the destination a driver picked before the
	// geofence exit confirms the ride.
	intentDestination string
	lastRank          int

	onSnapshot func(Snapshot)
	onToast    func(driverID, message string)

	now func() time.Time
}

// Deps bundles the collaborators an engine is built from.
type Deps struct {
	Session   *session.Session
	Monitor   *geofence.Monitor
	Coord     *queuesvc.Coordinator
	Ledger    Ledger
	Estimator *estimate.Estimator
	Countdown *estimate.Countdown
	Fares     ride.FareTable
	Sessions  *SessionStore
	Metrics   *monitoring.App
	Log       *logger.Logger
	Now       func() time.Time
}

// New creates an engine in whatever state the session carries.
func New(deps Deps) *Engine {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	e := &Engine{
		sess:      deps.Session,
		monitor:   deps.Monitor,
		coord:     deps.Coord,
		ledger:    deps.Ledger,
		estimator: deps.Estimator,
		countdown: deps.Countdown,
		fares:     deps.Fares,
		sessions:  deps.Sessions,
		metrics:   deps.Metrics,
		log:       deps.Log.With(logger.String("driver_id", deps.Session.DriverID)),
		now:       now,
	}
	deps.Monitor.OnUnavailable(func(err error) {
		appErr := apperrors.LocationUnavailable(err)
		e.log.Warn("Location fix lost", logger.Err(appErr))
		e.toast(appErr.Message)
	})
	return e
}

// Notify registers the snapshot and toast sinks. Either may be nil.
func (e *Engine) Notify(onSnapshot func(Snapshot), onToast func(driverID, message string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onSnapshot = onSnapshot
	e.onToast = onToast
}

// Start begins consuming geofence events. The goroutine exits when the
// monitor's event channel is drained after Stop or ctx cancellation.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.monitor.Start(ctx); err != nil {
		return err
	}
	e.countdown.Start()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-e.monitor.Events():
				if !ok {
					return
				}
				e.HandleEvent(ctx, ev)
			}
		}
	}()
	return nil
}

// Stop cancels the location subscription and countdown.
func (e *Engine) Stop() {
	e.monitor.Stop()
	e.countdown.Stop()
}

// HandleEvent applies one debounced geofence transition.
func (e *Engine) HandleEvent(ctx context.Context, ev geofence.Event) {
	switch ev.Type {
	case geofence.Entered:
		e.handleEntered(ctx, ev.Position)
	case geofence.Exited:
		e.handleExited(ctx, ev.Position)
	}
}

func (e *Engine) handleEntered(ctx context.Context, pos geo.Point) {
	// Zone entry is a favorable connectivity signal: replay any ride
	// records stranded by an earlier offline period.
	if err := e.ledger.Flush(ctx); err != nil {
		e.log.Warn("Ledger replay on zone entry failed", logger.Err(err))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.sess.SetPosition(pos)

	switch e.sess.State {
	case session.StateOffline:
		if e.sess.ManualOffline {
			// Driver chose to be off shift; entering the zone changes nothing.
			return
		}
		e.joinQueueLocked(ctx)

	case session.StateWaiting:
		// Duplicate Entered, already queued. No side effects.

	case session.StateInRide:
		e.finalizeRideLocked(ctx, pos)
		e.joinQueueLocked(ctx)
	}
}

func (e *Engine) handleExited(ctx context.Context, pos geo.Point) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sess.SetPosition(pos)

	switch e.sess.State {
	case session.StateWaiting:
		if _, queued := e.coord.Entry(e.sess.DriverID); !queued {
			// No queue position held; nothing to turn into a ride.
			return
		}
		e.beginRideLocked(ctx, pos, e.intentDestination)

	case session.StateOffline, session.StateInRide:
		// Duplicate Exited or off-shift departure. No side effects.
	}
}

// GoOnline handles the manual "go online" command. Rejected with
// NotInZone when the driver is outside the polygon.
func (e *Engine) GoOnline(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess.State != session.StateOffline {
		return nil
	}
	if !e.monitor.Inside() {
		return apperrors.NotInZone("go to the paradahan before going online")
	}
	e.sess.ManualOffline = false
	e.joinQueueLocked(ctx)
	return nil
}

// GoOffline handles the manual "go offline" command from any state.
func (e *Engine) GoOffline(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sess.ManualOffline = true

	switch e.sess.State {
	case session.StateOffline:
		return nil
	case session.StateWaiting:
		if err := e.coord.Leave(ctx, e.sess.DriverID); err != nil {
			e.log.Warn("Queue leave on go-offline failed", logger.Err(err))
		}
	case session.StateInRide:
		// An explicit go-offline abandons the in-flight ride; no record
		// is produced.
		e.pending = nil
	}

	e.intentDestination = ""
	e.setStateLocked(ctx, session.StateOffline)
	e.countdown.Reset(0)
	e.toastLocked("You are now offline")
	return nil
}

// SetDestination records the destination a waiting driver picked; the
// ride itself starts when the geofence exit confirms the departure.
func (e *Engine) SetDestination(destination string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.sess.State {
	case session.StateInRide:
		return apperrors.Conflict("a ride is already in progress", ride.ErrRideInProgress)
	case session.StateOffline:
		return apperrors.Conflict("go online before picking a destination", session.ErrNotWaiting)
	}
	e.intentDestination = destination
	return nil
}

// StartRide handles the manual "start ride" command with a destination
// picked from the fare table.
func (e *Engine) StartRide(ctx context.Context, destination string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.sess.State {
	case session.StateInRide:
		return apperrors.Conflict("a ride is already in progress", ride.ErrRideInProgress)
	case session.StateOffline:
		return apperrors.Conflict("go online before starting a ride", session.ErrNotWaiting)
	}
	if !e.monitor.Inside() {
		return apperrors.NotInZone("start the ride from inside the paradahan")
	}

	pos := geo.Point{}
	if e.sess.LastPosition != nil {
		pos = *e.sess.LastPosition
	}
	e.beginRideLocked(ctx, pos, destination)
	return nil
}

// ForceOffline is the supervisor's demotion path. It bypasses zone
// checks and drops any in-flight ride state.
func (e *Engine) ForceOffline(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess.State == session.StateOffline {
		return
	}
	e.pending = nil
	e.intentDestination = ""
	e.setStateLocked(ctx, session.StateOffline)
	e.countdown.Reset(0)
	e.toastLocked("Marked offline after being away from the queue")
}

// MarkInRide is the supervisor's optimistic status while a driver is
// absent within the grace period.
func (e *Engine) MarkInRide(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess.State != session.StateWaiting {
		return
	}
	e.setStateLocked(ctx, session.StateInRide)
}

// OnQueueChange recomputes rank from a fresh ordered snapshot and
// resets the display countdown when it moved.
func (e *Engine) OnQueueChange() {
	e.mu.Lock()
	defer e.mu.Unlock()

	rank, queued := e.coord.Rank(e.sess.DriverID)
	if !queued {
		rank = 0
	}
	if rank != e.lastRank {
		e.lastRank = rank
		if rank > 0 {
			minutes := e.estimator.EstimateMinutes(rank)
			e.countdown.Reset(time.Duration(minutes * float64(time.Minute)))
		} else {
			e.countdown.Reset(0)
		}
	}
	e.publishLocked()
}

// Snapshot returns the current observable state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Session exposes the session for read-only callers.
func (e *Engine) Session() *session.Session {
	return e.sess
}

// ManualOffline reports whether the driver explicitly went off shift.
func (e *Engine) ManualOffline() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.ManualOffline
}

// Internal helpers. All require e.mu held.

func (e *Engine) joinQueueLocked(ctx context.Context) {
	if err := e.coord.Join(ctx, e.sess.DriverID, e.sess.Plate); err != nil {
		e.log.Error("Queue join failed", logger.Err(err))
		e.toastLocked("Could not join the queue, will keep retrying")
		return
	}
	e.intentDestination = ""
	e.setStateLocked(ctx, session.StateWaiting)
	rank, _ := e.coord.Rank(e.sess.DriverID)
	e.metrics.RecordQueueJoined(e.sess.DriverID, rank)
	e.toastLocked("You are in the queue")
}

func (e *Engine) beginRideLocked(ctx context.Context, pickup geo.Point, destination string) {
	rank, _ := e.coord.Rank(e.sess.DriverID)
	joinAt := e.now()
	if entry, ok := e.coord.Entry(e.sess.DriverID); ok {
		joinAt = entry.JoinedAt
	}

	if err := e.coord.Leave(ctx, e.sess.DriverID); err != nil {
		e.log.Warn("Queue leave at ride start failed", logger.Err(err))
	}

	e.pending = ride.NewPending(e.sess.DriverID, e.now(), pickup, destination, joinAt, rank)
	e.intentDestination = ""
	e.setStateLocked(ctx, session.StateInRide)
	e.countdown.Reset(0)
	e.toastLocked("Ride started")
	e.log.Info("Ride started",
		logger.String("ride_id", e.pending.ID.String()),
		logger.String("destination", destination),
		logger.Int("rank_at_departure", rank),
	)
}

func (e *Engine) finalizeRideLocked(ctx context.Context, dropoff geo.Point) {
	if e.pending == nil {
		return
	}
	pending := e.pending
	e.pending = nil

	fare := e.fares.FareFor(pending.Destination)
	rec := pending.Finalize(e.now(), dropoff, fare)

	if rec.RankAtDeparture > 1 {
		e.estimator.Observe(float64(rec.WaitTimeMinutes) / float64(rec.RankAtDeparture-1))
	}

	buffered, err := e.ledger.Commit(ctx, rec)
	switch {
	case err != nil:
		e.log.Error("Ride record lost", logger.Err(err), logger.String("ride_id", rec.ID.String()))
		e.toastLocked("Could not save the trip record")
	case buffered:
		e.metrics.RecordRideBuffered(rec.ID.String())
		e.toastLocked("Trip saved locally, will sync when back online")
	default:
		e.metrics.RecordRideCommitted(rec.ID.String(), rec.Fare, rec.TravelTimeMinutes, rec.WaitTimeMinutes)
		e.toastLocked("Trip recorded")
	}

	e.log.Info("Ride finalized",
		logger.String("ride_id", rec.ID.String()),
		logger.Int("travel_minutes", rec.TravelTimeMinutes),
		logger.Int("wait_minutes", rec.WaitTimeMinutes),
		logger.Float64("fare", rec.Fare),
	)
}

func (e *Engine) setStateLocked(ctx context.Context, state session.State) {
	if e.sess.State == state {
		return
	}
	e.sess.SetState(state)
	if err := e.sessions.Save(ctx, e.sess); err != nil {
		// Session persistence is best effort; the live queue documents
		// remain authoritative for ordering.
		e.log.Warn("Session save failed", logger.Err(err))
	}
	e.publishLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		DriverID:           e.sess.DriverID,
		State:              e.sess.State,
		Rank:               e.lastRank,
		EstimateMinutes:    e.estimator.EstimateMinutes(e.lastRank),
		CountdownRemaining: e.countdown.Remaining(),
		InZone:             e.monitor.Inside(),
	}
}

func (e *Engine) publishLocked() {
	if e.onSnapshot != nil {
		e.onSnapshot(e.snapshotLocked())
	}
}

func (e *Engine) toastLocked(message string) {
	if e.onToast != nil {
		e.onToast(e.sess.DriverID, message)
	}
}

func (e *Engine) toast(message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.toastLocked(message)
}
