// Package supervisor is the administrative watchdog that demotes
// drivers who leave the queue and never come back. The demotion
// deadline is persisted alongside the in-memory timer so a process
// restart cannot orphan a pending demotion: in-memory timer maps alone
// vanish on restart, which was a latent correctness gap in the
// behavior this replaces.
package supervisor

import (
	"context"
	"sync"
	"time"

	queuesvc "github.com/todahub/paradahan/internal/service/queue"
	"github.com/todahub/paradahan/pkg/docstore"
	"github.com/todahub/paradahan/pkg/logger"
	"github.com/todahub/paradahan/pkg/monitoring"
)

// AbsencesCollection persists one pending-demotion deadline per absent
// driver.
const AbsencesCollection = "absences"

// Demoter applies supervisor status decisions to driver sessions.
type Demoter interface {
	MarkInRide(ctx context.Context, driverID string) error
	ForceOffline(ctx context.Context, driverID string) error
}

// OfflineIntents answers whether a driver's disappearance was an
// explicit go-offline rather than a ride departure.
type OfflineIntents interface {
	WentOffline(driverID string) bool
}

// Config tunes the supervisor. Metrics may be nil.
type Config struct {
	GracePeriod time.Duration
	Metrics     *monitoring.App
}

// Supervisor watches queue membership and runs per-driver grace
// timers.
type Supervisor struct {
	store   docstore.Store
	demoter Demoter
	intents OfflineIntents
	cfg     Config
	log     *logger.Logger

	mu      sync.Mutex
	known   map[string]bool
	timers  map[string]*time.Timer
	primed  bool
	cancel  func()
	stopped bool

	now func() time.Time
}

// New creates a supervisor.
func New(store docstore.Store, demoter Demoter, intents OfflineIntents, cfg Config, log *logger.Logger) *Supervisor {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 60 * time.Second
	}
	return &Supervisor{
		store:   store,
		demoter: demoter,
		intents: intents,
		cfg:     cfg,
		log:     log,
		known:   make(map[string]bool),
		timers:  make(map[string]*time.Timer),
		now:     time.Now,
	}
}

// Start resumes persisted deadlines, then subscribes to queue
// membership and diffs snapshots.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.Resume(ctx); err != nil {
		return err
	}

	snapshots, cancel, err := s.store.Subscribe(ctx, queuesvc.Collection, nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		for docs := range snapshots {
			s.observe(ctx, docs)
		}
	}()
	return nil
}

// Resume re-creates grace timers from persisted deadlines after a
// restart. Deadlines already in the past demote immediately.
func (s *Supervisor) Resume(ctx context.Context) error {
	docs, err := s.store.List(ctx, AbsencesCollection)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		driverID := doc.Key
		deadline := time.Unix(0, asInt64(doc.Fields["demote_at"]))
		remaining := deadline.Sub(s.now())
		if remaining <= 0 {
			s.log.Info("Demoting driver with expired deadline on resume",
				logger.String("driver_id", driverID))
			s.fire(ctx, driverID)
			continue
		}
		s.armTimer(ctx, driverID, remaining)
		s.log.Info("Resumed grace timer",
			logger.String("driver_id", driverID),
			logger.Duration("remaining", remaining),
		)
	}
	return nil
}

// Stop cancels the subscription and every outstanding timer so no
// stale demotion can fire after shutdown.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.stopped = true
	for driverID, timer := range s.timers {
		timer.Stop()
		delete(s.timers, driverID)
	}
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// observe diffs the membership snapshot against the previous one.
func (s *Supervisor) observe(ctx context.Context, docs []docstore.Document) {
	current := make(map[string]bool, len(docs))
	for _, doc := range docs {
		current[doc.Key] = true
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	var appeared, disappeared []string
	if s.primed {
		for driverID := range s.known {
			if !current[driverID] {
				disappeared = append(disappeared, driverID)
			}
		}
	}
	for driverID := range current {
		if !s.known[driverID] {
			appeared = append(appeared, driverID)
		}
	}
	s.known = current
	s.primed = true
	s.mu.Unlock()

	for _, driverID := range appeared {
		s.onReappear(ctx, driverID)
	}
	for _, driverID := range disappeared {
		s.onDisappear(ctx, driverID)
	}
}

func (s *Supervisor) onDisappear(ctx context.Context, driverID string) {
	if s.intents != nil && s.intents.WentOffline(driverID) {
		s.log.Debug("Driver went offline on purpose, no grace timer",
			logger.String("driver_id", driverID))
		return
	}

	deadline := s.now().Add(s.cfg.GracePeriod)
	if err := s.store.Put(ctx, AbsencesCollection, driverID, map[string]interface{}{
		"driver_id": driverID,
		"left_at":   s.now().UnixNano(),
		"demote_at": deadline.UnixNano(),
	}); err != nil {
		s.log.Error("Failed to persist demotion deadline", logger.Err(err),
			logger.String("driver_id", driverID))
	}

	if err := s.demoter.MarkInRide(ctx, driverID); err != nil {
		s.log.Warn("Failed to mark driver in ride", logger.Err(err),
			logger.String("driver_id", driverID))
	}

	s.armTimer(ctx, driverID, s.cfg.GracePeriod)
	s.log.Info("Grace timer started",
		logger.String("driver_id", driverID),
		logger.Duration("grace_period", s.cfg.GracePeriod),
	)
}

func (s *Supervisor) onReappear(ctx context.Context, driverID string) {
	s.mu.Lock()
	timer, ok := s.timers[driverID]
	if ok {
		timer.Stop()
		delete(s.timers, driverID)
	}
	s.mu.Unlock()

	if err := s.store.Delete(ctx, AbsencesCollection, driverID); err != nil {
		s.log.Warn("Failed to clear demotion deadline", logger.Err(err),
			logger.String("driver_id", driverID))
	}
	if ok {
		s.log.Info("Driver returned within grace period, demotion cancelled",
			logger.String("driver_id", driverID))
	}
}

// armTimer registers the per-driver grace timer, replacing any
// existing one.
func (s *Supervisor) armTimer(ctx context.Context, driverID string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if old, ok := s.timers[driverID]; ok {
		old.Stop()
	}
	s.timers[driverID] = time.AfterFunc(d, func() {
		s.fireFromTimer(ctx, driverID)
	})
}

// fireFromTimer demotes exactly once: the timer removes itself from
// the map under the mutex, so a racing cancel or second fire is a
// no-op.
func (s *Supervisor) fireFromTimer(ctx context.Context, driverID string) {
	s.mu.Lock()
	_, armed := s.timers[driverID]
	delete(s.timers, driverID)
	stopped := s.stopped
	s.mu.Unlock()
	if !armed || stopped {
		return
	}
	s.fire(ctx, driverID)
}

func (s *Supervisor) fire(ctx context.Context, driverID string) {
	if err := s.demoter.ForceOffline(ctx, driverID); err != nil {
		s.log.Error("Failed to demote driver", logger.Err(err),
			logger.String("driver_id", driverID))
		return
	}

	var absentFor time.Duration
	if doc, err := s.store.Get(ctx, AbsencesCollection, driverID); err == nil {
		absentFor = s.now().Sub(time.Unix(0, asInt64(doc.Fields["left_at"])))
	}

	if err := s.store.Delete(ctx, AbsencesCollection, driverID); err != nil {
		s.log.Warn("Failed to clear demotion deadline", logger.Err(err),
			logger.String("driver_id", driverID))
	}
	s.cfg.Metrics.RecordDriverDemoted(driverID, absentFor)
	s.log.Info("Driver demoted to offline",
		logger.String("driver_id", driverID),
		logger.Duration("absent_for", absentFor),
	)
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	}
	return 0
}
