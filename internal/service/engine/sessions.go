package engine

import (
	"context"
	"time"

	"github.com/todahub/paradahan/internal/domain/geo"
	"github.com/todahub/paradahan/internal/domain/session"
	"github.com/todahub/paradahan/pkg/docstore"
)

// SessionsCollection holds one document per driver session. The status
// field is written by both the engine and the supervisor;
// last-write-wins is acceptable because queue ordering never derives
// from it.
const SessionsCollection = "sessions"

// SessionStore persists driver sessions in the document store.
type SessionStore struct {
	store docstore.Store
}

// NewSessionStore creates a session store.
func NewSessionStore(store docstore.Store) *SessionStore {
	return &SessionStore{store: store}
}

// Save upserts the session document.
func (s *SessionStore) Save(ctx context.Context, sess *session.Session) error {
	fields := map[string]interface{}{
		"driver_id":      sess.DriverID,
		"plate":          sess.Plate,
		"state":          string(sess.State),
		"manual_offline": sess.ManualOffline,
		"updated_at":     sess.UpdatedAt.UnixNano(),
	}
	if sess.LastPosition != nil {
		fields["last_lat"] = sess.LastPosition.Latitude
		fields["last_lng"] = sess.LastPosition.Longitude
	}
	return s.store.Put(ctx, SessionsCollection, sess.DriverID, fields)
}

// Load returns the persisted session, or a fresh offline one if none
// exists.
func (s *SessionStore) Load(ctx context.Context, driverID, plate string) (*session.Session, error) {
	doc, err := s.store.Get(ctx, SessionsCollection, driverID)
	if err == docstore.ErrNotFound {
		return session.New(driverID, plate), nil
	}
	if err != nil {
		return nil, err
	}

	sess := session.New(driverID, plate)
	if v, ok := doc.Fields["plate"].(string); ok && v != "" {
		sess.Plate = v
	}
	if v, ok := doc.Fields["state"].(string); ok && session.State(v).IsValid() {
		sess.State = session.State(v)
	}
	if v, ok := doc.Fields["manual_offline"].(bool); ok {
		sess.ManualOffline = v
	}
	lat, okLat := asFloat(doc.Fields["last_lat"])
	lng, okLng := asFloat(doc.Fields["last_lng"])
	if okLat && okLng {
		sess.LastPosition = &geo.Point{Latitude: lat, Longitude: lng}
	}
	sess.UpdatedAt = time.Now()
	return sess, nil
}

// SetState force-writes just the status transition for a driver whose
// engine is not resident, preserving the rest of the document.
func (s *SessionStore) SetState(ctx context.Context, driverID string, state session.State) error {
	doc, err := s.store.Get(ctx, SessionsCollection, driverID)
	if err == docstore.ErrNotFound {
		doc = docstore.Document{Fields: map[string]interface{}{"driver_id": driverID}}
	} else if err != nil {
		return err
	}
	doc.Fields["state"] = string(state)
	doc.Fields["updated_at"] = time.Now().UnixNano()
	return s.store.Put(ctx, SessionsCollection, driverID, doc.Fields)
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}
