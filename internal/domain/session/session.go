package session

import (
	"time"

	"github.com/todahub/paradahan/internal/domain/geo"
)

// State represents a driver's lifecycle state.
type State string

const (
	StateOffline State = "offline"
	StateWaiting State = "waiting"
	StateInRide  State = "in_ride"
)

// IsValid validates the state.
func (s State) IsValid() bool {
	switch s {
	case StateOffline, StateWaiting, StateInRide:
		return true
	}
	return false
}

// Session is a single driver's session. It is owned exclusively by that
// driver's state machine; nothing else mutates it. It is an explicit
// object handed to the engine at construction, never ambient state.
type Session struct {
	DriverID      string     `json:"driver_id"`
	Plate         string     `json:"plate"`
	State         State      `json:"state"`
	ManualOffline bool       `json:"manual_offline"`
	LastPosition  *geo.Point `json:"last_position,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// New creates a session in the initial Offline state.
func New(driverID, plate string) *Session {
	return &Session{
		DriverID:  driverID,
		Plate:     plate,
		State:     StateOffline,
		UpdatedAt: time.Now(),
	}
}

// SetState updates the lifecycle state.
func (s *Session) SetState(state State) {
	s.State = state
	s.UpdatedAt = time.Now()
}

// SetPosition records the last known coordinates.
func (s *Session) SetPosition(p geo.Point) {
	pos := p
	s.LastPosition = &pos
	s.UpdatedAt = time.Now()
}
