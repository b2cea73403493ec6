package ride

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/todahub/paradahan/internal/domain/geo"
)

// PendingRecord is a staged, not-yet-committed trip. It exists only
// between ride start and a successful commit; at most one per driver.
type PendingRecord struct {
	ID          uuid.UUID `json:"id"`
	DriverID    string    `json:"driver_id"`
	StartedAt   time.Time `json:"started_at"`
	Pickup      geo.Point `json:"pickup"`
	Destination string    `json:"destination"`
	QueueJoinAt time.Time `json:"queue_join_at"`
	RankAtStart int       `json:"rank_at_start"`
}

// NewPending stages a trip at ride start.
func NewPending(driverID string, startedAt time.Time, pickup geo.Point, destination string, queueJoinAt time.Time, rank int) *PendingRecord {
	return &PendingRecord{
		ID:          uuid.New(),
		DriverID:    driverID,
		StartedAt:   startedAt,
		Pickup:      pickup,
		Destination: destination,
		QueueJoinAt: queueJoinAt,
		RankAtStart: rank,
	}
}

// Record is an immutable completed-trip summary, created exactly once
// per completed ride and never mutated afterwards.
type Record struct {
	ID                uuid.UUID `json:"id"`
	DriverID          string    `json:"driver_id"`
	StartedAt         time.Time `json:"started_at"`
	EndedAt           time.Time `json:"ended_at"`
	TravelTimeMinutes int       `json:"travel_time_minutes"`
	WaitTimeMinutes   int       `json:"wait_time_minutes"`
	Pickup            geo.Point `json:"pickup"`
	Dropoff           geo.Point `json:"dropoff"`
	Destination       string    `json:"destination"`
	Fare              float64   `json:"fare"`
	RankAtDeparture   int       `json:"rank_at_departure"`
}

// Finalize builds the immutable record from a staged trip. Durations
// round to the nearest minute and clamp to zero so clock skew between
// timestamp sources can never produce a negative duration.
func (p *PendingRecord) Finalize(endedAt time.Time, dropoff geo.Point, fare float64) *Record {
	return &Record{
		ID:                p.ID,
		DriverID:          p.DriverID,
		StartedAt:         p.StartedAt,
		EndedAt:           endedAt,
		TravelTimeMinutes: roundMinutes(endedAt.Sub(p.StartedAt)),
		WaitTimeMinutes:   roundMinutes(p.StartedAt.Sub(p.QueueJoinAt)),
		Pickup:            p.Pickup,
		Dropoff:           dropoff,
		Destination:       p.Destination,
		Fare:              fare,
		RankAtDeparture:   p.RankAtStart,
	}
}

func roundMinutes(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int(math.Round(d.Minutes()))
}

// ErrRideInProgress rejects commands that conflict with an active trip.
var ErrRideInProgress = errors.New("a ride is already in progress")
