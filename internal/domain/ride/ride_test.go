package ride

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/todahub/paradahan/internal/domain/geo"
)

// TestFinalize_Durations tests minute rounding and clamping
func TestFinalize_Durations(t *testing.T) {
	base := time.Date(2026, 3, 12, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		queueJoinAt time.Time
		startedAt   time.Time
		endedAt     time.Time
		wantTravel  int
		wantWait    int
	}{
		{
			name:        "exact minutes",
			queueJoinAt: base,
			startedAt:   base.Add(10 * time.Minute),
			endedAt:     base.Add(22 * time.Minute),
			wantTravel:  12,
			wantWait:    10,
		},
		{
			name:        "rounds to nearest minute",
			queueJoinAt: base,
			startedAt:   base.Add(4*time.Minute + 31*time.Second),
			endedAt:     base.Add(12*time.Minute + 50*time.Second),
			wantTravel:  8,
			wantWait:    5,
		},
		{
			name:        "rounds down below the half minute",
			queueJoinAt: base,
			startedAt:   base.Add(4*time.Minute + 29*time.Second),
			endedAt:     base.Add(7*time.Minute + 43*time.Second),
			wantTravel:  3,
			wantWait:    4,
		},
		{
			name:        "skewed clocks clamp to zero",
			queueJoinAt: base.Add(5 * time.Minute),
			startedAt:   base,
			endedAt:     base.Add(-2 * time.Minute),
			wantTravel:  0,
			wantWait:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pending := NewPending("driver-1", tt.startedAt, geo.Point{Latitude: 1, Longitude: 2}, "palengke", tt.queueJoinAt, 2)
			rec := pending.Finalize(tt.endedAt, geo.Point{Latitude: 3, Longitude: 4}, 35.0)

			assert.Equal(t, tt.wantTravel, rec.TravelTimeMinutes)
			assert.Equal(t, tt.wantWait, rec.WaitTimeMinutes)
		})
	}
}

// TestFinalize_CarriesPendingFields tests that the record preserves
// everything staged at ride start
func TestFinalize_CarriesPendingFields(t *testing.T) {
	start := time.Date(2026, 3, 12, 9, 30, 0, 0, time.UTC)
	pickup := geo.Point{Latitude: 14.6, Longitude: 120.98}
	dropoff := geo.Point{Latitude: 14.61, Longitude: 120.99}

	pending := NewPending("driver-7", start, pickup, "simbahan", start.Add(-8*time.Minute), 3)
	rec := pending.Finalize(start.Add(15*time.Minute), dropoff, 40.0)

	assert.Equal(t, pending.ID, rec.ID)
	assert.Equal(t, "driver-7", rec.DriverID)
	assert.Equal(t, start, rec.StartedAt)
	assert.Equal(t, pickup, rec.Pickup)
	assert.Equal(t, dropoff, rec.Dropoff)
	assert.Equal(t, "simbahan", rec.Destination)
	assert.Equal(t, 40.0, rec.Fare)
	assert.Equal(t, 3, rec.RankAtDeparture)
}

// TestFareTable_FareFor tests destination lookup with default fallback
func TestFareTable_FareFor(t *testing.T) {
	table := FareTable{
		Rates:       map[string]float64{"palengke": 20, "simbahan": 30},
		DefaultFare: 25,
	}

	assert.Equal(t, 20.0, table.FareFor("palengke"))
	assert.Equal(t, 30.0, table.FareFor("simbahan"))
	assert.Equal(t, 25.0, table.FareFor("somewhere-new"))
	assert.Equal(t, 25.0, table.FareFor(""))
}
