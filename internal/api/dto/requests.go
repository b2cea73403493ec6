package dto

import "time"

// LocationRequest is one position fix relayed from the driver device.
type LocationRequest struct {
	Latitude  float64 `json:"latitude" binding:"required"`
	Longitude float64 `json:"longitude" binding:"required"`
}

// StartRideRequest begins a trip toward a posted destination.
type StartRideRequest struct {
	Destination string `json:"destination" binding:"required"`
}

// DestinationRequest announces where a waiting driver will head next;
// the trip starts when the driver actually leaves the zone.
type DestinationRequest struct {
	Destination string `json:"destination" binding:"required"`
}

// ReorderRequest atomically rewrites the queue order. DriverIDs must
// name every queued driver exactly once, front of the line first.
type ReorderRequest struct {
	DriverIDs []string `json:"driver_ids" binding:"required,min=1"`
}

// StateResponse is the driver's observable engine snapshot.
type StateResponse struct {
	DriverID         string  `json:"driver_id"`
	State            string  `json:"state"`
	Rank             int     `json:"rank,omitempty"`
	EstimateMinutes  float64 `json:"estimate_minutes"`
	CountdownSeconds int     `json:"countdown_seconds"`
	InZone           bool    `json:"in_zone"`
}

// QueueEntryResponse is one row of the wait list.
type QueueEntryResponse struct {
	Rank     int       `json:"rank"`
	DriverID string    `json:"driver_id"`
	Plate    string    `json:"plate"`
	JoinedAt time.Time `json:"joined_at"`
}

// ErrorResponse is the error envelope.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
