package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents an application error with a stable code and an
// HTTP status for the edge layer.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Sentinels for the engine's failure taxonomy. LocationUnavailable is
// non-fatal: the last stable geofence classification is retained.
// PersistenceWrite degrades to retry or local buffering, never a crash.
var (
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrNotInZone           = errors.New("not inside the zone")
	ErrPersistenceWrite    = errors.New("persistence write failed")
)

// NotInZone wraps a command rejection for a driver outside the polygon.
func NotInZone(message string) *AppError {
	return &AppError{
		Code:    "NOT_IN_ZONE",
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrNotInZone,
	}
}

// LocationUnavailable wraps a failed location read.
func LocationUnavailable(err error) *AppError {
	return &AppError{
		Code:    "LOCATION_UNAVAILABLE",
		Message: "could not obtain a location fix",
		Status:  http.StatusServiceUnavailable,
		Err:     errors.Join(ErrLocationUnavailable, err),
	}
}

// PersistenceWrite wraps a failed durable-store write.
func PersistenceWrite(message string, err error) *AppError {
	return &AppError{
		Code:    "PERSISTENCE_WRITE_FAILURE",
		Message: message,
		Status:  http.StatusServiceUnavailable,
		Err:     errors.Join(ErrPersistenceWrite, err),
	}
}

// BadRequest creates a 400 error for malformed commands.
func BadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    "BAD_REQUEST",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     err,
	}
}

// Conflict creates a 409 error for commands invalid in the current state.
func Conflict(message string, err error) *AppError {
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
		Status:  http.StatusConflict,
		Err:     err,
	}
}

// Internal creates a 500 error.
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// StatusFor resolves the HTTP status for any error: AppErrors carry
// their own, known sentinels map to their conventional status, and
// everything else is a 500.
func StatusFor(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	switch {
	case errors.Is(err, ErrNotInZone):
		return http.StatusConflict
	case errors.Is(err, ErrLocationUnavailable), errors.Is(err, ErrPersistenceWrite):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
