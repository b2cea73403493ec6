package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/todahub/paradahan/internal/api/dto"
	"github.com/todahub/paradahan/internal/domain/geo"
	"github.com/todahub/paradahan/internal/service/engine"
	"github.com/todahub/paradahan/pkg/apperrors"
	"github.com/todahub/paradahan/pkg/logger"
)

// UpdateLocation handles POST /v1/drivers/:id/location. Each fix feeds
// the driver's geofence monitor.
func (h *Handlers) UpdateLocation(c *gin.Context) {
	driverID := c.Param("id")

	var req dto.LocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Code: "BAD_REQUEST", Message: "invalid location payload"})
		return
	}

	if _, err := h.Registry.GetOrCreate(driverID, c.GetHeader("X-Plate")); err != nil {
		h.respondError(c, err)
		return
	}
	source, ok := h.Registry.Source(driverID)
	if !ok {
		h.respondError(c, apperrors.Internal("no position feed for driver", nil))
		return
	}

	source.Push(geo.Point{Latitude: req.Latitude, Longitude: req.Longitude}, time.Now())
	c.JSON(http.StatusOK, gin.H{"status": "ok", "driver_id": driverID})
}

// GoOnline handles POST /v1/drivers/:id/online.
func (h *Handlers) GoOnline(c *gin.Context) {
	driverID := c.Param("id")

	eng, err := h.Registry.GetOrCreate(driverID, c.GetHeader("X-Plate"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if err := eng.GoOnline(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshotResponse(eng.Snapshot()))
}

// GoOffline handles POST /v1/drivers/:id/offline.
func (h *Handlers) GoOffline(c *gin.Context) {
	driverID := c.Param("id")

	eng, ok := h.Registry.Get(driverID)
	if !ok {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Code: "NOT_FOUND", Message: "unknown driver"})
		return
	}
	if err := eng.GoOffline(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	h.Monitor.RecordQueueLeft(driverID, true)
	c.JSON(http.StatusOK, snapshotResponse(eng.Snapshot()))
}

// StartRide handles POST /v1/drivers/:id/ride.
func (h *Handlers) StartRide(c *gin.Context) {
	driverID := c.Param("id")

	var req dto.StartRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Code: "BAD_REQUEST", Message: "destination is required"})
		return
	}

	eng, ok := h.Registry.Get(driverID)
	if !ok {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Code: "NOT_FOUND", Message: "unknown driver"})
		return
	}
	if err := eng.StartRide(c.Request.Context(), req.Destination); err != nil {
		h.respondError(c, err)
		return
	}

	h.Logger.Info("Ride started by command",
		logger.String("driver_id", driverID),
		logger.String("destination", req.Destination),
	)
	c.JSON(http.StatusOK, snapshotResponse(eng.Snapshot()))
}

// SetDestination handles PUT /v1/drivers/:id/destination.
func (h *Handlers) SetDestination(c *gin.Context) {
	driverID := c.Param("id")

	var req dto.DestinationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Code: "BAD_REQUEST", Message: "destination is required"})
		return
	}

	eng, ok := h.Registry.Get(driverID)
	if !ok {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Code: "NOT_FOUND", Message: "unknown driver"})
		return
	}
	if err := eng.SetDestination(req.Destination); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"driver_id": driverID, "destination": req.Destination})
}

// GetState handles GET /v1/drivers/:id/state.
func (h *Handlers) GetState(c *gin.Context) {
	driverID := c.Param("id")

	eng, ok := h.Registry.Get(driverID)
	if !ok {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Code: "NOT_FOUND", Message: "unknown driver"})
		return
	}
	c.JSON(http.StatusOK, snapshotResponse(eng.Snapshot()))
}

// GetRecords handles GET /v1/drivers/:id/records.
func (h *Handlers) GetRecords(c *gin.Context) {
	driverID := c.Param("id")

	records, err := h.Ledger.Records(c.Request.Context(), driverID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"driver_id": driverID, "records": records})
}

func (h *Handlers) respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.Status, dto.ErrorResponse{Code: appErr.Code, Message: appErr.Message})
		return
	}
	h.Logger.Error("Unhandled handler error", logger.Err(err))
	c.JSON(apperrors.StatusFor(err), dto.ErrorResponse{Code: "INTERNAL_ERROR", Message: "something went wrong"})
}

func snapshotResponse(s engine.Snapshot) dto.StateResponse {
	return dto.StateResponse{
		DriverID:         s.DriverID,
		State:            string(s.State),
		Rank:             s.Rank,
		EstimateMinutes:  s.EstimateMinutes,
		CountdownSeconds: int(s.CountdownRemaining.Seconds()),
		InZone:           s.InZone,
	}
}
