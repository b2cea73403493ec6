package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/todahub/paradahan/internal/api/dto"
	"github.com/todahub/paradahan/pkg/logger"
)

// GetQueue handles GET /v1/queue: the live ordered wait list.
func (h *Handlers) GetQueue(c *gin.Context) {
	entries := h.Coord.Entries()

	out := make([]dto.QueueEntryResponse, 0, len(entries))
	for i, e := range entries {
		out = append(out, dto.QueueEntryResponse{
			Rank:     i + 1,
			DriverID: e.DriverID,
			Plate:    e.Plate,
			JoinedAt: e.JoinedAt,
		})
	}
	h.Monitor.RecordQueueDepth(len(out))
	c.JSON(http.StatusOK, gin.H{"queue": out})
}

// Reorder handles POST /v1/queue/reorder: the administrative override
// of the FIFO order. All-or-nothing.
func (h *Handlers) Reorder(c *gin.Context) {
	var req dto.ReorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Code: "BAD_REQUEST", Message: "driver_ids is required"})
		return
	}

	if err := h.Coord.Reorder(c.Request.Context(), req.DriverIDs); err != nil {
		h.respondError(c, err)
		return
	}

	h.Logger.Info("Queue reordered by admin", logger.Int("entries", len(req.DriverIDs)))
	c.JSON(http.StatusOK, gin.H{"status": "reordered"})
}
