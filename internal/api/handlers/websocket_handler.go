package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
	"github.com/todahub/paradahan/pkg/logger"
	"github.com/todahub/paradahan/pkg/websocket"
)

// HandleWebSocket handles GET /v1/ws
func (h *Handlers) HandleWebSocket(c *gin.Context) {
	upgrader := gorilla.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true // Allow all origins in development
		},
	}

	driverID := c.Query("driver_id")
	if driverID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "driver_id is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Logger.Error("Failed to upgrade to WebSocket", logger.Err(err))
		return
	}

	// Make sure an engine exists so pushes start flowing immediately.
	if _, err := h.Registry.GetOrCreate(driverID, c.Query("plate")); err != nil {
		h.Logger.Error("Failed to create engine for WebSocket client",
			logger.Err(err), logger.String("driver_id", driverID))
		conn.Close()
		return
	}

	client := websocket.NewClient(h.Hub, conn, driverID, h.Logger)
	h.Hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
