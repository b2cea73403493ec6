package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/todahub/paradahan/internal/api/handlers"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, nrApp *newrelic.Application) {
	// Add New Relic middleware if enabled
	if nrApp != nil {
		r.Use(nrgin.Middleware(nrApp))
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "healthy"})
	})

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// WebSocket connection
		v1.GET("/ws", h.HandleWebSocket)

		// Driver lifecycle commands
		drivers := v1.Group("/drivers")
		{
			drivers.POST("/:id/location", h.UpdateLocation)
			drivers.POST("/:id/online", h.GoOnline)
			drivers.POST("/:id/offline", h.GoOffline)
			drivers.POST("/:id/ride", h.StartRide)
			drivers.PUT("/:id/destination", h.SetDestination)
			drivers.GET("/:id/state", h.GetState)
			drivers.GET("/:id/records", h.GetRecords)
		}

		// Queue views and admin override
		queue := v1.Group("/queue")
		{
			queue.GET("", h.GetQueue)
			queue.POST("/reorder", h.Reorder)
		}
	}
}
