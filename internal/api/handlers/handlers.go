package handlers

import (
	"github.com/todahub/paradahan/internal/service/engine"
	"github.com/todahub/paradahan/internal/service/ledger"
	queuesvc "github.com/todahub/paradahan/internal/service/queue"
	"github.com/todahub/paradahan/pkg/logger"
	"github.com/todahub/paradahan/pkg/monitoring"
	"github.com/todahub/paradahan/pkg/websocket"
)

// Handlers holds all handler dependencies
type Handlers struct {
	Registry *engine.Registry
	Coord    *queuesvc.Coordinator
	Ledger   *ledger.Ledger
	Logger   *logger.Logger
	Hub      *websocket.Hub
	Monitor  *monitoring.App
}

// NewHandlers creates a new Handlers instance
func NewHandlers(registry *engine.Registry, coord *queuesvc.Coordinator, ledger *ledger.Ledger, log *logger.Logger, hub *websocket.Hub, monitor *monitoring.App) *Handlers {
	return &Handlers{
		Registry: registry,
		Coord:    coord,
		Ledger:   ledger,
		Logger:   log,
		Hub:      hub,
		Monitor:  monitor,
	}
}
