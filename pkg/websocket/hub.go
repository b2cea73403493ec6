package websocket

import (
	"encoding/json"
	"sync"

	"github.com/todahub/paradahan/pkg/logger"
)

// Hub maintains active driver connections and pushes queue and
// lifecycle updates to them.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
	mu         sync.RWMutex
	logger     *logger.Logger
}

// Message is a frame pushed to a driver's device.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Frame types sent to drivers. The rank rides inside the state frame;
// countdown ticks and queue rewrites get frames of their own.
const (
	FrameState     = "state"
	FrameCountdown = "countdown"
	FrameToast     = "toast"
	FrameQueue     = "queue"
)

// NewHub creates a new hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		logger:     log,
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.Send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("Driver client connected",
				logger.String("client_id", client.ID),
				logger.String("driver_id", client.DriverID),
			)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				h.logger.Info("Driver client disconnected",
					logger.String("client_id", client.ID),
				)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					delete(h.clients, client)
					close(client.Send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop shuts the hub down and disconnects every client.
func (h *Hub) Stop() {
	close(h.done)
}

// Register registers a new client.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister unregisters a client.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast sends a message to every connected driver.
func (h *Hub) Broadcast(message Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", logger.Err(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("Broadcast queue full, dropping message")
	}
}

// SendToDriver sends a message to every connection of one driver.
func (h *Hub) SendToDriver(driverID string, message Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal message", logger.Err(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.DriverID != driverID {
			continue
		}
		select {
		case client.Send <- data:
		default:
			h.logger.Warn("Dropping frame for slow client",
				logger.String("driver_id", driverID),
				logger.String("client_id", client.ID),
			)
		}
	}
}
