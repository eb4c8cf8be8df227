package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/akmukhi/developer-self-service/internal/models"
)

// EventMessage is the frame sent to event feed clients.
type EventMessage struct {
	Type        string                      `json:"type"`
	Event       models.EnvironmentEventType `json:"event"`
	Reason      string                      `json:"reason,omitempty"`
	Environment *models.Environment         `json:"environment,omitempty"`
	Timestamp   time.Time                   `json:"timestamp"`
}

// Hub maintains active WebSocket connections and broadcasts environment events.
// It implements environment.Notifier.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Outbound messages for every client
	broadcast chan []byte

	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(ctx context.Context, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	hubCtx, cancel := context.WithCancel(ctx)
	return &Hub{
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		ctx:        hubCtx,
		cancel:     cancel,
		log:        log,
	}
}

// Run dispatches until the hub is stopped. All client channels are closed on exit.
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow client; drop it rather than stall everyone else.
					h.log.Warn("Dropping slow WebSocket client", "client_id", client.id)
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// Register adds client. It is a no-op once the hub has stopped.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes client and closes its send channel.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// EnvironmentChanged broadcasts a lifecycle event. It never blocks; events are dropped when the
// broadcast buffer is full.
func (h *Hub) EnvironmentChanged(event models.EnvironmentEvent) {
	data, err := json.Marshal(EventMessage{
		Type:        "environment",
		Event:       event.Type,
		Reason:      event.Reason,
		Environment: event.Environment,
		Timestamp:   event.Timestamp,
	})
	if err != nil {
		h.log.Error("Failed to encode environment event", "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn("Environment event dropped, broadcast buffer full", "event", event.Type)
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
