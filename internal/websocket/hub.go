package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Trivi1234567/vapi-transfer-server-render/internal/metrics"
	"github.com/Trivi1234567/vapi-transfer-server-render/internal/types"
	"github.com/rs/zerolog"
)

// Hub maintains the set of active clients and fans transfer events out to them
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Transfer events waiting to be fanned out
	broadcast chan types.TransferEvent

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed once Run has returned
	done chan struct{}

	// Mutex to protect clients map
	mu sync.RWMutex

	logger zerolog.Logger
}

// NewHub creates a new Hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan types.TransferEvent, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		logger:     logger.With().Str("component", "ws_hub").Logger(),
	}
}

// Run starts the hub's main loop and closes every client when ctx ends
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info().Msg("hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info().
				Str("client_id", client.id).
				Int("total_clients", total).
				Msg("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info().
					Str("client_id", client.id).
					Int("total_clients", len(h.clients)).
					Msg("client disconnected")
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.fanOut(event)
		}
	}
}

// Register adds a client. It returns false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client; after shutdown the hub has already closed it
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// OnTransferEvent queues a session transition for broadcast. It never blocks
// the orchestrator: when the queue is full the event is dropped.
func (h *Hub) OnTransferEvent(event types.TransferEvent) {
	select {
	case h.broadcast <- event:
	default:
		metrics.Get().RecordWebSocketError()
		h.logger.Warn().Str("session_id", event.SessionID).Msg("broadcast queue full, dropping transfer event")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// fanOut sends an event to every client allowed to see its department
func (h *Hub) fanOut(event types.TransferEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal transfer event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if !client.CanReceive(event) {
			continue
		}
		select {
		case client.send <- data:
			metrics.Get().RecordWebSocketMessage()
		default:
			// Client's send buffer is full, close and remove it
			close(client.send)
			delete(h.clients, client)
			h.logger.Warn().
				Str("client_id", client.id).
				Msg("client send buffer full, closing connection")
		}
	}
}
