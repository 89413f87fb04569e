// Package eventsink implements spec.md's "out-of-scope observability" event
// sink (§6): a non-blocking broadcaster that publishes every persisted
// AgentEvent plus periodic heartbeats to best-effort WebSocket subscribers,
// dropping a slow subscriber rather than blocking the publisher. Grounded on
// internal/server/hub.go's Hub/Client pair, generalized from dashboard-state
// broadcast to AgentEvent broadcast.
package eventsink

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/mnemosyne-ai/mnemosyne/internal/mtypes"
)

// ClientBufferSize is the per-subscriber send buffer; a subscriber that
// falls this far behind is dropped rather than allowed to block publishes.
const ClientBufferSize = 256

// WSMessageType distinguishes the two payload shapes a subscriber receives.
type WSMessageType string

const (
	WSTypeEvent     WSMessageType = "event"
	WSTypeHeartbeat WSMessageType = "heartbeat"
)

// WSMessage is the envelope every subscriber message is wrapped in.
type WSMessage struct {
	Type WSMessageType `json:"type"`
	Data interface{}   `json:"data"`
}

// Client is one subscriber's WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans out events and heartbeats to every registered Client.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
}

// NewHub creates an empty Hub. Call Run in a goroutine to start it.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, ClientBufferSize),
	}
}

// Run is the Hub's main loop; it returns only when done is closed.
func (h *Hub) Run(done <-chan struct{}) {
	for {
		select {
		case <-done:
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
					// Slow subscriber: drop it rather than block the publisher,
					// per spec.md §6's "best-effort delivery (drop if slow)".
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a client to the fan-out set.
func (h *Hub) Register(c *Client) { h.register <- c }

// Unregister removes a client from the fan-out set.
func (h *Hub) Unregister(c *Client) { h.unregister <- c }

// broadcastJSON marshals msg and enqueues it for every subscriber. A full
// broadcast channel (the Hub's own run loop stalled) drops the message
// rather than blocking the caller — the publisher must never suspend on a
// slow or absent subscriber.
func (h *Hub) broadcastJSON(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
	}
}

// PublishEvent broadcasts a persisted AgentEvent to every subscriber.
func (h *Hub) PublishEvent(e *mtypes.AgentEvent) {
	h.broadcastJSON(WSMessage{Type: WSTypeEvent, Data: e})
}

// PublishHeartbeat broadcasts a heartbeat payload (spec.md §4.6's "fixed
// cadence, default 30s" heartbeat, emitted here for external observability).
func (h *Hub) PublishHeartbeat(agentID string, data map[string]string) {
	h.broadcastJSON(WSMessage{Type: WSTypeHeartbeat, Data: map[string]interface{}{
		"agent_id": agentID,
		"fields":   data,
	}})
}

// ClientCount reports the current subscriber count.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
