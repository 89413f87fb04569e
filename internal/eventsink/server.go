package eventsink

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server exposes the event sink's HTTP surface: a health check, a metrics
// heartbeat snapshot, and the WebSocket event stream. Grounded on
// internal/server/server.go's mux.Router wiring and internal/server/
// handlers.go's handleWebSocket upgrade-then-register pattern.
type Server struct {
	hub        *Hub
	router     *mux.Router
	logger     *log.Logger
	startedAt  time.Time
	agentCount func() int
}

// NewServer builds the event sink's HTTP router. agentCount, if non-nil, is
// consulted for the heartbeat endpoint's reported agent count; the
// subscriber count comes from the hub.
func NewServer(hub *Hub, agentCount func() int) *Server {
	s := &Server{
		hub:        hub,
		router:     mux.NewRouter(),
		logger:     log.Default(),
		startedAt:  time.Now(),
		agentCount: agentCount,
	}
	s.routes()
	return s
}

// Handler returns the server's http.Handler for use with http.ListenAndServe.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	s.router.HandleFunc("/events/ws", s.handleEventsWS).Methods("GET")
	s.router.HandleFunc("/metrics/heartbeat", s.handleHeartbeatSnapshot).Methods("GET")
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, map[string]interface{}{
		"status":  "ok",
		"uptime":  time.Since(s.startedAt).String(),
		"clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleHeartbeatSnapshot(w http.ResponseWriter, r *http.Request) {
	count := 0
	if s.agentCount != nil {
		count = s.agentCount()
	}
	s.respondJSON(w, map[string]interface{}{
		"subscribers": s.hub.ClientCount(),
		"agents":      count,
		"timestamp":   time.Now().UTC(),
	})
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("[EVENTSINK] websocket upgrade failed: %v", err)
		return
	}

	client := &Client{hub: s.hub, conn: conn, send: make(chan []byte, ClientBufferSize)}
	s.hub.Register(client)

	go client.writePump()
	go client.readPump()
}

func (s *Server) respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("[EVENTSINK] failed to encode response: %v", err)
	}
}

// readPump drains and discards inbound frames; subscribers are read-only.
// It exists to surface disconnects (a failed read means the peer is gone)
// and unregister promptly.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump drains c.send to the socket until it's closed by the Hub.
func (c *Client) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
