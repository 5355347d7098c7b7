package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/roadscan/internal/app"
	"github.com/ayusman/roadscan/internal/store"
)

const (
	writeWait = time.Second
	// sendBuffer is the number of messages queued per client before it is
	// dropped as too slow.
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Ground station clients connect from anywhere on the field network
	},
}

// Message is the envelope pushed to live clients.
type Message struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Data      any    `json:"data"`
}

// client is one live connection. Its writer goroutine owns conn writes.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts detection records and status snapshots to WebSocket
// clients. It implements app.Sink. Publishing never waits on a client: each
// has its own queue and writer, and a client whose queue is full is dropped.
type Hub struct {
	clients map[*client]bool
	mu      sync.Mutex
}

// NewHub creates a hub with no clients.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]bool)}
}

// ServeHTTP upgrades the request and keeps the client registered until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()
	slog.Info("live client connected", "remote", r.RemoteAddr, "clients", count)

	go c.writePump()
	defer h.remove(c)

	// Clients only listen; reading detects the disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()

	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			slog.Warn("dropping live client", "error", err)
			// Unblock the reader; the hub removes the client from there.
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// removeLocked unregisters c and ends its writer, which closes the socket.
func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// PublishDetection queues a record for every client.
func (h *Hub) PublishDetection(sessionID string, rec *store.DetectionRecord) error {
	return h.broadcast(Message{Type: "detection", SessionID: sessionID, Data: rec})
}

// PublishStatus queues a status snapshot for every client.
func (h *Hub) PublishStatus(sessionID string, st app.Status) error {
	return h.broadcast(Message{Type: "status", SessionID: sessionID, Data: st})
}

func (h *Hub) broadcast(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slog.Warn("dropping slow live client", "queued", len(c.send))
			h.removeLocked(c)
		}
	}
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}
