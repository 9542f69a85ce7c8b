// Package stream fans board updates out to live consumers: WebSocket
// clients and a NATS subject.
package stream

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mlsorensen/gobalance"
)

// Message is the envelope sent to every consumer. Type is the update kind.
type Message struct {
	Type      string                 `json:"type"`
	SessionID string                 `json:"session_id,omitempty"`
	Time      time.Time              `json:"time"`
	Data      gobalance.WeightUpdate `json:"data"`
	Error     string                 `json:"error,omitempty"`
}

// NewMessage wraps an update.
func NewMessage(u gobalance.WeightUpdate) Message {
	m := Message{
		Type:      string(u.Kind),
		SessionID: u.SessionID,
		Time:      u.Time,
		Data:      u,
	}
	if u.Error != nil {
		m.Error = u.Error.Error()
	}
	return m
}

// Sink receives every update.
type Sink interface {
	Publish(u gobalance.WeightUpdate) error
}

// Client wraps a websocket connection with a per-connection write mutex.
// Gorilla WebSocket requires that writes are not concurrent on the same Conn.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Hub is a broadcast hub for a set of WebSocket clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]struct{})}
}

// Add registers a connection with the hub and returns the Client wrapper.
func (h *Hub) Add(conn *websocket.Conn) *Client {
	c := &Client{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

// Remove unregisters a client and closes its connection.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = c.conn.Close()
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a message to all connected clients. Write failures are
// ignored; the client's read loop notices the disconnect and removes it.
func (h *Hub) Broadcast(msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.mu.Lock()
		_ = c.conn.WriteMessage(websocket.TextMessage, b)
		c.mu.Unlock()
	}
	return nil
}

// Publish implements Sink.
func (h *Hub) Publish(u gobalance.WeightUpdate) error {
	return h.Broadcast(NewMessage(u))
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}
