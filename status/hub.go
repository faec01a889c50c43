// Package status is the channel telemetry reporter (spec.md §5
// "Scheduling model": "one overall status reporter", §6 "Channel
// control/status"): it periodically snapshots every channel's status
// and broadcasts it to connected websocket clients. Adapted from the
// teacher's web/hub.go and web/server.go, which do the same
// register/unregister/broadcast dance for reverb state instead of
// channel telemetry.
package status

import (
	"sync"

	"github.com/gorilla/websocket"
)

// client is one connected websocket subscriber.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub manages websocket client connections and broadcasts
// (spec.md §5: status reads are the only cross-channel fan-in besides
// the forward-block barrier).
type Hub struct {
	mu         sync.RWMutex
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
}

// NewHub creates a new status hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run starts the hub's event loop. Call it in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					go func(c *client) { h.unregister <- c }(c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast sends message to every connected client, dropping it if the
// hub's internal buffer is full rather than blocking the status
// reporter.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *client) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
