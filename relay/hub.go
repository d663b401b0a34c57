package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/glasslink/link"
)

const (
	writeWait    = 100 * time.Millisecond
	pingInterval = 30 * time.Second
)

// Hub tracks WebSocket clients and broadcasts link events to them
type Hub struct {
	clients map[*websocket.Conn]bool
	mu      sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
	}
}

func (h *Hub) AddClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
}

func (h *Hub) RemoveClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
}

// Len returns the number of connected clients
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) snapshot() []*websocket.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
	}
	return clients
}

// Broadcast sends ev to every client. Clients that cannot take the write
// within writeWait are dropped.
func (h *Hub) Broadcast(ev link.Event) {
	clients := h.snapshot()

	var wg sync.WaitGroup
	var failedClients []*websocket.Conn
	var failedMu sync.Mutex

	for _, conn := range clients {
		wg.Add(1)
		go func(c *websocket.Conn) {
			defer wg.Done()
			c.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WriteJSON(ev); err != nil {
				failedMu.Lock()
				failedClients = append(failedClients, c)
				failedMu.Unlock()
			}
		}(conn)
	}
	wg.Wait()

	for _, conn := range failedClients {
		h.RemoveClient(conn)
	}
}

// ping keeps idle clients alive. WriteControl may run alongside WriteJSON.
func (h *Hub) ping() {
	for _, conn := range h.snapshot() {
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
			h.RemoveClient(conn)
		}
	}
}

// CloseAll disconnects every client
func (h *Hub) CloseAll() {
	for _, conn := range h.snapshot() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay stopping"),
			time.Now().Add(writeWait))
		h.RemoveClient(conn)
	}
}
