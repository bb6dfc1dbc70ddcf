// Package stream implements the agent's four independently bound streaming
// endpoints (main/stats/files/desktop), modeled on a packet pipeline's
// stream fan-out and a dashboard-hub websocket pattern: a Hub owning a
// client set, a Client pumping reads/writes over its own goroutines with a
// buffered send channel.
package stream

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/otusfleet/fleetctl/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// Client is one accepted WebSocket connection on a single channel.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, hub *Hub) *Client {
	return &Client{conn: conn, send: make(chan []byte, sendBuffer), hub: hub}
}

// safeSend enqueues data without blocking; a full or closed channel counts
// as a send failure and is swallowed here — the client is
// reaped the next time the hub iterates its set.
func (c *Client) safeSend(data []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// Hub owns one channel's client set. Register/unregister flow through
// channels handled by the Run goroutine; Broadcast also removes clients
// whose send failed. Every change to the set is made under mu.
type Hub struct {
	name string
	log  *logrus.Entry

	mu      sync.RWMutex
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
}

// NewHub creates a hub for one named channel (main, stats, files, desktop).
func NewHub(name string, log *logrus.Entry) *Hub {
	return &Hub{
		name:       name,
		log:        log.WithField("channel", name),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run processes registrations until done is closed; call it in its own goroutine.
func (h *Hub) Run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.close()
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends data to every registered client, in no defined order
// across clients; clients whose send fails are dropped from the set before the
// next call: swallowed, with removal deferred to the next iteration.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	var dead []*Client
	for _, c := range clients {
		if !c.safeSend(data) {
			dead = append(dead, c)
		}
	}
	if len(dead) == 0 {
		return
	}

	h.mu.Lock()
	for _, c := range dead {
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			c.close()
		}
	}
	h.mu.Unlock()
}

// BroadcastEvent marshals event and broadcasts it; marshal failure is logged
// and dropped rather than propagated, matching the fire-and-forget
// broadcast contract.
func (h *Hub) BroadcastEvent(event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.WithError(err).Warn("failed to marshal stream event")
		return
	}
	h.Broadcast(data)
}

// Accept registers an already-upgraded WebSocket connection as a client and
// runs its read/write pumps until the connection closes.
func (h *Hub) Accept(conn *websocket.Conn) {
	c := newClient(conn, h)
	h.register <- c

	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleInbound(data)
	}
}

// handleInbound answers a literal "ping" with a pong addressed to this
// client only; every other inbound message is ignored —
// no component in this system registers an inbound handler.
func (c *Client) handleInbound(data []byte) {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if msg.Type != "ping" {
		return
	}
	pong, err := json.Marshal(protocol.NewPongEvent(time.Now().UnixMilli()))
	if err != nil {
		return
	}
	c.safeSend(pong)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
