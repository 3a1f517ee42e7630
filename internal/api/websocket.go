package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/FocuswithJustin/tilawa/core/playback"
	"github.com/FocuswithJustin/tilawa/core/queue"
	"github.com/FocuswithJustin/tilawa/internal/logging"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

// EventMessage is one sequencer event as sent to /ws/sessions/{id}/events.
type EventMessage struct {
	Type      string         `json:"type"` // state_changed, verse_read, error, closed
	SessionID string         `json:"session_id"`
	State     playback.State `json:"state"`
	Entry     *queue.Entry   `json:"entry,omitempty"`
	Added     bool           `json:"added,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp string         `json:"timestamp"`
}

func eventMessage(sessionID string, ev playback.Event) EventMessage {
	msg := EventMessage{
		Type:      string(ev.Kind),
		SessionID: sessionID,
		State:     ev.State,
		Entry:     ev.Entry,
		Added:     ev.Added,
	}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}
	return msg
}

// Client is one WebSocket connection, either an event subscriber or a
// remote transport.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	limit     *tokenBucket
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, hub *Hub, messagesPerSecond int) *Client {
	rate := float64(messagesPerSecond)
	return &Client{
		hub:   hub,
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		limit: newTokenBucket(rate*2, rate),
	}
}

// closeSend ends writePump. It is safe to call more than once.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// trySend queues msg without blocking and reports whether it was queued.
// The caller must ensure closeSend has not run.
func (c *Client) trySend(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// readPump delivers incoming messages to handle until the connection
// closes or the client exceeds its message rate.
func (c *Client) readPump(handle func([]byte), onClose func()) {
	defer func() {
		onClose()
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn("websocket unexpected close", "error", err)
			}
			return
		}
		if !c.limit.allow() {
			logging.Warn("websocket message rate exceeded, closing connection")
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "rate limit exceeded"),
				time.Now().Add(writeWait))
			return
		}
		if handle != nil {
			handle(message)
		}
	}
}

// writePump sends queued messages, one per frame, and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Hub fans session events out to subscribed clients.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopped    chan struct{}
	closeOnce  sync.Once
	count      int
	mu         sync.RWMutex
}

// NewHub creates a hub; start it with Run.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Run handles registration and broadcasting until Close.
func (h *Hub) Run() {
	defer close(h.stopped)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.count = len(h.clients)
			h.mu.Unlock()
			logging.WebSocketEvent("client_connected", h.Len())

		case client := <-h.unregister:
			h.remove(client)
			logging.WebSocketEvent("client_disconnected", h.Len())

		case message := <-h.broadcast:
			h.mu.RLock()
			var slow []*Client
			for client := range h.clients {
				if !client.trySend(message) {
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()
			for _, client := range slow {
				h.remove(client)
			}

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				client.closeSend()
				delete(h.clients, client)
			}
			h.count = 0
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.closeSend()
	}
	h.count = len(h.clients)
}

// Len returns the number of subscribed clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Register adds a client. It returns false once the hub is closed.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast queues msg for every client. It never blocks; when the queue
// is full the message is dropped.
func (h *Hub) Broadcast(msg EventMessage) {
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Error("failed to marshal event message", "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	case <-h.done:
	default:
		logging.Warn("broadcast channel full, dropping message", "session_id", msg.SessionID)
	}
}

// Close disconnects every client and stops Run.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
