// Package ws delivers engine events to users over WebSocket. Each
// authenticated connection is subscribed to its user's private channel
// (user.<id>); delivery is best-effort per connection.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"spot-exchange/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origins are handled by the CORS layer in front of the router.
		return true
	},
}

// Message is the envelope written to a client connection.
type Message struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	Data    any    `json:"data"`
}

// Hub maintains active connections keyed by user and fans events out to
// them. It implements events.Publisher.
type Hub struct {
	logger *zap.Logger

	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	clients map[int64]map[*Client]struct{}
}

// NewHub creates a Hub. Call Run in a goroutine before serving connections.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:     logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[int64]map[*Client]struct{}),
	}
}

// Run processes connection registration for the hub's lifetime.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			conns := h.clients[client.userID]
			if conns == nil {
				conns = make(map[*Client]struct{})
				h.clients[client.userID] = conns
			}
			conns[client] = struct{}{}
			h.mu.Unlock()
			h.logger.Info("ws client connected",
				zap.String("client_id", client.id),
				zap.Int64("user_id", client.userID))

		case client := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.clients[client.userID]; ok {
				if _, ok := conns[client]; ok {
					delete(conns, client)
					close(client.send)
					if len(conns) == 0 {
						delete(h.clients, client.userID)
					}
				}
			}
			h.mu.Unlock()
			h.logger.Info("ws client disconnected",
				zap.String("client_id", client.id),
				zap.Int64("user_id", client.userID))
		}
	}
}

// Publish sends an event to every live connection of one user. Connections
// with a full send buffer are skipped; the transport contract is
// best-effort.
func (h *Hub) Publish(userID int64, name string, payload any) {
	msg, err := json.Marshal(Message{
		Event:   name,
		Channel: events.Channel(userID),
		Data:    payload,
	})
	if err != nil {
		h.logger.Error("ws marshal failed", zap.String("event", name), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[userID] {
		select {
		case client.send <- msg:
		default:
			// Slow consumer; drop rather than block the engine.
		}
	}
}

// Client is one WebSocket connection bound to an authenticated user.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	id     string
	userID int64
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// readPump discards client frames and keeps the pong deadline fresh.
// Subscriptions are implicit: the connection only ever receives its own
// user channel.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump writes queued messages and periodic pings to the connection.
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

// Serve upgrades an authenticated request and starts the client pumps.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID int64) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		id:     uuid.NewString(),
		userID: userID,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}
