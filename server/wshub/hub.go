// Package wshub pushes realtime notifications (new mail, workflow results,
// surfaced snoozes) to connected clients over WebSocket.
package wshub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/plumemail/plume/logger"
	"github.com/plumemail/plume/pkg/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Notification is the envelope pushed to clients.
type Notification struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
	Time string `json:"time"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	wmu  sync.Mutex
}

// write serializes frame writes; both pumps share the connection.
func (c *client) write(kind int, payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(kind, payload)
}

// Hub tracks connections per user. A user may hold several connections
// (multiple tabs, devices); every one receives each notification.
type Hub struct {
	mu    sync.RWMutex
	users map[int64]map[*client]struct{}
}

func New() *Hub {
	return &Hub{users: map[int64]map[*client]struct{}{}}
}

// Register adopts an upgraded connection for a user and services it until
// the peer disappears.
func (h *Hub) Register(userID int64, conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan []byte, 32)}

	h.mu.Lock()
	if h.users[userID] == nil {
		h.users[userID] = map[*client]struct{}{}
	}
	h.users[userID][c] = struct{}{}
	h.mu.Unlock()
	metrics.WSConnectionsCurrent.Inc()
	logger.Debug("websocket connected", "user_id", userID)

	go h.writePump(userID, c)
	go h.readPump(userID, c)
}

func (h *Hub) unregister(userID int64, c *client) {
	h.mu.Lock()
	if conns, ok := h.users[userID]; ok {
		if _, present := conns[c]; present {
			delete(conns, c)
			close(c.send)
			metrics.WSConnectionsCurrent.Dec()
		}
		if len(conns) == 0 {
			delete(h.users, userID)
		}
	}
	h.mu.Unlock()
	c.conn.Close()
}

// readPump drains client frames to keep pong handling alive. A text "ping"
// is answered with "pong" so browser clients can probe liveness without
// protocol-level frames; everything else is discarded.
func (h *Hub) readPump(userID int64, c *client) {
	defer h.unregister(userID, c)
	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		kind, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if kind == websocket.TextMessage && string(msg) == "ping" {
			if err := c.write(websocket.TextMessage, []byte("pong")); err != nil {
				return
			}
		}
	}
}

func (h *Hub) writePump(userID int64, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.unregister(userID, c)
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Notify pushes an event to every connection of a user. Connections with a
// full send buffer are dropped rather than blocking the caller.
func (h *Hub) Notify(userID int64, event string, payload any) {
	msg, err := json.Marshal(Notification{
		Type: event,
		Data: payload,
		Time: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		logger.Error("failed to encode notification", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	conns := make([]*client, 0, len(h.users[userID]))
	for c := range h.users[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		select {
		case c.send <- msg:
			metrics.WSNotificationsTotal.WithLabelValues(event, "sent").Inc()
		default:
			metrics.WSNotificationsTotal.WithLabelValues(event, "dropped").Inc()
			go h.unregister(userID, c)
		}
	}
}

// Connected reports how many connections a user currently holds.
func (h *Hub) Connected(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}
