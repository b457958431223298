// Package websocket streams engine events to connected clients
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ocr-watch/internal/events"
)

const (
	writeTimeout      = 2 * time.Second
	heartbeatInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // control API binds to localhost by default
	},
	HandshakeTimeout: 10 * time.Second,
}

// Message is the envelope written to clients
type Message struct {
	Type string      `json:"type"`
	Time time.Time   `json:"time"`
	Data interface{} `json:"data,omitempty"`
}

// connection wraps a websocket connection with its own write mutex
type connection struct {
	conn   *websocket.Conn
	mutex  sync.Mutex
	closed bool
}

// Hub fans bus events out to every connected client
type Hub struct {
	log       zerolog.Logger
	heartbeat time.Duration

	mu    sync.Mutex
	conns []*connection
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{log: log, heartbeat: heartbeatInterval}
}

// Run forwards events from sub until ctx is done or sub is closed
func (h *Hub) Run(ctx context.Context, sub <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev, ok := <-sub:
			if !ok {
				h.closeAll()
				return
			}
			h.Broadcast(Message{Type: string(ev.Type), Time: ev.Time, Data: ev.Data})
		}
	}
}

// Broadcast writes msg to every client. Clients that fail the write are
// dropped.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Str("type", msg.Type).Msg("Error marshaling message")
		return
	}

	// copy to avoid holding the mutex while writing
	h.mu.Lock()
	conns := slices.Clone(h.conns)
	h.mu.Unlock()

	for _, c := range conns {
		if err := h.safeWrite(c, websocket.TextMessage, data); err != nil {
			h.log.Debug().Err(err).Str("type", msg.Type).Msg("Error sending message")
		}
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) remove(c *connection) {
	h.mu.Lock()
	h.conns = slices.DeleteFunc(h.conns, func(v *connection) bool { return v == c })
	h.mu.Unlock()

	c.mutex.Lock()
	if !c.closed {
		c.conn.Close()
		c.closed = true
	}
	c.mutex.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	conns := h.conns
	h.conns = nil
	h.mu.Unlock()

	for _, c := range conns {
		c.mutex.Lock()
		if !c.closed {
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeTimeout))
			c.conn.Close()
			c.closed = true
		}
		c.mutex.Unlock()
	}
}

// safeWrite serializes writes to one connection and bounds them with a
// deadline
func (h *Hub) safeWrite(c *connection, messageType int, data []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return fmt.Errorf("connection is closed")
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := c.conn.WriteMessage(messageType, data)
	if err != nil {
		c.closed = true
		go h.remove(c)
	}
	return err
}

// ServeHTTP upgrades the request and keeps the client registered until it
// disconnects. Incoming messages are ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Websocket upgrade failed")
		return
	}

	c := &connection{conn: conn}
	h.mu.Lock()
	h.conns = append(h.conns, c)
	h.mu.Unlock()
	h.log.Debug().Str("remote", r.RemoteAddr).Msg("Websocket client connected")

	done := make(chan struct{})
	defer func() {
		close(done)
		h.remove(c)
		h.log.Debug().Str("remote", r.RemoteAddr).Msg("Websocket client disconnected")
	}()

	go func() {
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				msg, _ := json.Marshal(Message{Type: "heartbeat", Time: time.Now()})
				if h.safeWrite(c, websocket.TextMessage, msg) != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Msg("Websocket read error")
			}
			return
		}
	}
}
