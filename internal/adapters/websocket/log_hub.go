// Package websocket streams the relay's log output to connected operators
package websocket

import (
	"bytes"
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// LogHub fans log lines out to every connected client.
// It implements io.Writer so it can sit behind a slog handler next to stdout.
type LogHub struct {
	clients map[*client]struct{}

	// Buffered; Write drops lines when full so logging never blocks
	broadcast chan []byte

	register   chan *client
	unregister chan *client
	done       chan struct{} // closed when Run returns

	mu sync.RWMutex

	secretKey string
	upgrader  websocket.Upgrader
}

type client struct {
	hub  *LogHub
	conn *websocket.Conn
	send chan []byte
}

const (
	broadcastBufferSize = 256
	clientBufferSize    = 64

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// NewLogHub creates a hub; an empty secretKey rejects every connection
func NewLogHub(secretKey string) *LogHub {
	return &LogHub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		secretKey:  secretKey,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// protected by the secret key instead of an origin list
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run is the hub's event loop; it returns when ctx is cancelled and closes all clients
func (h *LogHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			slog.Info("Log stream client connected", "clients", total)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			slog.Info("Log stream client disconnected", "clients", total)

		case message := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				// slow clients miss lines rather than stall the hub
				select {
				case c.send <- message:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Write queues one log line for broadcast. It never blocks and always
// reports the full length written.
func (h *LogHub) Write(p []byte) (int, error) {
	msg := bytes.TrimRight(bytes.Clone(p), "\n\r")

	select {
	case h.broadcast <- msg:
	default:
	}
	return len(p), nil
}

// ServeWS upgrades authenticated requests.
// Route: /ws/logs?secret_key=...
func (h *LogHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	queryKey := r.URL.Query().Get("secret_key")
	if h.secretKey == "" || subtle.ConstantTimeCompare([]byte(queryKey), []byte(h.secretKey)) != 1 {
		slog.Warn("Unauthorized log stream attempt", "remote_addr", r.RemoteAddr)
		http.Error(w, "Unauthorized: Invalid or missing secret_key", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientBufferSize),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// ClientCount returns the current number of connected clients
func (h *LogHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump only drains control frames; clients are not expected to send data
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("Log stream read error", "error", err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			// batch whatever queued up meanwhile into the same frame
			n := len(c.send)
			for i := 0; i < n; i++ {
				_, _ = w.Write([]byte("\n"))
				_, _ = w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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
