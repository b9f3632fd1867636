package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/energytracker/energytracker/server/internal/relay"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origins are governed by the same allow-any policy as the REST API.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent back for every calculation frame.
type Message struct {
	RequestID string `json:"request_id"`
	Status    int    `json:"status"`
	Body      any    `json:"body"`
}

// Hub serves the /ws/calculate endpoint. Every text or binary frame a client
// sends is one calculation request; the reply frame carries the HTTP status
// and body the REST endpoint would have returned.
type Hub struct {
	relay      *relay.Relay
	maxMessage int64

	// ctx is cancelled when Run returns; every connection derives from it.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client represents one connected WebSocket client.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub that relays frames through rl. maxMessage caps the size
// of one incoming frame.
func New(rl *relay.Relay, maxMessage int64) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		relay:      rl,
		maxMessage: maxMessage,
		ctx:        ctx,
		cancel:     cancel,
		clients:    make(map[*client]struct{}),
	}
}

// Run blocks until ctx is cancelled, then cancels in-flight calculations and
// closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.cancel()
	h.closeAll()
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client
// until the connection closes. Frames from one client are handled in order.
// Closing the connection or stopping the hub kills the calculation in flight.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}
	defer conn.Close()

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}
	h.register(c)
	defer h.unregister(c)

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()

	frames := make(chan []byte, sendBufSize)
	go c.writePump()
	go h.readPump(ctx, cancel, c, frames)
	h.calculateLoop(ctx, c, frames) // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// deliver queues msg for c. It reports false if c is gone or its buffer is
// full, in which case the caller should stop serving it.
func (h *Hub) deliver(c *client, msg []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// readPump reads frames into frames until the connection fails, then cancels
// the connection context so a running calculation is killed.
func (h *Hub) readPump(ctx context.Context, cancel context.CancelFunc, c *client, frames chan<- []byte) {
	defer close(frames)
	defer cancel()

	if h.maxMessage > 0 {
		c.conn.SetReadLimit(h.maxMessage)
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("ws: client read failed", "err", err)
			}
			return
		}
		select {
		case frames <- data:
		case <-ctx.Done():
			return
		}
		// Pongs are not read while waiting on a full queue.
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// calculateLoop answers queued frames one at a time.
func (h *Hub) calculateLoop(ctx context.Context, c *client, frames <-chan []byte) {
	for {
		var data []byte
		select {
		case <-ctx.Done():
			return
		case d, ok := <-frames:
			if !ok {
				return
			}
			data = d
		}

		id := uuid.NewString()
		res := h.relay.Calculate(relay.WithRequestID(ctx, id), data)
		if ctx.Err() != nil {
			return
		}

		msg, err := json.Marshal(Message{RequestID: id, Status: res.Status, Body: res.Body})
		if err != nil {
			slog.Error("ws: encode reply failed", "request_id", id, "err", err)
			return
		}
		if !h.deliver(c, msg) {
			return
		}
	}
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames. Runs in its own
// goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
