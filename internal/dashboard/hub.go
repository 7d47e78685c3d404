// Package dashboard streams audit records to browsers over WebSocket and
// serves the health, status and metrics endpoints.
package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"mm-replay-lab/internal/audit"
)

// Config contains hub timing settings.
type Config struct {
	PingInterval time.Duration // default 30s
	WriteTimeout time.Duration // default 10s
	SendBuffer   int           // messages queued per client, default 256
}

// DefaultConfig returns the default hub configuration.
func DefaultConfig() Config {
	return Config{
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
		SendBuffer:   256,
	}
}

// Message is the JSON shape of one streamed audit record.
type Message struct {
	RunID       string         `json:"run_id"`
	LatencyNs   int64          `json:"latency_ns"`
	TimestampNs int64          `json:"ts_ns"`
	Kind        audit.Kind     `json:"kind"`
	Fields      map[string]any `json:"fields,omitempty"`
}

// Hub fans audit records out to connected clients. It implements audit.Writer
// so it can sit behind an audit.Buffer next to the persistent writers.
type Hub struct {
	config Config
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	sent    atomic.Int64
	dropped atomic.Int64

	statsMu sync.Mutex
	counts  map[audit.Kind]int
	last    *Message
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// NewHub creates a hub with no clients.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	def := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		config:  cfg,
		logger:  logger,
		clients: make(map[*client]struct{}),
		counts:  make(map[audit.Kind]int),
	}
}

// Write implements audit.Writer. Records are encoded once and queued to every
// client; a client whose queue is full misses the message.
func (h *Hub) Write(_ context.Context, recs []audit.Record) error {
	for _, rec := range recs {
		msg := toMessage(rec)
		h.track(msg)

		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		h.Broadcast(data)
	}
	return nil
}

// Broadcast queues data to every connected client without blocking.
func (h *Hub) Broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		select {
		case c.send <- data:
			h.sent.Add(1)
		default:
			h.dropped.Add(1)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client. Subsequent connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		close(c.done)
		delete(h.clients, c)
	}
}

func (h *Hub) register(conn *websocket.Conn) (*client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, false
	}
	c := &client{
		conn: conn,
		send: make(chan []byte, h.config.SendBuffer),
		done: make(chan struct{}),
	}
	h.clients[c] = struct{}{}
	return c, true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		close(c.done)
		delete(h.clients, c)
	}
}

// writeLoop drains the client queue and sends periodic pings.
func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.unregister(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(c)
				return
			}
		}
	}
}

// readLoop discards client messages and unregisters on disconnect.
func (h *Hub) readLoop(c *client) {
	defer h.unregister(c)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("dashboard client closed", "error", err)
			}
			return
		}
	}
}

func (h *Hub) track(msg *Message) {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	h.counts[msg.Kind]++
	h.last = msg
}

func toMessage(rec audit.Record) *Message {
	msg := &Message{
		RunID:       rec.RunID,
		LatencyNs:   rec.LatencyNs,
		TimestampNs: rec.TimestampNs,
		Kind:        rec.Kind,
	}
	if len(rec.Attrs) > 0 {
		msg.Fields = make(map[string]any, len(rec.Attrs))
		for _, a := range rec.Attrs {
			msg.Fields[a.Key] = a.Value.Resolve().Any()
		}
	}
	return msg
}

// Ensure Hub implements audit.Writer
var _ audit.Writer = (*Hub)(nil)
