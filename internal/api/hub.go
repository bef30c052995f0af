package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"crypto-scalper/internal/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The surface is same-host by deployment; origin policy lives in
	// the reverse proxy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub tracks WebSocket peers. Each peer consumes its own engine
// observer channel, so the hub only handles registration and shutdown.
type Hub struct {
	engine Engine
	log    *slog.Logger

	mu      sync.Mutex
	clients map[*wsClient]bool
	closed  bool
}

// NewHub builds an empty hub.
func NewHub(eng Engine, log *slog.Logger) *Hub {
	return &Hub{
		engine:  eng,
		log:     log,
		clients: make(map[*wsClient]bool),
	}
}

// ClientCount returns the number of connected peers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleWS upgrades the connection and starts the peer's pumps.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "err", err)
		return
	}

	updates, cancel := h.engine.Observe()
	c := &wsClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		cancel: cancel,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		conn.Close()
		return
	}
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.log.Info("ws client connected", "total", count)

	c.enqueue(envelope("trading-state", h.engine.Snapshot()))
	go c.forward(updates)
	go c.writePump()
	go c.readPump()
}

// Close disconnects every peer. New upgrades are refused afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.conn.Close()
	}
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.cancel()
	c.closeSend()
}

type wsClient struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	cancel func()

	sendMu     sync.RWMutex
	sendClosed bool
}

// enqueue drops the frame when the peer's buffer is full; a slow
// consumer must not stall the engine. The lock is held across the
// send so closeSend cannot close the channel mid-flight.
func (c *wsClient) enqueue(msg []byte) {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.sendClosed {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *wsClient) closeSend() {
	c.sendMu.Lock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
	c.sendMu.Unlock()
}

// forward relays observer snapshots as update frames until the
// observer channel closes.
func (c *wsClient) forward(updates <-chan model.TradingState) {
	for snap := range updates {
		c.enqueue(envelope("update", snap))
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Coalesce queued frames into one write, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
		c.hub.log.Info("ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var base struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(msg, &base) != nil {
			continue
		}
		if base.Type == "ping" {
			pong, _ := json.Marshal(map[string]any{
				"type":      "pong",
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.enqueue(pong)
		}
	}
}

func envelope(typ string, snap model.TradingState) []byte {
	b, _ := json.Marshal(map[string]any{
		"type":      typ,
		"data":      snap,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	return b
}
