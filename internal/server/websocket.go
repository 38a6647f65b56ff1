package server

import (
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/opd-ai/go-emby-bridge/internal/bridge"
	"github.com/opd-ai/go-emby-bridge/internal/canonical"
	"github.com/opd-ai/go-emby-bridge/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
	sendBuffer     = 16
)

// ActivityMessage is pushed to subscribers after every poll.
type ActivityMessage struct {
	Type      string             `json:"type"`
	Activity  canonical.Activity `json:"activity"`
	Timestamp time.Time          `json:"timestamp"`
}

// Hub fans activity snapshots out to WebSocket subscribers.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	latest  *ActivityMessage
}

var _ bridge.Publisher = (*Hub)(nil)

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// NewHub creates a hub accepting upgrades from the given origins. "*" or
// an empty list accepts any origin.
func NewHub(logger *slog.Logger, allowedOrigins []string) *Hub {
	h := &Hub{
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// PublishActivity sends the snapshot to every subscriber without blocking.
// A subscriber whose buffer is full misses this update.
func (h *Hub) PublishActivity(activity canonical.Activity, observedAt time.Time) {
	msg := &ActivityMessage{
		Type:      "activity",
		Activity:  activity,
		Timestamp: observedAt.UTC(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal activity message", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest = msg

	h.logger.Debug("Broadcasting activity",
		"stream_count", activity.StreamCount,
		"client_count", len(h.clients))

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("Dropping activity update, client buffer full",
				"remote_addr", c.conn.RemoteAddr().String())
		}
	}
}

// Latest returns the last published message, or nil.
func (h *Hub) Latest() *ActivityMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every subscriber.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
		c.conn.Close()
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(n))
}

// unregister removes c and closes its send channel. It is safe to call more
// than once. The channel is closed under the write lock so PublishActivity
// never sends on a closed channel.
func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketClients.Set(float64(n))
}

// handleWebSocket upgrades the connection and subscribes it. The newest
// known activity (published or stored) is sent immediately.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade WebSocket connection", "error", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  s.hub,
	}

	s.logger.Info("WebSocket client connected", "remote_addr", r.RemoteAddr)

	if initial := s.initialMessage(); initial != nil {
		if data, err := json.Marshal(initial); err == nil {
			client.send <- data
		}
	}

	s.hub.register(client)

	go client.writePump()
	go client.readPump()
}

func (s *Server) initialMessage() *ActivityMessage {
	if latest := s.hub.Latest(); latest != nil {
		return latest
	}

	snapshot, err := s.storage.LatestActivity()
	if err != nil {
		return nil
	}
	return &ActivityMessage{
		Type:      "activity",
		Activity:  snapshot.Activity,
		Timestamp: snapshot.ObservedAt,
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.logger.Debug("WebSocket write pump stopped")
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.hub.logger.Error("WebSocket write error", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Error("WebSocket ping error", "error", err)
				return
			}
		}
	}
}

// readPump only services control frames; subscribers have nothing to say.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
		c.hub.logger.Debug("WebSocket read pump stopped")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket read error", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}
