package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hillheadsc/racelights/internal/infrastructure/config"
	"github.com/hillheadsc/racelights/internal/infrastructure/logging"
	"github.com/hillheadsc/racelights/internal/racecontrol"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound buffer. A client that
	// falls this far behind is disconnected.
	wsSendBufferSize = 64

	defaultPingInterval   = 30 * time.Second
	defaultPongTimeout    = 10 * time.Second
	defaultMaxMessageSize = 8192
)

// Channels a client may subscribe to.
var wsChannels = map[string]struct{}{
	string(racecontrol.KindSession):   {},
	string(racecontrol.KindSequence):  {},
	string(racecontrol.KindCountdown): {},
}

// WSMessage is sent to and from WebSocket clients.
type WSMessage struct {
	Type      string   `json:"type"`
	ID        string   `json:"id,omitempty"`
	Channel   string   `json:"channel,omitempty"`
	Channels  []string `json:"channels,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
	Payload   any      `json:"payload,omitempty"`
}

// wsTimings are the keepalive settings with defaults applied.
type wsTimings struct {
	pingInterval   time.Duration
	pongWait       time.Duration
	maxMessageSize int64
}

func timingsFrom(cfg config.WebSocketConfig) wsTimings {
	t := wsTimings{
		pingInterval:   time.Duration(cfg.PingInterval) * time.Second,
		pongWait:       time.Duration(cfg.PongTimeout) * time.Second,
		maxMessageSize: int64(cfg.MaxMessageSize),
	}
	if t.pingInterval <= 0 {
		t.pingInterval = defaultPingInterval
	}
	if t.pongWait <= 0 {
		t.pongWait = defaultPongTimeout
	}
	if t.maxMessageSize <= 0 {
		t.maxMessageSize = defaultMaxMessageSize
	}
	return t
}

// Hub tracks WebSocket clients and fans controller events out to them.
type Hub struct {
	timings wsTimings
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
	dropped atomic.Uint64
}

// WSClient is one connected WebSocket client.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	mu            sync.RWMutex
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		timings: timingsFrom(cfg),
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client. Only the call that removes it closes the
// send channel.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(client.send)
		h.logger.Debug("websocket client disconnected", "clients", n)
	}
}

// BroadcastEvent sends a controller event to its channel. It is called on
// the scheduler loop and never blocks.
func (h *Hub) BroadcastEvent(ev racecontrol.Event) {
	h.Broadcast(string(ev.Kind), ev)
}

// Broadcast sends payload to every client subscribed to channel. Clients
// whose buffer is full are disconnected.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		Channel:   channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if client.isSubscribed(channel) && !client.trySend(data) {
			h.dropped.Add(1)
			h.logger.Warn("websocket client too slow, disconnecting", "channel", channel)
			h.Unregister(client)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many clients were disconnected for falling behind.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

func newWSClient(hub *Hub, conn *websocket.Conn) *WSClient {
	return &WSClient{
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
}

// handleWebSocket upgrades the connection. With auth enabled the token
// comes from the ?token= query parameter.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Auth.Enabled {
		token := r.URL.Query().Get("token")
		if token == "" {
			writeUnauthorized(w, "token query parameter is required")
			return
		}
		if _, err := ParseToken(s.secCfg.JWT.Secret, token); err != nil {
			writeUnauthorized(w, "invalid token")
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(s.hub, conn)
	s.hub.Register(client)

	go client.writePump()
	go client.readPump()
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	t := c.hub.timings
	c.conn.SetReadLimit(t.maxMessageSize)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(t.pingInterval + t.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(t.pingInterval + t.pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(t.pingInterval + t.pongWait))
		c.handleMessage(message)
	}
}

func (c *WSClient) writePump() {
	t := c.hub.timings
	ticker := time.NewTicker(t.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(t.pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(t.pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		for _, ch := range msg.Channels {
			if _, ok := wsChannels[ch]; !ok {
				c.sendError(msg.ID, "unknown channel: "+ch)
				return
			}
		}
		c.mu.Lock()
		for _, ch := range msg.Channels {
			c.subscriptions[ch] = struct{}{}
		}
		c.mu.Unlock()
		c.sendResponse(msg.ID, WSTypeResponse, map[string]any{"subscribed": msg.Channels})
	case WSTypeUnsubscribe:
		c.mu.Lock()
		for _, ch := range msg.Channels {
			delete(c.subscriptions, ch)
		}
		c.mu.Unlock()
		c.sendResponse(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": msg.Channels})
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// trySend queues data without blocking. It reports false only when the
// buffer is full; a send on a channel closed by a concurrent Unregister
// is absorbed.
func (c *WSClient) trySend(data []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = true
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
