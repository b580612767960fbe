package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-senseme/internal/bridges/senseme"
	"github.com/nerrad567/gray-logic-senseme/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-senseme/internal/infrastructure/logging"
)

const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// ChannelStateChanged carries every reconciled fan attribute change.
	ChannelStateChanged = "fan.state_changed"

	wsSendBufferSize = 256

	defaultWSPath         = "/ws"
	defaultWSMaxMessage   = 8192
	defaultWSPingInterval = 30 * time.Second
	defaultWSPongTimeout  = 10 * time.Second
)

// WSMessage is every frame exchanged with a client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// StateChangedPayload is the payload of a fan.state_changed event.
type StateChangedPayload struct {
	FanID     string    `json:"fan_id"`
	Attribute string    `json:"attribute"`
	Value     string    `json:"value"`
	Notify    bool      `json:"notify"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub tracks WebSocket clients and fans events out to them. It is a
// senseme.StateObserver; Broadcast never blocks on a slow client.
type Hub struct {
	path         string
	maxMessage   int64
	pingInterval time.Duration
	pongTimeout  time.Duration
	logger       *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one connected WebSocket.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu            sync.RWMutex
	subscriptions map[string]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// NewHub creates a hub; zero config values fall back to defaults.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	h := &Hub{
		path:         cfg.Path,
		maxMessage:   int64(cfg.MaxMessageSize),
		pingInterval: time.Duration(cfg.PingInterval) * time.Second,
		pongTimeout:  time.Duration(cfg.PongTimeout) * time.Second,
		logger:       logger,
		clients:      make(map[*WSClient]struct{}),
	}
	if h.path == "" {
		h.path = defaultWSPath
	}
	if h.maxMessage <= 0 {
		h.maxMessage = defaultWSMaxMessage
	}
	if h.pingInterval <= 0 {
		h.pingInterval = defaultWSPingInterval
	}
	if h.pongTimeout <= 0 {
		h.pongTimeout = defaultWSPongTimeout
	}
	return h
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// ObserveState broadcasts a reconciled change on ChannelStateChanged.
func (h *Hub) ObserveState(c senseme.StateChange) {
	h.Broadcast(ChannelStateChanged, StateChangedPayload{
		FanID:     c.DeviceID,
		Attribute: string(c.Attribute),
		Value:     c.Value,
		Notify:    c.Notify,
		Timestamp: c.Timestamp,
	})
}

// Register adds a client.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client. Only the caller that removes it from the
// map closes its send channel.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// Broadcast sends an event to every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	// Snapshot under the hub lock; client locks are taken after release.
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if c.isSubscribed(channel) {
			c.trySend(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	// writePump sends a close frame and closes the conn once send closes.
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// handleWebSocket upgrades the connection. Clients start subscribed to
// fan.state_changed.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{ChannelStateChanged: {}},
	}
	s.hub.Register(client)

	go client.writePump()
	go client.readPump()
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	wait := c.hub.pingInterval + c.hub.pongTimeout
	c.conn.SetReadLimit(c.hub.maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(wait)) //nolint:errcheck // read error surfaces below
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(wait)) //nolint:errcheck // read error surfaces above
		c.handleMessage(message)
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.pongTimeout)) //nolint:errcheck // write error surfaces below
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.pongTimeout)) //nolint:errcheck // write error surfaces below
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
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.handleSubscription(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

func (c *WSClient) handleSubscription(msg WSMessage) {
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid payload")
		return
	}
	var sub WSSubscribePayload
	if err := json.Unmarshal(raw, &sub); err != nil {
		c.sendError(msg.ID, "invalid "+msg.Type+" payload")
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		if msg.Type == WSTypeSubscribe {
			c.subscriptions[ch] = struct{}{}
		} else {
			delete(c.subscriptions, ch)
		}
	}
	c.mu.Unlock()

	key := "subscribed"
	if msg.Type == WSTypeUnsubscribe {
		key = "unsubscribed"
	}
	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{key: sub.Channels})
}

// trySend drops the message when the client's buffer is full or it has
// already been unregistered.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on a channel closed by Unregister
	}()

	select {
	case c.send <- data:
	default:
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
		Timestamp: time.Now().UTC().Format(time.RFC3339),
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
