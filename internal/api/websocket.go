package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-dobiss/internal/auth"
	"github.com/nerrad567/gray-logic-dobiss/internal/bridges/dobiss"
	"github.com/nerrad567/gray-logic-dobiss/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-dobiss/internal/infrastructure/logging"
)

// Message types exchanged with WebSocket clients.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// wsSendBufferSize is the per-client outbound queue. A client that falls
// this far behind misses events rather than stalling the relay.
const wsSendBufferSize = 256

// WSMessage is a server-to-client frame, and the shape clients send.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsRequest is a client frame with the payload left undecoded.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// WSSubscribePayload selects channels and, optionally, the outputs of
// interest. An empty Addresses list means every output.
type WSSubscribePayload struct {
	Channels  []string `json:"channels"`
	Addresses []string `json:"addresses,omitempty"`
}

// addressFilter limits a subscription to some outputs; nil matches all.
type addressFilter map[string]struct{}

func newAddressFilter(addrs []string) addressFilter {
	if len(addrs) == 0 {
		return nil
	}
	f := make(addressFilter, len(addrs))
	for _, a := range addrs {
		f[a] = struct{}{}
	}
	return f
}

func (f addressFilter) matches(address string) bool {
	if f == nil || address == "" {
		return true
	}
	_, ok := f[address]
	return ok
}

// Hub tracks connected clients and fans events out to their subscriptions.
type Hub struct {
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one upgraded connection.
type WSClient struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	subject string // token subject the ticket was issued to

	mu            sync.RWMutex
	subscriptions map[string]addressFilter
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The single-use ticket authenticates the connection, so any origin
	// holding one may connect.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "subject", c.subject, "clients", n)
}

// Unregister removes a client. Whoever removes it from the map closes its
// send channel, so concurrent calls and closeAll never close it twice.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	_, present := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if present {
		close(c.send)
		h.logger.Debug("websocket client disconnected", "subject", c.subject, "clients", n)
	}
}

// Broadcast sends an event to clients subscribed to channel whose address
// filter admits address. An empty address reaches every subscriber.
func (h *Hub) Broadcast(channel, address string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal websocket event", "channel", channel, "error", err)
		return
	}

	// Client locks are taken only after the hub lock is released.
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range clients {
		if c.wants(channel, address) {
			c.trySend(data)
			sent++
		}
	}
	if sent > 0 {
		h.logger.Debug("websocket event sent", "channel", channel, "address", address, "recipients", sent)
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

	for c := range h.clients {
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
		delete(h.clients, c)
	}
}

// ChannelStateChanged carries output state changes to WebSocket clients.
const ChannelStateChanged = "output.state_changed"

// subscribeStateUpdates relays the bridge's retained state messages to
// WebSocket clients subscribed to ChannelStateChanged.
func (s *Server) subscribeStateUpdates() error {
	if s.mqtt == nil {
		return nil // MQTT not configured; WebSocket broadcast disabled
	}
	topic := dobiss.StateSubscribeTopic()
	s.logger.Info("subscribing to state updates for WebSocket relay", "topic", topic)
	return s.mqtt.Subscribe(topic, 1, s.handleStateMessage)
}

// handleStateMessage broadcasts one state message. Malformed payloads are
// logged and dropped.
func (s *Server) handleStateMessage(topic string, payload []byte) error {
	var msg dobiss.StateMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.logger.Warn("failed to parse state message for WebSocket broadcast", "topic", topic, "error", err)
		return nil
	}
	if msg.Address == "" || msg.State == nil {
		s.logger.Debug("ignoring state message without address", "topic", topic)
		return nil
	}

	s.logger.Debug("broadcasting state to WebSocket", "topic", topic, "address", msg.Address)
	s.hub.Broadcast(ChannelStateChanged, msg.Address, map[string]any{
		"device_id": msg.DeviceID,
		"address":   msg.Address,
		"state":     msg.State,
		"timestamp": msg.Timestamp,
	})
	return nil
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
// Authentication is via ticket query parameter (obtained from POST /auth/ws-ticket).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	entry, ok := s.tickets.consume(ticket)
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}
	if !auth.HasPermission(entry.role, auth.PermOutputRead) {
		writeError(w, http.StatusForbidden, ErrCodeForbidden, "role "+string(entry.role)+" cannot watch outputs")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subject:       entry.subject,
		subscriptions: make(map[string]addressFilter),
	}

	s.hub.Register(client)

	// Start read/write pumps
	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// wsIntervals returns the ping interval and pong wait, falling back to
// 30s and 10s for unset values.
func wsIntervals(cfg config.WebSocketConfig) (ping, pong time.Duration) {
	ping, pong = 30*time.Second, 10*time.Second
	if cfg.PingInterval > 0 {
		ping = time.Duration(cfg.PingInterval) * time.Second
	}
	if cfg.PongTimeout > 0 {
		pong = time.Duration(cfg.PongTimeout) * time.Second
	}
	return ping, pong
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval, pongWait := wsIntervals(cfg)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline (keeps connection alive
		// even if browser doesn't respond to protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval, pongWait := wsIntervals(cfg)
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// wsChannels lists the channels a client may subscribe to.
var wsChannels = map[string]struct{}{
	ChannelStateChanged: {},
}

func (c *WSClient) handleMessage(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(req)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(req)
	case WSTypePing:
		c.sendResponse(req.ID, WSTypePong, nil)
	default:
		c.sendError(req.ID, "unknown message type: "+req.Type)
	}
}

// decodeChannels parses a subscribe or unsubscribe payload and rejects
// channels the hub never publishes.
func decodeChannels(raw json.RawMessage) (WSSubscribePayload, error) {
	var sub WSSubscribePayload
	if len(raw) == 0 {
		return sub, fmt.Errorf("payload with channels is required")
	}
	if err := json.Unmarshal(raw, &sub); err != nil {
		return sub, fmt.Errorf("invalid payload: %w", err)
	}
	if len(sub.Channels) == 0 {
		return sub, fmt.Errorf("at least one channel is required")
	}
	for _, ch := range sub.Channels {
		if _, ok := wsChannels[ch]; !ok {
			return sub, fmt.Errorf("unknown channel %q", ch)
		}
	}
	return sub, nil
}

// handleSubscribe replaces the address filter of each named channel.
func (c *WSClient) handleSubscribe(req wsRequest) {
	sub, err := decodeChannels(req.Payload)
	if err != nil {
		c.sendError(req.ID, err.Error())
		return
	}

	filter := newAddressFilter(sub.Addresses)
	c.mu.Lock()
	for _, ch := range sub.Channels {
		c.subscriptions[ch] = filter
	}
	c.mu.Unlock()

	c.hub.logger.Info("websocket client subscribed",
		"subject", c.subject,
		"channels", sub.Channels,
		"addresses", sub.Addresses,
	)

	resp := map[string]any{"subscribed": sub.Channels}
	if len(sub.Addresses) > 0 {
		resp["addresses"] = sub.Addresses
	}
	c.sendResponse(req.ID, WSTypeResponse, resp)
}

func (c *WSClient) handleUnsubscribe(req wsRequest) {
	sub, err := decodeChannels(req.Payload)
	if err != nil {
		c.sendError(req.ID, err.Error())
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		delete(c.subscriptions, ch)
	}
	c.mu.Unlock()

	c.sendResponse(req.ID, WSTypeResponse, map[string]any{"unsubscribed": sub.Channels})
}

// trySend queues data without blocking. Frames for a full queue are
// dropped, as are frames racing a disconnect that closed the channel.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on closed channel
	}()

	select {
	case c.send <- data:
	default:
	}
}

// wants reports whether an event on channel for address should reach c.
func (c *WSClient) wants(channel, address string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	filter, ok := c.subscriptions[channel]
	return ok && filter.matches(address)
}

func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
