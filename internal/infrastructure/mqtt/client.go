package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-dobiss/internal/infrastructure/config"
)

// Logger is the subset of logging.Logger the client needs.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler receives one message. Handlers run on paho's goroutines
// and must not block; a returned error is logged and the message is still
// acknowledged.
type MessageHandler func(topic string, payload []byte) error

// Will is published retained by the broker when the bridge drops off
// without a clean disconnect.
type Will struct {
	Topic   string
	Payload []byte
}

// Stats counts traffic since Connect.
type Stats struct {
	Published     uint64 `json:"published"`
	PublishErrors uint64 `json:"publish_errors"`
	Received      uint64 `json:"received"`
	HandlerErrors uint64 `json:"handler_errors"` // includes recovered panics
	Reconnects    uint64 `json:"reconnects"`
	Subscriptions int    `json:"subscriptions"`
}

// Client is the bridge's connection to the Gray Logic broker. Methods are
// safe for concurrent use. Subscriptions survive reconnects.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	connected atomic.Bool

	subMu sync.RWMutex
	subs  map[string]subscription

	mu           sync.RWMutex
	logger       Logger
	onConnect    func()
	onDisconnect func(err error)

	published     atomic.Uint64
	publishErrors atomic.Uint64
	received      atomic.Uint64
	handlerErrors atomic.Uint64
	connects      atomic.Uint64
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Connect dials the broker and waits up to connectTimeout for the first
// CONNACK. Later drops are retried by paho in the background. A zero Will
// disables the Last Will.
func Connect(cfg config.MQTTConfig, will Will) (*Client, error) {
	c := &Client{
		cfg:  cfg,
		subs: make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, will)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })

	c.client = pahomqtt.NewClient(opts)
	if err := await(c.client.Connect(), connectTimeout, ErrConnectionFailed); err != nil {
		return nil, err
	}

	// The OnConnect handler runs on its own goroutine and may lag behind.
	c.connected.Store(true)
	return c, nil
}

// await waits for a paho token and wraps a timeout or failure in sentinel.
func await(token pahomqtt.Token, timeout time.Duration, sentinel error) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: timeout after %v", sentinel, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}

func (c *Client) handleConnect() {
	c.connected.Store(true)
	c.connects.Add(1)
	c.restoreSubscriptions()

	c.mu.RLock()
	fn := c.onConnect
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)

	c.mu.RLock()
	logger, fn := c.logger, c.onDisconnect
	c.mu.RUnlock()

	if logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}
	if fn != nil {
		fn(err)
	}
}

// restoreSubscriptions replays tracked subscriptions after a reconnect.
// Clean sessions mean the broker has forgotten them. Tokens are not
// awaited here; a failure shows up as missing traffic and is retried on
// the next reconnect.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for topic, sub := range c.subs {
		c.client.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// Close disconnects cleanly, which suppresses the Last Will.
func (c *Client) Close() error {
	c.connected.Store(false)
	if c.client != nil {
		c.client.Disconnect(disconnectQuiesceMillis)
	}
	return nil
}

// HealthCheck reports ErrNotConnected while paho is reconnecting.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the broker connection is currently up.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

// Stats returns the traffic counters.
func (c *Client) Stats() Stats {
	st := Stats{
		Published:     c.published.Load(),
		PublishErrors: c.publishErrors.Load(),
		Received:      c.received.Load(),
		HandlerErrors: c.handlerErrors.Load(),
		Subscriptions: c.SubscriptionCount(),
	}
	// The first OnConnect is the initial connection, not a reconnect.
	if n := c.connects.Load(); n > 1 {
		st.Reconnects = n - 1
	}
	return st
}

// SetOnConnect sets a callback run after the initial connect and after
// every reconnect, once subscriptions have been replayed.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect sets a callback run when the connection drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// SetLogger sets the logger for connection loss and handler failures.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

// wrapHandler adapts a MessageHandler to paho, counting deliveries and
// turning handler errors and panics into log lines.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.received.Add(1)

		c.mu.RLock()
		logger := c.logger
		c.mu.RUnlock()

		defer func() {
			if r := recover(); r != nil {
				c.handlerErrors.Add(1)
				if logger != nil {
					logger.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.handlerErrors.Add(1)
			if logger != nil {
				logger.Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
