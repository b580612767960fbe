package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-senseme/internal/infrastructure/config"
)

// Client is the bridge's broker session.
//
// Subscriptions are remembered and replayed after paho reconnects, and
// the bridge's presence is announced retained on senseme/status. All
// methods are safe for concurrent use.
type Client struct {
	paho pahomqtt.Client
	cfg  config.MQTTConfig

	mu            sync.RWMutex
	connected     bool
	subscriptions map[string]subscription
	onConnect     func()
	onDisconnect  func(err error)
	logger        Logger

	published     atomic.Uint64
	received      atomic.Uint64
	handlerErrors atomic.Uint64
}

// Logger is the logging the client needs. *logging.Logger satisfies it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler receives one message. paho calls it on its own
// goroutine; a returned error is logged and counted, nothing more.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Stats is a point-in-time view of the session.
type Stats struct {
	Connected     bool   `json:"connected"`
	Subscriptions int    `json:"subscriptions"`
	Published     uint64 `json:"published"`
	Received      uint64 `json:"received"`
	HandlerErrors uint64 `json:"handler_errors"`
}

// Connect dials the broker and waits for the first session. A retained
// offline will is registered on senseme/status, and paho keeps
// reconnecting afterwards on its own.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	opts := buildClientOptions(cfg)
	setWill(opts, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.sessionUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.sessionLost(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.logWarn("MQTT reconnecting", "broker", cfg.Broker.Host)
	})

	c.paho = pahomqtt.NewClient(opts)
	token := c.paho.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The on-connect handler is asynchronous; callers may publish now.
	c.setConnected(true)
	return c, nil
}

func newClient(cfg config.MQTTConfig) *Client {
	return &Client{cfg: cfg, subscriptions: make(map[string]subscription)}
}

func (c *Client) sessionUp() {
	c.setConnected(true)

	c.mu.RLock()
	for topic, sub := range c.subscriptions {
		// Failures surface on the next publish or health check.
		c.paho.Subscribe(topic, sub.qos, c.dispatch(sub.handler))
	}
	callback := c.onConnect
	c.mu.RUnlock()

	c.paho.Publish(Topics{}.Status(), byte(c.cfg.QoS), true, statusPayload(c.cfg.Broker.ClientID, "online", ""))

	if callback != nil {
		callback()
	}
}

func (c *Client) sessionLost(err error) {
	c.setConnected(false)

	c.mu.RLock()
	callback := c.onDisconnect
	c.mu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// Close announces a graceful offline status, distinct from the will, and
// disconnects after pending publishes drain.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.paho.Publish(Topics{}.Status(), byte(c.cfg.QoS), true,
			statusPayload(c.cfg.Broker.ClientID, "offline", "graceful_shutdown"))
		token.WaitTimeout(defaultPublishTimeout)
	}

	c.paho.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)
	return nil
}

// HealthCheck returns ErrNotConnected while the session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known session state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.paho != nil && c.paho.IsConnected()
}

// SetOnConnect registers a callback run after every (re)connect, once
// subscriptions have been restored.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect registers a callback run when the session drops.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger sets where handler errors and panics are reported. Nil
// silences them.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

// Stats returns session counters.
func (c *Client) Stats() Stats {
	c.mu.RLock()
	subs := len(c.subscriptions)
	c.mu.RUnlock()

	return Stats{
		Connected:     c.IsConnected(),
		Subscriptions: subs,
		Published:     c.published.Load(),
		Received:      c.received.Load(),
		HandlerErrors: c.handlerErrors.Load(),
	}
}

// dispatch adapts a MessageHandler to paho, recovering panics so one bad
// command cannot take down the paho router.
func (c *Client) dispatch(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.received.Add(1)
		defer func() {
			if r := recover(); r != nil {
				c.handlerErrors.Add(1)
				c.logError("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.handlerErrors.Add(1)
			c.logWarn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
		}
	}
}

func (c *Client) logWarn(msg string, args ...any) {
	c.mu.RLock()
	logger := c.logger
	c.mu.RUnlock()
	if logger != nil {
		logger.Warn(msg, args...)
	}
}

func (c *Client) logError(msg string, args ...any) {
	c.mu.RLock()
	logger := c.logger
	c.mu.RUnlock()
	if logger != nil {
		logger.Error(msg, args...)
	}
}
