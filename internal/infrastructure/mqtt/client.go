package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/shieldgrid/gridctl/internal/infrastructure/config"
)

// Client is one process's connection to the broker.
//
// Subscriptions are remembered and re-issued after every reconnect; the
// process's presence is kept on its retained status topic, with a Last
// Will marking it offline if it vanishes.
//
// Thread Safety: all methods are safe for concurrent use. Handlers run on
// paho's delivery goroutines.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	subMu         sync.RWMutex
	subscriptions map[string]subscription

	connected atomic.Bool
	connects  atomic.Uint64
	lost      atomic.Uint64

	mu           sync.RWMutex
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Logger receives handler failures.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// MessageHandler is called for every message on a subscribed topic. It
// runs on a paho goroutine; a returned error or panic is logged.
type MessageHandler func(topic string, payload []byte) error

// Stats is a snapshot of the connection counters.
type Stats struct {
	Connected       bool   `json:"connected"`
	Connects        uint64 `json:"connects"`
	ConnectionsLost uint64 `json:"connections_lost"`
	Subscriptions   int    `json:"subscriptions"`
}

// Connect dials the broker and waits for the first connection.
// cfg.Broker.ClientID must be unique per process; it also names the
// presence topic.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		topics:        NewTopics(cfg.TopicPrefix),
		subscriptions: make(map[string]subscription),
		logger:        noopLogger{},
	}

	opts := clientOptions(cfg, c.topics)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connectedEvent() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.lostEvent(err) })

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: %s:%d: no answer within %v",
			ErrConnectionFailed, cfg.Broker.Host, cfg.Broker.Port, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler may still be pending.
	c.connected.Store(true)
	return c, nil
}

// connectedEvent runs on every (re)connect. Subscribe tokens are not
// awaited here; paho delivers their acks on the goroutine running this.
func (c *Client) connectedEvent() {
	c.connected.Store(true)
	if c.connects.Add(1) > 1 {
		c.subMu.RLock()
		for topic, sub := range c.subscriptions {
			c.client.Subscribe(topic, sub.qos, c.deliver(sub.handler))
		}
		c.subMu.RUnlock()
	}
	c.publishPresence("online", "")

	c.mu.RLock()
	fn := c.onConnect
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) lostEvent(err error) {
	c.connected.Store(false)
	c.lost.Add(1)

	c.mu.RLock()
	fn := c.onDisconnect
	c.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (c *Client) publishPresence(status, reason string) pahomqtt.Token {
	id := c.cfg.Broker.ClientID
	return c.client.Publish(c.topics.Status(id), byte(c.cfg.QoS), true, presence(id, status, reason)) //nolint:gosec // qos validated 0..2
}

// Topics returns the topic builder for this client's prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

// Close announces a graceful offline status and disconnects. Closing a
// client that never connected is a no-op.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		c.publishPresence("offline", "graceful_shutdown").WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck returns ErrNotConnected while the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known link state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client.IsConnected()
}

// Stats returns the connection counters.
func (c *Client) Stats() Stats {
	c.subMu.RLock()
	n := len(c.subscriptions)
	c.subMu.RUnlock()
	return Stats{
		Connected:       c.connected.Load(),
		Connects:        c.connects.Load(),
		ConnectionsLost: c.lost.Load(),
		Subscriptions:   n,
	}
}

// SetOnConnect sets the callback for the first connect and every reconnect.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect sets the callback for a lost connection.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// SetLogger sets the logger for handler failures.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.logger == nil {
		return noopLogger{}
	}
	return c.logger
}

// deliver adapts a MessageHandler to paho, logging errors and panics.
func (c *Client) deliver(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.log().Error("MQTT handler panicked", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.log().Warn("MQTT handler failed", "topic", msg.Topic(), "error", err)
		}
	}
}
