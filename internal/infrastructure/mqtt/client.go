package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/knxnetip/internal/infrastructure/config"
)

// Logger receives handler failures and reconnect notices. *logging.Logger
// and *slog.Logger satisfy it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler handles one inbound message on a paho goroutine. A
// returned error is logged; the message is acknowledged either way.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client is the bridge's broker connection. Subscriptions are replayed
// after every reconnect, and the retained {prefix}/status topic says
// whether the bridge is online. Safe for concurrent use.
type Client struct {
	paho   pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	connected atomic.Bool

	mu           sync.RWMutex
	subs         map[string]subscription
	onConnect    func()
	onDisconnect func(error)
	logger       Logger
}

// Connect dials the broker and waits for the first CONNACK.
//
// The will marks the bridge offline on topics.SystemStatus() if the
// process dies; an online status replaces it after each (re)connect.
//
// Parameters:
//   - cfg: The mqtt section of config.yaml
//   - topics: Topic tree the status and will are published under
//
// Returns:
//   - *Client: Connected client
//   - error: ErrConnectionFailed when the broker does not accept the
//     connection within ten seconds
func Connect(cfg config.MQTTConfig, topics Topics) (*Client, error) {
	c := &Client{cfg: cfg, topics: topics, subs: make(map[string]subscription)}

	opts := clientOptions(cfg, topics)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connectionUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.connectionDown(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		if l := c.log(); l != nil {
			l.Warn("mqtt reconnecting", "broker", cfg.Broker.Host)
		}
	})

	c.paho = pahomqtt.NewClient(opts)
	if err := await(c.paho.Connect(), connectTimeout, ErrConnectionFailed); err != nil {
		// Stop the retry loop paho keeps running behind a pending connect.
		c.paho.Disconnect(0)
		return nil, err
	}
	// The OnConnect handler runs asynchronously.
	c.connected.Store(true)
	return c, nil
}

// connectionUp replays subscriptions and publishes the online status.
func (c *Client) connectionUp() {
	c.connected.Store(true)
	c.resubscribe()
	c.paho.Publish(c.topics.SystemStatus(), byte(c.cfg.QoS), true, //nolint:gosec // validated 0-2
		statusPayload(statusOnline, c.cfg.Broker.ClientID, ""))

	c.mu.RLock()
	hook := c.onConnect
	c.mu.RUnlock()
	if hook != nil {
		hook()
	}
}

func (c *Client) connectionDown(err error) {
	c.connected.Store(false)

	c.mu.RLock()
	hook := c.onDisconnect
	c.mu.RUnlock()
	if hook != nil {
		hook(err)
	}
}

// resubscribe re-issues every tracked subscription without waiting for the
// broker; failures surface as missing messages and reconnect again.
func (c *Client) resubscribe() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for topic, s := range c.subs {
		c.paho.Subscribe(topic, s.qos, c.wrapHandler(s.handler))
	}
}

// Close publishes a graceful offline status (distinct from the will's
// reason) and disconnects. It always returns nil.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		tok := c.paho.Publish(c.topics.SystemStatus(), byte(c.cfg.QoS), true, //nolint:gosec // validated 0-2
			statusPayload(statusOffline, c.cfg.Broker.ClientID, "graceful_shutdown"))
		tok.WaitTimeout(operationTimeout)
	}
	c.paho.Disconnect(disconnectQuiesceMs)
	c.connected.Store(false)
	return nil
}

// IsConnected reports whether the broker link is up right now. It is false
// while paho is reconnecting.
func (c *Client) IsConnected() bool {
	return c.paho != nil && c.connected.Load() && c.paho.IsConnectionOpen()
}

// HealthCheck returns ErrNotConnected while the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// SetOnConnect sets a hook run after every (re)connect.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect sets a hook run when the connection drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// SetLogger sets where handler failures are reported. Without one they
// are dropped.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// wrapHandler adapts handler to paho, logging returned errors and
// recovering panics so one bad message cannot kill paho's router.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if l := c.log(); l != nil {
					l.Error("mqtt handler panicked", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if l := c.log(); l != nil {
				l.Warn("mqtt handler failed", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
