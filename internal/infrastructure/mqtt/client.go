package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dkulla01/caseta-to-mqtt/internal/infrastructure/config"
)

// Client is the bridge's connection to the MQTT broker, built on
// paho.mqtt.golang. Reconnection is delegated to paho's auto-reconnect;
// the client re-establishes its tracked subscriptions each time the
// connection comes back and surfaces connect/disconnect transitions
// through the optional callbacks.
//
// All methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client

	connected atomic.Bool

	mu            sync.Mutex
	subscriptions map[string]subscription
	onConnect     func()
	onDisconnect  func(err error)
	logger        Logger
}

// Logger is the subset of the logging wrapper the client reports
// handler failures through. Left nil, failures are dropped.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// subscription is one tracked filter, kept so it can be re-applied
// after a reconnect.
type subscription struct {
	qos     byte
	handler MessageHandler
}

// MessageHandler receives inbound messages. Paho invokes handlers on
// its own goroutines, so they must not block for long; a returned
// error is logged and otherwise ignored.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker and blocks until the first connection is
// established or the connect timeout elapses.
//
// The broker URL, credentials, TLS material, and reconnect pacing all
// come from cfg. A non-zero will is registered as the Last Will and
// Testament before dialing, so the broker announces an ungraceful
// death on the bridge's behalf.
func Connect(cfg config.MQTTConfig, will Will) (*Client, error) {
	opts, err := buildClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	configureWill(opts, will)

	c := &Client{
		subscriptions: make(map[string]subscription),
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.brokerConnected()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.brokerLost(err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// Paho runs the OnConnect handler asynchronously; mark connected
	// here so IsConnected is true as soon as Connect returns.
	c.connected.Store(true)

	return c, nil
}

func (c *Client) brokerConnected() {
	c.connected.Store(true)

	c.mu.Lock()
	callback := c.onConnect
	resubscribe := make(map[string]subscription, len(c.subscriptions))
	for filter, sub := range c.subscriptions {
		resubscribe[filter] = sub
	}
	c.mu.Unlock()

	// Clean-session connections lose broker-side subscription state,
	// so every tracked filter is applied again. Failures here resolve
	// on the next reconnect cycle.
	for filter, sub := range resubscribe {
		c.client.Subscribe(filter, sub.qos, c.adaptHandler(sub.handler))
	}

	if callback != nil {
		callback()
	}
}

func (c *Client) brokerLost(err error) {
	c.connected.Store(false)

	c.mu.Lock()
	callback := c.onDisconnect
	c.mu.Unlock()

	if callback != nil {
		callback(err)
	}
}

// Close disconnects from the broker, allowing the quiesce period for
// in-flight publishes to drain. Closing an already-closed client is a
// no-op.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)

	return nil
}

// HealthCheck reports whether the broker connection is currently up.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last observed connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client.IsConnected()
}

// SetOnConnect registers a callback invoked on the initial connection
// and on every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect registers a callback invoked when the connection
// drops, with the error that ended it.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger routes handler errors and recovered panics to the given
// logger.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) currentLogger() Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}

// adaptHandler converts a MessageHandler to paho's callback shape,
// containing panics so one bad payload cannot take down the paho
// router goroutine.
func (c *Client) adaptHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.currentLogger(); logger != nil {
					logger.Error("mqtt handler panicked", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.currentLogger(); logger != nil {
				logger.Warn("mqtt handler failed", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
