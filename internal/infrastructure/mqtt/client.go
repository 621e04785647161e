package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Client is one device session with the hub's MQTT endpoint. Paho
// reconnects on its own; Client re-subscribes tracked filters each time the
// session comes back. Methods are safe for concurrent use.
type Client struct {
	client  pahomqtt.Client
	options Options

	subscriptions map[string]subscription
	subMu         sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger is satisfied by *slog.Logger and *logging.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler receives one inbound message. Paho may run handlers
// concurrently. A returned error is logged; the message is acknowledged
// either way.
type MessageHandler func(topic string, payload []byte) error

// Connect opens the device session described by opts.
//
// Setup runs in this order:
//  1. Fills defaults and validates opts (client id, broker URL, QoS)
//  2. Builds paho options: credentials provider, TLS, keep-alive and
//     auto-reconnect with a capped retry interval
//  3. Registers the "lost" status as last will when opts.Status is set
//  4. Waits for the first CONNACK, bounded by ctx and opts.ConnectTimeout
//
// The credentials provider runs on every reconnect, so a SAS token minted
// there stays fresh across long-lived sessions.
//
// Parameters:
//   - ctx: Bounds the initial connect only; reconnects are not cancelled by it
//   - opts: Session options; see Options for defaults
//
// Returns:
//   - *Client: Connected session, ready for Publish and Subscribe
//   - error: ErrInvalidOptions, or ErrConnectionFailed wrapping the paho cause
func Connect(ctx context.Context, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	pahoOpts := buildClientOptions(opts)
	configureLWT(pahoOpts, opts)

	c := newClient(nil, opts)

	pahoOpts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	pahoOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})
	pahoOpts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT reconnecting", "client_id", opts.ClientID)
		}
	})

	c.client = pahomqtt.NewClient(pahoOpts)
	if err := waitToken(ctx, c.client.Connect(), opts.ConnectTimeout); err != nil {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// handleConnect may still be queued on paho's goroutine.
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return c, nil
}

func newClient(client pahomqtt.Client, opts Options) *Client {
	return &Client{
		client:        client,
		options:       opts.withDefaults(),
		subscriptions: make(map[string]subscription),
	}
}

// waitToken blocks until the token completes, the timeout elapses or ctx
// is cancelled.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.restoreSubscriptions()
	c.publishStatus(StatusOnline)

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "client_id", c.options.ClientID, "error", err)
	}

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// restoreSubscriptions replays every tracked filter on a fresh session.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		//nolint:errcheck // a failed restore shows up as missing traffic and the next reconnect retries
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// publishStatus sends the status message for state when one is configured.
// It runs on paho's callback goroutine, so the token is returned unawaited.
func (c *Client) publishStatus(state string) pahomqtt.Token {
	if c.options.Status == nil {
		return nil
	}
	topic, payload := c.options.Status(state)
	if topic == "" {
		return nil
	}
	return c.client.Publish(topic, c.options.QoS, false, payload)
}

// Close ends the session.
//
// It performs:
//  1. Publishes the offline status, if configured, and waits up to the
//     publish timeout for it (the broker does not send the will on a
//     clean disconnect)
//  2. Disconnects, giving in-flight publishes a short quiesce period
//  3. Marks the client disconnected so later calls fail fast
//
// Close is safe to call on a client that never connected and always
// returns nil.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		if token := c.publishStatus(StatusOffline); token != nil {
			token.WaitTimeout(c.options.PublishTimeout)
		}
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// HealthCheck fails when the session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// SetOnConnect registers fn to run after every (re)connect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect registers fn to run when the session drops.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for error and panic logging.
// If not set, errors in handlers are silently ignored.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler wraps a MessageHandler with panic recovery and optional logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
