package iothub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/domo4/IoT23-s/internal/infrastructure/mqtt"
)

// Defaults applied by New.
const (
	DefaultAPIVersion       = "2021-04-12"
	DefaultPort             = 8883
	DefaultTokenTTL         = time.Hour
	DefaultOperationTimeout = 30 * time.Second
)

// Transport is the MQTT session the client runs on. *mqtt.Client implements it.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
	Subscribe(ctx context.Context, topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
	Close() error
}

// Dialer opens a Transport for the given session options.
type Dialer func(ctx context.Context, opts mqtt.Options) (Transport, error)

// Logger is the optional logging interface. *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config configures a Client.
type Config struct {
	ConnectionString string
	APIVersion       string
	Port             int
	TokenTTL         time.Duration
	OperationTimeout time.Duration
	KeepAlive        time.Duration
	QoS              byte
}

// Option customises a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(l Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithDialer replaces the MQTT dialer. Tests use it to inject a fake transport.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dial = d }
}

// WithClock replaces the time source used for SAS token expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client is the cloud channel of one device identity.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Method and desired-property handlers run on transport goroutines and
//     may call GetTwin or UpdateReportedProperties.
type Client struct {
	cs     ConnectionString
	cfg    Config
	topics Topics
	dial   Dialer
	now    func() time.Time
	logger Logger

	transport   Transport
	transportMu sync.RWMutex

	// ctx is the lifetime context handed to handlers; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	methodHandlers map[string]MethodHandler
	defaultHandler MethodHandler
	desiredHandler DesiredPropertyHandler
	handlerMu      sync.RWMutex

	pending   map[string]chan twinResponse
	pendingMu sync.Mutex
}

// New parses the connection string and returns an unopened client.
func New(cfg Config, opts ...Option) (*Client, error) {
	cs, err := ParseConnectionString(cfg.ConnectionString)
	if err != nil {
		return nil, err
	}
	if _, err := SASToken(cs.ResourceURI(), cs.SharedAccessKey, time.Now()); err != nil {
		return nil, err
	}

	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = DefaultOperationTimeout
	}
	if cfg.QoS > 1 {
		cfg.QoS = 1
	}

	c := &Client{
		cs:             cs,
		cfg:            cfg,
		topics:         Topics{DeviceID: cs.DeviceID},
		dial:           dialMQTT,
		now:            time.Now,
		methodHandlers: make(map[string]MethodHandler),
		pending:        make(map[string]chan twinResponse),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func dialMQTT(ctx context.Context, opts mqtt.Options) (Transport, error) {
	client, err := mqtt.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// DeviceID returns the device identity from the connection string.
func (c *Client) DeviceID() string {
	return c.cs.DeviceID
}

// Open connects to the hub and subscribes to method and twin topics.
func (c *Client) Open(ctx context.Context) error {
	c.transportMu.Lock()
	defer c.transportMu.Unlock()

	if c.transport != nil {
		return ErrAlreadyOpen
	}

	opts := mqtt.Options{
		BrokerURL:      c.cs.BrokerURL(c.cfg.Port),
		ClientID:       c.cs.DeviceID,
		Credentials:    c.credentials(),
		QoS:            c.cfg.QoS,
		KeepAlive:      c.cfg.KeepAlive,
		ConnectTimeout: c.cfg.OperationTimeout,
		PublishTimeout: c.cfg.OperationTimeout,
		Status:         c.statusMessage,
	}

	transport, err := c.dial(ctx, opts)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
	if tl, ok := transport.(interface{ SetLogger(mqtt.Logger) }); ok && c.logger != nil {
		tl.SetLogger(c.logger)
	}

	subs := []struct {
		filter  string
		handler mqtt.MessageHandler
	}{
		{methodsFilter, c.handleMethod},
		{twinResFilter, c.handleTwinResponse},
		{desiredFilter, c.handleDesired},
	}
	for _, s := range subs {
		if err := transport.Subscribe(ctx, s.filter, 0, s.handler); err != nil {
			_ = transport.Close()
			return fmt.Errorf("%w: subscribing %s: %w", ErrConnect, s.filter, err)
		}
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.transport = transport
	c.logInfo("connected to IoT Hub", "host", c.cs.HostName, "device_id", c.cs.DeviceID)
	return nil
}

// Close disconnects from the hub. Pending twin requests fail with ErrNotOpen
// or their own timeout.
func (c *Client) Close() error {
	c.transportMu.Lock()
	transport := c.transport
	c.transport = nil
	cancel := c.cancel
	c.transportMu.Unlock()

	if transport == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	return transport.Close()
}

// IsConnected reports whether the underlying session is up.
func (c *Client) IsConnected() bool {
	c.transportMu.RLock()
	defer c.transportMu.RUnlock()
	return c.transport != nil && c.transport.IsConnected()
}

// SendEvent publishes a device-to-cloud event. A message id is assigned when
// the message has none.
func (c *Client) SendEvent(ctx context.Context, msg *Message) error {
	transport, err := c.currentTransport()
	if err != nil {
		return err
	}
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}

	if err := transport.Publish(ctx, c.topics.Events(msg), msg.Body, c.cfg.QoS, false); err != nil {
		return fmt.Errorf("%w: %w", ErrSend, err)
	}
	return nil
}

func (c *Client) currentTransport() (Transport, error) {
	c.transportMu.RLock()
	defer c.transportMu.RUnlock()
	if c.transport == nil {
		return nil, ErrNotOpen
	}
	return c.transport, nil
}

// handlerContext returns the lifetime context for handler invocations.
func (c *Client) handlerContext() context.Context {
	c.transportMu.RLock()
	defer c.transportMu.RUnlock()
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// statusMessage builds the connection status event used for the last will
// and the online/offline announcements.
func (c *Client) statusMessage(state string) (string, []byte) {
	body := []byte(fmt.Sprintf(`{"DeviceName":%q,"Status":%q}`, c.cs.DeviceID, state))
	msg := NewJSONMessage(body).WithProperty("MessageType", "Status")
	msg.MessageID = uuid.NewString()
	return c.topics.Events(msg), body
}

func (c *Client) logDebug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

func (c *Client) logInfo(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Info(msg, args...)
	}
}

func (c *Client) logWarn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}

func (c *Client) logError(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Error(msg, args...)
	}
}
