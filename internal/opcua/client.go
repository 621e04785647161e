package opcua

import (
	"context"
	"fmt"
	"sync"
	"time"

	gopcua "github.com/gopcua/opcua"
	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"
)

// Defaults applied by New.
const (
	DefaultNamespace      = 2
	DefaultRequestTimeout = 10 * time.Second
)

// RootObjects names the server's Objects folder in ListChildren.
const RootObjects = ""

// Logger is the optional logging interface. *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config configures the endpoint connection.
type Config struct {
	Endpoint       string
	Namespace      uint16
	SecurityPolicy string
	SecurityMode   string
	Username       string
	Password       string
	RequestTimeout time.Duration
	AutoReconnect  bool
}

// Client is a connection to one OPC UA server.
//
// Thread Safety:
//   - All methods are safe for concurrent use; gopcua multiplexes requests
//     over the single secure channel.
type Client struct {
	cfg    Config
	logger Logger

	client *gopcua.Client
	mu     sync.RWMutex
}

// New returns an unconnected client.
func New(cfg Config, logger Logger) *Client {
	if cfg.Namespace == 0 {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.SecurityPolicy == "" {
		cfg.SecurityPolicy = "None"
	}
	if cfg.SecurityMode == "" {
		cfg.SecurityMode = "None"
	}
	return &Client{cfg: cfg, logger: logger}
}

// clientOptions translates Config into gopcua options.
func clientOptions(cfg Config) []gopcua.Option {
	opts := []gopcua.Option{
		gopcua.SecurityPolicy(cfg.SecurityPolicy),
		gopcua.SecurityModeString(cfg.SecurityMode),
		gopcua.RequestTimeout(cfg.RequestTimeout),
		gopcua.AutoReconnect(cfg.AutoReconnect),
	}
	if cfg.Username != "" {
		opts = append(opts, gopcua.AuthUsername(cfg.Username, cfg.Password))
	} else {
		opts = append(opts, gopcua.AuthAnonymous())
	}
	return opts
}

// Connect opens the secure channel and session.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return nil
	}

	client, err := gopcua.NewClient(c.cfg.Endpoint, clientOptions(c.cfg)...)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnectFailed, c.cfg.Endpoint, err)
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnectFailed, c.cfg.Endpoint, err)
	}

	c.client = client
	c.logInfo("connected to OPC UA server", "endpoint", c.cfg.Endpoint)
	return nil
}

// Close ends the session. Closing an unconnected client is a no-op.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close(ctx)
}

func (c *Client) conn() (*gopcua.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, ErrNotConnected
	}
	return c.client, nil
}

// NodeID maps an identifier to its string NodeID in the configured namespace.
func (c *Client) NodeID(identifier string) *ua.NodeID {
	return ua.NewStringNodeID(c.cfg.Namespace, identifier)
}

// ListChildren returns the display names of the objects organised under
// root. RootObjects browses the server's Objects folder.
func (c *Client) ListChildren(ctx context.Context, root string) ([]string, error) {
	client, err := c.conn()
	if err != nil {
		return nil, err
	}

	var parent *ua.NodeID
	if root == RootObjects {
		parent = ua.NewNumericNodeID(0, id.ObjectsFolder)
	} else {
		parent = c.NodeID(root)
	}

	children, err := client.Node(parent).Children(ctx, id.HierarchicalReferences, ua.NodeClassObject)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBrowseFailed, err)
	}

	names := make([]string, 0, len(children))
	for _, child := range children {
		name, err := child.DisplayName(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: display name of %s: %w", ErrBrowseFailed, child.ID, err)
		}
		names = append(names, name.Text)
	}
	return names, nil
}

// ReadMany reads the value attribute of every point in one request. The
// result has the same length and order as points. A non-good status on any
// point fails the whole read.
func (c *Client) ReadMany(ctx context.Context, points []string) ([]any, error) {
	client, err := c.conn()
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, nil
	}

	req := &ua.ReadRequest{
		MaxAge:             0,
		TimestampsToReturn: ua.TimestampsToReturnBoth,
		NodesToRead:        make([]*ua.ReadValueID, len(points)),
	}
	for i, p := range points {
		req.NodesToRead[i] = &ua.ReadValueID{NodeID: c.NodeID(p), AttributeID: ua.AttributeIDValue}
	}

	resp, err := client.Read(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadFailed, err)
	}
	return decodeReadResults(points, resp.Results)
}

// decodeReadResults unwraps data values, checking count and status.
func decodeReadResults(points []string, results []*ua.DataValue) ([]any, error) {
	if len(results) != len(points) {
		return nil, fmt.Errorf("%w: requested %d points, got %d results", ErrReadFailed, len(points), len(results))
	}

	values := make([]any, len(results))
	for i, dv := range results {
		if dv == nil {
			return nil, fmt.Errorf("%w: %s: empty result", ErrReadFailed, points[i])
		}
		if dv.Status != ua.StatusOK {
			return nil, fmt.Errorf("%w: %s: %w", ErrReadFailed, points[i], dv.Status)
		}
		values[i] = variantValue(dv.Value)
	}
	return values, nil
}

// ReadOne reads a single point.
func (c *Client) ReadOne(ctx context.Context, point string) (any, error) {
	values, err := c.ReadMany(ctx, []string{point})
	if err != nil {
		return nil, err
	}
	return values[0], nil
}

// WriteOne writes value to a point's value attribute. The Go type selects
// the variant type, so callers must match the node's data type (for
// example int32 for an Int32 node).
func (c *Client) WriteOne(ctx context.Context, point string, value any) error {
	client, err := c.conn()
	if err != nil {
		return err
	}

	variant, err := ua.NewVariant(value)
	if err != nil {
		return fmt.Errorf("%w: %T: %w", ErrUnsupportedValue, value, err)
	}

	req := &ua.WriteRequest{
		NodesToWrite: []*ua.WriteValue{{
			NodeID:      c.NodeID(point),
			AttributeID: ua.AttributeIDValue,
			Value: &ua.DataValue{
				EncodingMask: ua.DataValueValue,
				Value:        variant,
			},
		}},
	}

	resp, err := client.Write(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWriteFailed, point, err)
	}
	if len(resp.Results) != 1 {
		return fmt.Errorf("%w: %s: got %d results", ErrWriteFailed, point, len(resp.Results))
	}
	if status := resp.Results[0]; status != ua.StatusOK {
		return fmt.Errorf("%w: %s: %w", ErrWriteFailed, point, status)
	}
	return nil
}

// InvokeMethod calls methodID on objectID without input arguments.
func (c *Client) InvokeMethod(ctx context.Context, objectID, methodID string) error {
	client, err := c.conn()
	if err != nil {
		return err
	}

	req := &ua.CallMethodRequest{
		ObjectID: c.NodeID(objectID),
		MethodID: c.NodeID(methodID),
	}

	result, err := client.Call(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCallFailed, methodID, err)
	}
	if result.StatusCode != ua.StatusOK {
		return fmt.Errorf("%w: %s: %w", ErrCallFailed, methodID, result.StatusCode)
	}
	return nil
}

// variantValue unwraps a variant, tolerating nil.
func variantValue(v *ua.Variant) any {
	if v == nil {
		return nil
	}
	return v.Value()
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

func (c *Client) logDebug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
