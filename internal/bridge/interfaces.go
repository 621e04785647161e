package bridge

import (
	"context"
	"time"

	"github.com/domo4/IoT23-s/internal/iothub"
	"github.com/domo4/IoT23-s/internal/journal"
	"github.com/domo4/IoT23-s/internal/opcua"
)

// Logger is the structured logger used by the bridge.
// Compatible with *logging.Logger and *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// DeviceEndpoint is the OPC UA side of the bridge.
// Point arguments are identifiers below the namespace, e.g. "Device 1/GoodCount".
type DeviceEndpoint interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	// ListChildren returns the display names of the object children of root.
	// An empty root lists the Objects folder.
	ListChildren(ctx context.Context, root string) ([]string, error)

	// ReadMany returns one value per point, in order. A bad status on any
	// item fails the whole read.
	ReadMany(ctx context.Context, points []string) ([]any, error)
	ReadOne(ctx context.Context, point string) (any, error)
	WriteOne(ctx context.Context, point string, value any) error
	InvokeMethod(ctx context.Context, objectID, methodID string) error

	NewSubscription(interval time.Duration) Subscription
}

// Subscription monitors points and reports their changes.
type Subscription interface {
	// Add stages a point. Nothing is monitored until Commit.
	Add(point string, onChange opcua.ChangeFunc)
	Commit(ctx context.Context) error
	Close(ctx context.Context) error
}

// CloudChannel is the IoT Hub side of the bridge.
type CloudChannel interface {
	Open(ctx context.Context) error
	Close() error
	IsConnected() bool

	SendEvent(ctx context.Context, msg *iothub.Message) error
	GetTwin(ctx context.Context) (*iothub.Twin, error)
	UpdateReportedProperties(ctx context.Context, props map[string]any) (int64, error)

	RegisterMethodHandler(name string, h iothub.MethodHandler)
	RegisterDefaultMethodHandler(h iothub.MethodHandler)
	RegisterDesiredPropertyHandler(h iothub.DesiredPropertyHandler)
}

// CloudFactory creates the cloud channel for the selected device from its
// connection credential.
type CloudFactory func(device, credential string) (CloudChannel, error)

// Journal records bridge activity. Optional.
type Journal interface {
	RecordCommand(ctx context.Context, entry *journal.CommandEntry) error
	RecordReported(ctx context.Context, device string, state map[string]any, source string) error
}

// TelemetrySink receives every telemetry snapshot that was sent. Optional.
type TelemetrySink interface {
	WriteTelemetry(device string, fields map[string]any, at time.Time)
}

// SelectFunc asks the operator to choose one of devices.
type SelectFunc func(ctx context.Context, devices []string) (string, error)

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// sleepContext is the default SleepFunc.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// opcuaEndpoint adapts *opcua.Client to DeviceEndpoint.
type opcuaEndpoint struct {
	*opcua.Client
}

// NewOPCUAEndpoint wraps an OPC UA client as a DeviceEndpoint.
func NewOPCUAEndpoint(c *opcua.Client) DeviceEndpoint {
	return opcuaEndpoint{Client: c}
}

func (e opcuaEndpoint) NewSubscription(interval time.Duration) Subscription {
	return e.Client.NewSubscription(interval)
}

// IoTHubFactory returns a CloudFactory building *iothub.Client channels
// from cfg. The credential replaces cfg.ConnectionString.
//
// Device names and hub device ids may legitimately differ, so a mismatch
// is only logged. It usually means the credential was filed under the
// wrong device. log may be nil.
func IoTHubFactory(cfg iothub.Config, log Logger, opts ...iothub.Option) CloudFactory {
	return func(device string, credential string) (CloudChannel, error) {
		cfg.ConnectionString = credential
		client, err := iothub.New(cfg, opts...)
		if err != nil {
			return nil, err
		}
		if id := client.DeviceID(); id != device && log != nil {
			log.Warn("credential belongs to a different hub device id",
				"device", device,
				"device_id", id,
			)
		}
		return client, nil
	}
}
