package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/domo4/IoT23-s/internal/iothub"
	"github.com/domo4/IoT23-s/internal/journal"
)

// Acknowledgement statuses.
const (
	StatusAccepted = iothub.StatusOK
	StatusFailed   = 500
)

// CommandDispatcherConfig configures a CommandDispatcher.
type CommandDispatcherConfig struct {
	Device   string
	Endpoint DeviceEndpoint

	// ReportFailures acknowledges a failed invoke with status 500 and an
	// error payload instead of status 0.
	ReportFailures bool

	// DefaultDelay is how long an unknown method waits before it is
	// acknowledged. Default: 1 second.
	DefaultDelay time.Duration

	Journal Journal   // optional
	Metrics *Metrics  // optional
	Logger  Logger    // optional
	Sleep   SleepFunc // optional
}

// CommandDispatcher serves direct methods by invoking the matching device
// method on the OPC UA server.
type CommandDispatcher struct {
	device         string
	endpoint       DeviceEndpoint
	reportFailures bool
	defaultDelay   time.Duration
	journal        Journal
	metrics        *Metrics
	logger         Logger
	sleep          SleepFunc
}

// NewCommandDispatcher creates a dispatcher. Call Register to attach it to
// a cloud channel.
func NewCommandDispatcher(cfg CommandDispatcherConfig) (*CommandDispatcher, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("%w: device is required", ErrConfig)
	}
	if cfg.Endpoint == nil {
		return nil, fmt.Errorf("%w: endpoint is required", ErrConfig)
	}
	d := &CommandDispatcher{
		device:         cfg.Device,
		endpoint:       cfg.Endpoint,
		reportFailures: cfg.ReportFailures,
		defaultDelay:   cfg.DefaultDelay,
		journal:        cfg.Journal,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		sleep:          cfg.Sleep,
	}
	if d.defaultDelay <= 0 {
		d.defaultDelay = time.Second
	}
	if d.metrics == nil {
		d.metrics = &Metrics{}
	}
	if d.sleep == nil {
		d.sleep = sleepContext
	}
	return d, nil
}

// Register installs the method handlers on cloud.
func (d *CommandDispatcher) Register(cloud CloudChannel) {
	cloud.RegisterMethodHandler(MethodEmergencyStop, d.EmergencyStop)
	cloud.RegisterMethodHandler(MethodResetErrorStatus, d.ResetErrorStatus)
	cloud.RegisterDefaultMethodHandler(d.Default)
}

// EmergencyStop invokes the device's EmergencyStop method.
func (d *CommandDispatcher) EmergencyStop(ctx context.Context, req iothub.MethodRequest) iothub.MethodResponse {
	return d.invoke(ctx, req, MethodEmergencyStop)
}

// ResetErrorStatus invokes the device's ResetErrorStatus method.
func (d *CommandDispatcher) ResetErrorStatus(ctx context.Context, req iothub.MethodRequest) iothub.MethodResponse {
	return d.invoke(ctx, req, MethodResetErrorStatus)
}

// Default acknowledges any method without a dedicated handler after the
// settle delay.
func (d *CommandDispatcher) Default(ctx context.Context, req iothub.MethodRequest) iothub.MethodResponse {
	d.logWarn("undefined method handler", "method", req.Name, "request_id", req.RequestID)

	// Cancellation only shortens the wait; the request is still answered.
	_ = d.sleep(ctx, d.defaultDelay) //nolint:errcheck // cancellation shortens the delay only

	d.metrics.commandsServed.Add(1)
	d.record(ctx, req, StatusAccepted, nil)
	return iothub.MethodResponse{Status: StatusAccepted}
}

func (d *CommandDispatcher) invoke(ctx context.Context, req iothub.MethodRequest, method string) iothub.MethodResponse {
	d.logInfo("method invoked", "method", method, "request_id", req.RequestID)

	err := d.endpoint.InvokeMethod(ctx, d.device, pointID(d.device, method))
	d.metrics.commandsServed.Add(1)
	if err == nil {
		d.record(ctx, req, StatusAccepted, nil)
		return iothub.MethodResponse{Status: StatusAccepted}
	}

	err = classify(ErrInvoke, err)
	d.metrics.commandsFailed.Add(1)
	d.logWarn("device method failed", "method", method, "error", err)

	if !d.reportFailures {
		d.record(ctx, req, StatusAccepted, err)
		return iothub.MethodResponse{Status: StatusAccepted}
	}

	d.record(ctx, req, StatusFailed, err)
	payload, _ := json.Marshal(map[string]string{"error": err.Error()}) //nolint:errcheck // map of strings always marshals
	return iothub.MethodResponse{Status: StatusFailed, Payload: payload}
}

// record journals one dispatch. The cause is kept even when the caller was
// told the command succeeded.
func (d *CommandDispatcher) record(ctx context.Context, req iothub.MethodRequest, status int, cause error) {
	if d.journal == nil {
		return
	}
	entry := &journal.CommandEntry{
		Device:    d.device,
		Method:    req.Name,
		RequestID: req.RequestID,
		Status:    status,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	if err := d.journal.RecordCommand(ctx, entry); err != nil {
		d.logWarn("journal command failed", "error", err)
	}
}

func (d *CommandDispatcher) logInfo(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Info(msg, args...)
	}
}

func (d *CommandDispatcher) logWarn(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Warn(msg, args...)
	}
}
