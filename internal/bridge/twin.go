package bridge

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/domo4/IoT23-s/internal/iothub"
	"github.com/domo4/IoT23-s/internal/journal"
)

// TwinSynchronizerConfig configures a TwinSynchronizer.
type TwinSynchronizerConfig struct {
	Device   string
	Endpoint DeviceEndpoint
	Cloud    CloudChannel
	Journal  Journal  // optional
	Metrics  *Metrics // optional
	Logger   Logger   // optional
}

// TwinSynchronizer keeps the device twin aligned with the device: it pushes
// DeviceError and ProductionRate as reported properties and applies the
// desired ProductionRate to the device.
type TwinSynchronizer struct {
	device   string
	endpoint DeviceEndpoint
	cloud    CloudChannel
	journal  Journal
	metrics  *Metrics
	logger   Logger

	// desiredMu serializes desired-state application.
	desiredMu sync.Mutex
}

// NewTwinSynchronizer creates a synchronizer.
func NewTwinSynchronizer(cfg TwinSynchronizerConfig) (*TwinSynchronizer, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("%w: device is required", ErrConfig)
	}
	if cfg.Endpoint == nil || cfg.Cloud == nil {
		return nil, fmt.Errorf("%w: endpoint and cloud channel are required", ErrConfig)
	}
	s := &TwinSynchronizer{
		device:   cfg.Device,
		endpoint: cfg.Endpoint,
		cloud:    cfg.Cloud,
		journal:  cfg.Journal,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
	if s.metrics == nil {
		s.metrics = &Metrics{}
	}
	return s, nil
}

// PushReportedState reads DeviceError and ProductionRate and sends both as
// one reported-properties update. With includeEvent it then re-reads
// DeviceError and sends it as an Event message.
func (s *TwinSynchronizer) PushReportedState(ctx context.Context, includeEvent bool) error {
	deviceError, err := s.endpoint.ReadOne(ctx, pointID(s.device, PointDeviceError))
	if err != nil {
		return classify(ErrRead, err)
	}
	rate, err := s.endpoint.ReadOne(ctx, pointID(s.device, PointProductionRate))
	if err != nil {
		return classify(ErrRead, err)
	}

	state := map[string]any{
		PointDeviceError:    deviceError,
		PointProductionRate: rate,
	}
	if err := s.report(ctx, state, journal.SourceChange); err != nil {
		return err
	}

	if !includeEvent {
		return nil
	}
	return s.sendErrorEvent(ctx)
}

// PushProductionRate reads ProductionRate and reports only that property.
func (s *TwinSynchronizer) PushProductionRate(ctx context.Context, source string) error {
	rate, err := s.endpoint.ReadOne(ctx, pointID(s.device, PointProductionRate))
	if err != nil {
		return classify(ErrRead, err)
	}
	return s.report(ctx, map[string]any{PointProductionRate: rate}, source)
}

// ApplyDesiredChange fetches the twin, writes its desired ProductionRate to
// the device and reports the value the device then holds.
//
// The notification payload only signals that the desired state changed;
// the value is always taken from the full twin.
func (s *TwinSynchronizer) ApplyDesiredChange(ctx context.Context, _ iothub.TwinCollection) error {
	s.desiredMu.Lock()
	defer s.desiredMu.Unlock()

	twin, err := s.cloud.GetTwin(ctx)
	if err != nil {
		return classify(ErrTwin, err)
	}
	if twin == nil {
		return fmt.Errorf("%w: empty twin document", ErrTwin)
	}

	value, err := twin.Desired.Int(PointProductionRate)
	if err != nil {
		return classify(ErrTwin, err)
	}
	if value < math.MinInt32 || value > math.MaxInt32 {
		return fmt.Errorf("%w: desired production rate %d out of range", ErrTwin, value)
	}

	if err := s.endpoint.WriteOne(ctx, pointID(s.device, PointProductionRate), int32(value)); err != nil {
		return classify(ErrWrite, err)
	}
	s.metrics.desiredApplied.Add(1)
	s.logInfo("desired production rate applied", "device", s.device, "value", value)

	return s.PushProductionRate(ctx, journal.SourceDesired)
}

// HandleDesired is the cloud's desired-property callback. Failures are
// logged; the bridge keeps running.
func (s *TwinSynchronizer) HandleDesired(ctx context.Context, patch iothub.TwinCollection, version int64) {
	if err := s.ApplyDesiredChange(ctx, patch); err != nil {
		s.metrics.twinFailures.Add(1)
		s.logWarn("apply desired state failed", "error", err, "version", version)
	}
}

// report sends state as reported properties and journals it.
func (s *TwinSynchronizer) report(ctx context.Context, state map[string]any, source string) error {
	version, err := s.cloud.UpdateReportedProperties(ctx, state)
	if err != nil {
		s.metrics.twinFailures.Add(1)
		return classify(ErrTwin, err)
	}
	s.metrics.reportedUpdates.Add(1)
	s.logDebug("reported state updated", "device", s.device, "version", version)

	if s.journal != nil {
		if err := s.journal.RecordReported(ctx, s.device, state, source); err != nil {
			s.logWarn("journal reported state failed", "error", err)
		}
	}
	return nil
}

// sendErrorEvent sends the current DeviceError as an Event message.
func (s *TwinSynchronizer) sendErrorEvent(ctx context.Context) error {
	deviceError, err := s.endpoint.ReadOne(ctx, pointID(s.device, PointDeviceError))
	if err != nil {
		return classify(ErrRead, err)
	}

	msg, err := encodeEvent(EventMessage{DeviceName: s.device, DeviceError: deviceError}, MessageTypeEvent)
	if err != nil {
		return classify(ErrSend, err)
	}
	if err := s.cloud.SendEvent(ctx, msg); err != nil {
		return classify(ErrSend, err)
	}
	s.metrics.eventsSent.Add(1)
	return nil
}

func (s *TwinSynchronizer) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *TwinSynchronizer) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *TwinSynchronizer) logDebug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
