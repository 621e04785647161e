package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TelemetryPublisherConfig configures a TelemetryPublisher.
type TelemetryPublisherConfig struct {
	Device   string
	Endpoint DeviceEndpoint
	Cloud    CloudChannel

	// Interval is the pause between the end of one tick and the start of
	// the next. Default: 2 seconds.
	Interval time.Duration

	Sink    TelemetrySink // optional
	Metrics *Metrics      // optional
	Logger  Logger        // optional
	Sleep   SleepFunc     // optional, defaults to a context-aware timer
	Now     func() time.Time
}

// TelemetryPublisher periodically reads the production points of one
// device and sends them as a telemetry event.
//
// Ticks are strictly sequential: a send completes (or fails) before the
// next read starts.
type TelemetryPublisher struct {
	device   string
	endpoint DeviceEndpoint
	cloud    CloudChannel
	interval time.Duration
	sink     TelemetrySink
	metrics  *Metrics
	logger   Logger
	sleep    SleepFunc
	now      func() time.Time
	points   []string
}

// NewTelemetryPublisher creates a publisher. Call Run to start it.
func NewTelemetryPublisher(cfg TelemetryPublisherConfig) (*TelemetryPublisher, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("%w: device is required", ErrConfig)
	}
	if cfg.Endpoint == nil || cfg.Cloud == nil {
		return nil, fmt.Errorf("%w: endpoint and cloud channel are required", ErrConfig)
	}

	p := &TelemetryPublisher{
		device:   cfg.Device,
		endpoint: cfg.Endpoint,
		cloud:    cfg.Cloud,
		interval: cfg.Interval,
		sink:     cfg.Sink,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		sleep:    cfg.Sleep,
		now:      cfg.Now,
	}
	if p.interval <= 0 {
		p.interval = 2 * time.Second
	}
	if p.metrics == nil {
		p.metrics = &Metrics{}
	}
	if p.sleep == nil {
		p.sleep = sleepContext
	}
	if p.now == nil {
		p.now = time.Now
	}

	p.points = make([]string, len(telemetryPoints))
	for i, point := range telemetryPoints {
		p.points[i] = pointID(p.device, point)
	}
	return p, nil
}

// Run publishes until ctx is cancelled. A failed tick is logged and the
// loop continues. Returns nil on cancellation.
func (p *TelemetryPublisher) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := p.Tick(ctx); err != nil && ctx.Err() == nil {
			p.metrics.telemetryFailed.Add(1)
			p.logWarn("telemetry tick failed", "error", err, "policy", PolicyFor(err).String())
		}

		if err := p.sleep(ctx, p.interval); err != nil {
			return nil
		}
	}
}

// Tick performs one read-and-send cycle.
func (p *TelemetryPublisher) Tick(ctx context.Context) error {
	values, err := p.endpoint.ReadMany(ctx, p.points)
	if err != nil {
		return classify(ErrRead, err)
	}
	if len(values) != len(p.points) {
		return fmt.Errorf("%w: got %d values for %d points", ErrRead, len(values), len(p.points))
	}

	readings := make(map[string]any, len(telemetryPoints))
	for i, point := range telemetryPoints {
		readings[point] = values[i]
	}

	msg, err := encodeEvent(newTelemetryMessage(p.device, readings), MessageTypeTelemetry)
	if err != nil {
		return classify(ErrSend, err)
	}
	if err := p.cloud.SendEvent(ctx, msg); err != nil {
		return classify(ErrSend, err)
	}

	at := p.now()
	p.metrics.telemetrySent.Add(1)
	p.metrics.lastTelemetry.Store(at.UnixNano())
	p.logDebug("telemetry sent", "device", p.device)

	if p.sink != nil {
		p.sink.WriteTelemetry(p.device, readings, at)
	}
	return nil
}

func (p *TelemetryPublisher) logWarn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}

func (p *TelemetryPublisher) logDebug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}

// isCancelled reports whether err stems from context cancellation.
func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
