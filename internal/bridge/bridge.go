package bridge

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/domo4/IoT23-s/internal/opcua"
)

// Selection modes.
const (
	SelectConfigured  = "configured"
	SelectInteractive = "interactive"
)

// Device list sources.
const (
	DeviceListBrowse      = "browse"
	DeviceListCredentials = "credentials"
)

// shutdownTimeout bounds the release of both connections after Run ends.
const shutdownTimeout = 5 * time.Second

// State is the lifecycle stage of a Bridge.
type State string

// Lifecycle stages.
const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateRunning    State = "running"
	StateStopping   State = "stopping"
	StateStopped    State = "stopped"
)

// Options holds configuration for creating a bridge.
type Options struct {
	// Endpoint is the OPC UA side. Required.
	Endpoint DeviceEndpoint

	// NewCloud builds the cloud channel for the selected device. Required.
	NewCloud CloudFactory

	// Credentials maps device identities to IoT Hub connection strings.
	Credentials map[string]string

	// Selection is SelectConfigured or SelectInteractive.
	Selection string
	// Device is the device used with SelectConfigured.
	Device string
	// Select prompts the operator with SelectInteractive.
	Select SelectFunc

	// DeviceList is DeviceListBrowse or DeviceListCredentials.
	DeviceList string

	TelemetryEnabled bool
	TwinSyncEnabled  bool

	TelemetryInterval  time.Duration
	PublishingInterval time.Duration
	HealthInterval     time.Duration

	RouterWorkers int
	RouterQueue   int

	ReportCommandFailures bool
	DefaultCommandDelay   time.Duration

	// Journal records commands and reported state. Optional.
	Journal Journal
	// Historian receives sent telemetry. Optional.
	Historian TelemetrySink

	Logger Logger
	Sleep  SleepFunc
}

// Bridge mirrors one OPC UA device onto one IoT Hub device identity.
//
// Thread Safety: All methods are safe for concurrent use. Run may be called
// once.
type Bridge struct {
	opts     Options
	endpoint DeviceEndpoint
	metrics  *Metrics
	health   *HealthReporter

	device string
	cloud  CloudChannel
	state  State
	mu     sync.RWMutex

	// Shutdown coordination
	cancel    context.CancelFunc
	started   bool
	runDone   chan struct{}
	stopOnce  sync.Once
	cancelled chan struct{}

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a bridge. Call Run to connect and start bridging.
func New(opts Options) (*Bridge, error) {
	if opts.Endpoint == nil {
		return nil, fmt.Errorf("%w: device endpoint is required", ErrConfig)
	}
	if opts.NewCloud == nil {
		return nil, fmt.Errorf("%w: cloud factory is required", ErrConfig)
	}

	switch opts.Selection {
	case "":
		opts.Selection = SelectInteractive
	case SelectConfigured, SelectInteractive:
	default:
		return nil, fmt.Errorf("%w: unknown selection mode %q", ErrConfig, opts.Selection)
	}
	if opts.Selection == SelectConfigured && opts.Device == "" {
		return nil, fmt.Errorf("%w: configured selection requires a device", ErrConfig)
	}
	if opts.Selection == SelectInteractive && opts.Select == nil {
		return nil, fmt.Errorf("%w: interactive selection requires a prompt", ErrConfig)
	}

	switch opts.DeviceList {
	case "":
		opts.DeviceList = DeviceListBrowse
	case DeviceListBrowse, DeviceListCredentials:
	default:
		return nil, fmt.Errorf("%w: unknown device list source %q", ErrConfig, opts.DeviceList)
	}

	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}

	return &Bridge{
		opts:      opts,
		endpoint:  opts.Endpoint,
		metrics:   &Metrics{},
		state:     StateIdle,
		runDone:   make(chan struct{}),
		cancelled: make(chan struct{}),
		logger:    opts.Logger,
	}, nil
}

// Run connects both sides, selects the device, starts the telemetry,
// change and command paths and blocks until ctx is cancelled or Stop is
// called.
//
// Startup order:
//  1. Connect to the OPC UA server
//  2. List devices and select one
//  3. Create the cloud channel from the device's credential
//  4. Register method and desired-property handlers
//  5. Open the cloud channel
//  6. Stage and commit the change subscription
//  7. Start the change router, telemetry loop and health reporter
//
// Startup failures are returned wrapped in ErrConnection or ErrConfig.
// Failures after startup are logged and the bridge keeps running. Run
// returns nil after a clean shutdown.
func (b *Bridge) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return fmt.Errorf("%w: bridge already started", ErrConfig)
	}
	b.started = true
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.mu.Unlock()

	defer close(b.runDone)
	defer cancel()

	select {
	case <-b.cancelled:
		b.setState(StateStopped)
		return nil
	default:
	}

	err := b.run(ctx)
	b.setState(StateStopped)
	return err
}

func (b *Bridge) run(ctx context.Context) error {
	b.setState(StateConnecting)
	logger := b.getLogger()

	if err := b.endpoint.Connect(ctx); err != nil {
		return classify(ErrConnection, err)
	}
	defer b.closeEndpoint()
	b.logInfo("connected to device endpoint")

	devices, err := b.listDevices(ctx)
	if err != nil {
		return err
	}
	device, err := b.selectDevice(ctx, devices)
	if err != nil {
		return err
	}

	credential, ok := b.opts.Credentials[device]
	if !ok || credential == "" {
		return fmt.Errorf("%w: no credential for device %q", ErrConfig, device)
	}
	cloud, err := b.opts.NewCloud(device, credential)
	if err != nil {
		return classify(ErrConfig, err)
	}

	b.mu.Lock()
	b.device = device
	b.cloud = cloud
	b.mu.Unlock()

	twin, err := NewTwinSynchronizer(TwinSynchronizerConfig{
		Device:   device,
		Endpoint: b.endpoint,
		Cloud:    cloud,
		Journal:  b.opts.Journal,
		Metrics:  b.metrics,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	dispatcher, err := NewCommandDispatcher(CommandDispatcherConfig{
		Device:         device,
		Endpoint:       b.endpoint,
		ReportFailures: b.opts.ReportCommandFailures,
		DefaultDelay:   b.opts.DefaultCommandDelay,
		Journal:        b.opts.Journal,
		Metrics:        b.metrics,
		Logger:         logger,
		Sleep:          b.opts.Sleep,
	})
	if err != nil {
		return err
	}

	dispatcher.Register(cloud)
	if b.opts.TwinSyncEnabled {
		cloud.RegisterDesiredPropertyHandler(twin.HandleDesired)
	}

	if err := cloud.Open(ctx); err != nil {
		return classify(ErrConnection, err)
	}
	defer b.closeCloud(cloud)
	b.logInfo("connected to cloud", "device", device)

	g, gctx := errgroup.WithContext(ctx)

	if b.opts.TwinSyncEnabled {
		router, err := NewChangeRouter(twin, ChangeRouterConfig{
			Workers:   b.opts.RouterWorkers,
			QueueSize: b.opts.RouterQueue,
			Metrics:   b.metrics,
			Logger:    logger,
		})
		if err != nil {
			return err
		}

		sub := b.endpoint.NewSubscription(b.opts.PublishingInterval)
		router.Watch(sub, device)
		defer b.closeSubscription(sub)
		if err := sub.Commit(ctx); err != nil {
			return classify(ErrConnection, err)
		}

		g.Go(func() error { return router.Run(gctx) })
	}

	if b.opts.TelemetryEnabled {
		publisher, err := NewTelemetryPublisher(TelemetryPublisherConfig{
			Device:   device,
			Endpoint: b.endpoint,
			Cloud:    cloud,
			Interval: b.opts.TelemetryInterval,
			Sink:     b.opts.Historian,
			Metrics:  b.metrics,
			Logger:   logger,
			Sleep:    b.opts.Sleep,
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return publisher.Run(gctx) })
	}

	health := NewHealthReporter(HealthReporterConfig{
		Device:   device,
		Interval: b.opts.HealthInterval,
		Cloud:    cloud,
		Metrics:  b.metrics,
		Logger:   logger,
	})
	b.mu.Lock()
	b.health = health
	b.mu.Unlock()
	health.Start(gctx)
	defer health.Stop()

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	b.setState(StateRunning)
	b.logInfo("bridge started",
		"device", device,
		"telemetry", b.opts.TelemetryEnabled,
		"twin_sync", b.opts.TwinSyncEnabled)

	err = g.Wait()
	b.setState(StateStopping)
	return err
}

// listDevices returns the selectable device identities.
func (b *Bridge) listDevices(ctx context.Context) ([]string, error) {
	if b.opts.DeviceList == DeviceListCredentials {
		devices := make([]string, 0, len(b.opts.Credentials))
		for id := range b.opts.Credentials {
			devices = append(devices, id)
		}
		slices.Sort(devices)
		return devices, nil
	}

	children, err := b.endpoint.ListChildren(ctx, opcua.RootObjects)
	if err != nil {
		return nil, classify(ErrConnection, err)
	}
	return FilterDevices(children), nil
}

// FilterDevices drops the server's own object from a browse result.
func FilterDevices(children []string) []string {
	devices := make([]string, 0, len(children))
	for _, name := range children {
		if name == reservedServerNode || name == "" {
			continue
		}
		devices = append(devices, name)
	}
	return devices
}

// selectDevice binds the device identity for the bridge lifetime.
func (b *Bridge) selectDevice(ctx context.Context, devices []string) (string, error) {
	if len(devices) == 0 {
		return "", fmt.Errorf("%w: no devices available", ErrConfig)
	}

	if b.opts.Selection == SelectConfigured {
		if !slices.Contains(devices, b.opts.Device) {
			return "", fmt.Errorf("%w: device %q not found", ErrConfig, b.opts.Device)
		}
		return b.opts.Device, nil
	}

	device, err := b.opts.Select(ctx, devices)
	if err != nil {
		if isCancelled(err) {
			return "", err
		}
		return "", classify(ErrConfig, err)
	}
	if !slices.Contains(devices, device) {
		return "", fmt.Errorf("%w: device %q not found", ErrConfig, device)
	}
	return device, nil
}

// Stop cancels Run and waits for it to release both connections.
// Safe to call multiple times and before Run.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.cancelled)

		b.mu.RLock()
		cancel := b.cancel
		started := b.started
		b.mu.RUnlock()

		if cancel != nil {
			cancel()
		}
		if started {
			<-b.runDone
		}
		b.logInfo("bridge stopped")
	})
}

func (b *Bridge) closeSubscription(sub Subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sub.Close(ctx); err != nil {
		b.logError("closing subscription", err)
	}
}

func (b *Bridge) closeCloud(cloud CloudChannel) {
	if err := cloud.Close(); err != nil {
		b.logError("closing cloud channel", err)
	}
}

func (b *Bridge) closeEndpoint() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := b.endpoint.Close(ctx); err != nil {
		b.logError("closing device endpoint", err)
	}
}

// Device returns the selected device, or "" before selection.
func (b *Bridge) Device() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.device
}

// State returns the lifecycle stage.
func (b *Bridge) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// BridgeMetrics contains metrics data for the API metrics endpoint.
type BridgeMetrics struct {
	Device    string          `json:"device,omitempty"`
	State     State           `json:"state"`
	Connected bool            `json:"connected"`
	Counters  MetricsSnapshot `json:"counters"`
}

// GetMetrics returns current bridge metrics.
func (b *Bridge) GetMetrics() BridgeMetrics {
	b.mu.RLock()
	device, state, cloud := b.device, b.state, b.cloud
	b.mu.RUnlock()

	return BridgeMetrics{
		Device:    device,
		State:     state,
		Connected: cloud != nil && cloud.IsConnected(),
		Counters:  b.metrics.Snapshot(),
	}
}

// Health returns the latest health report.
func (b *Bridge) Health() HealthReport {
	b.mu.RLock()
	health, state, device := b.health, b.state, b.device
	b.mu.RUnlock()

	if health == nil {
		status := HealthStarting
		if state == StateStopped {
			status = HealthStopped
		}
		return HealthReport{Status: status, Device: device, CheckedAt: time.Now()}
	}
	return health.Report()
}

// SetLogger replaces the bridge logger.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
