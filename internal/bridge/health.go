package bridge

import (
	"context"
	"sync"
	"time"
)

// HealthStatus is the operational status of the bridge.
type HealthStatus string

// Health statuses.
const (
	HealthStarting HealthStatus = "starting"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStopped  HealthStatus = "stopped"
)

// defaultHealthInterval is how often the health status is re-evaluated.
const defaultHealthInterval = 30 * time.Second

// HealthChecker reports whether a connection is up.
type HealthChecker interface {
	IsConnected() bool
}

// HealthReport is a point-in-time health evaluation.
type HealthReport struct {
	Status    HealthStatus `json:"status"`
	Reason    string       `json:"reason,omitempty"`
	Device    string       `json:"device,omitempty"`
	Uptime    float64      `json:"uptime_seconds"`
	CheckedAt time.Time    `json:"checked_at"`
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	Device string

	// Interval is how often to evaluate health. Default: 30 seconds.
	Interval time.Duration

	// Cloud is the cloud channel whose connection is checked.
	Cloud HealthChecker

	Metrics *Metrics
	Logger  Logger
}

// HealthReporter periodically evaluates bridge health and logs status
// transitions. The latest report is served by the status API.
type HealthReporter struct {
	device    string
	interval  time.Duration
	cloud     HealthChecker
	metrics   *Metrics
	startTime time.Time
	now       func() time.Time

	current   HealthReport
	currentMu sync.RWMutex

	// telemetry counters seen at the previous evaluation
	lastSent   uint64
	lastFailed uint64
	checkMu    sync.Mutex

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
}

// NewHealthReporter creates a reporter in the starting state. Call Start to
// begin evaluation.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = &Metrics{}
	}

	h := &HealthReporter{
		device:    cfg.Device,
		interval:  interval,
		cloud:     cfg.Cloud,
		metrics:   metrics,
		startTime: time.Now(),
		now:       time.Now,
		done:      make(chan struct{}),
		logger:    cfg.Logger,
	}
	h.current = HealthReport{Status: HealthStarting, Device: cfg.Device, CheckedAt: h.startTime}
	return h
}

// Start begins periodic evaluation until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends evaluation and marks the bridge stopped.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		h.set(HealthStopped, "")
	})
}

// Report returns the latest evaluation.
func (h *HealthReporter) Report() HealthReport {
	h.currentMu.RLock()
	defer h.currentMu.RUnlock()
	report := h.current
	report.Uptime = h.now().Sub(h.startTime).Seconds()
	return report
}

// CheckNow re-evaluates health immediately.
func (h *HealthReporter) CheckNow() HealthReport {
	h.checkMu.Lock()
	status, reason := h.determineStatus()
	h.set(status, reason)
	h.checkMu.Unlock()
	return h.Report()
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.CheckNow()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			h.CheckNow()
		}
	}
}

// determineStatus evaluates the current bridge status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.cloud == nil || !h.cloud.IsConnected() {
		return HealthDegraded, "cloud disconnected"
	}

	snap := h.metrics.Snapshot()
	sent := snap.TelemetrySent - h.lastSent
	failed := snap.TelemetryFailed - h.lastFailed
	h.lastSent, h.lastFailed = snap.TelemetrySent, snap.TelemetryFailed
	if failed > 0 && sent == 0 {
		return HealthDegraded, "telemetry failing"
	}

	return HealthHealthy, ""
}

// set stores a new status and logs transitions.
func (h *HealthReporter) set(status HealthStatus, reason string) {
	h.currentMu.Lock()
	previous := h.current.Status
	h.current = HealthReport{
		Status:    status,
		Reason:    reason,
		Device:    h.device,
		CheckedAt: h.now(),
	}
	h.currentMu.Unlock()

	if previous == status || h.logger == nil {
		return
	}
	if status == HealthDegraded {
		h.logger.Warn("bridge health changed", "from", previous, "to", status, "reason", reason)
		return
	}
	h.logger.Info("bridge health changed", "from", previous, "to", status)
}
