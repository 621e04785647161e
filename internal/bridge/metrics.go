package bridge

import (
	"sync/atomic"
	"time"
)

// Metrics counts bridge activity. The zero value is ready to use.
type Metrics struct {
	telemetrySent   atomic.Uint64
	telemetryFailed atomic.Uint64
	eventsSent      atomic.Uint64
	reportedUpdates atomic.Uint64
	twinFailures    atomic.Uint64
	desiredApplied  atomic.Uint64
	commandsServed  atomic.Uint64
	commandsFailed  atomic.Uint64
	changesRouted   atomic.Uint64
	changesDropped  atomic.Uint64
	lastTelemetry   atomic.Int64 // unix nanoseconds
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	TelemetrySent   uint64    `json:"telemetry_sent"`
	TelemetryFailed uint64    `json:"telemetry_failed"`
	EventsSent      uint64    `json:"events_sent"`
	ReportedUpdates uint64    `json:"reported_updates"`
	TwinFailures    uint64    `json:"twin_failures"`
	DesiredApplied  uint64    `json:"desired_applied"`
	CommandsServed  uint64    `json:"commands_served"`
	CommandsFailed  uint64    `json:"commands_failed"`
	ChangesRouted   uint64    `json:"changes_routed"`
	ChangesDropped  uint64    `json:"changes_dropped"`
	LastTelemetry   time.Time `json:"last_telemetry,omitzero"`
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		TelemetrySent:   m.telemetrySent.Load(),
		TelemetryFailed: m.telemetryFailed.Load(),
		EventsSent:      m.eventsSent.Load(),
		ReportedUpdates: m.reportedUpdates.Load(),
		TwinFailures:    m.twinFailures.Load(),
		DesiredApplied:  m.desiredApplied.Load(),
		CommandsServed:  m.commandsServed.Load(),
		CommandsFailed:  m.commandsFailed.Load(),
		ChangesRouted:   m.changesRouted.Load(),
		ChangesDropped:  m.changesDropped.Load(),
	}
	if ns := m.lastTelemetry.Load(); ns != 0 {
		snap.LastTelemetry = time.Unix(0, ns).UTC()
	}
	return snap
}
