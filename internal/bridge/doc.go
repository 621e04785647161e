// Package bridge mirrors one OPC UA device onto one IoT Hub device identity.
//
// The package is organised around five collaborating components:
//
//   - TelemetryPublisher: periodic batch read of production data sent as
//     device-to-cloud telemetry
//   - TwinSynchronizer: reported-state pushes and desired-state application
//   - ChangeRouter: maps subscription change notifications to twin pushes
//     through a bounded worker pool
//   - CommandDispatcher: serves direct methods by invoking device methods
//   - Bridge: the orchestrator that connects both sides, selects the device
//     and runs everything until its context is cancelled
//
// # Architecture
//
//	OPC UA server ──read/subscribe──▶ Bridge ──events/twin──▶ IoT Hub
//	OPC UA server ◀──write/call────── Bridge ◀──methods/desired── IoT Hub
//
// # Errors
//
// Every failure is classified into one of the taxonomy sentinels
// (ErrConnection, ErrRead, ErrWrite, ErrInvoke, ErrSend, ErrTwin, ErrConfig)
// and PolicyFor maps the class to fatal or log-only handling. Errors after
// startup are logged and the bridge keeps running.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Telemetry sends are
// strictly sequential; twin pushes are serialized when the router runs a
// single worker.
package bridge
