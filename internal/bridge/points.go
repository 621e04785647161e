package bridge

// Data point names below a device node.
const (
	PointProductionStatus = "ProductionStatus"
	PointWorkorderID      = "WorkorderId"
	PointGoodCount        = "GoodCount"
	PointBadCount         = "BadCount"
	PointTemperature      = "Temperature"
	PointDeviceError      = "DeviceError"
	PointProductionRate   = "ProductionRate"
)

// Device methods.
const (
	MethodEmergencyStop    = "EmergencyStop"
	MethodResetErrorStatus = "ResetErrorStatus"
)

// Message types carried in the MessageType application property.
const (
	MessageTypeTelemetry = "Telemetry"
	MessageTypeEvent     = "Event"
	messageTypeProperty  = "MessageType"
)

// reservedServerNode is the server's own object under the Objects folder.
// It is never offered as a device.
const reservedServerNode = "Server"

// telemetryPoints is the batch read order of a telemetry tick.
var telemetryPoints = []string{
	PointProductionStatus,
	PointWorkorderID,
	PointGoodCount,
	PointBadCount,
	PointTemperature,
}

// pointID returns the identifier of a point below device.
func pointID(device, point string) string {
	return device + "/" + point
}
