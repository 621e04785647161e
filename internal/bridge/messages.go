package bridge

import (
	"encoding/json"

	"github.com/domo4/IoT23-s/internal/iothub"
)

// TelemetryMessage is the body of a telemetry event. Field order is the
// wire order.
type TelemetryMessage struct {
	DeviceName       string `json:"DeviceName"`
	ProductionStatus any    `json:"ProductionStatus"`
	WorkorderID      any    `json:"WorkorderId"`
	GoodCount        any    `json:"GoodCount"`
	BadCount         any    `json:"BadCount"`
	Temperature      any    `json:"Temperature"`
}

// newTelemetryMessage builds a message from readings keyed by point name.
func newTelemetryMessage(device string, readings map[string]any) TelemetryMessage {
	return TelemetryMessage{
		DeviceName:       device,
		ProductionStatus: readings[PointProductionStatus],
		WorkorderID:      readings[PointWorkorderID],
		GoodCount:        readings[PointGoodCount],
		BadCount:         readings[PointBadCount],
		Temperature:      readings[PointTemperature],
	}
}

// EventMessage is the body of a discrete device error event.
type EventMessage struct {
	DeviceName  string `json:"DeviceName"`
	DeviceError any    `json:"DeviceError"`
}

// encodeEvent marshals body as a JSON cloud message tagged with messageType.
func encodeEvent(body any, messageType string) (*iothub.Message, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return iothub.NewJSONMessage(data).WithProperty(messageTypeProperty, messageType), nil
}
