package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement and tag names.
const (
	measurementTelemetry = "telemetry"
	tagDevice            = "device"
)

// WriteTelemetry records one telemetry snapshot of device.
//
// Only numeric and boolean readings become fields; other values (such as
// the work order identifier) are skipped. A snapshot without any usable
// field is not written.
func (c *Client) WriteTelemetry(device string, readings map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}

	fields := numericFields(readings)
	if len(fields) == 0 {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		measurementTelemetry,
		map[string]string{tagDevice: device},
		fields,
		at,
	))
}

// numericFields keeps the values InfluxDB can aggregate.
func numericFields(readings map[string]any) map[string]any {
	fields := make(map[string]any, len(readings))
	for name, value := range readings {
		switch v := value.(type) {
		case int8, int16, int32, int64, int:
			fields[name] = v
		case uint8, uint16, uint32, uint64, uint:
			fields[name] = v
		case float32:
			fields[name] = float64(v)
		case float64, bool:
			fields[name] = v
		}
	}
	return fields
}
