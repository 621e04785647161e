package iothub

import (
	"fmt"
	"strings"
)

// ConnectionString holds the parts of a device connection string:
//
//	HostName=myhub.azure-devices.net;DeviceId=dev1;SharedAccessKey=base64==
type ConnectionString struct {
	HostName        string
	DeviceID        string
	SharedAccessKey string
	// GatewayHostName, when present, is dialled instead of HostName.
	GatewayHostName string
}

// ParseConnectionString parses a device connection string. Keys are
// case-insensitive and values may themselves contain '='.
func ParseConnectionString(s string) (ConnectionString, error) {
	var cs ConnectionString

	for _, part := range strings.Split(strings.TrimSpace(s), ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return ConnectionString{}, fmt.Errorf("%w: segment %q has no value", ErrInvalidConnectionString, key)
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "hostname":
			cs.HostName = val
		case "deviceid":
			cs.DeviceID = val
		case "sharedaccesskey":
			cs.SharedAccessKey = val
		case "gatewayhostname":
			cs.GatewayHostName = val
		}
	}

	var missing []string
	if cs.HostName == "" {
		missing = append(missing, "HostName")
	}
	if cs.DeviceID == "" {
		missing = append(missing, "DeviceId")
	}
	if cs.SharedAccessKey == "" {
		missing = append(missing, "SharedAccessKey")
	}
	if len(missing) > 0 {
		return ConnectionString{}, fmt.Errorf("%w: missing %s", ErrInvalidConnectionString, strings.Join(missing, ", "))
	}

	return cs, nil
}

// brokerHost returns the host the MQTT session should dial.
func (cs ConnectionString) brokerHost() string {
	if cs.GatewayHostName != "" {
		return cs.GatewayHostName
	}
	return cs.HostName
}

// BrokerURL returns the MQTT-over-TLS broker address.
func (cs ConnectionString) BrokerURL(port int) string {
	return fmt.Sprintf("ssl://%s:%d", cs.brokerHost(), port)
}

// Username returns the MQTT username IoT Hub expects for this device.
func (cs ConnectionString) Username(apiVersion string) string {
	return fmt.Sprintf("%s/%s/?api-version=%s", cs.HostName, cs.DeviceID, apiVersion)
}

// ResourceURI returns the SAS resource URI of the device.
func (cs ConnectionString) ResourceURI() string {
	return cs.HostName + "/devices/" + cs.DeviceID
}

// String returns the connection string with the key redacted.
func (cs ConnectionString) String() string {
	return fmt.Sprintf("HostName=%s;DeviceId=%s;SharedAccessKey=<redacted>", cs.HostName, cs.DeviceID)
}
