package iothub

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Subscription filters.
const (
	methodsFilter    = "$iothub/methods/POST/#"
	twinResFilter    = "$iothub/twin/res/#"
	desiredFilter    = "$iothub/twin/PATCH/properties/desired/#"
	methodsPrefix    = "$iothub/methods/POST/"
	twinResPrefix    = "$iothub/twin/res/"
	desiredPrefix    = "$iothub/twin/PATCH/properties/desired/"
	twinGetPrefix    = "$iothub/twin/GET/?$rid="
	reportedPrefix   = "$iothub/twin/PATCH/properties/reported/?$rid="
	methodResFormat  = "$iothub/methods/res/%d/?$rid=%s"
	eventsTopicFmt   = "devices/%s/messages/events/"
	requestIDParam   = "$rid"
	versionParam     = "$version"
	contentTypeProp  = "$.ct"
	contentEncProp   = "$.ce"
	messageIDProp    = "$.mid"
	correlationProp  = "$.cid"
	systemPropPrefix = "$."
)

// Topics provides builders for the IoT Hub MQTT topics of one device.
type Topics struct {
	DeviceID string
}

// Events returns the device-to-cloud topic carrying msg's property bag.
//
// Example: devices/dev1/messages/events/$.ct=application%2Fjson&$.ce=utf-8&MessageType=Telemetry
func (t Topics) Events(msg *Message) string {
	return fmt.Sprintf(eventsTopicFmt, url.PathEscape(t.DeviceID)) + msg.propertyBag()
}

// TwinGet returns the topic of a twin read request.
func (Topics) TwinGet(rid string) string {
	return twinGetPrefix + rid
}

// TwinReported returns the topic of a reported-property patch.
func (Topics) TwinReported(rid string) string {
	return reportedPrefix + rid
}

// MethodResponse returns the topic answering a direct method call.
func (Topics) MethodResponse(status int, rid string) string {
	return fmt.Sprintf(methodResFormat, status, rid)
}

// parseMethodTopic extracts the method name and request id from
// $iothub/methods/POST/{name}/?$rid={rid}.
func parseMethodTopic(topic string) (name, rid string, err error) {
	rest, ok := strings.CutPrefix(topic, methodsPrefix)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}
	name, query, ok := strings.Cut(rest, "/?")
	if !ok || name == "" {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}
	rid, err = queryParam(query, requestIDParam)
	if err != nil {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}
	return name, rid, nil
}

// parseTwinResponseTopic extracts the status and request id from
// $iothub/twin/res/{status}/?$rid={rid}.
func parseTwinResponseTopic(topic string) (status int, rid string, err error) {
	rest, ok := strings.CutPrefix(topic, twinResPrefix)
	if !ok {
		return 0, "", fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}
	code, query, ok := strings.Cut(rest, "/?")
	if !ok {
		return 0, "", fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}
	status, err = strconv.Atoi(code)
	if err != nil {
		return 0, "", fmt.Errorf("%w: status %q", ErrMalformedTopic, code)
	}
	rid, err = queryParam(query, requestIDParam)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}
	return status, rid, nil
}

// parseDesiredTopic extracts the twin version from
// $iothub/twin/PATCH/properties/desired/?$version={n}.
func parseDesiredTopic(topic string) (int64, error) {
	rest, ok := strings.CutPrefix(topic, desiredPrefix)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}
	query := strings.TrimPrefix(rest, "?")
	v, err := queryParam(query, versionParam)
	if err != nil {
		// Version is informational; some gateways omit it.
		return 0, nil //nolint:nilerr
	}
	version, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: version %q", ErrMalformedTopic, v)
	}
	return version, nil
}

// queryParam finds key in an &-separated query without unescaping '$'.
func queryParam(query, key string) (string, error) {
	for _, pair := range strings.Split(query, "&") {
		k, v, _ := strings.Cut(pair, "=")
		if k == key {
			return url.QueryUnescape(v)
		}
	}
	return "", fmt.Errorf("missing %s", key)
}

// parseResponseVersion extracts $version from a twin response topic, present
// on reported-property acknowledgements.
func parseResponseVersion(topic string) (int64, error) {
	_, query, ok := strings.Cut(topic, "/?")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}
	v, err := queryParam(query, versionParam)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}
