package mqtt

import (
	"context"
	"fmt"
)

// maxPayloadSize is the hub's device-to-cloud message limit.
const maxPayloadSize = 256 << 10

// Publish sends payload on topic.
//
// For QoS 1 the call waits for the PUBACK; it gives up when the publish
// timeout elapses or ctx is cancelled, whichever comes first.
//
// Parameters:
//   - topic: Full topic name; wildcards are not allowed
//   - payload: At most 256 KiB
//   - qos: 0 or 1 against IoT Hub (2 is accepted by brokers that support it)
//   - retained: Must be false for IoT Hub
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected, or
//     ErrPublishFailed wrapping the cause
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := waitToken(ctx, c.client.Publish(topic, qos, retained, payload), c.options.PublishTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}
