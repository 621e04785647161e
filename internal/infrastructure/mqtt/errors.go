package mqtt

import "errors"

// Errors returned by the session. Wrapped causes keep the paho error text.
var (
	ErrNotConnected     = errors.New("mqtt: client not connected")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrInvalidOptions   = errors.New("mqtt: invalid options")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")
	ErrTimeout          = errors.New("mqtt: operation timed out")

	// ErrInvalidQoS means a QoS above 2 was requested.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level")

	// ErrInvalidTopic covers empty topics and malformed wildcard filters.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)
