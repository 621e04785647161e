package iothub

import "errors"

// Domain-specific errors for IoT Hub operations.
var (
	// ErrInvalidConnectionString is returned when a device connection string
	// cannot be parsed or lacks a required field.
	ErrInvalidConnectionString = errors.New("iothub: invalid connection string")

	// ErrInvalidKey is returned when the shared access key is not valid base64.
	ErrInvalidKey = errors.New("iothub: invalid shared access key")

	// ErrNotOpen is returned when an operation is issued before Open or after Close.
	ErrNotOpen = errors.New("iothub: client not open")

	// ErrAlreadyOpen is returned by a second call to Open.
	ErrAlreadyOpen = errors.New("iothub: client already open")

	// ErrConnect is returned when the hub connection cannot be established.
	ErrConnect = errors.New("iothub: connect failed")

	// ErrSend is returned when a device-to-cloud event cannot be delivered.
	ErrSend = errors.New("iothub: send failed")

	// ErrTwin is returned when a twin request fails or is rejected.
	ErrTwin = errors.New("iothub: twin request failed")

	// ErrTimeout is returned when the hub does not answer a request in time.
	ErrTimeout = errors.New("iothub: request timed out")

	// ErrMalformedTopic is returned for inbound topics that do not follow the
	// IoT Hub conventions.
	ErrMalformedTopic = errors.New("iothub: malformed topic")
)
