package opcua

import "errors"

// Domain-specific errors for OPC UA operations.
var (
	// ErrNotConnected is returned when an operation is issued before Connect
	// or after Close.
	ErrNotConnected = errors.New("opcua: not connected")

	// ErrConnectFailed is returned when the endpoint cannot be reached.
	ErrConnectFailed = errors.New("opcua: connect failed")

	// ErrBrowseFailed is returned when child nodes cannot be listed.
	ErrBrowseFailed = errors.New("opcua: browse failed")

	// ErrReadFailed is returned when a read request fails or a value has a
	// non-good status.
	ErrReadFailed = errors.New("opcua: read failed")

	// ErrWriteFailed is returned when a write is rejected.
	ErrWriteFailed = errors.New("opcua: write failed")

	// ErrCallFailed is returned when a method invocation fails.
	ErrCallFailed = errors.New("opcua: method call failed")

	// ErrSubscribeFailed is returned when a subscription cannot be created
	// or an item cannot be monitored.
	ErrSubscribeFailed = errors.New("opcua: subscribe failed")

	// ErrUnsupportedValue is returned when a Go value has no OPC UA variant
	// representation.
	ErrUnsupportedValue = errors.New("opcua: unsupported value type")
)
