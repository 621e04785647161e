package bridge

import (
	"errors"
	"fmt"
)

// Error taxonomy. Adapter errors are wrapped with one of these so callers can
// classify failures with errors.Is.
var (
	// ErrConnection means an endpoint could not be reached. Fatal at startup.
	ErrConnection = errors.New("bridge: connection error")

	// ErrRead means a data point could not be read.
	ErrRead = errors.New("bridge: read error")

	// ErrWrite means a data point could not be written.
	ErrWrite = errors.New("bridge: write error")

	// ErrInvoke means a device method could not be invoked.
	ErrInvoke = errors.New("bridge: invoke error")

	// ErrSend means a device-to-cloud event was not delivered.
	ErrSend = errors.New("bridge: send error")

	// ErrTwin means a twin read or reported-property update failed.
	ErrTwin = errors.New("bridge: twin error")

	// ErrConfig means the bridge was configured inconsistently. Fatal.
	ErrConfig = errors.New("bridge: configuration error")
)

// Policy describes how a failure is handled.
type Policy int

// Policies.
const (
	// PolicyLogOnly logs the failure and abandons the current operation.
	PolicyLogOnly Policy = iota
	// PolicyRetry retries the operation. No error class uses it today.
	PolicyRetry
	// PolicyFatal aborts startup or stops the bridge.
	PolicyFatal
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case PolicyLogOnly:
		return "log-only"
	case PolicyRetry:
		return "retry"
	case PolicyFatal:
		return "fatal"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// policyTable maps each error class to its handling.
var policyTable = []struct {
	class  error
	policy Policy
}{
	{ErrConnection, PolicyFatal},
	{ErrConfig, PolicyFatal},
	{ErrRead, PolicyLogOnly},
	{ErrWrite, PolicyLogOnly},
	{ErrInvoke, PolicyLogOnly},
	{ErrSend, PolicyLogOnly},
	{ErrTwin, PolicyLogOnly},
}

// PolicyFor returns the handling policy for err. Unclassified errors are
// log-only.
func PolicyFor(err error) Policy {
	for _, entry := range policyTable {
		if errors.Is(err, entry.class) {
			return entry.policy
		}
	}
	return PolicyLogOnly
}

// classify wraps err with class unless it already carries it.
func classify(class, err error) error {
	if err == nil || errors.Is(err, class) {
		return err
	}
	return fmt.Errorf("%w: %w", class, err)
}
