package gpio

import "errors"

// Sentinel errors for GPIO operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNoBackend indicates no configured backend could claim the
	// hardware at startup. This is fatal: the daemon cannot actuate
	// outlets without a working backend.
	ErrNoBackend = errors.New("gpio: no usable backend")

	// ErrUnknownBackend indicates the configuration names a backend
	// this build does not know.
	ErrUnknownBackend = errors.New("gpio: unknown backend")

	// ErrUnknownOutlet indicates an actuation request for an outlet
	// that is not registered with the actuator.
	ErrUnknownOutlet = errors.New("gpio: unknown outlet")

	// ErrOutletBusy indicates an outlet is already mid power cycle.
	// Concurrent cycles of the same outlet are refused, not queued.
	ErrOutletBusy = errors.New("gpio: outlet busy")

	// ErrActuationFailed indicates the hardware write failed after
	// all retries were exhausted.
	ErrActuationFailed = errors.New("gpio: actuation failed")
)
