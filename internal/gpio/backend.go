package gpio

import (
	"errors"
	"fmt"

	"github.com/maraxa/powerwatch-core/internal/infrastructure/config"
)

// Backend abstracts a way of driving GPIO pins.
//
// Implementations must be safe for concurrent use; the actuator
// serialises writes per outlet but distinct outlets may be driven
// from different goroutines at the same time.
type Backend interface {
	// Name returns the backend identifier ("gpiod", "sysfs", "mock").
	Name() string

	// SetPin drives a pin to the given electrical level.
	SetPin(pin int, high bool) error

	// GetPin reads the current electrical level of a pin.
	GetPin(pin int) (bool, error)

	// Close releases any claimed hardware resources.
	Close() error
}

// Logger is the minimal logging interface the gpio package needs.
// Compatible with logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Detect selects the first working backend from the configured list.
//
// Each backend name is probed in order; a backend that cannot claim
// the hardware (missing tools, missing /sys entries) is skipped with a
// warning. When cfg.Simulate is set the mock backend is returned
// unconditionally.
//
// Returns:
//   - Backend: The first backend that probed successfully
//   - error: ErrNoBackend if every candidate failed, or
//     ErrUnknownBackend for an unrecognised name
func Detect(cfg config.GPIOConfig, logger Logger) (Backend, error) {
	if cfg.Simulate {
		logger.Info("GPIO simulation enabled, using mock backend")
		return NewMock(), nil
	}

	var probeErrs []error
	for _, name := range cfg.Backends {
		backend, err := newBackend(name, cfg)
		if err != nil {
			var probeErr probeError
			if errors.As(err, &probeErr) {
				logger.Warn("GPIO backend unavailable",
					"backend", name,
					"error", probeErr.reason,
				)
				probeErrs = append(probeErrs, fmt.Errorf("%s: %w", name, err))
				continue
			}
			return nil, err
		}
		logger.Info("GPIO backend selected", "backend", backend.Name())
		return backend, nil
	}

	return nil, fmt.Errorf("%w: tried %v: %v", ErrNoBackend, cfg.Backends, probeErrs)
}

// newBackend constructs a named backend, probing its prerequisites.
func newBackend(name string, cfg config.GPIOConfig) (Backend, error) {
	switch name {
	case "gpiod":
		return newGpiod(cfg)
	case "sysfs":
		return newSysfs()
	case "mock":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
}

// probeError marks a backend construction failure as a soft failure:
// the backend's prerequisites are absent, so detection moves on to the
// next candidate instead of aborting.
type probeError struct {
	reason string
}

func (e probeError) Error() string {
	return e.reason
}
