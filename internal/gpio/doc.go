// Package gpio provides hardware actuation for power outlets.
//
// This package manages:
//   - Backend detection with ordered fallback (gpiod → sysfs → mock)
//   - Driving relay pins with active-high/active-low mapping
//   - Per-outlet serialisation of actuations
//   - Power cycling with an uninterruptible off period
//
// # Architecture
//
//	Actuator ──► Backend
//	              ├── gpiod  (gpioset/gpioget via libgpiod tools)
//	              ├── sysfs  (/sys/class/gpio, legacy kernels)
//	              └── mock   (in-memory, development and tests)
//
// Backend selection happens once at startup. Each configured backend
// is probed in order and the first one whose prerequisites exist wins.
// No working backend is a fatal startup error: the daemon must never
// run with monitoring active but actuation silently broken.
//
// # Safety
//
// A power cycle's off period is never cut short, even during daemon
// shutdown. Restoring power is always attempted after the wait; if it
// fails the error is surfaced so the group can be marked faulted and
// an operator alerted.
//
// # Usage
//
//	backend, err := gpio.Detect(cfg.GPIO, logger)
//	if err != nil {
//	    log.Fatal(err) // no usable backend
//	}
//	defer backend.Close()
//
//	actuator := gpio.NewActuator(backend, snapshot.Outlets, logger)
//	if err := actuator.Cycle("rack-a", 10*time.Second); err != nil {
//	    // outlet may still be off; treat as a fault
//	}
package gpio
