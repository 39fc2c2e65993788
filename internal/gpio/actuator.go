package gpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/maraxa/powerwatch-core/internal/infrastructure/config"
)

// Retry policy for hardware writes. Relay boards occasionally miss a
// write when the kernel is busy; a short retry rides that out.
const (
	setAttempts = 3
	setBackoff  = 100 * time.Millisecond
)

// Actuator drives named outlets through a Backend.
//
// It owns the mapping from logical outlet state ("on") to electrical
// pin level (active-high or active-low), serialises actuation per
// outlet, and tracks the last successfully driven state.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Actuations of distinct outlets proceed in parallel.
//   - A power cycle holds its outlet for the full off period; other
//     cycle requests for that outlet are refused with ErrOutletBusy.
type Actuator struct {
	backend Backend
	logger  Logger

	mu      sync.RWMutex
	outlets map[string]*outletSlot
}

// outletSlot is the per-outlet actuation state.
type outletSlot struct {
	cfg config.Outlet

	// mu serialises hardware access for this outlet. Cycle uses
	// TryLock so overlapping cycles fail fast instead of queueing.
	mu sync.Mutex

	// on is the last successfully driven logical state. Only valid
	// when known is true.
	on    bool
	known bool
}

// NewActuator creates an actuator for the given outlets.
//
// Parameters:
//   - backend: Selected hardware backend (see Detect)
//   - outlets: Resolved outlet definitions keyed by name
//   - logger: Logger for actuation events
func NewActuator(backend Backend, outlets map[string]config.Outlet, logger Logger) *Actuator {
	a := &Actuator{
		backend: backend,
		logger:  logger,
		outlets: make(map[string]*outletSlot, len(outlets)),
	}
	for name, o := range outlets {
		a.outlets[name] = &outletSlot{cfg: o}
	}
	return a
}

// Backend returns the name of the active hardware backend.
func (a *Actuator) Backend() string {
	return a.backend.Name()
}

// Reconfigure replaces the outlet set after a configuration reload.
// State tracking survives for outlets whose pin assignment is
// unchanged; renamed or re-pinned outlets start unknown.
func (a *Actuator) Reconfigure(outlets map[string]config.Outlet) {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := make(map[string]*outletSlot, len(outlets))
	for name, o := range outlets {
		if prev, ok := a.outlets[name]; ok && prev.cfg.GPIOPin == o.GPIOPin && prev.cfg.ActiveHigh == o.ActiveHigh {
			next[name] = prev
			continue
		}
		next[name] = &outletSlot{cfg: o}
	}
	a.outlets = next
}

// SetState drives an outlet to the requested logical state.
//
// The call is idempotent: if the outlet is already known to be in the
// requested state, no hardware write happens. Hardware writes retry up
// to three times with a short backoff before failing.
//
// Parameters:
//   - name: Outlet name
//   - on: Desired logical state
//
// Returns:
//   - error: ErrUnknownOutlet, or ErrActuationFailed after retries
func (a *Actuator) SetState(name string, on bool) error {
	slot, err := a.slot(name)
	if err != nil {
		return err
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.known && slot.on == on {
		return nil
	}

	return a.drive(slot, on)
}

// Cycle power cycles an outlet: off, wait offTime, back on.
//
// The off period is never cut short. Shutdown and reload wait for
// in-flight cycles to finish rather than interrupting them, because
// abandoning an outlet in the off state is worse than a slow exit.
//
// Parameters:
//   - name: Outlet name
//   - offTime: How long to keep the outlet off
//
// Returns:
//   - error: ErrUnknownOutlet, ErrOutletBusy if a cycle is already in
//     progress, or ErrActuationFailed if a hardware write failed
func (a *Actuator) Cycle(name string, offTime time.Duration) error {
	slot, err := a.slot(name)
	if err != nil {
		return err
	}

	if !slot.mu.TryLock() {
		return fmt.Errorf("%w: %s", ErrOutletBusy, name)
	}
	defer slot.mu.Unlock()

	a.logger.Info("power cycling outlet",
		"outlet", name,
		"pin", slot.cfg.GPIOPin,
		"off_time", offTime,
	)

	if err := a.drive(slot, false); err != nil {
		return fmt.Errorf("cutting power to %s: %w", name, err)
	}

	time.Sleep(offTime)

	if err := a.drive(slot, true); err != nil {
		// The outlet is still off. Callers treat this as a fault
		// requiring manual intervention.
		return fmt.Errorf("restoring power to %s: %w", name, err)
	}

	a.logger.Info("power cycle complete", "outlet", name)
	return nil
}

// State reports the last successfully driven state of an outlet.
// known is false until the first successful actuation, and after any
// failed write.
func (a *Actuator) State(name string) (on, known bool) {
	slot, err := a.slot(name)
	if err != nil {
		return false, false
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.on, slot.known
}

// Verify reads the electrical pin level and reports the logical state
// as seen by the hardware.
func (a *Actuator) Verify(name string) (on bool, err error) {
	slot, err := a.slot(name)
	if err != nil {
		return false, err
	}

	high, err := a.backend.GetPin(slot.cfg.GPIOPin)
	if err != nil {
		return false, err
	}
	return high == slot.cfg.ActiveHigh, nil
}

func (a *Actuator) slot(name string) (*outletSlot, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	slot, ok := a.outlets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOutlet, name)
	}
	return slot, nil
}

// drive performs the retried hardware write. Callers hold slot.mu.
func (a *Actuator) drive(slot *outletSlot, on bool) error {
	high := on == slot.cfg.ActiveHigh

	var lastErr error
	for attempt := 1; attempt <= setAttempts; attempt++ {
		lastErr = a.backend.SetPin(slot.cfg.GPIOPin, high)
		if lastErr == nil {
			slot.on = on
			slot.known = true
			return nil
		}

		a.logger.Warn("GPIO write failed",
			"outlet", slot.cfg.Name,
			"pin", slot.cfg.GPIOPin,
			"attempt", attempt,
			"error", lastErr,
		)
		if attempt < setAttempts {
			time.Sleep(time.Duration(attempt) * setBackoff)
		}
	}

	slot.known = false
	return fmt.Errorf("%w: pin %d after %d attempts: %v", ErrActuationFailed, slot.cfg.GPIOPin, setAttempts, lastErr)
}
