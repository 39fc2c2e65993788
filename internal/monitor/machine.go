package monitor

import "time"

// machine is the per-group failure/recovery state machine.
//
// It is a pure transition table: the group loop feeds it one
// aggregated observation per check cycle and acts on the returned
// transition. The machine never touches hardware itself, which keeps
// the lifecycle rules testable without a backend.
//
// Not safe for concurrent use; each group loop owns exactly one.
type machine struct {
	failCount int
	cooldown  time.Duration

	state         State
	failures      int
	cooldownUntil time.Time
}

// transition is the outcome of one observation.
type transition struct {
	From State
	To   State

	// ShouldCycle is set when the failure threshold was reached and
	// the caller must power cycle the outlet.
	ShouldCycle bool
}

func newMachine(failCount int, cooldown time.Duration) *machine {
	return &machine{
		failCount: failCount,
		cooldown:  cooldown,
		state:     StateHealthy,
	}
}

// observe records the aggregated result of one check cycle.
//
// Rules:
//   - A passing cycle recovers to healthy and clears the failure
//     count, except during cooldown: the outlet was just cycled and
//     the state holds until the cooldown deadline passes, whatever the
//     probes say.
//   - Failures accumulate in healthy/degraded; reaching the threshold
//     requests a power cycle.
//   - During cooldown failures are observed but not accumulated; after
//     the cooldown expires the full threshold must accumulate again
//     before another cycle.
//   - Fault is sticky: nothing observed here leaves it. Only clearFault
//     does, via manual control or reload.
func (m *machine) observe(failed bool, now time.Time) transition {
	tr := transition{From: m.state, To: m.state}

	if m.state == StateFault {
		return tr
	}

	if !failed {
		if m.state == StateCooldown && now.Before(m.cooldownUntil) {
			return tr
		}
		m.failures = 0
		m.cooldownUntil = time.Time{}
		m.state = StateHealthy
		tr.To = StateHealthy
		return tr
	}

	switch m.state {
	case StateCooldown:
		if now.Before(m.cooldownUntil) {
			return tr
		}
		// Cooldown expired and the group is still failing; start
		// accumulating from scratch.
		m.cooldownUntil = time.Time{}
		m.state = StateDegraded
		m.failures = 1

	case StateHealthy:
		m.state = StateDegraded
		m.failures = 1

	case StateDegraded:
		m.failures++
	}

	if m.state == StateDegraded && m.failures >= m.failCount {
		m.state = StateResetting
		tr.ShouldCycle = true
	}

	tr.To = m.state
	return tr
}

// cycled records the outcome of a power cycle. Success enters cooldown;
// failure latches the fault state.
func (m *machine) cycled(ok bool, now time.Time) transition {
	tr := transition{From: m.state}

	m.failures = 0
	if ok {
		m.state = StateCooldown
		m.cooldownUntil = now.Add(m.cooldown)
	} else {
		m.state = StateFault
		m.cooldownUntil = time.Time{}
	}

	tr.To = m.state
	return tr
}

// cycleSkipped backs out of resetting when the outlet was busy with
// another cycle. The group returns to degraded and the threshold
// accumulates again from the next failure.
func (m *machine) cycleSkipped() {
	if m.state == StateResetting {
		m.state = StateDegraded
	}
}

// clearFault resets a faulted group to healthy after a successful
// manual intervention. No-op in other states.
func (m *machine) clearFault() bool {
	if m.state != StateFault {
		return false
	}
	m.state = StateHealthy
	m.failures = 0
	m.cooldownUntil = time.Time{}
	return true
}
