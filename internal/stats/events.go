package stats

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies history entries.
type EventType string

const (
	// EventProbe is one probe attempt against one server.
	EventProbe EventType = "probe"

	// EventStateChange is a group state transition.
	EventStateChange EventType = "state_change"

	// EventPowerCycle is an automatic recovery power cycle.
	EventPowerCycle EventType = "power_cycle"

	// EventScheduledRestart is a maintenance-schedule power cycle.
	EventScheduledRestart EventType = "scheduled_restart"

	// EventManualControl is an operator-initiated actuation.
	EventManualControl EventType = "manual_control"
)

// Entry is one recorded history event.
type Entry struct {
	ID    string    `json:"id"`
	Time  time.Time `json:"time"`
	Type  EventType `json:"type"`
	Group string    `json:"group"`

	// Server is the probed target for probe entries.
	Server string `json:"server,omitempty"`

	// Success is the outcome: probe answered, actuation completed,
	// or (for state changes) always true.
	Success bool `json:"success"`

	// LatencyMs is the probe round-trip in milliseconds.
	LatencyMs float64 `json:"latency_ms,omitempty"`

	// Detail carries the failure reason or the transition
	// ("degraded -> resetting").
	Detail string `json:"detail,omitempty"`
}

// GenerateID returns a unique entry identifier.
func GenerateID() string {
	return uuid.New().String()
}

// Summary aggregates one group's day of history.
type Summary struct {
	Checks       int     `json:"checks"`
	Failures     int     `json:"failures"`
	PowerCycles  int     `json:"power_cycles"`
	UptimePct    float64 `json:"uptime_pct"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// latencyAlpha is the smoothing factor for the latency moving average.
// Heavier weight on history keeps one slow probe from spiking the
// reported average.
const latencyAlpha = 0.2

// summarise recomputes a Summary from a bucket's entries.
func summarise(entries []Entry) Summary {
	var s Summary
	var ema float64
	var haveEMA bool

	for _, e := range entries {
		switch e.Type {
		case EventProbe:
			s.Checks++
			if !e.Success {
				s.Failures++
				continue
			}
			if e.LatencyMs > 0 {
				if !haveEMA {
					ema = e.LatencyMs
					haveEMA = true
				} else {
					ema = latencyAlpha*e.LatencyMs + (1-latencyAlpha)*ema
				}
			}
		case EventPowerCycle, EventScheduledRestart:
			if e.Success {
				s.PowerCycles++
			}
		}
	}

	if s.Checks > 0 {
		s.UptimePct = float64(s.Checks-s.Failures) / float64(s.Checks) * 100
	}
	s.AvgLatencyMs = ema
	return s
}
