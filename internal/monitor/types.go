package monitor

import "time"

// State is a group's position in the failure/recovery lifecycle.
type State string

const (
	// StateHealthy means the last check cycle passed.
	StateHealthy State = "healthy"

	// StateDegraded means consecutive check cycles have failed but the
	// failure threshold has not been reached yet.
	StateDegraded State = "degraded"

	// StateResetting means a power cycle is in progress.
	StateResetting State = "resetting"

	// StateCooldown means a power cycle completed and the group is
	// waiting out the post-reset grace period. Probes continue but
	// failures do not accumulate until the cooldown expires.
	StateCooldown State = "cooldown"

	// StateFault means a power cycle failed to restore power. The group
	// keeps probing but never actuates again on its own; an operator
	// must intervene via manual control or a configuration reload.
	StateFault State = "fault"

	// StateDisabled means the group is present in configuration but
	// switched off. It is never probed or actuated.
	StateDisabled State = "disabled"
)

// Manual control actions accepted on the command topic.
const (
	ActionRestart = "restart"
	ActionOn      = "on"
	ActionOff     = "off"
)

// ServerStatus is one server's outcome in the latest check cycle.
type ServerStatus struct {
	Address   string  `json:"address"`
	Method    string  `json:"method"`
	Up        bool    `json:"up"`
	LatencyMs float64 `json:"latency_ms,omitempty"`
	Detail    string  `json:"detail,omitempty"`
}

// GroupStatus is the published view of one monitoring group. It
// carries the controlled outlet alongside the lifecycle state so a
// consumer can map a group to its power feed without a second lookup.
type GroupStatus struct {
	Group         string         `json:"group"`
	State         State          `json:"state"`
	Failures      int            `json:"failures"`
	FailCount     int            `json:"fail_count"`
	Outlet        string         `json:"outlet"`
	OutletOn      bool           `json:"outlet_on"`
	OutletKnown   bool           `json:"outlet_known"`
	Servers       []ServerStatus `json:"servers,omitempty"`
	CooldownUntil *time.Time     `json:"cooldown_until,omitempty"`
	LastCycle     *time.Time     `json:"last_cycle,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Generation    uint64         `json:"generation"`
}

// OutletStatus is the published view of one outlet.
type OutletStatus struct {
	Outlet    string    `json:"outlet"`
	On        bool      `json:"on"`
	Known     bool      `json:"known"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Command is the payload accepted on powerwatch/command/<group>.
type Command struct {
	Action string `json:"action"`
}

// CommandAck is the reply published on powerwatch/ack/<group>.
type CommandAck struct {
	Action string    `json:"action"`
	OK     bool      `json:"ok"`
	Error  string    `json:"error,omitempty"`
	Time   time.Time `json:"time"`
}

// Event is published on powerwatch/event/<type> when something worth
// alerting on happens: a state change, a power cycle, a manual command.
type Event struct {
	Type   string    `json:"type"`
	Group  string    `json:"group"`
	Outlet string    `json:"outlet,omitempty"`
	From   State     `json:"from,omitempty"`
	To     State     `json:"to,omitempty"`
	OK     bool      `json:"ok"`
	Detail string    `json:"detail,omitempty"`
	Time   time.Time `json:"time"`
}
