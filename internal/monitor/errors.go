package monitor

import "errors"

var (
	// ErrUnknownGroup is returned when a command names a group that is
	// not in the active configuration.
	ErrUnknownGroup = errors.New("monitor: unknown group")

	// ErrGroupDisabled is returned when a command names a group that is
	// configured but switched off.
	ErrGroupDisabled = errors.New("monitor: group disabled")

	// ErrInvalidAction is returned for a manual control action other
	// than restart, on, or off.
	ErrInvalidAction = errors.New("monitor: invalid action")

	// ErrNotRunning is returned when a command arrives before Run has
	// started the group loops.
	ErrNotRunning = errors.New("monitor: engine not running")
)
