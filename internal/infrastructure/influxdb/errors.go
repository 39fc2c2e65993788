package influxdb

import "errors"

var (
	// ErrNotConnected means the client was closed or never connected.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed means the initial ping did not succeed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled means the mirror is switched off in config.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
