package influxdb

import "errors"

var (
	// ErrNotConnected means the sink has been closed or never came up.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed means the startup ping did not succeed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled means the telemetry sink is switched off in config;
	// the bridge runs without it.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
