package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when telemetry is switched off.
	// Callers treat it as "run without a time-series sink".
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed wraps ping failures at startup.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: not connected")
)
