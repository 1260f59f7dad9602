package influxdb

import "errors"

// Sentinel errors, matched with errors.Is. Telemetry is optional, so
// callers treat ErrDisabled as "run without InfluxDB" rather than a
// startup failure.
var (
	// ErrNotConnected means the client has been closed or never connected.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed wraps the cause of a failed Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled means telemetry is switched off in configuration.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
