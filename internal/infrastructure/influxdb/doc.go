// Package influxdb streams Hearth Core telemetry to InfluxDB v2.
//
// Two measurements are written: device_events, one point per device
// state change, and rule_executions, one point per completed rule run.
// The client implements engine.EventWriter and engine.ExecutionSink so
// the engine stays unaware of the storage backend.
//
// Telemetry is optional. Connect returns ErrDisabled when switched off
// in config.yaml and the engine runs without it; when enabled, writes
// are batched and non-blocking, with async failures delivered through
// SetOnError.
package influxdb
