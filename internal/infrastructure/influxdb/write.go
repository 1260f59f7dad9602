package influxdb

import (
	"context"
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/hearthlight/hearth-core/internal/engine"
	"github.com/hearthlight/hearth-core/internal/rules"
)

// WriteDeviceEvent records a device state-change event as telemetry.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Numeric values land in the "value" field; everything else is stored
// as "value_str" so dashboards can still group on it.
//
// Implements engine.EventWriter.
func (c *Client) WriteDeviceEvent(_ context.Context, evt rules.DeviceEvent) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{}
	switch v := evt.Value.(type) {
	case float64:
		fields["value"] = v
	case int:
		fields["value"] = float64(v)
	case bool:
		fields["value_str"] = fmt.Sprintf("%t", v)
	default:
		fields["value_str"] = fmt.Sprintf("%v", v)
	}

	ts := evt.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	point := write.NewPoint(
		"device_events",
		map[string]string{
			"device_id": evt.DeviceID,
			"attribute": evt.Attribute,
		},
		fields,
		ts,
	)

	c.writeAPI.WritePoint(point)
}

// RecordExecution records a completed rule execution as telemetry.
//
// Implements engine.ExecutionSink. The write is asynchronous, so this
// never returns an error; async failures surface via SetOnError.
func (c *Client) RecordExecution(_ context.Context, result *engine.ExecutionResult) error {
	if !c.IsConnected() {
		return nil
	}

	point := write.NewPoint(
		"rule_executions",
		map[string]string{
			"rule_id":      string(result.RuleID),
			"triggered_by": string(result.TriggeredBy),
			"success":      fmt.Sprintf("%t", result.Success),
		},
		map[string]interface{}{
			"duration_ms": result.DurationMS,
			"actions":     len(result.Actions),
			"skipped":     result.Skipped,
		},
		result.StartedAt,
	)

	c.writeAPI.WritePoint(point)
	return nil
}
