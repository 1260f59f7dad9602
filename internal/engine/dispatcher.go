package engine

import (
	"context"

	"github.com/hearthlight/hearth-core/internal/rules"
)

// EventRecorder receives every device event for usage analysis.
// Implemented by analyzer.Analyzer.
type EventRecorder interface {
	Record(evt rules.DeviceEvent)
}

// StateTracker receives every device event to maintain sustained-state
// timers. Implemented by duration.Tracker.
type StateTracker interface {
	UpdateDeviceState(evt rules.DeviceEvent)
}

// RuleMatcher finds enabled rules whose device-state triggers match an
// event. Implemented by rules.Store.
type RuleMatcher interface {
	FindMatchingRules(deviceID, attribute string, value any) []rules.Rule
}

// EventWriter receives device events for telemetry. Optional; a nil
// writer is skipped.
type EventWriter interface {
	WriteDeviceEvent(ctx context.Context, evt rules.DeviceEvent)
}

// Dispatcher routes incoming device events to the components that
// consume them: the usage analyzer, the duration tracker, and the rule
// matcher feeding the executor.
//
// Matched rules execute sequentially in the order the matcher returns
// them. A failing execution is logged and does not prevent the remaining
// matches from running.
type Dispatcher struct {
	recorder EventRecorder
	tracker  StateTracker
	matcher  RuleMatcher
	executor *Executor
	writer   EventWriter
	logger   Logger
}

// NewDispatcher creates an event dispatcher. recorder, tracker, and
// writer may be nil; the corresponding step is skipped.
func NewDispatcher(matcher RuleMatcher, executor *Executor, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{
		matcher:  matcher,
		executor: executor,
		logger:   logger,
	}
}

// SetRecorder wires the usage analyzer.
func (d *Dispatcher) SetRecorder(r EventRecorder) { d.recorder = r }

// SetTracker wires the duration tracker.
func (d *Dispatcher) SetTracker(t StateTracker) { d.tracker = t }

// SetEventWriter wires the telemetry writer.
func (d *Dispatcher) SetEventWriter(w EventWriter) { d.writer = w }

// OnDeviceEvent processes one device event end to end: record it for
// analysis, update duration tracking, write telemetry, then execute
// every matching rule.
func (d *Dispatcher) OnDeviceEvent(ctx context.Context, evt rules.DeviceEvent) {
	d.logger.Debug("device event received",
		"device_id", evt.DeviceID,
		"attribute", evt.Attribute,
		"value", evt.Value,
	)

	if d.recorder != nil {
		d.recorder.Record(evt)
	}
	if d.tracker != nil {
		d.tracker.UpdateDeviceState(evt)
	}
	if d.writer != nil {
		d.writer.WriteDeviceEvent(ctx, evt)
	}

	matched := d.matcher.FindMatchingRules(evt.DeviceID, evt.Attribute, evt.Value)
	if len(matched) == 0 {
		return
	}

	d.logger.Info("event matched rules",
		"device_id", evt.DeviceID,
		"attribute", evt.Attribute,
		"matches", len(matched),
	)

	for i := range matched {
		rule := &matched[i]
		snapshot := evt
		ectx := &ExecutionContext{
			TriggeredBy:  TriggerEvent,
			TriggerEvent: &snapshot,
		}
		result := d.executor.ExecuteRule(ctx, rule, ectx)
		if !result.Success {
			d.logger.Warn("rule execution failed",
				"rule_id", rule.ID,
				"rule_name", rule.Name,
				"error", result.Error,
			)
		}
	}
}
