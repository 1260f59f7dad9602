package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/hearthlight/hearth-core/internal/rules"
)

// AstroClock resolves solar event times. Implemented by
// astro.Calculator.
type AstroClock interface {
	EventTime(event string, date time.Time, offsetMinutes int) (time.Time, error)
}

// EvalResult is the outcome of evaluating a rule's condition list.
type EvalResult struct {
	Satisfied bool     `json:"satisfied"`
	Reasons   []string `json:"reasons"`
}

// Evaluator performs recursive boolean evaluation of rule conditions
// against live device state and the clock.
type Evaluator struct {
	devices DeviceController
	astro   AstroClock
	clock   func() time.Time
	logger  Logger
}

// NewEvaluator creates a condition evaluator. astro may be nil; time
// conditions referencing sunrise/sunset then fail with a reason instead
// of an error.
func NewEvaluator(devices DeviceController, astro AstroClock, logger Logger) *Evaluator {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Evaluator{
		devices: devices,
		astro:   astro,
		clock:   time.Now,
		logger:  logger,
	}
}

// EvaluateAll evaluates a condition list as a conjunction. Unlike the
// and-combinator, it does not short-circuit: every condition is
// evaluated so the caller gets a full diagnostic trail.
func (e *Evaluator) EvaluateAll(ctx context.Context, conditions []rules.Condition) EvalResult {
	result := EvalResult{Satisfied: true}
	for i, cond := range conditions {
		ok, reason := e.Evaluate(ctx, cond)
		if !ok {
			result.Satisfied = false
		}
		result.Reasons = append(result.Reasons, fmt.Sprintf("condition %d: %s", i, reason))
	}
	return result
}

// Evaluate evaluates a single condition and returns the outcome with a
// human-readable reason. Unknown condition types are a failure, not a
// crash.
func (e *Evaluator) Evaluate(ctx context.Context, cond rules.Condition) (bool, string) {
	switch cond.Type {
	case rules.ConditionDeviceState:
		return e.evaluateDeviceState(ctx, cond)
	case rules.ConditionTime:
		return e.evaluateTime(cond)
	case rules.ConditionAnd:
		for _, child := range cond.Conditions {
			if ok, reason := e.Evaluate(ctx, child); !ok {
				return false, fmt.Sprintf("and: %s", reason)
			}
		}
		return true, "and: all children satisfied"
	case rules.ConditionOr:
		for _, child := range cond.Conditions {
			if ok, reason := e.Evaluate(ctx, child); ok {
				return true, fmt.Sprintf("or: %s", reason)
			}
		}
		return false, "or: no child satisfied"
	case rules.ConditionNot:
		if cond.Condition == nil {
			return false, "not: missing child condition"
		}
		ok, reason := e.Evaluate(ctx, *cond.Condition)
		return !ok, fmt.Sprintf("not(%s)", reason)
	default:
		return false, fmt.Sprintf("unknown condition type %q", cond.Type)
	}
}

// evaluateDeviceState resolves the device's current value and applies
// the shared comparison. The triggering event is deliberately not used;
// conditions always see live state.
func (e *Evaluator) evaluateDeviceState(ctx context.Context, cond rules.Condition) (bool, string) {
	status, err := e.devices.GetDeviceStatus(ctx, cond.DeviceID)
	if err != nil {
		return false, fmt.Sprintf("device %s: status unavailable: %v", cond.DeviceID, err)
	}

	actual, ok := status.Attribute(cond.Attribute)
	if !ok {
		return false, fmt.Sprintf("device %s: attribute %q not reported", cond.DeviceID, cond.Attribute)
	}

	matched := rules.Compare(cond.Operator, actual, cond.Value, cond.ValueEnd)
	return matched, fmt.Sprintf("device %s: %s=%v %s %v: %t",
		cond.DeviceID, cond.Attribute, actual, cond.Operator, cond.Value, matched)
}

// evaluateTime checks the current clock against the condition's time
// window. Values are "HH:MM" strings or the sunrise/sunset literals.
// between supports overnight ranges: an end numerically earlier than the
// start wraps across midnight.
func (e *Evaluator) evaluateTime(cond rules.Condition) (bool, string) {
	now := e.clock()
	nowMinutes := now.Hour()*60 + now.Minute()

	start, err := e.resolveTimeValue(cond.Value, now)
	if err != nil {
		return false, fmt.Sprintf("time: %v", err)
	}

	switch cond.Operator {
	case rules.OpBefore:
		ok := nowMinutes < start
		return ok, fmt.Sprintf("time: %s before %v: %t", clockString(nowMinutes), cond.Value, ok)
	case rules.OpAfter:
		ok := nowMinutes > start
		return ok, fmt.Sprintf("time: %s after %v: %t", clockString(nowMinutes), cond.Value, ok)
	case rules.OpBetween:
		end, endErr := e.resolveTimeValue(cond.ValueEnd, now)
		if endErr != nil {
			return false, fmt.Sprintf("time: %v", endErr)
		}
		var ok bool
		if start <= end {
			ok = nowMinutes >= start && nowMinutes <= end
		} else {
			// Overnight range, e.g. 22:00-06:00.
			ok = nowMinutes >= start || nowMinutes <= end
		}
		return ok, fmt.Sprintf("time: %s between %v and %v: %t", clockString(nowMinutes), cond.Value, cond.ValueEnd, ok)
	default:
		return false, fmt.Sprintf("time: unknown operator %q", cond.Operator)
	}
}

// resolveTimeValue converts a time condition operand into minutes since
// midnight, resolving sunrise/sunset through the astro calculator.
func (e *Evaluator) resolveTimeValue(v any, now time.Time) (int, error) {
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("value %v is not a time string", v)
	}

	if s == "sunrise" || s == "sunset" {
		if e.astro == nil {
			return 0, fmt.Errorf("%s requires a configured location", s)
		}
		t, err := e.astro.EventTime(s, now, 0)
		if err != nil {
			return 0, err
		}
		local := t.In(now.Location())
		return local.Hour()*60 + local.Minute(), nil
	}

	return rules.ParseClock(s)
}

func clockString(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
