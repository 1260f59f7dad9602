package rules

import (
	"fmt"
)

// Validation constants.
const (
	maxNameLength        = 100
	maxDescriptionLength = 500
	minPriority          = 1
	maxPriority          = 100
	defaultPriority      = 50
	maxTriggers          = 20
	maxActions           = 50
	maxConditionDepth    = 10
	maxDelaySeconds      = 3600 // 1 hour
	maxDurationMinutes   = 1440 // 24 hours
)

// weekdayNumbers maps weekday codes to cron day-of-week numbers
// (sun=0 .. sat=6).
var weekdayNumbers = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

// WeekdayNumber returns the cron day-of-week number for a weekday code.
func WeekdayNumber(code string) (int, bool) {
	n, ok := weekdayNumbers[code]
	return n, ok
}

// ValidateRule performs comprehensive validation on a rule. Returns an
// error describing the first validation failure found. Validation
// happens before persistence; an invalid rule is never partially
// applied.
func ValidateRule(r *Rule) error {
	if r == nil {
		return ErrInvalidRule
	}
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if len(r.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidRule, maxNameLength)
	}
	if len(r.Description) > maxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidRule, maxDescriptionLength)
	}
	if r.Priority < minPriority || r.Priority > maxPriority {
		return fmt.Errorf("%w: priority must be %d-%d", ErrInvalidRule, minPriority, maxPriority)
	}

	if len(r.Triggers) == 0 {
		return ErrNoTriggers
	}
	if len(r.Triggers) > maxTriggers {
		return fmt.Errorf("%w: exceeds maximum of %d triggers", ErrInvalidTrigger, maxTriggers)
	}
	for i, t := range r.Triggers {
		if err := validateTrigger(t); err != nil {
			return fmt.Errorf("trigger %d: %w", i, err)
		}
	}

	for i, c := range r.Conditions {
		if err := validateCondition(c, 0); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}

	if len(r.Actions) == 0 {
		return ErrNoActions
	}
	if len(r.Actions) > maxActions {
		return fmt.Errorf("%w: exceeds maximum of %d actions", ErrInvalidAction, maxActions)
	}
	for i, a := range r.Actions {
		if err := validateAction(a, 0); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}

	return nil
}

func validateTrigger(t Trigger) error {
	switch t.Type {
	case TriggerDeviceState:
		if t.DeviceID == "" {
			return fmt.Errorf("%w: device_id is required", ErrInvalidTrigger)
		}
		if t.Attribute == "" {
			return fmt.Errorf("%w: attribute is required", ErrInvalidTrigger)
		}
		if !IsComparisonOperator(t.Operator) {
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidTrigger, t.Operator)
		}
		if t.Operator == OpBetween && t.ValueEnd == nil {
			return fmt.Errorf("%w: between requires value_end", ErrInvalidTrigger)
		}
		if t.DurationMinutes < 0 || t.DurationMinutes > maxDurationMinutes {
			return fmt.Errorf("%w: duration_minutes must be 0-%d", ErrInvalidTrigger, maxDurationMinutes)
		}
	case TriggerTime:
		if _, err := ParseClock(t.Time); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTrigger, err)
		}
		for _, d := range t.Days {
			if _, ok := weekdayNumbers[d]; !ok {
				return fmt.Errorf("%w: unknown weekday %q", ErrInvalidTrigger, d)
			}
		}
	case TriggerAstronomical:
		if t.Event != "sunrise" && t.Event != "sunset" {
			return fmt.Errorf("%w: event must be sunrise or sunset, got %q", ErrInvalidTrigger, t.Event)
		}
	case TriggerCron:
		if t.Expression == "" {
			return fmt.Errorf("%w: cron expression is required", ErrInvalidTrigger)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTrigger, t.Type)
	}
	return nil
}

func validateCondition(c Condition, depth int) error {
	if depth > maxConditionDepth {
		return fmt.Errorf("%w: nesting exceeds depth %d", ErrInvalidCondition, maxConditionDepth)
	}

	switch c.Type {
	case ConditionDeviceState:
		if c.DeviceID == "" {
			return fmt.Errorf("%w: device_id is required", ErrInvalidCondition)
		}
		if c.Attribute == "" {
			return fmt.Errorf("%w: attribute is required", ErrInvalidCondition)
		}
		if !IsComparisonOperator(c.Operator) {
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidCondition, c.Operator)
		}
		if c.Operator == OpBetween && c.ValueEnd == nil {
			return fmt.Errorf("%w: between requires value_end", ErrInvalidCondition)
		}
	case ConditionTime:
		switch c.Operator {
		case OpBefore, OpAfter:
			if err := validateTimeValue(c.Value); err != nil {
				return err
			}
		case OpBetween:
			if err := validateTimeValue(c.Value); err != nil {
				return err
			}
			if err := validateTimeValue(c.ValueEnd); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: time operator must be before, after, or between", ErrInvalidCondition)
		}
	case ConditionAnd, ConditionOr:
		if len(c.Conditions) == 0 {
			return fmt.Errorf("%w: %s requires child conditions", ErrInvalidCondition, c.Type)
		}
		for i, child := range c.Conditions {
			if err := validateCondition(child, depth+1); err != nil {
				return fmt.Errorf("child %d: %w", i, err)
			}
		}
	case ConditionNot:
		if c.Condition == nil {
			return fmt.Errorf("%w: not requires a child condition", ErrInvalidCondition)
		}
		return validateCondition(*c.Condition, depth+1)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidCondition, c.Type)
	}
	return nil
}

// validateTimeValue accepts "HH:MM" strings or the sunrise/sunset
// literals.
func validateTimeValue(v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("%w: time value must be a string", ErrInvalidCondition)
	}
	if s == "sunrise" || s == "sunset" {
		return nil
	}
	if _, err := ParseClock(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCondition, err)
	}
	return nil
}

func validateAction(a Action, depth int) error {
	if depth > maxConditionDepth {
		return fmt.Errorf("%w: sequence nesting exceeds depth %d", ErrInvalidAction, maxConditionDepth)
	}

	switch a.Type {
	case ActionDeviceCommand:
		if a.DeviceID == "" {
			return fmt.Errorf("%w: device_id is required", ErrInvalidAction)
		}
		if a.Command == "" {
			return fmt.Errorf("%w: command is required", ErrInvalidAction)
		}
	case ActionDelay:
		if a.Seconds <= 0 || a.Seconds > maxDelaySeconds {
			return fmt.Errorf("%w: delay seconds must be 1-%d", ErrInvalidAction, maxDelaySeconds)
		}
	case ActionSequence:
		if a.Mode != SequenceSerial && a.Mode != SequenceParallel {
			return fmt.Errorf("%w: sequence mode must be serial or parallel", ErrInvalidAction)
		}
		if len(a.Actions) == 0 {
			return fmt.Errorf("%w: sequence requires child actions", ErrInvalidAction)
		}
		for i, child := range a.Actions {
			if err := validateAction(child, depth+1); err != nil {
				return fmt.Errorf("child %d: %w", i, err)
			}
		}
	case ActionNotification:
		if a.Message == "" {
			return fmt.Errorf("%w: notification message is required", ErrInvalidAction)
		}
	case ActionExecuteRule:
		if a.RuleID == "" {
			return fmt.Errorf("%w: rule_id is required", ErrInvalidAction)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAction, a.Type)
	}
	return nil
}
