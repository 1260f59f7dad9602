package rules

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RuleID is an opaque rule identifier. It is a distinct type so rule IDs
// cannot be accidentally mixed with device IDs, which are plain strings.
type RuleID string

// NewRuleID generates a new unique rule identifier.
func NewRuleID() RuleID {
	return RuleID(uuid.NewString())
}

// Origin identifies who created a rule.
type Origin string

const (
	OriginUser      Origin = "user"
	OriginGenerated Origin = "generated"
	OriginSystem    Origin = "system"
)

// Rule is a single automation: when any trigger fires, and the optional
// conditions hold, the actions run in order.
//
// A disabled rule is excluded from scheduling, event matching, duration
// tracking, and conflict detection. Priority is advisory metadata
// (1-100, lower = higher precedence); it orders listings but does not
// impose execution ordering between rules matched by the same event.
type Rule struct {
	ID          RuleID `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
	Priority    int    `json:"priority"`

	// Triggers initiate evaluation (non-empty, ordered).
	Triggers []Trigger `json:"triggers"`

	// Conditions gate execution; the list is an implicit AND.
	Conditions []Condition `json:"conditions,omitempty"`

	// Actions run when the rule fires (non-empty, ordered).
	Actions []Action `json:"actions"`

	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastExecutedAt *time.Time `json:"last_executed_at,omitempty"`
	ExecutionCount int64      `json:"execution_count"`

	CreatedBy    Origin `json:"created_by"`
	OriginPrompt string `json:"origin_prompt,omitempty"`
}

// TriggerType discriminates the trigger union.
type TriggerType string

const (
	TriggerDeviceState  TriggerType = "device_state"
	TriggerTime         TriggerType = "time"
	TriggerAstronomical TriggerType = "astronomical"
	TriggerCron         TriggerType = "cron"
)

// Trigger is a tagged union over the four trigger kinds. Only the fields
// for the active Type are populated; the rest stay at their zero value.
type Trigger struct {
	Type TriggerType `json:"type"`

	// device_state fields. A non-zero DurationMinutes turns the trigger
	// into a sustained-state trigger handled by the duration tracker.
	DeviceID        string   `json:"device_id,omitempty"`
	Attribute       string   `json:"attribute,omitempty"`
	Operator        Operator `json:"operator,omitempty"`
	Value           any      `json:"value,omitempty"`
	ValueEnd        any      `json:"value_end,omitempty"`
	DurationMinutes int      `json:"duration_minutes,omitempty"`

	// time fields: Time is "HH:MM", Days an optional subset of weekday
	// codes (sun, mon, tue, wed, thu, fri, sat). Empty Days means daily.
	Time string   `json:"time,omitempty"`
	Days []string `json:"days,omitempty"`

	// astronomical fields: Event is sunrise or sunset.
	Event         string `json:"event,omitempty"`
	OffsetMinutes int    `json:"offset_minutes,omitempty"`

	// cron field: 5-field cron syntax.
	Expression string `json:"expression,omitempty"`
}

// IsDurationTrigger reports whether the trigger requires a minimum
// sustained duration before firing.
func (t Trigger) IsDurationTrigger() bool {
	return t.Type == TriggerDeviceState && t.DurationMinutes > 0
}

// ConditionType discriminates the condition union.
type ConditionType string

const (
	ConditionDeviceState ConditionType = "device_state"
	ConditionTime        ConditionType = "time"
	ConditionAnd         ConditionType = "and"
	ConditionOr          ConditionType = "or"
	ConditionNot         ConditionType = "not"
)

// Condition is a recursive tagged union evaluated against current state.
//
// device_state conditions use the six comparison operators against the
// device's live value (not the triggering event). time conditions use
// before/after/between over "HH:MM" strings or the literals "sunrise"
// and "sunset". and/or hold child lists; not holds a single child.
type Condition struct {
	Type ConditionType `json:"type"`

	// device_state fields.
	DeviceID  string `json:"device_id,omitempty"`
	Attribute string `json:"attribute,omitempty"`

	// Operator: comparison operator for device_state, or
	// before/after/between for time conditions.
	Operator Operator `json:"operator,omitempty"`
	Value    any      `json:"value,omitempty"`
	ValueEnd any      `json:"value_end,omitempty"`

	// and/or children.
	Conditions []Condition `json:"conditions,omitempty"`

	// not child.
	Condition *Condition `json:"condition,omitempty"`
}

// UnmarshalJSON decodes a condition, accepting the legacy wire form where
// a between condition carries a two-element array as its value instead of
// separate value/value_end fields.
func (c *Condition) UnmarshalJSON(data []byte) error {
	type alias Condition
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = Condition(a)

	if c.Operator == OpBetween && c.ValueEnd == nil {
		if pair, ok := c.Value.([]any); ok && len(pair) == 2 {
			c.Value = pair[0]
			c.ValueEnd = pair[1]
		}
	}
	return nil
}

// ActionType discriminates the action union.
type ActionType string

const (
	ActionDeviceCommand ActionType = "device_command"
	ActionDelay         ActionType = "delay"
	ActionSequence      ActionType = "sequence"
	ActionNotification  ActionType = "notification"
	ActionExecuteRule   ActionType = "execute_rule"
)

// SequenceMode controls how a sequence action runs its children.
type SequenceMode string

const (
	SequenceSerial   SequenceMode = "serial"
	SequenceParallel SequenceMode = "parallel"
)

// Action is a tagged union over the five action kinds.
type Action struct {
	Type ActionType `json:"type"`

	// device_command fields. Capability is optional; when empty it is
	// inferred from the command name at execution time.
	DeviceID   string `json:"device_id,omitempty"`
	Capability string `json:"capability,omitempty"`
	Command    string `json:"command,omitempty"`
	Arguments  []any  `json:"arguments,omitempty"`

	// delay field.
	Seconds int `json:"seconds,omitempty"`

	// sequence fields.
	Actions []Action     `json:"actions,omitempty"`
	Mode    SequenceMode `json:"mode,omitempty"`

	// notification fields.
	Title    string `json:"title,omitempty"`
	Message  string `json:"message,omitempty"`
	Priority string `json:"priority,omitempty"`

	// execute_rule field.
	RuleID RuleID `json:"rule_id,omitempty"`
}

// DeviceEvent is a single device state change delivered by the device
// event source. Delivery is push-only and at-least-once.
type DeviceEvent struct {
	DeviceID      string    `json:"device_id"`
	DeviceName    string    `json:"device_name,omitempty"`
	Attribute     string    `json:"attribute"`
	Value         any       `json:"value"`
	PreviousValue any       `json:"previous_value,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// CreateRuleRequest carries the fields a caller supplies when creating a
// rule. ID, timestamps, and execution bookkeeping are assigned by the
// store.
type CreateRuleRequest struct {
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	Enabled      *bool       `json:"enabled,omitempty"` // default true
	Priority     int         `json:"priority,omitempty"`
	Triggers     []Trigger   `json:"triggers"`
	Conditions   []Condition `json:"conditions,omitempty"`
	Actions      []Action    `json:"actions"`
	OriginPrompt string      `json:"origin_prompt,omitempty"`
}

// UpdateRuleRequest is a partial patch; nil fields are left unchanged.
type UpdateRuleRequest struct {
	Name        *string      `json:"name,omitempty"`
	Description *string      `json:"description,omitempty"`
	Enabled     *bool        `json:"enabled,omitempty"`
	Priority    *int         `json:"priority,omitempty"`
	Triggers    *[]Trigger   `json:"triggers,omitempty"`
	Conditions  *[]Condition `json:"conditions,omitempty"`
	Actions     *[]Action    `json:"actions,omitempty"`
}

// DeepCopy creates a complete independent copy of the Rule. All slice and
// map fields are cloned so modifications to the copy do not affect the
// cached original.
func (r *Rule) DeepCopy() *Rule {
	if r == nil {
		return nil
	}

	cpy := *r

	if r.LastExecutedAt != nil {
		t := *r.LastExecutedAt
		cpy.LastExecutedAt = &t
	}
	if r.Triggers != nil {
		cpy.Triggers = make([]Trigger, len(r.Triggers))
		for i, t := range r.Triggers {
			cpy.Triggers[i] = t.deepCopy()
		}
	}
	if r.Conditions != nil {
		cpy.Conditions = make([]Condition, len(r.Conditions))
		for i, c := range r.Conditions {
			cpy.Conditions[i] = c.deepCopy()
		}
	}
	if r.Actions != nil {
		cpy.Actions = make([]Action, len(r.Actions))
		for i, a := range r.Actions {
			cpy.Actions[i] = a.deepCopy()
		}
	}
	return &cpy
}

func (t Trigger) deepCopy() Trigger {
	cpy := t
	cpy.Value = deepCopyValue(t.Value)
	cpy.ValueEnd = deepCopyValue(t.ValueEnd)
	if t.Days != nil {
		cpy.Days = append([]string(nil), t.Days...)
	}
	return cpy
}

func (c Condition) deepCopy() Condition {
	cpy := c
	cpy.Value = deepCopyValue(c.Value)
	cpy.ValueEnd = deepCopyValue(c.ValueEnd)
	if c.Conditions != nil {
		cpy.Conditions = make([]Condition, len(c.Conditions))
		for i, child := range c.Conditions {
			cpy.Conditions[i] = child.deepCopy()
		}
	}
	if c.Condition != nil {
		child := c.Condition.deepCopy()
		cpy.Condition = &child
	}
	return cpy
}

func (a Action) deepCopy() Action {
	cpy := a
	if a.Arguments != nil {
		cpy.Arguments = make([]any, len(a.Arguments))
		for i, arg := range a.Arguments {
			cpy.Arguments[i] = deepCopyValue(arg)
		}
	}
	if a.Actions != nil {
		cpy.Actions = make([]Action, len(a.Actions))
		for i, child := range a.Actions {
			cpy.Actions[i] = child.deepCopy()
		}
	}
	return cpy
}

// deepCopyValue recursively copies a JSON-shaped value, handling nested
// maps and slices. Primitives are immutable and returned as-is.
func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		cpy := make(map[string]any, len(val))
		for k, elem := range val {
			cpy[k] = deepCopyValue(elem)
		}
		return cpy
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v
	}
}
