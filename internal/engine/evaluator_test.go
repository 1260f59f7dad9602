package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hearthlight/hearth-core/internal/rules"
)

// ─── Mock Dependencies ──────────────────────────────────────────────────────

// mockDevices is a DeviceController backed by an in-memory status map.
// Every command is captured for assertions.
type mockDevices struct {
	mu       sync.Mutex
	status   map[string]DeviceStatus
	commands []capturedCommand
	failCmd  error // returned by ExecuteCommand when set
}

type capturedCommand struct {
	DeviceID   string
	Capability string
	Command    string
	Args       []any
}

func newMockDevices() *mockDevices {
	return &mockDevices{status: make(map[string]DeviceStatus)}
}

func (m *mockDevices) setAttribute(deviceID, capability, attribute string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.status[deviceID]
	if !ok {
		st = make(DeviceStatus)
		m.status[deviceID] = st
	}
	if st[capability] == nil {
		st[capability] = make(map[string]any)
	}
	st[capability][attribute] = value
}

func (m *mockDevices) ExecuteCommand(_ context.Context, deviceID, capability, command string, args []any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCmd != nil {
		return m.failCmd
	}
	m.commands = append(m.commands, capturedCommand{deviceID, capability, command, args})
	return nil
}

func (m *mockDevices) GetDeviceStatus(_ context.Context, deviceID string) (DeviceStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.status[deviceID]
	if !ok {
		return nil, errors.New("device not found")
	}
	return st, nil
}

func (m *mockDevices) captured() []capturedCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := make([]capturedCommand, len(m.commands))
	copy(cpy, m.commands)
	return cpy
}

// fakeAstro resolves sunrise/sunset to fixed times on the query date.
type fakeAstro struct {
	sunrise string // "HH:MM"
	sunset  string
}

func (f *fakeAstro) EventTime(event string, date time.Time, offsetMinutes int) (time.Time, error) {
	var clock string
	switch event {
	case "sunrise":
		clock = f.sunrise
	case "sunset":
		clock = f.sunset
	default:
		return time.Time{}, fmt.Errorf("unknown event %q", event)
	}
	minutes, err := rules.ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	t := time.Date(date.Year(), date.Month(), date.Day(), minutes/60, minutes%60, 0, 0, date.Location())
	return t.Add(time.Duration(offsetMinutes) * time.Minute), nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func fixedClock(hour, minute int) func() time.Time {
	return func() time.Time {
		return time.Date(2026, 6, 15, hour, minute, 0, 0, time.UTC)
	}
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestEvaluator_DeviceState(t *testing.T) {
	devices := newMockDevices()
	devices.setAttribute("thermo-01", "temperatureMeasurement", "temperature", 21.5)
	devices.setAttribute("light-01", "switch", "switch", "on")

	e := NewEvaluator(devices, nil, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		cond rules.Condition
		want bool
	}{
		{
			"equals match",
			rules.Condition{Type: rules.ConditionDeviceState, DeviceID: "light-01", Attribute: "switch", Operator: rules.OpEquals, Value: "on"},
			true,
		},
		{
			"equals mismatch",
			rules.Condition{Type: rules.ConditionDeviceState, DeviceID: "light-01", Attribute: "switch", Operator: rules.OpEquals, Value: "off"},
			false,
		},
		{
			"numeric between",
			rules.Condition{Type: rules.ConditionDeviceState, DeviceID: "thermo-01", Attribute: "temperature", Operator: rules.OpBetween, Value: 18, ValueEnd: 24},
			true,
		},
		{
			"greater than fails",
			rules.Condition{Type: rules.ConditionDeviceState, DeviceID: "thermo-01", Attribute: "temperature", Operator: rules.OpGreaterThan, Value: 30},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := e.Evaluate(ctx, tt.cond)
			if got != tt.want {
				t.Errorf("Evaluate = %v (%s), want %v", got, reason, tt.want)
			}
			if reason == "" {
				t.Error("reason should never be empty")
			}
		})
	}
}

func TestEvaluator_DeviceUnavailable(t *testing.T) {
	e := NewEvaluator(newMockDevices(), nil, nil)

	cond := rules.Condition{Type: rules.ConditionDeviceState, DeviceID: "ghost", Attribute: "switch", Operator: rules.OpEquals, Value: "on"}
	ok, reason := e.Evaluate(context.Background(), cond)
	if ok {
		t.Error("unavailable device must evaluate false, not error")
	}
	if reason == "" {
		t.Error("expected a diagnostic reason")
	}
}

func TestEvaluator_AttributeNotReported(t *testing.T) {
	devices := newMockDevices()
	devices.setAttribute("light-01", "switch", "switch", "on")
	e := NewEvaluator(devices, nil, nil)

	cond := rules.Condition{Type: rules.ConditionDeviceState, DeviceID: "light-01", Attribute: "level", Operator: rules.OpEquals, Value: 50}
	if ok, _ := e.Evaluate(context.Background(), cond); ok {
		t.Error("missing attribute must evaluate false")
	}
}

func TestEvaluator_TimeConditions(t *testing.T) {
	e := NewEvaluator(newMockDevices(), nil, nil)
	e.clock = fixedClock(14, 30)
	ctx := context.Background()

	tests := []struct {
		name string
		cond rules.Condition
		want bool
	}{
		{"before true", rules.Condition{Type: rules.ConditionTime, Operator: rules.OpBefore, Value: "18:00"}, true},
		{"before false", rules.Condition{Type: rules.ConditionTime, Operator: rules.OpBefore, Value: "12:00"}, false},
		{"after true", rules.Condition{Type: rules.ConditionTime, Operator: rules.OpAfter, Value: "09:00"}, true},
		{"after false", rules.Condition{Type: rules.ConditionTime, Operator: rules.OpAfter, Value: "22:00"}, false},
		{"between inside", rules.Condition{Type: rules.ConditionTime, Operator: rules.OpBetween, Value: "08:00", ValueEnd: "17:00"}, true},
		{"between outside", rules.Condition{Type: rules.ConditionTime, Operator: rules.OpBetween, Value: "17:00", ValueEnd: "20:00"}, false},
		{"overnight excludes afternoon", rules.Condition{Type: rules.ConditionTime, Operator: rules.OpBetween, Value: "22:00", ValueEnd: "06:00"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, reason := e.Evaluate(ctx, tt.cond); got != tt.want {
				t.Errorf("Evaluate = %v (%s), want %v", got, reason, tt.want)
			}
		})
	}
}

func TestEvaluator_OvernightWindow(t *testing.T) {
	e := NewEvaluator(newMockDevices(), nil, nil)
	e.clock = fixedClock(23, 30)

	cond := rules.Condition{Type: rules.ConditionTime, Operator: rules.OpBetween, Value: "22:00", ValueEnd: "06:00"}
	if ok, _ := e.Evaluate(context.Background(), cond); !ok {
		t.Error("23:30 should fall inside the 22:00-06:00 overnight window")
	}

	e.clock = fixedClock(5, 0)
	if ok, _ := e.Evaluate(context.Background(), cond); !ok {
		t.Error("05:00 should fall inside the 22:00-06:00 overnight window")
	}
}

func TestEvaluator_SunriseSunsetLiterals(t *testing.T) {
	astro := &fakeAstro{sunrise: "06:45", sunset: "20:15"}
	e := NewEvaluator(newMockDevices(), astro, nil)
	e.clock = fixedClock(21, 0)
	ctx := context.Background()

	after := rules.Condition{Type: rules.ConditionTime, Operator: rules.OpAfter, Value: "sunset"}
	if ok, reason := e.Evaluate(ctx, after); !ok {
		t.Errorf("21:00 is after a 20:15 sunset: %s", reason)
	}

	before := rules.Condition{Type: rules.ConditionTime, Operator: rules.OpBefore, Value: "sunrise"}
	if ok, _ := e.Evaluate(ctx, before); ok {
		t.Error("21:00 is not before sunrise")
	}
}

func TestEvaluator_SunriseWithoutLocation(t *testing.T) {
	e := NewEvaluator(newMockDevices(), nil, nil)

	cond := rules.Condition{Type: rules.ConditionTime, Operator: rules.OpAfter, Value: "sunset"}
	ok, reason := e.Evaluate(context.Background(), cond)
	if ok {
		t.Error("sunset without a location must evaluate false")
	}
	if reason == "" {
		t.Error("expected a diagnostic reason")
	}
}

func TestEvaluator_Combinators(t *testing.T) {
	devices := newMockDevices()
	devices.setAttribute("light-01", "switch", "switch", "on")
	devices.setAttribute("sensor-01", "motionSensor", "motion", "inactive")

	e := NewEvaluator(devices, nil, nil)
	ctx := context.Background()

	lightOn := rules.Condition{Type: rules.ConditionDeviceState, DeviceID: "light-01", Attribute: "switch", Operator: rules.OpEquals, Value: "on"}
	motionActive := rules.Condition{Type: rules.ConditionDeviceState, DeviceID: "sensor-01", Attribute: "motion", Operator: rules.OpEquals, Value: "active"}

	and := rules.Condition{Type: rules.ConditionAnd, Conditions: []rules.Condition{lightOn, motionActive}}
	if ok, _ := e.Evaluate(ctx, and); ok {
		t.Error("and with one false child must be false")
	}

	or := rules.Condition{Type: rules.ConditionOr, Conditions: []rules.Condition{motionActive, lightOn}}
	if ok, _ := e.Evaluate(ctx, or); !ok {
		t.Error("or with one true child must be true")
	}

	not := rules.Condition{Type: rules.ConditionNot, Condition: &motionActive}
	if ok, _ := e.Evaluate(ctx, not); !ok {
		t.Error("not over a false child must be true")
	}

	nested := rules.Condition{Type: rules.ConditionAnd, Conditions: []rules.Condition{lightOn, not}}
	if ok, _ := e.Evaluate(ctx, nested); !ok {
		t.Error("nested combinators should evaluate recursively")
	}
}

func TestEvaluator_UnknownConditionType(t *testing.T) {
	e := NewEvaluator(newMockDevices(), nil, nil)
	if ok, _ := e.Evaluate(context.Background(), rules.Condition{Type: "psychic"}); ok {
		t.Error("unknown condition type must evaluate false")
	}
}

func TestEvaluator_EvaluateAllCollectsEveryReason(t *testing.T) {
	devices := newMockDevices()
	devices.setAttribute("light-01", "switch", "switch", "off")
	e := NewEvaluator(devices, nil, nil)
	e.clock = fixedClock(10, 0)

	conds := []rules.Condition{
		{Type: rules.ConditionDeviceState, DeviceID: "light-01", Attribute: "switch", Operator: rules.OpEquals, Value: "on"},
		{Type: rules.ConditionTime, Operator: rules.OpAfter, Value: "08:00"},
	}

	result := e.EvaluateAll(context.Background(), conds)
	if result.Satisfied {
		t.Error("conjunction with a false member must be unsatisfied")
	}
	if len(result.Reasons) != 2 {
		t.Errorf("reasons = %d, want one per condition even after a failure", len(result.Reasons))
	}
}

func TestInferCapability(t *testing.T) {
	tests := []struct {
		command string
		want    string
	}{
		{"on", "switch"},
		{"off", "switch"},
		{"setLevel", "switchLevel"},
		{"setColorTemperature", "colorTemperature"},
		{"lock", "lock"},
		{"open", "doorControl"},
		{"setHeatingSetpoint", "thermostat"},
		{"play", "mediaPlayback"},
		{"frobnicate", "switch"}, // unknown commands default to switch
	}
	for _, tt := range tests {
		if got := InferCapability(tt.command); got != tt.want {
			t.Errorf("InferCapability(%q) = %q, want %q", tt.command, got, tt.want)
		}
	}
}
